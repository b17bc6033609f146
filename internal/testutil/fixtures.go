package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
)

// PDF returns a tiny document that content sniffing recognises as a PDF.
func PDF(label string) []byte {
	return []byte(fmt.Sprintf("%%PDF-1.4\n%% %s\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%%%EOF\n", label))
}

// PNG returns an encoded w x h image.
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// FormFile is one file part of a multipart body.
type FormFile struct {
	Field string
	Name  string
	Data  []byte
}

// MultipartBody builds a multipart/form-data body and returns it with its
// content type.
func MultipartBody(fields map[string]string, files ...FormFile) (*bytes.Buffer, string) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	for _, f := range files {
		part, _ := writer.CreateFormFile(f.Field, f.Name)
		part.Write(f.Data)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}
