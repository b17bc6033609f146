// routes.go - Route registration
package api

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the pages, their form actions and the state API.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/api/health", h.HandleHealth)

	pages := e.Group("", h.SessionMiddleware)
	pages.GET("/", h.HandleHome)

	judgments := pages.Group("/judgments")
	judgments.GET("", h.HandleJudgmentsPage)
	judgments.POST("/metadata", h.HandleSetMetadata)
	judgments.POST("/files", h.HandleSelectFiles)
	judgments.GET("/files/:fileId", h.HandleJudgmentFile)
	judgments.POST("/preview/:fileId", h.HandleSelectPreview)
	judgments.POST("/submit", h.HandleSubmit)
	judgments.POST("/reset", h.HandleReset)

	ocr := pages.Group("/ocr")
	ocr.GET("", h.HandleOCRPage)
	ocr.POST("/image", h.HandleSelectImage)
	ocr.GET("/image/:fileId", h.HandleOCRImage)
	ocr.POST("/remove", h.HandleRemoveImage)
	ocr.POST("/extract", h.HandleExtract)

	state := pages.Group("/api")
	state.GET("/judgments/state", h.HandleJudgmentsState)
	state.GET("/ocr/state", h.HandleOCRState)
}
