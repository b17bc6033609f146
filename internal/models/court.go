package models

// Court identifies the court a batch of judgements belongs to.
// The string value is what the remote API expects in the "court" field.
type Court string

const (
	CourtSupreme Court = "supreme court"
	CourtHigh    Court = "highcourt"
)

var courtLabels = map[Court]string{
	CourtSupreme: "Supreme Court",
	CourtHigh:    "High Court",
}

// Courts returns the selectable courts in display order.
func Courts() []Court {
	return []Court{CourtSupreme, CourtHigh}
}

// ParseCourt returns the court for a form value, or the empty court.
func ParseCourt(v string) Court {
	c := Court(v)
	if _, ok := courtLabels[c]; ok {
		return c
	}
	return ""
}

// Label returns the human readable court name.
func (c Court) Label() string {
	return courtLabels[c]
}

// Valid reports whether c is one of the known courts.
func (c Court) Valid() bool {
	_, ok := courtLabels[c]
	return ok
}
