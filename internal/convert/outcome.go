package convert

import "pdf2img/internal/scratch"

// Artifact is one encoded image in a scratch file. Index is the page index,
// or -1 for a composite of all pages.
type Artifact struct {
	Index int
	File  *scratch.File
}

// Shape tells which reduction a conversion produced.
type Shape int

const (
	Empty Shape = iota
	Single
	Multiple
)

// Outcome is the result of one conversion. Artifacts holds one entry for
// Single and the pages in document order for Multiple.
type Outcome struct {
	Shape     Shape
	Artifacts []Artifact
}

// Artifact returns the only artifact of a Single outcome.
func (o Outcome) Artifact() Artifact {
	return o.Artifacts[0]
}
