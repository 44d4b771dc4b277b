// Package archive packs page images into a single ZIP file.
package archive

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zip"

	"pdf2img/internal/scratch"
)

// Kind classifies packaging failures.
type Kind int

const (
	KindCreate Kind = iota + 1
	KindRead
	KindWrite
	KindLibrary
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindLibrary:
		return "library"
	default:
		return "unknown"
	}
}

// Error is a packaging failure. No archive is returned alongside it.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("zip %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a packaging error, or 0 when err is not one.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

const scratchPrefix = "hpi"

// Package writes files, in order, as Deflate entries named by their base
// names into a new ZIP file owned by arena.
func Package(arena *scratch.Arena, files []*scratch.File) (*scratch.File, error) {
	out, fd, err := arena.Open(scratchPrefix, ".zip")
	if err != nil {
		return nil, &Error{Kind: KindCreate, Err: err}
	}

	bw := bufio.NewWriter(fd)
	zw := zip.NewWriter(bw)

	for _, f := range files {
		if err := addEntry(zw, f); err != nil {
			_ = fd.Close()
			out.Release()
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		_ = fd.Close()
		out.Release()
		return nil, &Error{Kind: KindLibrary, Err: err}
	}
	if err := bw.Flush(); err != nil {
		_ = fd.Close()
		out.Release()
		return nil, &Error{Kind: KindWrite, Err: err}
	}
	if err := fd.Close(); err != nil {
		out.Release()
		return nil, &Error{Kind: KindWrite, Err: err}
	}
	return out, nil
}

func addEntry(zw *zip.Writer, f *scratch.File) error {
	data, err := f.ReadAll()
	if err != nil {
		return &Error{Kind: KindRead, Err: err}
	}

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   f.Name(),
		Method: zip.Deflate,
	})
	if err != nil {
		return &Error{Kind: KindLibrary, Err: err}
	}
	if _, err := w.Write(data); err != nil {
		return &Error{Kind: KindWrite, Err: err}
	}
	return nil
}
