package convert

import "errors"

// Kind classifies conversion failures.
type Kind int

const (
	KindLibraryLoad Kind = iota + 1
	KindDocumentLoad
	KindPageRender
	KindImageEncode
	KindImageDecode
	KindTemporaryStorage
)

func (k Kind) String() string {
	switch k {
	case KindLibraryLoad:
		return "library load"
	case KindDocumentLoad:
		return "document load"
	case KindPageRender:
		return "page render"
	case KindImageEncode:
		return "image encode"
	case KindImageDecode:
		return "image decode"
	case KindTemporaryStorage:
		return "temporary storage"
	default:
		return "unknown"
	}
}

// Error is a terminal conversion failure.
type Error struct {
	Kind Kind
	Page int // -1 when not tied to a page
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, err error) *Error {
	return &Error{Kind: kind, Page: -1, Err: err}
}

func failPage(kind Kind, page int, err error) *Error {
	return &Error{Kind: kind, Page: page, Err: err}
}

// KindOf returns the kind of a conversion error, or 0 when err is not one.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}
