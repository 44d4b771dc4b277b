package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// OutputFormat is the raster format pages are encoded in.
type OutputFormat int

const (
	FormatPNG OutputFormat = iota
	FormatGIF
	FormatJPEG
	FormatWEBP
)

// Extension returns the file suffix used for scratch files of this format.
func (f OutputFormat) Extension() string {
	switch f {
	case FormatGIF:
		return ".gif"
	case FormatJPEG:
		return ".jpg"
	case FormatWEBP:
		return ".webp"
	default:
		return ".png"
	}
}

func (f OutputFormat) String() string {
	switch f {
	case FormatGIF:
		return "gif"
	case FormatJPEG:
		return "jpeg"
	case FormatWEBP:
		return "webp"
	default:
		return "png"
	}
}

const (
	DefaultDPI             = 72
	DefaultBackgroundColor = "white"
	DefaultAccept          = "image/png"
)

// ErrBadQuery signals a query string that cannot be turned into parameters.
var ErrBadQuery = errors.New("bad query params")

// ConvertParams are the effective settings of one conversion request.
//
// PreserveAlpha and BackgroundColor are accepted and logged but do not
// influence rendering or combination.
type ConvertParams struct {
	Format          OutputFormat
	Archive         bool
	DPI             uint32
	PreserveAlpha   bool
	BackgroundColor string
}

// DefaultParams returns the parameters of a request without query or Accept.
func DefaultParams() ConvertParams {
	return ConvertParams{
		Format:          FormatPNG,
		DPI:             DefaultDPI,
		BackgroundColor: DefaultBackgroundColor,
	}
}

func (p ConvertParams) String() string {
	mode := "Multi page to image"
	if p.Archive {
		mode = "Multi page to ZIP"
	}
	alpha := "Remove alpha"
	if p.PreserveAlpha {
		alpha = "Preserve alpha"
	}
	return fmt.Sprintf("Type: %s, %s, DPI %d, %s, background: %s", p.Format.Extension(), mode, p.DPI, alpha, p.BackgroundColor)
}

// ParseQuery reads dpi, preserveAlpha and backgroundColor from the query
// parameters on top of the defaults. The snake_case spellings are accepted
// as aliases.
func ParseQuery(query map[string]string) (ConvertParams, error) {
	params := DefaultParams()

	if raw, ok := lookup(query, "dpi"); ok {
		dpi, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return params, fmt.Errorf("%w: dpi: %v", ErrBadQuery, err)
		}
		params.DPI = uint32(dpi)
	}

	if raw, ok := lookup(query, "preserveAlpha", "preserve_alpha"); ok {
		switch raw {
		case "true":
			params.PreserveAlpha = true
		case "false":
			params.PreserveAlpha = false
		default:
			return params, fmt.Errorf("%w: preserveAlpha: %q is not true or false", ErrBadQuery, raw)
		}
	}

	if raw, ok := lookup(query, "backgroundColor", "background_color"); ok {
		params.BackgroundColor = raw
	}

	return params, nil
}

func lookup(query map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := query[k]; ok {
			return v, true
		}
	}
	return "", false
}

// ApplyAccept resolves the archive flag and the output format from an Accept
// header value. The format priority GIF, JPEG, WEBP, PNG is fixed.
func (p ConvertParams) ApplyAccept(accept string) ConvertParams {
	if accept == "" {
		accept = DefaultAccept
	}

	p.Archive = strings.Contains(accept, "application/zip")

	switch {
	case strings.Contains(accept, "image/gif"):
		p.Format = FormatGIF
	case strings.Contains(accept, "image/jpeg"):
		p.Format = FormatJPEG
	case strings.Contains(accept, "image/webp"):
		p.Format = FormatWEBP
	default:
		p.Format = FormatPNG
	}
	return p
}

// Resolve combines ParseQuery and ApplyAccept.
func Resolve(query map[string]string, accept string) (ConvertParams, error) {
	params, err := ParseQuery(query)
	if err != nil {
		return params, err
	}
	return params.ApplyAccept(accept), nil
}
