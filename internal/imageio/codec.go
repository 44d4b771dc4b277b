// Package imageio encodes and decodes page rasters in the output formats the
// service supports.
package imageio

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"

	"pdf2img/internal/domain"
)

// Codec holds the encoder settings shared by every format.
type Codec struct {
	JPEGQuality  int
	WebPLossless bool
}

// DefaultCodec matches the defaults of the config package.
func DefaultCodec() Codec {
	return Codec{JPEGQuality: 90, WebPLossless: true}
}

// Encode writes img to w in the given format.
func (c Codec) Encode(w io.Writer, img image.Image, format domain.OutputFormat) error {
	switch format {
	case domain.FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	case domain.FormatGIF:
		return imaging.Encode(w, img, imaging.GIF)
	case domain.FormatJPEG:
		q := c.JPEGQuality
		if q <= 0 {
			q = 90
		}
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(q))
	case domain.FormatWEBP:
		opts := webp.Options{Lossless: c.WebPLossless, Quality: 90}
		if c.JPEGQuality > 0 {
			opts.Quality = c.JPEGQuality
		}
		return webp.Encode(w, img, opts)
	default:
		return fmt.Errorf("unsupported output format %d", format)
	}
}

// Decode reads an image previously written in format.
func (c Codec) Decode(r io.Reader, format domain.OutputFormat) (image.Image, error) {
	if format == domain.FormatWEBP {
		return webp.Decode(r)
	}
	return imaging.Decode(r)
}

// Save encodes img into the file at path, which must already exist or be
// creatable.
func (c Codec) Save(path string, img image.Image, format domain.OutputFormat) (err error) {
	fd, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fd.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(fd)
	if err := c.Encode(bw, img, format); err != nil {
		return err
	}
	return bw.Flush()
}

// Load decodes the image stored at path.
func (c Codec) Load(path string, format domain.OutputFormat) (image.Image, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	return c.Decode(bufio.NewReader(fd), format)
}
