package convert

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"

	"pdf2img/internal/domain"
	"pdf2img/internal/scratch"
)

// Combine stacks the page images top to bottom, left aligned, on a canvas
// as wide as the widest page and as tall as all pages together. The result
// is a new artifact with Index -1; the page artifacts are released.
func (c *Converter) Combine(arena *scratch.Arena, pages []Artifact, format domain.OutputFormat) (Artifact, error) {
	images := make([]image.Image, 0, len(pages))
	width, height := 0, 0

	for _, p := range pages {
		img, err := c.Codec.Load(p.File.Path(), format)
		if err != nil {
			return Artifact{}, failPage(KindImageDecode, p.Index, err)
		}
		b := img.Bounds()
		if b.Dx() > width {
			width = b.Dx()
		}
		height += b.Dy()
		images = append(images, img)
	}

	canvas := imaging.New(width, height, color.Black)
	offsetY := 0
	for _, img := range images {
		b := img.Bounds()
		draw.Draw(canvas, image.Rect(0, offsetY, b.Dx(), offsetY+b.Dy()), img, b.Min, draw.Src)
		offsetY += b.Dy()
	}

	f, err := c.writeImage(arena, scratchPrefix, canvas, format)
	if err != nil {
		return Artifact{}, err
	}

	for _, p := range pages {
		p.File.Release()
	}
	return Artifact{Index: -1, File: f}, nil
}
