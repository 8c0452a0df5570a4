package assets

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1" viewBox="0 0 1 1"><rect width="1" height="1" fill="#ffffff" fill-opacity="0"/></svg>
`

// PlaceholderImage returns a valid 1x1 image encoded for the given extension.
// Unknown extensions get PNG bytes.
func PlaceholderImage(ext string) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 0})

	var buf bytes.Buffer
	switch strings.ToLower(ext) {
	case ".svg":
		return []byte(placeholderSVG), nil
	case ".jpg", ".jpeg":
		opaque := image.NewRGBA(image.Rect(0, 0, 1, 1))
		opaque.Set(0, 0, color.White)
		if err := jpeg.Encode(&buf, opaque, &jpeg.Options{Quality: 90}); err != nil {
			return nil, err
		}
	case ".gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
