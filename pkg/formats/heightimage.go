package formats

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Height image errors.
var (
	ErrUnsupportedImage = errors.New("unsupported height image")
	ErrInvalidMapData   = errors.New("invalid map data")
)

// HeightImage is a grayscale image converted to normalized heights in [0, 1].
// Row 0 is the top row of the source image.
type HeightImage struct {
	Width  int
	Height int
	Values []float32
}

// At returns the normalized value at (x, y), clamped to the image bounds.
func (h *HeightImage) At(x, y int) float32 {
	x = max(0, min(x, h.Width-1))
	y = max(0, min(y, h.Height-1))
	return h.Values[y*h.Width+x]
}

// NewHeightImage converts any image to normalized 16-bit luminance.
func NewHeightImage(img image.Image) *HeightImage {
	b := img.Bounds()
	w, hgt := b.Dx(), b.Dy()
	out := &HeightImage{Width: w, Height: hgt, Values: make([]float32, w*hgt)}
	for y := range hgt {
		for x := range w {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out.Values[y*w+x] = float32(g.Y) / 65535.0
		}
	}
	return out
}

// DecodeHeightImage decodes a PNG, TIFF or BMP height image.
func DecodeHeightImage(r io.Reader) (*HeightImage, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	h := NewHeightImage(img)
	if h.Width == 0 || h.Height == 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrUnsupportedImage, format)
	}
	return h, nil
}

// ParseHeightImageFile loads and decodes a height image from disk.
func ParseHeightImageFile(path string) (*HeightImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening height image: %w", err)
	}
	defer f.Close()
	return DecodeHeightImage(f)
}

// EncodeMapPNG writes raw map bytes (1 = L8, 3 = RGB8, 4 = RGBA8 channels) as a PNG.
func EncodeMapPNG(w io.Writer, size, channels int, data []byte) error {
	if len(data) != size*size*channels {
		return fmt.Errorf("%w: %d bytes for %dx%d with %d channels", ErrInvalidMapData, len(data), size, size, channels)
	}
	rect := image.Rect(0, 0, size, size)
	var img image.Image
	switch channels {
	case 1:
		g := image.NewGray(rect)
		copy(g.Pix, data)
		img = g
	case 3:
		rgba := image.NewRGBA(rect)
		for i := range size * size {
			rgba.Pix[i*4+0] = data[i*3+0]
			rgba.Pix[i*4+1] = data[i*3+1]
			rgba.Pix[i*4+2] = data[i*3+2]
			rgba.Pix[i*4+3] = 255
		}
		img = rgba
	case 4:
		rgba := image.NewRGBA(rect)
		copy(rgba.Pix, data)
		img = rgba
	default:
		return fmt.Errorf("%w: %d channels", ErrInvalidMapData, channels)
	}
	return png.Encode(w, img)
}
