package display

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/fogleman/gg"

	"ddk/pkg/status"
	"ddk/pkg/vm"
)

var (
	ErrFormat      = fmt.Errorf("%w: unsupported pixel format", status.ErrNotSupported)
	ErrLayout      = fmt.Errorf("%w: bad framebuffer layout", status.ErrInvalidArgs)
	ErrVmoTooSmall = errors.New("framebuffer does not fit in vmo")
)

// bars are the SMPTE-style colour bars across the top of the pattern.
var bars = [][3]int{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
}

// RenderTestPattern draws a boot test pattern and writes it into vmo using
// the layout in info. Only 32-bit formats are supported.
func RenderTestPattern(vmo *vm.Object, info Info) error {
	if info.Format != FormatARGB8888 && info.Format != FormatRGBx888 {
		return fmt.Errorf("%w: %#x", ErrFormat, info.Format)
	}
	if info.Width == 0 || info.Height == 0 || info.Stride < info.Width {
		return fmt.Errorf("%w: %dx%d stride %d", ErrLayout, info.Width, info.Height, info.Stride)
	}
	if info.Size() > vmo.Size() {
		return fmt.Errorf("%w: %w: need %#x, have %#x", status.ErrOutOfRange, ErrVmoTooSmall, info.Size(), vmo.Size())
	}

	img := Pattern(int(info.Width), int(info.Height))
	return Blit(vmo, info, img)
}

// Pattern renders the test pattern at the given size.
func Pattern(w, h int) image.Image {
	dc := gg.NewContext(w, h)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	barW := float64(w) / float64(len(bars))
	barH := float64(h) * 2 / 3
	for i, c := range bars {
		dc.SetRGB255(c[0], c[1], c[2])
		dc.DrawRectangle(float64(i)*barW, 0, barW+1, barH)
		dc.Fill()
	}

	for i := 0; i < 8; i++ {
		v := float64(i) / 7
		dc.SetRGB(v, v, v)
		dc.DrawRectangle(float64(i)*float64(w)/8, barH, float64(w)/8+1, float64(h)-barH)
		dc.Fill()
	}

	r := float64(min(w, h)) / 4
	dc.SetRGB(1, 1, 1)
	dc.SetLineWidth(2)
	dc.DrawCircle(float64(w)/2, float64(h)/2, r)
	dc.Stroke()

	return dc.Image()
}

// Blit writes img into vmo as little-endian XRGB pixels, one row per stride.
func Blit(vmo *vm.Object, info Info, img image.Image) error {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		b := img.Bounds()
		rgba = image.NewRGBA(b)
		draw.Draw(rgba, b, img, b.Min, draw.Src)
	}

	w := min(int(info.Width), rgba.Bounds().Dx())
	h := min(int(info.Height), rgba.Bounds().Dy())
	row := make([]byte, w*4)
	for y := 0; y < h; y++ {
		src := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := src[x*4], src[x*4+1], src[x*4+2]
			binary.LittleEndian.PutUint32(row[x*4:], 0xff000000|uint32(r)<<16|uint32(g)<<8|uint32(b))
		}
		off := int64(y) * int64(info.Stride) * 4
		if _, err := vmo.WriteAt(row, off); err != nil {
			return fmt.Errorf("write row %d: %w", y, err)
		}
	}
	return nil
}
