// Package pixel converts between Go images and the raw buffers exchanged
// with the effect engine: 4 bytes per pixel, row-major, no row padding.
package pixel

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/e7canasta/effect-quickstart/internal/engine"
)

// Default is the layout the engine expects unless configured otherwise.
const Default = gputypes.TextureFormatRGBA8Unorm

// Supported reports whether format can be packed and unpacked.
func Supported(format gputypes.TextureFormat) bool {
	return format == gputypes.TextureFormatRGBA8Unorm || format == gputypes.TextureFormatBGRA8Unorm
}

// ParseFormat maps a config name to a texture format.
func ParseFormat(name string) (gputypes.TextureFormat, error) {
	switch name {
	case "", "rgba", "rgba8unorm":
		return gputypes.TextureFormatRGBA8Unorm, nil
	case "bgra", "bgra8unorm":
		return gputypes.TextureFormatBGRA8Unorm, nil
	default:
		return gputypes.TextureFormatUndefined, fmt.Errorf("unsupported pixel format %q (must be rgba or bgra)", name)
	}
}

// Pack copies img into a tightly packed buffer in format. Images that are
// not *image.RGBA are converted first; the buffer always starts at the
// image's top-left pixel.
func Pack(img image.Image, format gputypes.TextureFormat) ([]byte, error) {
	if !Supported(format) {
		return nil, fmt.Errorf("pack: unsupported pixel format %v", format)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("pack: empty image %dx%d", w, h)
	}

	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		b = rgba.Bounds()
	}

	row := w * engine.BytesPerPixel
	out := make([]byte, row*h)
	for y := 0; y < h; y++ {
		src := rgba.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out[y*row:(y+1)*row], rgba.Pix[src:src+row])
	}

	if format == gputypes.TextureFormatBGRA8Unorm {
		swapRB(out)
	}
	return out, nil
}

// Unpack wraps a packed buffer into a new *image.RGBA of width x height.
// The buffer is not retained. A size mismatch is a processing error.
func Unpack(buf []byte, width, height int, format gputypes.TextureFormat) (*image.RGBA, error) {
	if !Supported(format) {
		return nil, fmt.Errorf("unpack: unsupported pixel format %v", format)
	}
	if err := engine.CheckBuffer(buf, width, height); err != nil {
		return nil, engine.Wrap(engine.KindProcessing, "unpack", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, buf)
	if format == gputypes.TextureFormatBGRA8Unorm {
		swapRB(img.Pix)
	}
	return img, nil
}

func swapRB(p []byte) {
	for i := 0; i+3 < len(p); i += engine.BytesPerPixel {
		p[i], p[i+2] = p[i+2], p[i]
	}
}
