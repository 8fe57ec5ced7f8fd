package pixel_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/effect-quickstart/internal/engine"
	"github.com/e7canasta/effect-quickstart/internal/pixel"
)

func TestPackBlackImageIsAllZero(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	buf, err := pixel.Pack(img, pixel.Default)
	require.NoError(t, err)
	require.Len(t, buf, 100*100*4)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

// TestPackDropsStridePadding packs a sub-image whose rows are not contiguous
// in the parent buffer.
func TestPackDropsStridePadding(t *testing.T) {
	parent := image.NewRGBA(image.Rect(0, 0, 4, 4))
	parent.SetRGBA(1, 1, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	parent.SetRGBA(2, 2, color.RGBA{R: 4, G: 5, B: 6, A: 255})
	sub := parent.SubImage(image.Rect(1, 1, 3, 3))

	buf, err := pixel.Pack(sub, pixel.Default)
	require.NoError(t, err)
	require.Len(t, buf, 2*2*4)
	assert.Equal(t, []byte{1, 2, 3, 255}, buf[0:4])
	assert.Equal(t, []byte{4, 5, 6, 255}, buf[12:16])
}

func TestPackConvertsOtherModels(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(2, 1, color.Gray{Y: 200})

	buf, err := pixel.Pack(img, pixel.Default)
	require.NoError(t, err)
	assert.Equal(t, []byte{200, 200, 200, 255}, buf[len(buf)-4:])
}

func TestRoundTripBGRA(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	buf, err := pixel.Pack(img, gputypes.TextureFormatBGRA8Unorm)
	require.NoError(t, err)
	assert.Equal(t, []byte{30, 20, 10, 255}, buf)

	out, err := pixel.Unpack(buf, 1, 1, gputypes.TextureFormatBGRA8Unorm)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, out.Pix)
}

func TestUnpackKeepsDimensions(t *testing.T) {
	out, err := pixel.Unpack(make([]byte, 7*3*4), 7, 3, pixel.Default)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Bounds().Dx())
	assert.Equal(t, 3, out.Bounds().Dy())
}

func TestUnpackSizeMismatch(t *testing.T) {
	_, err := pixel.Unpack(make([]byte, 10), 2, 2, pixel.Default)
	require.ErrorIs(t, err, engine.ErrBufferSize)
	assert.Equal(t, engine.KindProcessing, engine.KindOf(err))
}

func TestParseFormat(t *testing.T) {
	f, err := pixel.ParseFormat("bgra")
	require.NoError(t, err)
	assert.Equal(t, gputypes.TextureFormatBGRA8Unorm, f)

	f, err = pixel.ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, pixel.Default, f)

	_, err = pixel.ParseFormat("yuv420")
	require.Error(t, err)
}
