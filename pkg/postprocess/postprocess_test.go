package postprocess

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksamirdev/unai/pkg/imageio"
	"github.com/ksamirdev/unai/pkg/tensor"
	"github.com/ksamirdev/unai/pkg/types"
)

func TestToImageMapping(t *testing.T) {
	x := tensor.New(1, 3, 3)
	copy(x.Data, []float32{
		-1, 0, 1,
		-5, 5, 0.5,
		float32(math.NaN()), 0.999, -0.999,
	})

	img, err := ToImage(x)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 1, img.Bounds().Dy())

	// (0+1)/2*255 = 127.5 truncates to 127; (0.5+1)/2*255 = 191.25
	assert.Equal(t, []uint8{0, 127, 255, 255}, img.Pix[0:4])
	assert.Equal(t, []uint8{0, 255, 191, 255}, img.Pix[4:8])
	assert.Equal(t, uint8(0), img.Pix[8])
	assert.Equal(t, uint8(254), img.Pix[9])
	assert.Equal(t, uint8(0), img.Pix[10])
}

func TestToImageRejectsWrongChannels(t *testing.T) {
	_, err := ToImage(tensor.New(2, 2, 1))
	require.Error(t, err)
}

func TestDestinationIsDeterministic(t *testing.T) {
	cfg := DefaultConfig("/srv/unai")
	want := filepath.Join("uploads", "regenerated", "fake_regenerated.jpg")
	assert.Equal(t, want, cfg.Destination("/tmp/in/fake.jpg"))
	assert.Equal(t, want, cfg.Destination("fake.png"))

	cfg.Encode.Format = "png"
	assert.Equal(t, filepath.Join("uploads", "regenerated", "fake_regenerated.png"), cfg.Destination("fake.jpg"))
}

func TestSaveWritesUnderRoot(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)

	img := imaging.New(16, 16, color.NRGBA{R: 10, G: 120, B: 240, A: 255})
	dest, err := Save(img, cfg, "/data/fake.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("uploads", "regenerated", "fake_regenerated.jpg"), dest)

	written := filepath.Join(root, dest)
	require.FileExists(t, written)
	decoded, err := imageio.Load(written)
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())

	// overwrites on repeat
	dest2, err := Save(img, cfg, "/other/fake.jpg")
	require.NoError(t, err)
	assert.Equal(t, dest, dest2)
}

func TestSaveFailureWrapsErrWrite(t *testing.T) {
	root := t.TempDir()
	// a regular file where the output directory should be
	require.NoError(t, os.WriteFile(filepath.Join(root, "uploads"), []byte("x"), 0o644))

	_, err := Save(imaging.New(4, 4, color.Black), DefaultConfig(root), "fake.jpg")
	require.ErrorIs(t, err, types.ErrWrite)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig("").Validate())

	cfg := DefaultConfig("")
	cfg.Encode.Format = "gif"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("")
	cfg.Encode.Quality = 0
	assert.Error(t, cfg.Validate())
}
