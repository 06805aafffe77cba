package artifact

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveSnapshotWritesUnderJobKey(t *testing.T) {
	dir := t.TempDir()
	store := NewWithUploader(&localUploader{baseDir: dir})

	key, err := store.SaveSnapshot(context.Background(), "job-1", []byte("<html>ok</html>"), "text/html")
	require.NoError(t, err)
	assert.Equal(t, "jobs/job-1/response", key)

	data, err := os.ReadFile(filepath.Join(dir, key))
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(data))
}

func TestSaveScreenshotProducesThumbnail(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: 0, G: 128, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	dir := t.TempDir()
	store := NewWithUploader(&localUploader{baseDir: dir})

	key, err := store.SaveScreenshot(context.Background(), "job-2", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jobs/job-2/screenshot.png", key)

	thumbData, err := os.ReadFile(filepath.Join(dir, "jobs/job-2/screenshot_thumb.png"))
	require.NoError(t, err)
	thumb, _, err := image.Decode(bytes.NewReader(thumbData))
	require.NoError(t, err)
	assert.Equal(t, 320, thumb.Bounds().Dx())
}

func TestSaveScreenshotRejectsGarbage(t *testing.T) {
	store := NewWithUploader(&localUploader{baseDir: t.TempDir()})
	_, err := store.SaveScreenshot(context.Background(), "job-3", []byte("not a png"))
	assert.Error(t, err)
}
