package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalAssetStoreUploadAndDelete(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := NewLocalAssetStore(files, "http://cdn.local/uploads/")

	asset, err := store.Upload(context.Background(), AssetUpload{
		Folder:       "lms/course-materials",
		Filename:     "Syllabus.PDF",
		ContentType:  "application/pdf",
		Body:         strings.NewReader("%PDF-1.4"),
		ResourceType: ResourceRaw,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(asset.PublicID, "lms/course-materials/"))
	assert.True(t, strings.HasSuffix(asset.PublicID, ".pdf"))
	assert.Equal(t, "http://cdn.local/uploads/"+asset.PublicID, asset.URL)
	assert.Equal(t, "pdf", asset.Format)
	assert.Equal(t, int64(8), asset.Size)

	f, err := files.Open(asset.PublicID)
	require.NoError(t, err)
	content, _ := io.ReadAll(f)
	_ = f.Close()
	assert.Equal(t, "%PDF-1.4", string(content))

	require.NoError(t, store.Delete(context.Background(), asset.PublicID, ResourceRaw))
	assert.False(t, files.Exists(asset.PublicID))
	require.NoError(t, store.Delete(context.Background(), asset.PublicID, ResourceRaw))
}

func TestLocalStorageResolveStaysInsideBase(t *testing.T) {
	dir := t.TempDir()
	files, err := NewLocalStorage(dir)
	require.NoError(t, err)

	path := files.Path("../../etc/passwd")
	assert.True(t, strings.HasPrefix(path, dir))

	_, err = files.Save("", []byte("x"))
	assert.Error(t, err)
}

func TestProcessImageFillsTarget(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1600, 900))
	for x := 0; x < 1600; x++ {
		src.Set(x, 450, color.RGBA{R: 255, A: 255})
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, src))

	out, err := ProcessImage(buf, ThumbnailSpec)
	require.NoError(t, err)
	assert.Equal(t, 800, out.Width)
	assert.Equal(t, 600, out.Height)
	assert.NotEmpty(t, out.Data)
}

func TestProcessImageRejectsGarbage(t *testing.T) {
	_, err := ProcessImage(strings.NewReader("not an image"), ProfileSpec)
	assert.Error(t, err)
}

func TestObjectKeyFallsBackToContentType(t *testing.T) {
	key := ObjectKey("/folder/", "blob", "image/png")
	assert.True(t, strings.HasPrefix(key, "folder/"))
	assert.Equal(t, "png", FormatOf(key))
}
