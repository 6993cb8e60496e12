package video

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manual-shutter/pkg/storage"
	"manual-shutter/pkg/storage/consts"
	"manual-shutter/pkg/types"
)

func frame(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 8)), nil))
	return buf.Bytes()
}

func TestRecorder(t *testing.T) {
	dir := t.TempDir()
	folder, err := storage.New(dir)
	require.NoError(t, err)
	r := NewRecorder(folder, types.TimelapseSetting{Enable: true, MaxFrames: 2})

	require.NoError(t, r.CreateAndWrite("IMG_0.jpg", consts.MimeJPEG, frame(t)))
	assert.Zero(t, r.Frames(), "nothing is recorded outside a run")

	require.NoError(t, r.Begin("IMG_run.avi", 16, 8, 10))
	require.NoError(t, r.CreateAndWrite("IMG_1.jpg", consts.MimeJPEG, frame(t)))
	require.NoError(t, r.CreateAndWrite("IMG_1.raw", consts.MimeRaw, []byte{1, 2, 3}))
	require.NoError(t, r.CreateAndWrite("IMG_2.jpg", consts.MimeJPEG, frame(t)))
	require.NoError(t, r.CreateAndWrite("IMG_3.jpg", consts.MimeJPEG, frame(t)))
	assert.Equal(t, 2, r.Frames())
	require.NoError(t, r.End())

	st, err := os.Stat(filepath.Join(dir, "IMG_run.avi"))
	require.NoError(t, err)
	assert.NotZero(t, st.Size())
	for _, name := range []string{"IMG_0.jpg", "IMG_1.jpg", "IMG_1.raw", "IMG_3.jpg"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	assert.ErrorIs(t, r.End(), ErrNotRecording)
}

func TestRecorderDisabled(t *testing.T) {
	dir := t.TempDir()
	folder, err := storage.New(dir)
	require.NoError(t, err)
	r := NewRecorder(folder, types.TimelapseSetting{})

	require.NoError(t, r.Begin("IMG_run.avi", 16, 8, 10))
	require.NoError(t, r.CreateAndWrite("IMG_1.jpg", consts.MimeJPEG, frame(t)))
	require.NoError(t, r.End())
	assert.NoFileExists(t, filepath.Join(dir, "IMG_run.avi"))
}

func TestRecorderRejectsBadName(t *testing.T) {
	folder, err := storage.New(t.TempDir())
	require.NoError(t, err)
	r := NewRecorder(folder, types.TimelapseSetting{Enable: true})
	assert.ErrorIs(t, r.Begin("../escape.avi", 16, 8, 10), storage.ErrBadName)
}
