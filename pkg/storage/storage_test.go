package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"manual-shutter/pkg/storage/consts"
)

func TestFolder(t *testing.T) {
	f, err := New(t.TempDir())
	checkErr(t, err)

	err = f.CreateAndWrite("IMG_1.jpg", consts.MimeJPEG, []byte("1234"))
	checkErr(t, err)
	err = f.Save("IMG_1.raw", bytes.NewReader([]byte("raw!raw!")))
	checkErr(t, err)

	info, err := f.Info()
	checkErr(t, err)
	assert.Equal(t, 2, info.Count)
	assert.Equal(t, int64(12), info.Bytes)
	assert.Equal(t, "IMG_1.raw", info.LatestFile)

	files, err := f.List(consts.JPEGExt)
	checkErr(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, "IMG_1.jpg", files[0].Name)

	data, err := f.Read("IMG_1.jpg")
	checkErr(t, err)
	assert.Equal(t, []byte("1234"), data)
}

func TestFolderRejectsBadNames(t *testing.T) {
	f, err := New(t.TempDir())
	checkErr(t, err)

	for _, name := range []string{"", "../x.jpg", "a/b.jpg", ".hidden.jpg"} {
		assert.ErrorIs(t, f.CreateAndWrite(name, consts.MimeJPEG, nil), ErrBadName, name)
	}
	assert.ErrorIs(t, f.CreateAndWrite("x.png", consts.MimeJPEG, nil), ErrBadName)
}

func checkErr(t *testing.T, err error) {
	if err != nil {
		t.Fatal(err)
	}
}
