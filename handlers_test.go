package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manual-shutter/pkg/display"
	"manual-shutter/pkg/persist"
	"manual-shutter/pkg/storage"
	"manual-shutter/pkg/storage/consts"
)

func testRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	var err error
	folder, err = storage.New(t.TempDir())
	require.NoError(t, err)
	board = display.NewBoard(64, 32, nil)

	return newRouter()
}

func get(r http.Handler, method, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, url, nil))
	return w
}

func TestRawTags(t *testing.T) {
	r := testRouter(t)

	data, err := persist.TaggedRaw{}.EncodeRaw(make([]byte, 16), persist.Tags{DeviceID: "/dev/video0", Width: 4, Height: 2, ISO: 400})
	require.NoError(t, err)
	require.NoError(t, folder.CreateAndWrite("IMG_1.raw", consts.MimeRaw, data))

	w := get(r, http.MethodGet, "/api/images/IMG_1.raw/tags")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Tags       persist.Tags `json:"tags"`
			PixelBytes int          `json:"pixelBytes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 400, body.Data.Tags.ISO)
	assert.Equal(t, 16, body.Data.PixelBytes)

	assert.Equal(t, http.StatusNotFound, get(r, http.MethodGet, "/api/images/IMG_2.raw/tags").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, http.MethodGet, "/api/images/IMG_1.jpg/tags").Code)
}

func TestGetImage(t *testing.T) {
	r := testRouter(t)
	require.NoError(t, folder.CreateAndWrite("IMG_1.jpg", consts.MimeJPEG, []byte("jpeg")))

	w := get(r, http.MethodGet, "/api/images/IMG_1.jpg")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg", w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(r, http.MethodGet, "/api/images/.info.json").Code)
}

func TestHistogramBeforeFirstFrame(t *testing.T) {
	r := testRouter(t)
	assert.Equal(t, http.StatusNotFound, get(r, http.MethodGet, "/api/histogram.png").Code)
}

func TestWebdavUnknownOp(t *testing.T) {
	r := testRouter(t)
	assert.Equal(t, http.StatusBadRequest, get(r, http.MethodPut, "/api/device/webdav?op=restart").Code)
}
