package uploads

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ms-events/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	_, header, err := req.FormFile("image")
	require.NoError(t, err)
	return header
}

func TestSaveServeRemove(t *testing.T) {
	store, err := NewStore(t.TempDir(), 1024)
	require.NoError(t, err)

	url, err := store.Save(fileHeader(t, "Poster.PNG", []byte("fake png")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, PublicPrefix))
	assert.True(t, strings.HasSuffix(url, ".png"))

	rec := httptest.NewRecorder()
	store.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fake png", rec.Body.String())

	require.NoError(t, store.Remove(url))
	_, err = os.Stat(filepath.Join(store.Dir, strings.TrimPrefix(url, PublicPrefix)))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, store.Remove(url))
}

func TestSaveRejectsNonImages(t *testing.T) {
	store, err := NewStore(t.TempDir(), 1024)
	require.NoError(t, err)

	_, err = store.Save(fileHeader(t, "script.exe", []byte("MZ")))
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestSaveRejectsOversizedFiles(t *testing.T) {
	store, err := NewStore(t.TempDir(), 8)
	require.NoError(t, err)

	_, err = store.Save(fileHeader(t, "big.jpg", bytes.Repeat([]byte("x"), 64)))
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	entries, err := os.ReadDir(store.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveIgnoresForeignURLs(t *testing.T) {
	store, err := NewStore(t.TempDir(), 8)
	require.NoError(t, err)

	assert.NoError(t, store.Remove("https://cdn.example.com/a.png"))
	assert.NoError(t, store.Remove(""))
}

func TestHandlerHidesDirectoryListing(t *testing.T) {
	store, err := NewStore(t.TempDir(), 8)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	store.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
