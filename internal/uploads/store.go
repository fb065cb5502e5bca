// Package uploads keeps event images on local disk and serves them back.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"ms-events/internal/apperr"

	"github.com/google/uuid"
)

const PublicPrefix = "/uploads/"

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

type Store struct {
	Dir      string
	MaxBytes int64
}

func NewStore(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{Dir: dir, MaxBytes: maxBytes}, nil
}

// Save validates and stores an uploaded image, returning its public URL.
func (s *Store) Save(header *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		return "", apperr.ValidationFields("Only image files are allowed!", "image")
	}
	if header.Size > s.MaxBytes {
		return "", apperr.ValidationFields(fmt.Sprintf("Image must be at most %d bytes", s.MaxBytes), "image")
	}

	src, err := header.Open()
	if err != nil {
		return "", apperr.Internal("Failed to read upload", err)
	}
	defer src.Close()

	name := uuid.New().String() + ext
	dst, err := os.OpenFile(filepath.Join(s.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return "", apperr.Internal("Failed to store upload", err)
	}

	written, err := io.Copy(dst, io.LimitReader(src, s.MaxBytes+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > s.MaxBytes {
		err = apperr.ValidationFields(fmt.Sprintf("Image must be at most %d bytes", s.MaxBytes), "image")
	}
	if err != nil {
		os.Remove(filepath.Join(s.Dir, name))
		if _, ok := apperr.As(err); ok {
			return "", err
		}
		return "", apperr.Internal("Failed to store upload", err)
	}

	return PublicPrefix + name, nil
}

// Remove deletes a previously saved image. URLs this store did not produce are ignored.
func (s *Store) Remove(url string) error {
	if !strings.HasPrefix(url, PublicPrefix) {
		return nil
	}
	name := filepath.Base(strings.TrimPrefix(url, PublicPrefix))
	if name == "." || name == "/" || name == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Handler serves stored images under PublicPrefix without directory listings.
func (s *Store) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.Dir))
	return http.StripPrefix(PublicPrefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}))
}
