package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventURL(t *testing.T) {
	g := NewGenerator("http://localhost:3000/")
	assert.Equal(t, "http://localhost:3000/events/abc", g.EventURL("abc"))
}

func TestEventPNG(t *testing.T) {
	g := NewGenerator("https://events.example.com")

	data, err := g.EventPNG("4f1d1c0e-8a43-4d55-9a43-3f9b4f3c2b10")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())
}
