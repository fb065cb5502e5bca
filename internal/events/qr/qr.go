package qr

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

const size = 256

// Generator renders share codes pointing at the frontend event page.
type Generator struct {
	BaseURL string
}

func NewGenerator(baseURL string) *Generator {
	return &Generator{BaseURL: strings.TrimRight(baseURL, "/")}
}

// EventURL is the link encoded in the code for eventID.
func (g *Generator) EventURL(eventID string) string {
	return fmt.Sprintf("%s/events/%s", g.BaseURL, eventID)
}

// EventPNG returns a PNG QR code for the event page.
func (g *Generator) EventPNG(eventID string) ([]byte, error) {
	png, err := qrcode.Encode(g.EventURL(eventID), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr for event %s: %w", eventID, err)
	}
	return png, nil
}
