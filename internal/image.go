package internal

import (
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ParseHexColor parses "rrggbb" or "#rrggbb" into an opaque color
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid background color %q: want 6 hex digits", s)
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid background color %q: %w", s, err)
	}

	return color.RGBA{R: b[0], G: b[1], B: b[2], A: 0xff}, nil
}

// LoadBackgroundImage decodes the static lock screen image
func LoadBackgroundImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open background image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode background image %s: %w", path, err)
	}

	b := img.Bounds()
	Info("Loaded %s background image %s (%dx%d)", format, path, b.Dx(), b.Dy())
	return img, nil
}
