package internal

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	indicatorGlyph    = "•"
	indicatorFontSize = 80
	noticeFontSize    = 28
)

var (
	colorVerify = color.RGBA{R: 84, G: 110, B: 122, A: 0xff}
	colorWrong  = color.RGBA{R: 255, G: 83, B: 112, A: 0xff}
	colorNormal = color.RGBA{R: 255, G: 255, B: 255, A: 0xff}
	colorNotice = color.RGBA{R: 255, G: 255, B: 255, A: 0xff}
)

// ScreenMetrics reports the size of the area the overlay has to cover
type ScreenMetrics interface {
	ScreenSize() (width, height int)
}

type indicatorStyle struct {
	color color.RGBA
	empty bool
}

// indicatorRule matches a state pair. Rules are evaluated in order and the
// first match wins, since auth and unlock states overlap.
type indicatorRule struct {
	name  string
	match func(auth AuthState, unlock UnlockState) bool
	style indicatorStyle
}

var indicatorRules = []indicatorRule{
	{
		name: "verifying",
		match: func(auth AuthState, _ UnlockState) bool {
			return auth == AuthVerify || auth == AuthLock
		},
		style: indicatorStyle{color: colorVerify},
	},
	{
		name: "failed",
		match: func(auth AuthState, unlock UnlockState) bool {
			return (auth == AuthWrong || auth == AuthLockFailed) && unlock < UnlockKeyPressed
		},
		style: indicatorStyle{color: colorWrong},
	},
	{
		name: "failed, typing again",
		match: func(auth AuthState, _ UnlockState) bool {
			return auth == AuthWrong || auth == AuthLockFailed
		},
		style: indicatorStyle{color: colorNormal},
	},
	{
		name: "nothing to delete",
		match: func(_ AuthState, unlock UnlockState) bool {
			return unlock == UnlockNothingToDelete
		},
		style: indicatorStyle{color: colorNormal, empty: true},
	},
	{
		name:  "default",
		match: func(AuthState, UnlockState) bool { return true },
		style: indicatorStyle{color: colorNormal},
	},
}

func selectIndicatorStyle(auth AuthState, unlock UnlockState) indicatorRule {
	for _, r := range indicatorRules {
		if r.match(auth, unlock) {
			return r
		}
	}
	// The default rule always matches
	return indicatorRules[len(indicatorRules)-1]
}

// IndicatorRenderer draws the password dots into a transparent overlay the
// size of the screen
type IndicatorRenderer struct {
	metrics ScreenMetrics

	face       font.Face
	noticeFace font.Face
	overlay    *image.RGBA

	lastInputPosition int
	text              string
	textColor         color.RGBA
	notice            []string
}

// NewIndicatorRenderer parses the indicator font. The overlay itself is
// allocated on the first Draw.
func NewIndicatorRenderer(metrics ScreenMetrics) (*IndicatorRenderer, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse indicator font: %w", err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    indicatorFontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create indicator font face: %w", err)
	}

	noticeFace, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    noticeFontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create notice font face: %w", err)
	}

	return &IndicatorRenderer{metrics: metrics, face: face, noticeFace: noticeFace}, nil
}

// SetNotice sets the lines drawn below the dots on every Draw. No lines
// removes the notice.
func (r *IndicatorRenderer) SetNotice(lines ...string) {
	r.notice = append(r.notice[:0], lines...)
}

// Notice returns the lines set by SetNotice
func (r *IndicatorRenderer) Notice() []string {
	return r.notice
}

// Draw renders the indicator for the given state. The overlay is cleared
// first, so nothing from a previous frame survives.
func (r *IndicatorRenderer) Draw(auth AuthState, unlock UnlockState, inputPosition int) {
	if r.overlay == nil {
		w, h := r.metrics.ScreenSize()
		r.overlay = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		clear(r.overlay.Pix)
	}
	r.text = ""

	r.drawDots(auth, unlock, inputPosition)
	r.drawNotice()
}

func (r *IndicatorRenderer) drawDots(auth AuthState, unlock UnlockState, inputPosition int) {
	if unlock < UnlockKeyPressed && auth <= AuthIdle && inputPosition <= 0 {
		return
	}

	rule := selectIndicatorStyle(auth, unlock)

	// A failed attempt clears the buffer but keeps showing how much was typed
	if inputPosition > 0 {
		r.lastInputPosition = inputPosition
	}
	count := max(inputPosition, 0)
	if count == 0 && (auth == AuthWrong || auth == AuthLockFailed) {
		count = r.lastInputPosition
	}

	text := strings.Repeat(indicatorGlyph, count)
	if rule.style.empty {
		text = ""
	}

	r.text = text
	r.textColor = rule.style.color
	Debug("Indicator %q rule: %d glyphs", rule.name, count)

	if text == "" {
		return
	}

	// Center the ink box of the string on the overlay
	bounds, _ := font.BoundString(r.face, text)
	size := r.overlay.Bounds().Size()
	center := fixed.P(size.X/2, size.Y/2)
	inkCenter := fixed.Point26_6{
		X: (bounds.Min.X + bounds.Max.X) / 2,
		Y: (bounds.Min.Y + bounds.Max.Y) / 2,
	}

	d := &font.Drawer{
		Dst:  r.overlay,
		Src:  image.NewUniform(r.textColor),
		Face: r.face,
		Dot:  center.Sub(inkCenter),
	}
	d.DrawString(text)
}

// drawNotice writes the notice lines centered horizontally, starting below
// the dots
func (r *IndicatorRenderer) drawNotice() {
	if len(r.notice) == 0 {
		return
	}

	size := r.overlay.Bounds().Size()
	metrics := r.noticeFace.Metrics()
	y := fixed.I(size.Y/2+indicatorFontSize) + metrics.Ascent

	d := &font.Drawer{
		Dst:  r.overlay,
		Src:  image.NewUniform(colorNotice),
		Face: r.noticeFace,
	}
	for _, line := range r.notice {
		width := d.MeasureString(line)
		d.Dot = fixed.Point26_6{X: fixed.I(size.X/2) - width/2, Y: y}
		d.DrawString(line)
		y += metrics.Height
	}
}

// Overlay returns the cached overlay, nil before the first Draw or after
// Invalidate
func (r *IndicatorRenderer) Overlay() *image.RGBA {
	return r.overlay
}

// Text returns the string rendered by the last Draw
func (r *IndicatorRenderer) Text() string {
	return r.text
}

// GlyphCount returns how many dots the last Draw rendered
func (r *IndicatorRenderer) GlyphCount() int {
	return strings.Count(r.text, indicatorGlyph)
}

// Invalidate drops the overlay so the next Draw allocates it at the current
// screen size
func (r *IndicatorRenderer) Invalidate() {
	r.overlay = nil
}

// paintRegion composites the overlay onto dst with its origin at the
// region's top-left corner, clipped to the region
func (r *IndicatorRenderer) paintRegion(dst draw.Image, region ScreenRegion) {
	if r.overlay == nil {
		return
	}
	rect := region.Rect()
	clip := rect.Intersect(dst.Bounds())
	if clip.Empty() {
		return
	}
	draw.Draw(dst, clip, r.overlay, clip.Min.Sub(rect.Min), draw.Over)
}
