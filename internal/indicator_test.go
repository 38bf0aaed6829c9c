package internal

import (
	"image"
	"image/color"
	"testing"
)

type fixedMetrics struct{ w, h int }

func (m fixedMetrics) ScreenSize() (int, int) { return m.w, m.h }

func newTestIndicator(t *testing.T, w, h int) *IndicatorRenderer {
	t.Helper()
	r, err := NewIndicatorRenderer(fixedMetrics{w, h})
	if err != nil {
		t.Fatalf("NewIndicatorRenderer: %v", err)
	}
	return r
}

func isBlank(img *image.RGBA) bool {
	for _, v := range img.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestIndicatorBlankWhenIdle(t *testing.T) {
	r := newTestIndicator(t, 400, 300)

	r.Draw(AuthIdle, UnlockStarted, 0)

	overlay := r.Overlay()
	if overlay == nil {
		t.Fatal("overlay not allocated")
	}
	if got := overlay.Bounds().Size(); got != image.Pt(400, 300) {
		t.Errorf("overlay size = %v, want 400x300", got)
	}
	if !isBlank(overlay) {
		t.Error("overlay should be fully transparent")
	}
	if r.Text() != "" {
		t.Errorf("text = %q, want empty", r.Text())
	}
}

func TestIndicatorGlyphCount(t *testing.T) {
	r := newTestIndicator(t, 800, 600)

	r.Draw(AuthIdle, UnlockKeyPressed, 5)

	if got := r.GlyphCount(); got != 5 {
		t.Errorf("glyph count = %d, want 5", got)
	}
	if isBlank(r.Overlay()) {
		t.Error("overlay is blank, expected dots")
	}
	if r.textColor != colorNormal {
		t.Errorf("color = %v, want white", r.textColor)
	}
}

func TestIndicatorRetainsLastCount(t *testing.T) {
	r := newTestIndicator(t, 800, 600)

	r.Draw(AuthIdle, UnlockKeyPressed, 5)
	r.Draw(AuthWrong, UnlockKeyPressed, 0)

	if got := r.GlyphCount(); got != 5 {
		t.Errorf("glyph count = %d, want retained 5", got)
	}

	// Zero counts never overwrite the retained value
	r.Draw(AuthWrong, UnlockStarted, 0)
	if got := r.GlyphCount(); got != 5 {
		t.Errorf("glyph count = %d after second zero draw, want 5", got)
	}
	if r.textColor != colorWrong {
		t.Errorf("color = %v, want red", r.textColor)
	}
}

func TestIndicatorEmptyAfterLastBackspace(t *testing.T) {
	r := newTestIndicator(t, 800, 600)

	r.Draw(AuthIdle, UnlockKeyActive, 5)
	r.Draw(AuthIdle, UnlockBackspaceActive, 1)
	r.Draw(AuthIdle, UnlockBackspaceActive, 0)

	if got := r.GlyphCount(); got != 0 {
		t.Errorf("glyph count = %d with nothing typed, want 0", got)
	}
	if !isBlank(r.Overlay()) {
		t.Error("overlay should be blank once the buffer is empty")
	}
}

func TestIndicatorNothingToDelete(t *testing.T) {
	r := newTestIndicator(t, 800, 600)

	r.Draw(AuthIdle, UnlockNothingToDelete, 7)

	if r.Text() != "" {
		t.Errorf("text = %q, want empty", r.Text())
	}
	if !isBlank(r.Overlay()) {
		t.Error("overlay should be blank")
	}
}

func TestIndicatorClearsPreviousFrame(t *testing.T) {
	r := newTestIndicator(t, 800, 600)

	r.Draw(AuthIdle, UnlockKeyActive, 3)
	if isBlank(r.Overlay()) {
		t.Fatal("expected dots")
	}
	first := r.Overlay()

	r.Draw(AuthIdle, UnlockStarted, 0)
	if r.Overlay() != first {
		t.Error("overlay was reallocated instead of reused")
	}
	if !isBlank(r.Overlay()) {
		t.Error("old dots survived into the next frame")
	}
}

func TestIndicatorInvalidate(t *testing.T) {
	m := &resizableMetrics{w: 640, h: 480}
	r, err := NewIndicatorRenderer(m)
	if err != nil {
		t.Fatalf("NewIndicatorRenderer: %v", err)
	}

	r.Draw(AuthIdle, UnlockStarted, 0)
	m.w, m.h = 1280, 1024
	r.Invalidate()
	if r.Overlay() != nil {
		t.Fatal("overlay still cached after Invalidate")
	}

	r.Draw(AuthIdle, UnlockStarted, 0)
	if got := r.Overlay().Bounds().Size(); got != image.Pt(1280, 1024) {
		t.Errorf("overlay size = %v, want 1280x1024", got)
	}
}

type resizableMetrics struct{ w, h int }

func (m *resizableMetrics) ScreenSize() (int, int) { return m.w, m.h }

func TestIndicatorDotsAreCentered(t *testing.T) {
	r := newTestIndicator(t, 1000, 600)

	r.Draw(AuthIdle, UnlockKeyActive, 4)

	var minX, minY, maxX, maxY = 1 << 30, 1 << 30, -1, -1
	overlay := r.Overlay()
	b := overlay.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if overlay.RGBAAt(x, y).A == 0 {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < 0 {
		t.Fatal("nothing was drawn")
	}

	cx, cy := (minX+maxX)/2, (minY+maxY)/2
	if abs(cx-500) > 3 || abs(cy-300) > 3 {
		t.Errorf("ink center = (%d,%d), want about (500,300)", cx, cy)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestIndicatorStyleTable(t *testing.T) {
	tests := []struct {
		auth   AuthState
		unlock UnlockState
		color  string
		empty  bool
	}{
		{AuthVerify, UnlockKeyPressed, "teal", false},
		{AuthLock, UnlockNothingToDelete, "teal", false},
		{AuthWrong, UnlockStarted, "red", false},
		{AuthLockFailed, UnlockStarted, "red", false},
		{AuthWrong, UnlockKeyActive, "white", false},
		{AuthWrong, UnlockNothingToDelete, "white", false},
		{AuthIdle, UnlockNothingToDelete, "white", true},
		{AuthIdle, UnlockBackspaceActive, "white", false},
		{AuthIdle, UnlockStarted, "white", false},
	}

	colors := map[string]color.RGBA{"teal": colorVerify, "red": colorWrong, "white": colorNormal}

	for _, tt := range tests {
		rule := selectIndicatorStyle(tt.auth, tt.unlock)
		if rule.style.color != colors[tt.color] {
			t.Errorf("(%s, %s): rule %q, want %s", tt.auth, tt.unlock, rule.name, tt.color)
		}
		if rule.style.empty != tt.empty {
			t.Errorf("(%s, %s): empty = %v, want %v", tt.auth, tt.unlock, rule.style.empty, tt.empty)
		}
	}
}

func TestIndicatorNoticeBelowDots(t *testing.T) {
	r := newTestIndicator(t, 800, 600)

	r.SetNotice("TOO MANY FAILED PASSWORD ATTEMPTS", "LOCKED OUT FOR: 00:30")
	r.Draw(AuthIdle, UnlockStarted, 0)

	overlay := r.Overlay()
	if isBlank(overlay) {
		t.Fatal("notice was not drawn")
	}
	if r.Text() != "" {
		t.Errorf("text = %q, want no dots", r.Text())
	}

	b := overlay.Bounds()
	minX, maxX := b.Max.X, -1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if overlay.RGBAAt(x, y).A == 0 {
				continue
			}
			if y < 300 {
				t.Fatalf("notice pixel at (%d,%d) above the screen center", x, y)
			}
			minX, maxX = min(minX, x), max(maxX, x)
		}
	}
	if cx := (minX + maxX) / 2; abs(cx-400) > 3 {
		t.Errorf("notice centered at x=%d, want about 400", cx)
	}

	r.SetNotice()
	r.Draw(AuthIdle, UnlockStarted, 0)
	if !isBlank(r.Overlay()) {
		t.Error("cleared notice still drawn")
	}
}

func TestIndicatorNoticeWithDots(t *testing.T) {
	r := newTestIndicator(t, 800, 600)

	r.SetNotice("LOCKED OUT FOR: 00:05")
	r.Draw(AuthWrong, UnlockStarted, 3)

	if got := r.GlyphCount(); got != 3 {
		t.Errorf("glyph count = %d, want 3", got)
	}

	var dots, notice bool
	overlay := r.Overlay()
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			c := overlay.RGBAAt(x, y)
			if c.A == 0 {
				continue
			}
			switch {
			case y < 300+indicatorFontSize/2 && c == colorWrong:
				dots = true
			case y >= 300+indicatorFontSize:
				notice = true
			}
		}
	}
	if !dots || !notice {
		t.Errorf("dots drawn: %v, notice drawn: %v", dots, notice)
	}
}
