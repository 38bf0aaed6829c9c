package internal

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ScreenGrabber captures the current screen contents into a server side
// drawable and reads drawables back
type ScreenGrabber interface {
	Grab(width, height int) (Drawable, error)
	Fetch(d Drawable, width, height int) (image.Image, error)
	Free(d Drawable)
}

// PostProcessor transforms a drawable in place
type PostProcessor interface {
	Apply(d Drawable, width, height int)
}

// Presenter installs finished frames on the lock window
type Presenter interface {
	SetBackground(frame image.Image) error
	ClearArea(width, height int)
}

// PowerMonitor reports whether the monitors are currently powered down
type PowerMonitor interface {
	MonitorOff() bool
}

// Compositor builds lock screen frames from the background and the
// indicator overlay and hands them to the presenter
type Compositor struct {
	State LockState

	LiveCapture     bool
	Background      image.Image
	BackgroundColor color.RGBA

	// Resolution is the last known screen size
	Resolution image.Point
	Monitors   []ScreenRegion

	indicator *IndicatorRenderer
	grabber   ScreenGrabber
	post      PostProcessor
	presenter Presenter
	power     PowerMonitor
}

// NewCompositor wires the compositor to its collaborators. post and power
// may be nil: frames are then left unprocessed, and monitors are treated
// as always on.
func NewCompositor(indicator *IndicatorRenderer, grabber ScreenGrabber, post PostProcessor, presenter Presenter, power PowerMonitor) *Compositor {
	return &Compositor{
		BackgroundColor: color.RGBA{A: 0xff},
		indicator:       indicator,
		grabber:         grabber,
		post:            post,
		presenter:       presenter,
		power:           power,
	}
}

// SetPostProcessor swaps the post processor, nil disables post-processing
func (c *Compositor) SetPostProcessor(post PostProcessor) {
	c.post = post
}

// ComposeFrame renders a complete frame at resolution. In live capture mode
// the screen is grabbed and post-processed at the last known resolution,
// which may differ from resolution while a resize is in flight.
func (c *Compositor) ComposeFrame(resolution image.Point) (*image.RGBA, error) {
	frame := image.NewRGBA(image.Rect(0, 0, resolution.X, resolution.Y))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(c.BackgroundColor), image.Point{}, draw.Src)

	if c.LiveCapture {
		if err := c.paintCapture(frame); err != nil {
			return nil, err
		}
	} else if c.Background != nil {
		b := c.Background.Bounds()
		draw.Draw(frame, b.Sub(b.Min), c.Background, b.Min, draw.Over)
	}

	for _, region := range c.indicatorRegions(resolution) {
		c.indicator.paintRegion(frame, region)
	}

	return frame, nil
}

func (c *Compositor) paintCapture(frame *image.RGBA) error {
	if c.grabber == nil {
		return errors.New("live capture enabled without a screen grabber")
	}

	w, h := c.Resolution.X, c.Resolution.Y
	if w <= 0 || h <= 0 {
		size := frame.Bounds().Size()
		w, h = size.X, size.Y
	}

	d, err := c.grabber.Grab(w, h)
	if err != nil {
		return fmt.Errorf("failed to capture screen: %w", err)
	}
	defer c.grabber.Free(d)

	if c.post != nil {
		c.post.Apply(d, w, h)
	}

	img, err := c.grabber.Fetch(d, w, h)
	if err != nil {
		return fmt.Errorf("failed to read back captured screen: %w", err)
	}

	b := img.Bounds()
	draw.Draw(frame, b.Sub(b.Min), img, b.Min, draw.Src)
	return nil
}

// indicatorRegions returns the monitor list, or a single region covering
// resolution when no monitor information is available
func (c *Compositor) indicatorRegions(resolution image.Point) []ScreenRegion {
	if len(c.Monitors) > 0 {
		return c.Monitors
	}
	return []ScreenRegion{{Width: resolution.X, Height: resolution.Y}}
}

// RedrawScreen composes a frame at the last known resolution and installs
// it as the window background. Nothing is drawn while the monitors are off.
func (c *Compositor) RedrawScreen() error {
	if c.power != nil && c.power.MonitorOff() {
		Debug("Monitor is off, skipping redraw")
		return nil
	}

	Debug("Redrawing screen (unlock state %s, auth state %s)", c.State.Unlock, c.State.Auth)

	frame, err := c.ComposeFrame(c.Resolution)
	if err != nil {
		return err
	}

	if err := c.presenter.SetBackground(frame); err != nil {
		return fmt.Errorf("failed to install background: %w", err)
	}
	c.presenter.ClearArea(c.Resolution.X, c.Resolution.Y)
	return nil
}

// RedrawUnlockIndicator redraws the indicator for the current state, then
// the screen
func (c *Compositor) RedrawUnlockIndicator() error {
	c.indicator.Draw(c.State.Auth, c.State.Unlock, c.State.InputPosition)
	return c.RedrawScreen()
}

// ClearIndicator hides the indicator when the password buffer is empty
func (c *Compositor) ClearIndicator() error {
	if c.State.InputPosition == 0 {
		c.State.Unlock = UnlockStarted
	} else {
		c.State.Unlock = UnlockKeyPressed
	}
	return c.RedrawUnlockIndicator()
}

// SetNotice sets the text shown under the indicator until it is replaced.
// It takes effect on the next redraw.
func (c *Compositor) SetNotice(lines ...string) {
	c.indicator.SetNotice(lines...)
}

// InvalidateForResize drops the cached overlay so it is reallocated at the
// new screen size
func (c *Compositor) InvalidateForResize() {
	c.indicator.Invalidate()
}
