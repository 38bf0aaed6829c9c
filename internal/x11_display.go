package internal

import (
	"fmt"
	"image"

	"github.com/BurntSushi/xgb/dpms"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/xgraphics"
)

// ScreenSize returns the current root window size
func (l *X11Locker) ScreenSize() (int, int) {
	return l.width, l.height
}

// takeSnapshot copies the visible screen into a pixmap. It has to run before
// the lock window is mapped so later captures do not see the lock screen.
func (l *X11Locker) takeSnapshot() error {
	d, err := l.copyToPixmap(xproto.Drawable(l.X.RootWin()), l.width, l.height)
	if err != nil {
		return err
	}
	l.snapshot = d
	Debug("Captured %dx%d screen snapshot 0x%x", l.width, l.height, uint32(d))
	return nil
}

func (l *X11Locker) releaseSnapshot() {
	if l.snapshot != 0 {
		xproto.FreePixmap(l.X.Conn(), xproto.Pixmap(l.snapshot))
		l.snapshot = 0
	}
}

// copyToPixmap creates a root depth pixmap of the given size and copies src
// into it, including the contents of child windows
func (l *X11Locker) copyToPixmap(src xproto.Drawable, width, height int) (Drawable, error) {
	conn := l.X.Conn()

	pix, err := xproto.NewPixmapId(conn)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate pixmap ID: %w", err)
	}
	err = xproto.CreatePixmapChecked(conn, l.screen.RootDepth, pix,
		xproto.Drawable(l.X.RootWin()), uint16(width), uint16(height)).Check()
	if err != nil {
		return 0, fmt.Errorf("failed to create pixmap: %w", err)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		xproto.FreePixmap(conn, pix)
		return 0, fmt.Errorf("failed to allocate graphics context ID: %w", err)
	}
	err = xproto.CreateGCChecked(conn, gc, xproto.Drawable(pix),
		xproto.GcForeground|xproto.GcSubwindowMode,
		[]uint32{l.screen.BlackPixel, xproto.SubwindowModeIncludeInferiors}).Check()
	if err != nil {
		xproto.FreePixmap(conn, pix)
		return 0, fmt.Errorf("failed to create graphics context: %w", err)
	}
	defer xproto.FreeGC(conn, gc)

	// Whatever src does not cover stays black
	xproto.PolyFillRectangle(conn, xproto.Drawable(pix), gc,
		[]xproto.Rectangle{{Width: uint16(width), Height: uint16(height)}})
	xproto.CopyArea(conn, src, xproto.Drawable(pix), gc, 0, 0, 0, 0, uint16(width), uint16(height))

	return Drawable(pix), nil
}

// Grab implements ScreenGrabber. The copy comes from the snapshot taken
// before locking, or from the root window if there is none.
func (l *X11Locker) Grab(width, height int) (Drawable, error) {
	src := xproto.Drawable(l.X.RootWin())
	if l.snapshot != 0 {
		src = xproto.Drawable(l.snapshot)
	}

	d, err := l.copyToPixmap(src, width, height)
	if err != nil {
		return 0, err
	}

	// The GL driver works on its own connection and must see the finished copy
	l.X.Sync()
	return d, nil
}

// Fetch implements ScreenGrabber
func (l *X11Locker) Fetch(d Drawable, width, height int) (image.Image, error) {
	ximg, err := xgraphics.NewDrawable(l.X, xproto.Drawable(d))
	if err != nil {
		return nil, fmt.Errorf("failed to read pixmap 0x%x: %w", uint32(d), err)
	}

	// The server leaves the padding byte of 24 bit visuals undefined
	for i := 3; i < len(ximg.Pix); i += 4 {
		ximg.Pix[i] = 0xff
	}
	return ximg.SubImage(image.Rect(0, 0, width, height)), nil
}

// Free implements ScreenGrabber
func (l *X11Locker) Free(d Drawable) {
	xproto.FreePixmap(l.X.Conn(), xproto.Pixmap(d))
}

// SetBackground implements Presenter. The frame is uploaded into a new
// pixmap which replaces the window's background; the previous one is freed
// only after the swap.
func (l *X11Locker) SetBackground(frame image.Image) error {
	ximg := xgraphics.NewConvert(l.X, frame)
	if err := ximg.CreatePixmap(); err != nil {
		ximg.Destroy()
		return fmt.Errorf("failed to create background pixmap: %w", err)
	}
	ximg.XDraw()

	err := xproto.ChangeWindowAttributesChecked(l.X.Conn(), l.window.Id,
		xproto.CwBackPixmap, []uint32{uint32(ximg.Pixmap)}).Check()
	if err != nil {
		ximg.Destroy()
		return fmt.Errorf("failed to set window background: %w", err)
	}

	if l.background != nil {
		l.background.Destroy()
	}
	l.background = ximg
	return nil
}

// ClearArea implements Presenter
func (l *X11Locker) ClearArea(width, height int) {
	xproto.ClearArea(l.X.Conn(), false, l.window.Id, 0, 0, uint16(width), uint16(height))
}

// MonitorOff implements PowerMonitor. A server without DPMS never reports
// the monitor as off.
func (l *X11Locker) MonitorOff() bool {
	if !l.dpmsCapable {
		return false
	}

	info, err := dpms.Info(l.X.Conn()).Reply()
	if err != nil {
		Debug("DPMS info query failed: %v", err)
		return false
	}
	return info.State && info.PowerLevel != dpms.DPMSModeOn
}
