package internal

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/dpms"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/keybind"
	"github.com/BurntSushi/xgbutil/xevent"
	"github.com/BurntSushi/xgbutil/xgraphics"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/BurntSushi/xgbutil/xwindow"
)

// X11Locker locks an X11 session with a full screen override-redirect window
type X11Locker struct {
	config     Configuration
	configPath string
	helper     *LockHelper
	lockout    *LockoutManager

	X      *xgbutil.XUtil
	screen *xproto.ScreenInfo
	window *xwindow.Window
	width  int
	height int

	dpmsCapable bool
	background  *xgraphics.Image // image backing the installed window background
	snapshot    Drawable         // screen contents from before the lock window was mapped

	driver     Driver
	render     *RenderContext
	compositor *Compositor
	input      *PasswordInput

	idleWatcher *IdleWatcher
	result      InputResult

	tickAtom xproto.Atom // client message that drives the lockout countdown
}

// NewX11Locker creates a new X11-based screen locker
// configPath is handed on to the lock processes started by the idle monitor.
func NewX11Locker(config Configuration, configPath string) *X11Locker {
	Debug("Creating new X11Locker with config: %+v", config)
	return &X11Locker{
		config:     config,
		configPath: configPath,
		helper:     NewLockHelper(config),
		lockout:    NewLockoutManager(config),
	}
}

// Init connects to the X server and sets up extensions and the lock window
func (l *X11Locker) Init() error {
	Info("Initializing X11 connection and resources")

	X, err := xgbutil.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	l.X = X
	conn := X.Conn()

	keybind.Initialize(X)

	if err := dpms.Init(conn); err != nil {
		Warn("DPMS extension not available: %v", err)
	} else if reply, err := dpms.Capable(conn).Reply(); err == nil {
		l.dpmsCapable = reply.Capable
	}
	Debug("DPMS capable: %v", l.dpmsCapable)

	if err := xfixes.Init(conn); err != nil {
		return fmt.Errorf("failed to initialize XFixes extension: %w", err)
	}
	// HideCursor needs protocol version 4
	if _, err := xfixes.QueryVersion(conn, 4, 0).Reply(); err != nil {
		return fmt.Errorf("failed to negotiate XFixes version: %w", err)
	}

	l.screen = X.Screen()
	l.width = int(l.screen.WidthInPixels)
	l.height = int(l.screen.HeightInPixels)
	Info("Screen dimensions: %dx%d", l.width, l.height)

	l.window, err = xwindow.Generate(X)
	if err != nil {
		return fmt.Errorf("failed to allocate window ID: %w", err)
	}

	err = l.window.CreateChecked(
		X.RootWin(),
		0, 0, l.width, l.height,
		xproto.CwBackPixel|xproto.CwOverrideRedirect|xproto.CwEventMask,
		l.screen.BlackPixel,
		1, // Override redirect
		uint32(xproto.EventMaskKeyPress|
			xproto.EventMaskExposure|
			xproto.EventMaskVisibilityChange|
			xproto.EventMaskStructureNotify),
	)
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	wmName := "frostlock"
	xproto.ChangeProperty(X.Conn(), xproto.PropModeReplace, l.window.Id,
		xproto.AtomWmName, xproto.AtomString, 8, uint32(len(wmName)), []byte(wmName))

	// Root size changes arrive as ConfigureNotify on the root window
	if err := xwindow.New(X, X.RootWin()).Listen(xproto.EventMaskStructureNotify); err != nil {
		Warn("Failed to watch root window for resolution changes: %v", err)
	}

	Info("X11 initialization completed successfully")
	return nil
}

// initCompositor builds the rendering pipeline. A failing render context
// disables blur but leaves locking intact.
func (l *X11Locker) initCompositor() error {
	indicator, err := NewIndicatorRenderer(l)
	if err != nil {
		return err
	}

	l.compositor = NewCompositor(indicator, l, nil, l, l)
	l.compositor.LiveCapture = l.config.LiveCapture
	l.compositor.Resolution = image.Pt(l.width, l.height)
	l.compositor.Monitors = detectMonitors(l.X.Conn(), l.X.RootWin())

	if c, err := ParseHexColor(l.config.BackgroundColor); err == nil {
		l.compositor.BackgroundColor = c
	} else {
		Warn("%v, using black", err)
	}

	if l.config.ImagePath != "" {
		img, err := LoadBackgroundImage(l.config.ImagePath)
		if err != nil {
			Warn("Failed to load background image: %v", err)
		} else {
			l.compositor.Background = img
		}
	}

	if l.config.LiveCapture {
		if err := l.takeSnapshot(); err != nil {
			Warn("Failed to capture screen, capturing live instead: %v", err)
		}
		l.initBlur()
	}
	return nil
}

func (l *X11Locker) initBlur() {
	screenNum := l.X.Conn().DefaultScreen

	driver, err := NewGLXDriver(screenNum)
	if err != nil {
		Warn("Blur disabled, GL is unavailable: %v", err)
		return
	}

	rc := NewRenderContext(driver)
	rc.DrawableDepth = int(l.screen.RootDepth)
	if err := rc.Init(screenNum, l.width, l.height); err != nil {
		var shaderErr *ShaderError
		switch {
		case errors.Is(err, ErrMissingExtension):
			Warn("Blur disabled, texture from pixmap is not supported: %v", err)
		case errors.As(err, &shaderErr):
			Warn("Blur disabled, post-processing shader did not build: %v", err)
		default:
			Warn("Blur disabled: %v", err)
		}
		driver.Close()
		return
	}

	l.driver = driver
	l.render = rc
	l.compositor.SetPostProcessor(NewBlurPostProcessor(rc, l.config.Blur))
}

// Lock implements the screen locking functionality
func (l *X11Locker) Lock() error {
	Info("Starting lock procedure")
	if err := l.helper.CheckUserPermissions(); err != nil {
		return err
	}
	if err := l.helper.EnsureSingleInstance(); err != nil {
		return err
	}
	defer l.helper.Close()

	if err := l.helper.RunPreLockCommand(); err != nil {
		// Locking goes ahead regardless
		Warn("Pre-lock command error: %v", err)
	}

	if err := l.Init(); err != nil {
		if l.X != nil {
			l.X.Conn().Close()
		}
		return err
	}
	defer l.cleanup()

	if err := l.initCompositor(); err != nil {
		return err
	}
	l.input = NewPasswordInput(l.compositor, l.helper, l.lockout)

	// The first frame has to be ready before the window shows up, otherwise
	// the live capture would contain the lock window itself
	if err := l.compositor.RedrawUnlockIndicator(); err != nil {
		return fmt.Errorf("failed to draw lock screen: %w", err)
	}

	l.window.Map()
	xproto.ConfigureWindow(l.X.Conn(), l.window.Id, xproto.ConfigWindowStackMode,
		[]uint32{xproto.StackModeAbove})

	xfixes.HideCursor(l.X.Conn(), l.X.RootWin())

	if err := l.grabInput(); err != nil {
		l.compositor.State.Auth = AuthLockFailed
		if rerr := l.compositor.RedrawUnlockIndicator(); rerr != nil {
			Error("Failed to redraw after grab failure: %v", rerr)
		}
		return err
	}

	if err := l.helper.PauseMediaIfEnabled(); err != nil {
		Warn("Failed to pause media: %v", err)
	}

	l.connectEvents()
	stopTicker := l.startLockoutTicker()
	defer stopTicker()

	Info("Screen lock activated, entering event loop")
	xevent.Main(l.X)

	if l.result == InputUnlocked {
		Info("Screen unlocked")
		if err := l.helper.UnpauseMediaIfEnabled(); err != nil {
			Warn("Failed to resume media: %v", err)
		}
	}
	return nil
}

// grabInput grabs keyboard and pointer so no other client sees input
func (l *X11Locker) grabInput() error {
	conn := l.X.Conn()

	kb, err := xproto.GrabKeyboard(conn, true, l.window.Id, xproto.TimeCurrentTime,
		xproto.GrabModeAsync, xproto.GrabModeAsync).Reply()
	if err != nil {
		return fmt.Errorf("failed to grab keyboard: %w", err)
	}
	if kb.Status != xproto.GrabStatusSuccess {
		return fmt.Errorf("failed to grab keyboard: status %d", kb.Status)
	}

	ptr, err := xproto.GrabPointer(conn, true, l.window.Id,
		xproto.EventMaskButtonPress|xproto.EventMaskButtonRelease|xproto.EventMaskPointerMotion,
		xproto.GrabModeAsync, xproto.GrabModeAsync,
		l.window.Id, xproto.CursorNone, xproto.TimeCurrentTime).Reply()
	if err != nil {
		return fmt.Errorf("failed to grab pointer: %w", err)
	}
	if ptr.Status != xproto.GrabStatusSuccess {
		return fmt.Errorf("failed to grab pointer: status %d", ptr.Status)
	}

	Debug("Keyboard and pointer grabbed")
	return nil
}

func (l *X11Locker) connectEvents() {
	xevent.KeyPressFun(func(X *xgbutil.XUtil, e xevent.KeyPressEvent) {
		key := l.translateKey(e.Detail, e.State)
		if res := l.input.HandleKey(key); res != InputContinue {
			l.result = res
			xevent.Quit(X)
		}
	}).Connect(l.X, l.window.Id)

	xevent.ExposeFun(func(X *xgbutil.XUtil, e xevent.ExposeEvent) {
		if e.Count != 0 {
			return
		}
		if err := l.compositor.RedrawScreen(); err != nil {
			Error("Failed to redraw after expose: %v", err)
		}
	}).Connect(l.X, l.window.Id)

	// Other windows may pop up above the lock window
	xevent.VisibilityNotifyFun(func(X *xgbutil.XUtil, e xevent.VisibilityNotifyEvent) {
		if e.State != xproto.VisibilityUnobscured {
			xproto.ConfigureWindow(X.Conn(), l.window.Id, xproto.ConfigWindowStackMode,
				[]uint32{xproto.StackModeAbove})
		}
	}).Connect(l.X, l.window.Id)

	xevent.ConfigureNotifyFun(func(X *xgbutil.XUtil, e xevent.ConfigureNotifyEvent) {
		l.handleResize(int(e.Width), int(e.Height))
	}).Connect(l.X, l.X.RootWin())

	xevent.ClientMessageFun(func(X *xgbutil.XUtil, e xevent.ClientMessageEvent) {
		if l.tickAtom != 0 && e.Type == l.tickAtom {
			l.input.RefreshLockout()
		}
	}).Connect(l.X, l.window.Id)
}

// startLockoutTicker sends the lock window a client message every second so
// the lockout countdown is redrawn from the event loop, which owns the GL
// context. The returned func stops the ticker.
func (l *X11Locker) startLockoutTicker() func() {
	atom, err := xprop.Atm(l.X, "_FROSTLOCK_TICK")
	if err != nil {
		Warn("Lockout countdown disabled, failed to intern atom: %v", err)
		return func() {}
	}
	l.tickAtom = atom

	msg := xproto.ClientMessageEvent{
		Format: 32,
		Window: l.window.Id,
		Type:   atom,
		Data:   xproto.ClientMessageDataUnionData32New(make([]uint32, 5)),
	}
	event := string(msg.Bytes())
	conn := l.X.Conn()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				xproto.SendEvent(conn, false, l.window.Id, 0, event)
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// translateKey resolves a key code with the current modifier state
func (l *X11Locker) translateKey(code xproto.Keycode, state uint16) KeyInput {
	sym := resolveKeysym(
		uint32(keybind.KeysymGet(l.X, code, 0)),
		uint32(keybind.KeysymGet(l.X, code, 1)),
		state&xproto.ModMaskShift != 0,
		state&xproto.ModMaskLock != 0,
	)
	Debug("Key press: keycode=%d keysym=0x%x", code, sym)

	ctrl := state&xproto.ModMaskControl != 0
	return classifyKey(sym, ctrl, l.config.DebugExit)
}

// handleResize follows a root window size change
func (l *X11Locker) handleResize(width, height int) {
	if width == l.width && height == l.height {
		return
	}
	Info("Screen resized from %dx%d to %dx%d", l.width, l.height, width, height)

	l.width, l.height = width, height
	l.compositor.Resolution = image.Pt(width, height)

	xproto.ConfigureWindow(l.X.Conn(), l.window.Id,
		xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
		[]uint32{uint32(width), uint32(height)})

	if l.render != nil {
		if err := l.render.Resize(width, height); err != nil {
			Error("Failed to resize render buffers, blur disabled: %v", err)
		}
	}

	l.compositor.InvalidateForResize()
	l.compositor.Monitors = detectMonitors(l.X.Conn(), l.X.RootWin())

	if err := l.compositor.RedrawUnlockIndicator(); err != nil {
		Error("Failed to redraw after resize: %v", err)
	}
}

// cleanup releases resources when unlocking
func (l *X11Locker) cleanup() {
	Info("Cleaning up resources")

	if l.render != nil {
		l.render.Deinit()
		l.render = nil
	}
	if l.driver != nil {
		l.driver.Close()
		l.driver = nil
	}

	conn := l.X.Conn()
	xproto.UngrabKeyboard(conn, xproto.TimeCurrentTime)
	xproto.UngrabPointer(conn, xproto.TimeCurrentTime)
	xfixes.ShowCursor(conn, l.X.RootWin())

	if l.window != nil {
		l.window.Destroy()
	}
	if l.background != nil {
		l.background.Destroy()
		l.background = nil
	}
	l.releaseSnapshot()
	conn.Close()

	if err := l.helper.RunPostLockCommand(); err != nil {
		Warn("Post-lock command error: %v", err)
	}
}
