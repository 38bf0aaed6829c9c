package internal

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// GLX / GL enums used by the post-processing pipeline
const (
	glxBindToTextureRGBAExt    = 0x20D1
	glxDrawableType            = 0x8010
	glxPixmapBit               = 0x0002
	glxBindToTextureTargetsExt = 0x20D3
	glxTexture2DBitExt         = 0x0002
	glxDoubleBuffer            = 5
	glxYInvertedExt            = 0x20D4
	glxDontCare                = -1
	glxTextureTargetExt        = 0x20D6
	glxTexture2DExt            = 0x20DC
	glxTextureFormatExt        = 0x20D5
	glxTextureFormatRGBExt     = 0x20D9
	glxFrontExt                = 0x20DE

	glTexture2D        = 0x0DE1
	glTextureMinFilter = 0x2801
	glTextureMagFilter = 0x2800
	glLinear           = 0x2601
	glTextureEnv       = 0x2300
	glTextureEnvMode   = 0x2200
	glDecal            = 0x2101
	glColorBufferBit   = 0x4000
	glProjection       = 0x1701
	glModelview        = 0x1700
	glQuads            = 0x0007
	glVertexShader     = 0x8B31
	glFragmentShader   = 0x8B30
	glCompileStatus    = 0x8B81
	glLinkStatus       = 0x8B82
	glInfoLogLength    = 0x8B84
)

var fbConfigAttribs = []int32{
	glxBindToTextureRGBAExt, 1,
	glxDrawableType, glxPixmapBit,
	glxBindToTextureTargetsExt, glxTexture2DBitExt,
	glxDoubleBuffer, 0,
	glxYInvertedExt, glxDontCare,
	0,
}

var glxPixmapAttribs = []int32{
	glxTextureTargetExt, glxTexture2DExt,
	glxTextureFormatExt, glxTextureFormatRGBExt,
	0,
}

// xVisualInfo mirrors XVisualInfo from Xutil.h
type xVisualInfo struct {
	Visual       uintptr
	VisualID     uint64
	Screen       int32
	Depth        int32
	Class        int32
	RedMask      uint64
	GreenMask    uint64
	BlueMask     uint64
	ColormapSize int32
	BitsPerRGB   int32
}

// xErrorEvent mirrors XErrorEvent from Xlib.h
type xErrorEvent struct {
	Type        int32
	Display     uintptr
	ResourceID  uint64
	Serial      uint64
	ErrorCode   uint8
	RequestCode uint8
	MinorCode   uint8
}

// XlibError is a protocol error reported on the GLX driver's display
type XlibError struct {
	Code     uint8
	Request  uint8
	Minor    uint8
	Resource uint64
}

func (e *XlibError) Error() string {
	return fmt.Sprintf("X error %d (request %d.%d) on resource 0x%x", e.Code, e.Request, e.Minor, e.Resource)
}

// Xlib's default handler exits the process. Errors are recorded instead and
// picked up after the next round trip.
var xlibErrors struct {
	sync.Mutex
	first *XlibError
	count int
}

var installErrorHandler sync.Once

func recordXError(_ uintptr, ev *xErrorEvent) int32 {
	xlibErrors.Lock()
	defer xlibErrors.Unlock()
	xlibErrors.count++
	if xlibErrors.first == nil {
		xlibErrors.first = &XlibError{
			Code:     ev.ErrorCode,
			Request:  ev.RequestCode,
			Minor:    ev.MinorCode,
			Resource: ev.ResourceID,
		}
	}
	return 0
}

// takeXError returns the first error recorded since the last call, if any
func takeXError() error {
	xlibErrors.Lock()
	defer xlibErrors.Unlock()
	first, count := xlibErrors.first, xlibErrors.count
	xlibErrors.first, xlibErrors.count = nil, 0
	if first == nil {
		return nil
	}
	if count > 1 {
		Debug("%d X errors since last sync, reporting the first", count)
	}
	return first
}

// pickFBConfig returns the index of the first config whose visual depth is
// want, or of the first config with a visual when want is 0. Configs without
// a visual have depth -1. Returns -1 if nothing fits.
func pickFBConfig(depths []int, want int) int {
	for i, d := range depths {
		if d < 0 {
			continue
		}
		if want <= 0 || d == want {
			return i
		}
	}
	return -1
}

// glxDriver talks to libX11 and libGL, both loaded at runtime. It keeps its
// own Xlib display because GLX needs one; X resource ids are server-global so
// pixmaps created over the xgb connection can be wrapped here. All calls
// must come from the goroutine that owns the GL context, which has to be
// locked to its OS thread.
type glxDriver struct {
	display uintptr
	root    uint64
	screen  int32

	xOpenDisplay  func(name unsafe.Pointer) uintptr
	xCloseDisplay func(dpy uintptr) int32
	xRootWindow   func(dpy uintptr, screen int32) uint64
	xCreatePixmap func(dpy uintptr, d uint64, w, h, depth uint32) uint64
	xFreePixmap   func(dpy uintptr, p uint64) int32
	xCreateGC     func(dpy uintptr, d uint64, mask uint64, values unsafe.Pointer) uintptr
	xFreeGC       func(dpy uintptr, gc uintptr) int32
	xCopyArea     func(dpy uintptr, src, dst uint64, gc uintptr, srcX, srcY int32, w, h uint32, dstX, dstY int32) int32
	xFree         func(p uintptr) int32
	xSync         func(dpy uintptr, discard int32) int32

	xSetErrorHandler func(handler uintptr) uintptr

	glXChooseFBConfig        func(dpy uintptr, screen int32, attribs unsafe.Pointer, n unsafe.Pointer) *uintptr
	glXGetVisualFromFBConfig func(dpy, cfg uintptr) *xVisualInfo
	glXCreateContext         func(dpy, vis, share uintptr, direct int32) uintptr
	glXDestroyContext        func(dpy, ctx uintptr)
	glXGetProcAddress        func(name string) uintptr
	glXCreatePixmap          func(dpy, cfg uintptr, p uint64, attribs unsafe.Pointer) uint64
	glXDestroyPixmap         func(dpy uintptr, p uint64)
	glXMakeCurrent           func(dpy uintptr, d uint64, ctx uintptr) int32
	glXWaitGL                func()

	glEnable            func(cap uint32)
	glTexParameterf     func(target, pname uint32, param float32)
	glTexEnvf           func(target, pname uint32, param float32)
	glViewport          func(x, y, w, h int32)
	glClearColor        func(r, g, b, a float32)
	glClear             func(mask uint32)
	glMatrixMode        func(mode uint32)
	glLoadIdentity      func()
	glOrtho             func(left, right, bottom, top, near, far float64)
	glUseProgram        func(program uint32)
	glBegin             func(mode uint32)
	glEnd               func()
	glTexCoord2f        func(s, t float32)
	glVertex2f          func(x, y float32)
	glFlush             func()
	glCreateShader      func(kind uint32) uint32
	glShaderSource      func(shader uint32, count int32, strs unsafe.Pointer, lengths unsafe.Pointer)
	glCompileShader     func(shader uint32)
	glGetShaderiv       func(shader, pname uint32, out unsafe.Pointer)
	glGetShaderInfoLog  func(shader uint32, max int32, length unsafe.Pointer, log unsafe.Pointer)
	glCreateProgram     func() uint32
	glAttachShader      func(program, shader uint32)
	glLinkProgram       func(program uint32)
	glGetProgramiv      func(program, pname uint32, out unsafe.Pointer)
	glGetProgramInfoLog func(program uint32, max int32, length unsafe.Pointer, log unsafe.Pointer)
	glDetachShader      func(program, shader uint32)
	glDeleteShader      func(shader uint32)
	glDeleteProgram     func(program uint32)

	// texture-from-pixmap entry points, registered on first use
	bindTex    func(dpy uintptr, d uint64, buffer int32, attribs unsafe.Pointer)
	releaseTex func(dpy uintptr, d uint64, buffer int32)
	bindProc   uintptr
	relProc    uintptr
}

func dlopenFirst(names ...string) (uintptr, error) {
	var errs []error
	for _, name := range names {
		lib, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return lib, nil
		}
		errs = append(errs, err)
	}
	return 0, errors.Join(errs...)
}

// bindSymbols resolves every name in syms from lib. Looking the symbol up
// first keeps purego from panicking on a missing one.
func bindSymbols(lib uintptr, syms map[string]any) error {
	for name, fptr := range syms {
		sym, err := purego.Dlsym(lib, name)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", name, err)
		}
		purego.RegisterFunc(fptr, sym)
	}
	return nil
}

// NewGLXDriver loads libX11 and libGL and opens an Xlib display for screen
func NewGLXDriver(screen int) (Driver, error) {
	// GL contexts are bound to the OS thread that made them current
	runtime.LockOSThread()

	libX11, err := dlopenFirst("libX11.so.6", "libX11.so")
	if err != nil {
		return nil, fmt.Errorf("failed to load libX11: %w", err)
	}
	libGL, err := dlopenFirst("libGL.so.1", "libGL.so")
	if err != nil {
		return nil, fmt.Errorf("failed to load libGL: %w", err)
	}

	d := &glxDriver{screen: int32(screen)}

	if err := bindSymbols(libX11, map[string]any{
		"XOpenDisplay":  &d.xOpenDisplay,
		"XCloseDisplay": &d.xCloseDisplay,
		"XRootWindow":   &d.xRootWindow,
		"XCreatePixmap": &d.xCreatePixmap,
		"XFreePixmap":   &d.xFreePixmap,
		"XCreateGC":     &d.xCreateGC,
		"XFreeGC":       &d.xFreeGC,
		"XCopyArea":     &d.xCopyArea,
		"XFree":         &d.xFree,
		"XSync":         &d.xSync,

		"XSetErrorHandler": &d.xSetErrorHandler,
	}); err != nil {
		return nil, err
	}

	if err := bindSymbols(libGL, map[string]any{
		"glXChooseFBConfig":        &d.glXChooseFBConfig,
		"glXGetVisualFromFBConfig": &d.glXGetVisualFromFBConfig,
		"glXCreateContext":         &d.glXCreateContext,
		"glXDestroyContext":        &d.glXDestroyContext,
		"glXGetProcAddress":        &d.glXGetProcAddress,
		"glXCreatePixmap":          &d.glXCreatePixmap,
		"glXDestroyPixmap":         &d.glXDestroyPixmap,
		"glXMakeCurrent":           &d.glXMakeCurrent,
		"glXWaitGL":                &d.glXWaitGL,
		"glEnable":                 &d.glEnable,
		"glTexParameterf":          &d.glTexParameterf,
		"glTexEnvf":                &d.glTexEnvf,
		"glViewport":               &d.glViewport,
		"glClearColor":             &d.glClearColor,
		"glClear":                  &d.glClear,
		"glMatrixMode":             &d.glMatrixMode,
		"glLoadIdentity":           &d.glLoadIdentity,
		"glOrtho":                  &d.glOrtho,
		"glUseProgram":             &d.glUseProgram,
		"glBegin":                  &d.glBegin,
		"glEnd":                    &d.glEnd,
		"glTexCoord2f":             &d.glTexCoord2f,
		"glVertex2f":               &d.glVertex2f,
		"glFlush":                  &d.glFlush,
		"glCreateShader":           &d.glCreateShader,
		"glShaderSource":           &d.glShaderSource,
		"glCompileShader":          &d.glCompileShader,
		"glGetShaderiv":            &d.glGetShaderiv,
		"glGetShaderInfoLog":       &d.glGetShaderInfoLog,
		"glCreateProgram":          &d.glCreateProgram,
		"glAttachShader":           &d.glAttachShader,
		"glLinkProgram":            &d.glLinkProgram,
		"glGetProgramiv":           &d.glGetProgramiv,
		"glGetProgramInfoLog":      &d.glGetProgramInfoLog,
		"glDetachShader":           &d.glDetachShader,
		"glDeleteShader":           &d.glDeleteShader,
		"glDeleteProgram":          &d.glDeleteProgram,
	}); err != nil {
		return nil, err
	}

	installErrorHandler.Do(func() {
		// purego callbacks only exist on these
		if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
			Warn("Cannot install an X error handler on %s, X errors will abort", runtime.GOARCH)
			return
		}
		d.xSetErrorHandler(purego.NewCallback(recordXError))
	})

	d.display = d.xOpenDisplay(nil)
	if d.display == 0 {
		return nil, errors.New("failed to open Xlib display")
	}
	d.root = d.xRootWindow(d.display, d.screen)

	Debug("GLX driver ready (display %#x, root 0x%x)", d.display, d.root)
	return d, nil
}

// Close releases the Xlib display. The render context must be torn down first.
func (d *glxDriver) Close() {
	if d.display != 0 {
		d.xCloseDisplay(d.display)
		d.display = 0
	}
}

func (d *glxDriver) ChooseFBConfig(screen, depth int) (FBConfig, error) {
	var count int32
	list := d.glXChooseFBConfig(d.display, int32(screen), unsafe.Pointer(&fbConfigAttribs[0]), unsafe.Pointer(&count))
	if list == nil || count == 0 {
		return FBConfig{}, errors.New("no framebuffer config can bind pixmaps to RGBA textures")
	}
	Debug("glXChooseFBConfig returned %d configs", count)

	configs := unsafe.Slice(list, count)
	visuals := make([]*xVisualInfo, len(configs))
	depths := make([]int, len(configs))
	for i, cfg := range configs {
		visuals[i] = d.glXGetVisualFromFBConfig(d.display, cfg)
		depths[i] = -1
		if visuals[i] != nil {
			depths[i] = int(visuals[i].Depth)
		}
	}

	idx := pickFBConfig(depths, depth)
	for i, vis := range visuals {
		if vis != nil && i != idx {
			d.xFree(uintptr(unsafe.Pointer(vis)))
		}
	}
	if idx < 0 {
		d.xFree(uintptr(unsafe.Pointer(list)))
		return FBConfig{}, fmt.Errorf("no framebuffer config with a depth %d visual", depth)
	}

	return FBConfig{
		List:   uintptr(unsafe.Pointer(list)),
		Handle: configs[idx],
		Visual: uintptr(unsafe.Pointer(visuals[idx])),
		Depth:  depths[idx],
	}, nil
}

func (d *glxDriver) FreeFBConfig(cfg FBConfig) {
	if cfg.Visual != 0 {
		d.xFree(cfg.Visual)
	}
	if cfg.List != 0 {
		d.xFree(cfg.List)
	}
}

func (d *glxDriver) CreateContext(cfg FBConfig) (GLContext, error) {
	ctx := d.glXCreateContext(d.display, cfg.Visual, 0, 1)
	if ctx == 0 {
		return 0, errors.New("glXCreateContext failed")
	}
	return GLContext(ctx), nil
}

func (d *glxDriver) DestroyContext(ctx GLContext) {
	d.glXMakeCurrent(d.display, 0, 0)
	d.glXDestroyContext(d.display, uintptr(ctx))
}

func (d *glxDriver) ProcAddress(name string) uintptr {
	return d.glXGetProcAddress(name)
}

func (d *glxDriver) CreatePixmap(cfg FBConfig, width, height int) (Pixmap, error) {
	p := d.xCreatePixmap(d.display, d.root, uint32(width), uint32(height), uint32(cfg.Depth))
	if p == 0 {
		return 0, fmt.Errorf("XCreatePixmap %dx%d failed", width, height)
	}
	return Pixmap(p), nil
}

func (d *glxDriver) FreePixmap(p Pixmap) {
	d.xFreePixmap(d.display, uint64(p))
}

// CreateGLXPixmap round-trips so a mismatched pixmap is reported here
// rather than on some later request
func (d *glxDriver) CreateGLXPixmap(cfg FBConfig, p Pixmap) (GLXPixmap, error) {
	if err := takeXError(); err != nil {
		Debug("Dropping stale X error: %v", err)
	}

	g := d.glXCreatePixmap(d.display, cfg.Handle, uint64(p), unsafe.Pointer(&glxPixmapAttribs[0]))
	if g == 0 {
		return 0, fmt.Errorf("glXCreatePixmap for pixmap 0x%x failed", uint64(p))
	}

	d.xSync(d.display, 0)
	if err := takeXError(); err != nil {
		d.glXDestroyPixmap(d.display, g)
		d.xSync(d.display, 0)
		takeXError()
		return 0, fmt.Errorf("glXCreatePixmap for pixmap 0x%x failed: %w", uint64(p), err)
	}
	return GLXPixmap(g), nil
}

func (d *glxDriver) DestroyGLXPixmap(g GLXPixmap) {
	d.glXDestroyPixmap(d.display, uint64(g))
}

func (d *glxDriver) MakeCurrent(g GLXPixmap, ctx GLContext) error {
	if d.glXMakeCurrent(d.display, uint64(g), uintptr(ctx)) == 0 {
		return fmt.Errorf("glXMakeCurrent on 0x%x failed", uint64(g))
	}
	return nil
}

func (d *glxDriver) CompileShader(stage ShaderStage, source string) (uint32, error) {
	kind := uint32(glVertexShader)
	if stage == FragmentShader {
		kind = glFragmentShader
	}

	shader := d.glCreateShader(kind)
	src := append([]byte(source), 0)
	p := &src[0]
	d.glShaderSource(shader, 1, unsafe.Pointer(&p), nil)
	d.glCompileShader(shader)
	runtime.KeepAlive(src)

	var status int32
	d.glGetShaderiv(shader, glCompileStatus, unsafe.Pointer(&status))
	if status == 0 {
		log := d.infoLog(shader, d.glGetShaderiv, d.glGetShaderInfoLog)
		d.glDeleteShader(shader)
		return 0, &ShaderError{Stage: stage.String(), Log: log}
	}
	return shader, nil
}

func (d *glxDriver) LinkProgram(vertex, fragment uint32) (uint32, error) {
	program := d.glCreateProgram()
	d.glAttachShader(program, vertex)
	d.glAttachShader(program, fragment)
	d.glLinkProgram(program)

	var status int32
	d.glGetProgramiv(program, glLinkStatus, unsafe.Pointer(&status))
	if status == 0 {
		log := d.infoLog(program, d.glGetProgramiv, d.glGetProgramInfoLog)
		d.glDetachShader(program, vertex)
		d.glDetachShader(program, fragment)
		d.glDeleteProgram(program)
		return 0, &ShaderError{Stage: "link", Log: log}
	}
	return program, nil
}

func (d *glxDriver) infoLog(obj uint32,
	getiv func(uint32, uint32, unsafe.Pointer),
	getLog func(uint32, int32, unsafe.Pointer, unsafe.Pointer)) string {
	var length int32
	getiv(obj, glInfoLogLength, unsafe.Pointer(&length))
	if length <= 1 {
		return ""
	}
	buf := make([]byte, length)
	getLog(obj, length, nil, unsafe.Pointer(&buf[0]))
	return string(buf[:length-1])
}

func (d *glxDriver) DetachShader(program, shader uint32) { d.glDetachShader(program, shader) }
func (d *glxDriver) DeleteShader(shader uint32)          { d.glDeleteShader(shader) }
func (d *glxDriver) DeleteProgram(program uint32)        { d.glDeleteProgram(program) }

func (d *glxDriver) BindTexImage(proc uintptr, g GLXPixmap) {
	if d.bindProc != proc {
		purego.RegisterFunc(&d.bindTex, proc)
		d.bindProc = proc
	}
	d.glEnable(glTexture2D)
	d.bindTex(d.display, uint64(g), glxFrontExt, nil)
}

func (d *glxDriver) ReleaseTexImage(proc uintptr, g GLXPixmap) {
	if d.relProc != proc {
		purego.RegisterFunc(&d.releaseTex, proc)
		d.relProc = proc
	}
	d.releaseTex(d.display, uint64(g), glxFrontExt)
}

// DrawQuad draws one textured quad covering the [-1,1] clip volume with the
// currently bound texture
func (d *glxDriver) DrawQuad(program uint32, width, height int) {
	d.glTexParameterf(glTexture2D, glTextureMinFilter, glLinear)
	d.glTexParameterf(glTexture2D, glTextureMagFilter, glLinear)
	d.glTexEnvf(glTextureEnv, glTextureEnvMode, glDecal)

	d.glViewport(0, 0, int32(width), int32(height))
	d.glClearColor(0, 0, 0, 1)
	d.glClear(glColorBufferBit)

	d.glMatrixMode(glProjection)
	d.glLoadIdentity()
	d.glOrtho(-1, 1, -1, 1, -1, 1)

	d.glMatrixMode(glModelview)
	d.glLoadIdentity()

	d.glUseProgram(program)

	d.glBegin(glQuads)
	d.glTexCoord2f(0, 0)
	d.glVertex2f(-1, 1)
	d.glTexCoord2f(1, 0)
	d.glVertex2f(1, 1)
	d.glTexCoord2f(1, 1)
	d.glVertex2f(1, -1)
	d.glTexCoord2f(0, 1)
	d.glVertex2f(-1, -1)
	d.glEnd()

	d.glFlush()
}

func (d *glxDriver) CopyArea(src, dst Pixmap, width, height int) error {
	// GL rendering into src has to land before the X copy reads it
	d.glXWaitGL()

	gc := d.xCreateGC(d.display, uint64(dst), 0, nil)
	if gc == 0 {
		return errors.New("XCreateGC failed")
	}
	d.xCopyArea(d.display, uint64(src), uint64(dst), gc, 0, 0, uint32(width), uint32(height), 0, 0)
	d.xFreeGC(d.display, gc)
	return nil
}

// Finish waits for GL and round-trips the Xlib display, since the result is
// read back over a different connection. Errors raised by the passes and the
// copy surface here.
func (d *glxDriver) Finish() error {
	d.glXWaitGL()
	d.xSync(d.display, 0)
	return takeXError()
}
