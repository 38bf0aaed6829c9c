package internal

import (
	"errors"
	"fmt"
)

// ErrMissingExtension is returned by RenderContext.Init when the driver cannot
// resolve the texture-from-pixmap entry points. Blur is unusable without them.
var ErrMissingExtension = errors.New("required GLX extension entry point not available")

// ExtensionError names the entry point that could not be resolved
type ExtensionError struct {
	Proc string
}

func (e *ExtensionError) Error() string {
	return fmt.Sprintf("failed to load extension %s", e.Proc)
}

func (e *ExtensionError) Unwrap() error { return ErrMissingExtension }

// ShaderError reports a failed compile or link of the post-processing program
type ShaderError struct {
	Stage string // "vertex", "fragment" or "link"
	Log   string
}

func (e *ShaderError) Error() string {
	if e.Log == "" {
		return fmt.Sprintf("%s shader failed", e.Stage)
	}
	return fmt.Sprintf("%s shader failed: %s", e.Stage, e.Log)
}

// ShaderStage selects the kind of shader object to compile
type ShaderStage int

const (
	VertexShader ShaderStage = iota
	FragmentShader
)

func (s ShaderStage) String() string {
	if s == VertexShader {
		return "vertex"
	}
	return "fragment"
}

// FBConfig is a framebuffer configuration chosen by the driver, together
// with the visual derived from it
type FBConfig struct {
	List   uintptr // allocation returned by the driver, Handle points into it
	Handle uintptr
	Visual uintptr
	Depth  int
}

// GLContext is a driver rendering context handle
type GLContext uintptr

// Pixmap is an X pixmap id as seen by the driver
type Pixmap uint64

// GLXPixmap is a GLX drawable wrapping an X pixmap
type GLXPixmap uint64

// Driver is the set of window-system and GL primitives the render context
// needs. The production implementation is glxDriver.
type Driver interface {
	// ChooseFBConfig picks a config whose visual has the given depth, any
	// depth when it is 0
	ChooseFBConfig(screen, depth int) (FBConfig, error)
	FreeFBConfig(cfg FBConfig)
	CreateContext(cfg FBConfig) (GLContext, error)
	DestroyContext(ctx GLContext)
	ProcAddress(name string) uintptr

	CreatePixmap(cfg FBConfig, width, height int) (Pixmap, error)
	FreePixmap(p Pixmap)
	CreateGLXPixmap(cfg FBConfig, p Pixmap) (GLXPixmap, error)
	DestroyGLXPixmap(g GLXPixmap)
	MakeCurrent(g GLXPixmap, ctx GLContext) error

	CompileShader(stage ShaderStage, source string) (uint32, error)
	LinkProgram(vertex, fragment uint32) (uint32, error)
	DetachShader(program, shader uint32)
	DeleteShader(shader uint32)
	DeleteProgram(program uint32)

	BindTexImage(proc uintptr, g GLXPixmap)
	ReleaseTexImage(proc uintptr, g GLXPixmap)
	DrawQuad(program uint32, width, height int)
	CopyArea(src, dst Pixmap, width, height int) error
	// Finish blocks until rendering and copies are visible to other
	// connections and reports any asynchronous error
	Finish() error

	// Close releases the driver's own display connection
	Close()
}

const (
	procBindTexImage    = "glXBindTexImageEXT"
	procReleaseTexImage = "glXReleaseTexImageEXT"
)

const vertexShaderSource = `
varying vec2 v_Coordinates;

void main(void) {
    gl_Position = ftransform();
    v_Coordinates = vec2(gl_MultiTexCoord0);
}
`

const fragmentShaderSource = `
#version 120

varying vec2 v_Coordinates;
uniform sampler2D u_Texture0;

void main() {
    gl_FragColor = texture2D(u_Texture0, v_Coordinates) * vec4(0.9, 0.9, 0.9, 1.0);
}
`

// renderBuffer is one half of the double buffer. pixmap is owned by the
// render context; backing is what glx currently wraps, which for slot 0 is
// the caller's drawable after a post-process call.
type renderBuffer struct {
	pixmap  Pixmap
	backing Pixmap
	glx     GLXPixmap
}

// bufferPair is allocated and released as a unit
type bufferPair struct {
	slots  [2]renderBuffer
	width  int
	height int
}

// RenderContext owns the off-screen GL state used for post-processing
type RenderContext struct {
	driver Driver

	// DrawableDepth is the depth of the drawables handed to post-processing.
	// The framebuffer config must match it; 0 accepts any.
	DrawableDepth int

	initialized bool
	screen      int
	config      FBConfig
	ctx         GLContext
	buffers     *bufferPair

	bindTexImage    uintptr
	releaseTexImage uintptr

	program        uint32
	vertexShader   uint32
	fragmentShader uint32
}

// NewRenderContext creates an uninitialized render context on top of driver
func NewRenderContext(driver Driver) *RenderContext {
	return &RenderContext{driver: driver}
}

// Initialized reports whether Init has completed and Deinit has not been called
func (r *RenderContext) Initialized() bool {
	return r.initialized
}

// BufferSize returns the dimensions of the current buffer pair
func (r *RenderContext) BufferSize() (int, int) {
	if r.buffers == nil {
		return 0, 0
	}
	return r.buffers.width, r.buffers.height
}

// Init sets up the GL context, the buffer pair and the shader program.
// Calling it again while initialized does nothing. On failure everything
// acquired so far is released and the context stays uninitialized.
func (r *RenderContext) Init(screen, width, height int) (err error) {
	if r.initialized {
		return nil
	}

	Debug("Initializing render context on screen %d at %dx%d", screen, width, height)
	r.screen = screen

	defer func() {
		if err != nil {
			r.release()
		}
	}()

	r.config, err = r.driver.ChooseFBConfig(screen, r.DrawableDepth)
	if err != nil {
		return fmt.Errorf("failed to choose framebuffer config: %w", err)
	}

	r.ctx, err = r.driver.CreateContext(r.config)
	if err != nil {
		return fmt.Errorf("failed to create GL context: %w", err)
	}

	if r.bindTexImage = r.driver.ProcAddress(procBindTexImage); r.bindTexImage == 0 {
		return &ExtensionError{Proc: procBindTexImage}
	}
	if r.releaseTexImage = r.driver.ProcAddress(procReleaseTexImage); r.releaseTexImage == 0 {
		return &ExtensionError{Proc: procReleaseTexImage}
	}

	if r.buffers, err = r.allocBuffers(width, height); err != nil {
		return err
	}

	if err := r.driver.MakeCurrent(r.buffers.slots[0].glx, r.ctx); err != nil {
		return fmt.Errorf("failed to make GL context current: %w", err)
	}

	if err := r.buildProgram(); err != nil {
		return err
	}

	r.initialized = true
	Info("Render context initialized (%dx%d, depth %d)", width, height, r.config.Depth)
	return nil
}

func (r *RenderContext) buildProgram() error {
	var err error

	r.vertexShader, err = r.driver.CompileShader(VertexShader, vertexShaderSource)
	if err != nil {
		return err
	}

	r.fragmentShader, err = r.driver.CompileShader(FragmentShader, fragmentShaderSource)
	if err != nil {
		return err
	}

	r.program, err = r.driver.LinkProgram(r.vertexShader, r.fragmentShader)
	return err
}

// Resize replaces the buffer pair with one of the new size. The shader
// program is kept. Does nothing when uninitialized.
func (r *RenderContext) Resize(width, height int) error {
	if !r.initialized {
		return nil
	}

	Debug("Resizing render buffers to %dx%d", width, height)
	r.freeBuffers()

	buffers, err := r.allocBuffers(width, height)
	if err != nil {
		// Without a buffer pair the context is unusable, drop back to
		// uninitialized so post-processing turns into a no-op
		r.release()
		r.initialized = false
		return err
	}
	r.buffers = buffers

	if err := r.driver.MakeCurrent(r.buffers.slots[0].glx, r.ctx); err != nil {
		return fmt.Errorf("failed to make GL context current: %w", err)
	}
	return nil
}

// Deinit releases every GL and X resource. Does nothing when uninitialized.
func (r *RenderContext) Deinit() {
	if !r.initialized {
		return
	}

	Debug("Tearing down render context")
	r.release()
	r.initialized = false
}

// release tears down whatever is currently held, in reverse order of
// acquisition. It is shared by Deinit and the Init failure path.
func (r *RenderContext) release() {
	r.freeBuffers()

	if r.program != 0 {
		if r.vertexShader != 0 {
			r.driver.DetachShader(r.program, r.vertexShader)
		}
		if r.fragmentShader != 0 {
			r.driver.DetachShader(r.program, r.fragmentShader)
		}
	}
	if r.vertexShader != 0 {
		r.driver.DeleteShader(r.vertexShader)
		r.vertexShader = 0
	}
	if r.fragmentShader != 0 {
		r.driver.DeleteShader(r.fragmentShader)
		r.fragmentShader = 0
	}
	if r.program != 0 {
		r.driver.DeleteProgram(r.program)
		r.program = 0
	}

	if r.ctx != 0 {
		r.driver.DestroyContext(r.ctx)
		r.ctx = 0
	}
	if r.config != (FBConfig{}) {
		r.driver.FreeFBConfig(r.config)
		r.config = FBConfig{}
	}

	r.bindTexImage = 0
	r.releaseTexImage = 0
}

func (r *RenderContext) allocBuffers(width, height int) (*bufferPair, error) {
	pair := &bufferPair{width: width, height: height}

	for i := range pair.slots {
		pixmap, err := r.driver.CreatePixmap(r.config, width, height)
		if err != nil {
			freePair(r.driver, pair, i)
			return nil, fmt.Errorf("failed to create render pixmap %d: %w", i, err)
		}

		glx, err := r.driver.CreateGLXPixmap(r.config, pixmap)
		if err != nil {
			r.driver.FreePixmap(pixmap)
			freePair(r.driver, pair, i)
			return nil, fmt.Errorf("failed to create GLX pixmap %d: %w", i, err)
		}

		pair.slots[i] = renderBuffer{pixmap: pixmap, backing: pixmap, glx: glx}
	}

	return pair, nil
}

func (r *RenderContext) freeBuffers() {
	if r.buffers == nil {
		return
	}
	freePair(r.driver, r.buffers, len(r.buffers.slots))
	r.buffers = nil
}

// discardBrokenPair tears the context down after slot 0 lost its GLX pixmap
// and could not get one back. The pair can no longer be freed as a unit.
func (r *RenderContext) discardBrokenPair() {
	pair := r.buffers
	r.buffers = nil
	if pair != nil {
		r.driver.FreePixmap(pair.slots[0].pixmap)
		r.driver.DestroyGLXPixmap(pair.slots[1].glx)
		r.driver.FreePixmap(pair.slots[1].pixmap)
	}
	r.release()
	r.initialized = false
}

// freePair releases the first n slots of pair
func freePair(driver Driver, pair *bufferPair, n int) {
	for i := 0; i < n; i++ {
		driver.DestroyGLXPixmap(pair.slots[i].glx)
		driver.FreePixmap(pair.slots[i].pixmap)
	}
}
