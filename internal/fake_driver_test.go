package internal

import (
	"errors"
	"fmt"
)

type size struct{ w, h int }

type drawPass struct {
	target GLXPixmap
	source GLXPixmap
	w, h   int
}

type copyOp struct {
	src, dst Pixmap
	w, h     int
}

// fakeDriver tracks every resource it hands out so tests can check that
// the render context releases what it acquires
type fakeDriver struct {
	nextID uint64

	configs     map[uintptr]bool
	contexts    map[GLContext]bool
	pixmaps     map[Pixmap]size
	external    map[Pixmap]bool
	glx         map[GLXPixmap]Pixmap
	shaders     map[uint32]bool
	programs    map[uint32]bool
	attached    map[uint32]map[uint32]bool
	current     GLXPixmap
	bound       GLXPixmap
	chooseCall  int
	chosenDepth int

	missingProc   string
	failStage     string // "vertex", "fragment" or "link"
	failPixmapAt  int    // 1-based CreatePixmap call to fail, 0 = never
	pixmapCalls   int
	failBindFor   Pixmap
	failOwnBind   bool // fail binds of pixmaps the render context allocated
	unpairedBinds int

	passes   []drawPass
	copies   []copyOp
	finished int
	closed   bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		nextID:   0x100,
		configs:  map[uintptr]bool{},
		contexts: map[GLContext]bool{},
		pixmaps:  map[Pixmap]size{},
		external: map[Pixmap]bool{},
		glx:      map[GLXPixmap]Pixmap{},
		shaders:  map[uint32]bool{},
		programs: map[uint32]bool{},
		attached: map[uint32]map[uint32]bool{},
	}
}

func (f *fakeDriver) id() uint64 {
	f.nextID++
	return f.nextID
}

// addExternal creates a pixmap owned by someone other than the render context
func (f *fakeDriver) addExternal(w, h int) Pixmap {
	p := Pixmap(f.id())
	f.pixmaps[p] = size{w, h}
	f.external[p] = true
	return p
}

// ownedPixmaps counts live pixmaps the render context is responsible for
func (f *fakeDriver) ownedPixmaps() int {
	n := 0
	for p := range f.pixmaps {
		if !f.external[p] {
			n++
		}
	}
	return n
}

func (f *fakeDriver) leaks() []string {
	var out []string
	if len(f.configs) > 0 {
		out = append(out, fmt.Sprintf("%d configs", len(f.configs)))
	}
	if len(f.contexts) > 0 {
		out = append(out, fmt.Sprintf("%d contexts", len(f.contexts)))
	}
	if n := f.ownedPixmaps(); n > 0 {
		out = append(out, fmt.Sprintf("%d pixmaps", n))
	}
	if len(f.glx) > 0 {
		out = append(out, fmt.Sprintf("%d glx pixmaps", len(f.glx)))
	}
	if len(f.shaders) > 0 {
		out = append(out, fmt.Sprintf("%d shaders", len(f.shaders)))
	}
	if len(f.programs) > 0 {
		out = append(out, fmt.Sprintf("%d programs", len(f.programs)))
	}
	return out
}

func (f *fakeDriver) ChooseFBConfig(screen, depth int) (FBConfig, error) {
	f.chooseCall++
	f.chosenDepth = depth
	if depth == 0 {
		depth = 24
	}
	h := uintptr(f.id())
	f.configs[h] = true
	return FBConfig{List: h, Handle: h, Visual: h + 1, Depth: depth}, nil
}

func (f *fakeDriver) FreeFBConfig(cfg FBConfig) {
	if !f.configs[cfg.List] {
		panic("double free of fb config")
	}
	delete(f.configs, cfg.List)
}

func (f *fakeDriver) CreateContext(cfg FBConfig) (GLContext, error) {
	ctx := GLContext(f.id())
	f.contexts[ctx] = true
	return ctx, nil
}

func (f *fakeDriver) DestroyContext(ctx GLContext) {
	if !f.contexts[ctx] {
		panic("double destroy of context")
	}
	delete(f.contexts, ctx)
}

func (f *fakeDriver) ProcAddress(name string) uintptr {
	if name == f.missingProc {
		return 0
	}
	return uintptr(len(name))
}

func (f *fakeDriver) CreatePixmap(cfg FBConfig, width, height int) (Pixmap, error) {
	f.pixmapCalls++
	if f.failPixmapAt != 0 && f.pixmapCalls == f.failPixmapAt {
		return 0, errors.New("out of pixmaps")
	}
	p := Pixmap(f.id())
	f.pixmaps[p] = size{width, height}
	return p, nil
}

func (f *fakeDriver) FreePixmap(p Pixmap) {
	if _, ok := f.pixmaps[p]; !ok {
		panic(fmt.Sprintf("free of unknown pixmap 0x%x", uint64(p)))
	}
	delete(f.pixmaps, p)
}

func (f *fakeDriver) CreateGLXPixmap(cfg FBConfig, p Pixmap) (GLXPixmap, error) {
	if p == f.failBindFor || (f.failOwnBind && !f.external[p]) {
		return 0, errors.New("bad drawable")
	}
	if _, ok := f.pixmaps[p]; !ok {
		return 0, fmt.Errorf("unknown pixmap 0x%x", uint64(p))
	}
	g := GLXPixmap(f.id())
	f.glx[g] = p
	return g, nil
}

func (f *fakeDriver) DestroyGLXPixmap(g GLXPixmap) {
	if _, ok := f.glx[g]; !ok {
		panic(fmt.Sprintf("destroy of unknown glx pixmap 0x%x", uint64(g)))
	}
	delete(f.glx, g)
}

func (f *fakeDriver) MakeCurrent(g GLXPixmap, ctx GLContext) error {
	if _, ok := f.glx[g]; !ok {
		return errors.New("bad drawable")
	}
	f.current = g
	return nil
}

func (f *fakeDriver) CompileShader(stage ShaderStage, source string) (uint32, error) {
	if f.failStage == stage.String() {
		return 0, &ShaderError{Stage: stage.String(), Log: "syntax error"}
	}
	s := uint32(f.id())
	f.shaders[s] = true
	return s, nil
}

func (f *fakeDriver) LinkProgram(vertex, fragment uint32) (uint32, error) {
	if f.failStage == "link" {
		return 0, &ShaderError{Stage: "link", Log: "varying mismatch"}
	}
	p := uint32(f.id())
	f.programs[p] = true
	f.attached[p] = map[uint32]bool{vertex: true, fragment: true}
	return p, nil
}

func (f *fakeDriver) DetachShader(program, shader uint32) {
	if !f.attached[program][shader] {
		panic("detach of shader that is not attached")
	}
	delete(f.attached[program], shader)
}

func (f *fakeDriver) DeleteShader(shader uint32) {
	if !f.shaders[shader] {
		panic("double delete of shader")
	}
	delete(f.shaders, shader)
}

func (f *fakeDriver) DeleteProgram(program uint32) {
	if !f.programs[program] {
		panic("double delete of program")
	}
	delete(f.programs, program)
	delete(f.attached, program)
}

func (f *fakeDriver) BindTexImage(proc uintptr, g GLXPixmap) {
	if f.bound != 0 {
		f.unpairedBinds++
	}
	f.bound = g
}

func (f *fakeDriver) ReleaseTexImage(proc uintptr, g GLXPixmap) {
	if f.bound != g {
		f.unpairedBinds++
	}
	f.bound = 0
}

func (f *fakeDriver) DrawQuad(program uint32, width, height int) {
	f.passes = append(f.passes, drawPass{target: f.current, source: f.bound, w: width, h: height})
}

func (f *fakeDriver) CopyArea(src, dst Pixmap, width, height int) error {
	if _, ok := f.pixmaps[src]; !ok {
		return errors.New("bad source")
	}
	if _, ok := f.pixmaps[dst]; !ok {
		return errors.New("bad destination")
	}
	f.copies = append(f.copies, copyOp{src: src, dst: dst, w: width, h: height})
	return nil
}

func (f *fakeDriver) Finish() error {
	f.finished++
	return nil
}

func (f *fakeDriver) Close() {
	f.closed = true
}
