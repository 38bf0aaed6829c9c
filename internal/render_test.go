package internal

import (
	"errors"
	"testing"
)

func TestRenderContextInit(t *testing.T) {
	d := newFakeDriver()
	rc := NewRenderContext(d)

	if err := rc.Init(0, 1920, 1080); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !rc.Initialized() {
		t.Fatal("expected context to be initialized")
	}
	if w, h := rc.BufferSize(); w != 1920 || h != 1080 {
		t.Errorf("buffer size = %dx%d, want 1920x1080", w, h)
	}
	if got := d.ownedPixmaps(); got != 2 {
		t.Errorf("owned pixmaps = %d, want 2", got)
	}
	if len(d.glx) != 2 {
		t.Errorf("glx pixmaps = %d, want 2", len(d.glx))
	}
	if d.current != rc.buffers.slots[0].glx {
		t.Error("slot 0 should be current after Init")
	}
	if len(d.programs) != 1 {
		t.Errorf("programs = %d, want 1", len(d.programs))
	}
}

func TestRenderContextInitIsIdempotent(t *testing.T) {
	d := newFakeDriver()
	rc := NewRenderContext(d)

	if err := rc.Init(0, 640, 480); err != nil {
		t.Fatalf("Init: %v", err)
	}
	program := rc.program
	if err := rc.Init(0, 800, 600); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	if d.chooseCall != 1 {
		t.Errorf("ChooseFBConfig called %d times, want 1", d.chooseCall)
	}
	if w, h := rc.BufferSize(); w != 640 || h != 480 {
		t.Errorf("second Init changed buffers to %dx%d", w, h)
	}
	if rc.program != program {
		t.Error("second Init rebuilt the program")
	}
}

func TestRenderContextDeinit(t *testing.T) {
	d := newFakeDriver()
	rc := NewRenderContext(d)

	if err := rc.Init(0, 320, 200); err != nil {
		t.Fatalf("Init: %v", err)
	}
	rc.Deinit()

	if rc.Initialized() {
		t.Error("still initialized after Deinit")
	}
	if leaks := d.leaks(); len(leaks) > 0 {
		t.Errorf("leaked after Deinit: %v", leaks)
	}

	// Second Deinit must not touch the driver; the fake panics on double free
	rc.Deinit()

	// Context can be brought back up
	if err := rc.Init(0, 320, 200); err != nil {
		t.Fatalf("Init after Deinit: %v", err)
	}
	rc.Deinit()
	if leaks := d.leaks(); len(leaks) > 0 {
		t.Errorf("leaked after second cycle: %v", leaks)
	}
}

func TestRenderContextResize(t *testing.T) {
	d := newFakeDriver()
	rc := NewRenderContext(d)

	if err := rc.Init(0, 1024, 768); err != nil {
		t.Fatalf("Init: %v", err)
	}
	old := rc.buffers.slots
	program := rc.program

	if err := rc.Resize(2560, 1440); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	if w, h := rc.BufferSize(); w != 2560 || h != 1440 {
		t.Errorf("buffer size = %dx%d, want 2560x1440", w, h)
	}
	for i, slot := range old {
		if _, ok := d.pixmaps[slot.pixmap]; ok {
			t.Errorf("old pixmap %d still allocated", i)
		}
		if _, ok := d.glx[slot.glx]; ok {
			t.Errorf("old glx pixmap %d still allocated", i)
		}
	}
	for i, slot := range rc.buffers.slots {
		if got := d.pixmaps[slot.pixmap]; got != (size{2560, 1440}) {
			t.Errorf("slot %d pixmap is %dx%d", i, got.w, got.h)
		}
	}
	if rc.program != program {
		t.Error("Resize rebuilt the program")
	}
	if d.current != rc.buffers.slots[0].glx {
		t.Error("slot 0 should be current after Resize")
	}
}

func TestRenderContextResizeUninitialized(t *testing.T) {
	d := newFakeDriver()
	rc := NewRenderContext(d)

	if err := rc.Resize(100, 100); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if d.pixmapCalls != 0 {
		t.Error("Resize on an uninitialized context allocated pixmaps")
	}
}

func TestRenderContextResizeFailure(t *testing.T) {
	d := newFakeDriver()
	rc := NewRenderContext(d)

	if err := rc.Init(0, 100, 100); err != nil {
		t.Fatalf("Init: %v", err)
	}
	d.failPixmapAt = d.pixmapCalls + 2

	if err := rc.Resize(200, 200); err == nil {
		t.Fatal("expected Resize to fail")
	}
	if rc.Initialized() {
		t.Error("context should drop to uninitialized when buffers cannot be replaced")
	}
	if leaks := d.leaks(); len(leaks) > 0 {
		t.Errorf("leaked after failed Resize: %v", leaks)
	}
}

func TestRenderContextInitFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeDriver)
		check func(*testing.T, error)
	}{
		{
			name:  "missing bind entry point",
			setup: func(d *fakeDriver) { d.missingProc = procBindTexImage },
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMissingExtension) {
					t.Errorf("err = %v, want ErrMissingExtension", err)
				}
				var ext *ExtensionError
				if !errors.As(err, &ext) || ext.Proc != procBindTexImage {
					t.Errorf("err = %v, want ExtensionError for %s", err, procBindTexImage)
				}
			},
		},
		{
			name:  "missing release entry point",
			setup: func(d *fakeDriver) { d.missingProc = procReleaseTexImage },
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMissingExtension) {
					t.Errorf("err = %v, want ErrMissingExtension", err)
				}
			},
		},
		{
			name:  "second pixmap fails",
			setup: func(d *fakeDriver) { d.failPixmapAt = 2 },
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Error("expected an error")
				}
			},
		},
		{
			name:  "vertex shader fails",
			setup: func(d *fakeDriver) { d.failStage = "vertex" },
			check: func(t *testing.T, err error) {
				var se *ShaderError
				if !errors.As(err, &se) || se.Stage != "vertex" {
					t.Errorf("err = %v, want vertex ShaderError", err)
				}
			},
		},
		{
			name:  "fragment shader fails",
			setup: func(d *fakeDriver) { d.failStage = "fragment" },
			check: func(t *testing.T, err error) {
				var se *ShaderError
				if !errors.As(err, &se) || se.Stage != "fragment" {
					t.Errorf("err = %v, want fragment ShaderError", err)
				}
			},
		},
		{
			name:  "link fails",
			setup: func(d *fakeDriver) { d.failStage = "link" },
			check: func(t *testing.T, err error) {
				var se *ShaderError
				if !errors.As(err, &se) || se.Stage != "link" {
					t.Errorf("err = %v, want link ShaderError", err)
				}
				if errors.Is(err, ErrMissingExtension) {
					t.Error("shader errors must not look like a missing extension")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver()
			tt.setup(d)
			rc := NewRenderContext(d)

			err := rc.Init(0, 800, 600)
			tt.check(t, err)

			if rc.Initialized() {
				t.Error("context initialized despite failure")
			}
			if leaks := d.leaks(); len(leaks) > 0 {
				t.Errorf("leaked after failed Init: %v", leaks)
			}
		})
	}
}

func TestRenderContextPassesDrawableDepth(t *testing.T) {
	tests := []struct {
		depth int
		want  int
	}{
		{depth: 0, want: 24},
		{depth: 24, want: 24},
		{depth: 32, want: 32},
	}

	for _, tt := range tests {
		d := newFakeDriver()
		rc := NewRenderContext(d)
		rc.DrawableDepth = tt.depth
		if err := rc.Init(0, 16, 16); err != nil {
			t.Fatalf("depth %d: Init: %v", tt.depth, err)
		}
		if d.chosenDepth != tt.depth {
			t.Errorf("depth %d: driver asked for depth %d", tt.depth, d.chosenDepth)
		}
		if rc.config.Depth != tt.want {
			t.Errorf("depth %d: config depth = %d, want %d", tt.depth, rc.config.Depth, tt.want)
		}
		rc.Deinit()
	}
}
