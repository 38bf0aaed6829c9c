package internal

// BlurPostProcessor runs the shader program over a drawable using the
// render context's buffer pair as ping-pong targets
type BlurPostProcessor struct {
	rc     *RenderContext
	config BlurConfig
}

// NewBlurPostProcessor creates a post processor bound to rc
func NewBlurPostProcessor(rc *RenderContext, config BlurConfig) *BlurPostProcessor {
	if config.Iterations < 1 {
		config.Iterations = defaultBlurIterations
	}
	if config.Radius != 0 || config.Sigma != 0 {
		Debug("Blur radius %d and sigma %.2f are not used by the current shader", config.Radius, config.Sigma)
	}
	return &BlurPostProcessor{rc: rc, config: config}
}

// Iterations returns the number of shader passes per Apply
func (b *BlurPostProcessor) Iterations() int {
	return b.config.Iterations
}

// Apply replaces the contents of d with the processed image. d keeps its
// size. Slot 0 of the buffer pair is rebound to d on every call, so callers
// must not hold on to it. Does nothing when the render context is not
// initialized.
func (b *BlurPostProcessor) Apply(d Drawable, width, height int) {
	rc := b.rc
	if rc == nil || !rc.initialized || rc.buffers == nil {
		return
	}

	driver := rc.driver
	slots := &rc.buffers.slots
	input := Pixmap(d)

	// Rebind slot 0 to the caller's drawable
	driver.DestroyGLXPixmap(slots[0].glx)
	glx, err := driver.CreateGLXPixmap(rc.config, input)
	if err != nil {
		Error("Failed to bind drawable 0x%x for post-processing: %v", uint32(d), err)
		// Put slot 0 back on its own pixmap so the pair stays complete
		restored, err := driver.CreateGLXPixmap(rc.config, slots[0].pixmap)
		if err != nil {
			Error("Failed to restore render buffer 0, disabling post-processing: %v", err)
			rc.discardBrokenPair()
			return
		}
		slots[0].glx = restored
		slots[0].backing = slots[0].pixmap
		return
	}
	slots[0].glx = glx
	slots[0].backing = input

	source, target := 0, 1
	for i := 0; i < b.config.Iterations; i++ {
		if i > 0 {
			source, target = target, source
		}

		if err := driver.MakeCurrent(slots[target].glx, rc.ctx); err != nil {
			Error("Failed to make render buffer %d current: %v", target, err)
			return
		}

		driver.BindTexImage(rc.bindTexImage, slots[source].glx)
		driver.DrawQuad(rc.program, width, height)
		driver.ReleaseTexImage(rc.releaseTexImage, slots[source].glx)
	}

	// An even number of passes leaves the result in slot 0, which already
	// wraps the caller's drawable
	if slots[target].backing != input {
		if err := driver.CopyArea(slots[target].backing, input, width, height); err != nil {
			Error("Failed to copy processed image back: %v", err)
		}
	}

	if err := driver.Finish(); err != nil {
		Error("Post-processing failed: %v", err)
	}
}
