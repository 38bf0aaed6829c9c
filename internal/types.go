package internal

import (
	"context"
	"image"
	"sync"
)

// ScreenRegion is the geometry of one monitor in root window coordinates
type ScreenRegion struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Rect returns the region as an image rectangle
func (r ScreenRegion) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// AuthState tracks the progress of password verification
type AuthState int

const (
	AuthIdle AuthState = iota
	AuthVerify
	AuthLock
	AuthWrong
	AuthLockFailed
)

func (s AuthState) String() string {
	switch s {
	case AuthIdle:
		return "idle"
	case AuthVerify:
		return "verify"
	case AuthLock:
		return "lock"
	case AuthWrong:
		return "wrong"
	case AuthLockFailed:
		return "lock-failed"
	}
	return "unknown"
}

// UnlockState tracks raw keyboard activity. The order matters: the
// indicator compares states with < and >=.
type UnlockState int

const (
	UnlockStarted UnlockState = iota
	UnlockKeyPressed
	UnlockKeyActive
	UnlockBackspaceActive
	UnlockNothingToDelete
)

func (s UnlockState) String() string {
	switch s {
	case UnlockStarted:
		return "started"
	case UnlockKeyPressed:
		return "key-pressed"
	case UnlockKeyActive:
		return "key-active"
	case UnlockBackspaceActive:
		return "backspace-active"
	case UnlockNothingToDelete:
		return "nothing-to-delete"
	}
	return "unknown"
}

// LockState is everything the indicator derives its appearance from
type LockState struct {
	Auth          AuthState
	Unlock        UnlockState
	InputPosition int // number of password characters currently entered
}

// Drawable is a server-side X drawable (window or pixmap) id
type Drawable uint32

// BlurConfig configures the post-processing pipeline. Radius and Sigma are
// accepted but the shader does not consume them yet.
type BlurConfig struct {
	Iterations int     `json:"iterations"`
	Radius     int     `json:"radius"`
	Sigma      float64 `json:"sigma"`
}

// Configuration holds the application settings
type Configuration struct {
	// Static background image shown when live capture is off
	ImagePath string `json:"image"`

	// Background color (hex, with or without leading #) painted under the image
	BackgroundColor string `json:"background_color"`

	// Use a blurred capture of the current screen instead of the static image
	LiveCapture bool `json:"live_capture"`

	// Post-processing settings for live capture
	Blur BlurConfig `json:"blur"`

	// Whether to lock the screen immediately on startup
	LockScreen bool `json:"lock_screen"`

	// Idle timeout in seconds before auto-locking
	IdleTimeout int `json:"idle_timeout"`

	// PAM service name to use for authentication
	PamService string `json:"pam_service"`

	// Enable debug exit with ESC or Q key
	DebugExit bool `json:"debug_exit"`

	// Command to run before locking the screen
	PreLockCommand string `json:"pre_lock_command"`

	// Command to run after unlocking the screen
	PostLockCommand string `json:"post_lock_command"`

	// Pause MPRIS players when locking
	LockPauseMedia bool `json:"lock_pause_media"`

	// Resume MPRIS players after unlocking
	UnlockUnpauseMedia bool `json:"unlock_unpause_media"`
}

// ScreenLocker interface defines methods that any screen locker should implement
type ScreenLocker interface {
	// Lock immediately locks the screen
	Lock() error

	// StartIdleMonitor locks after the idle timeout, until ctx is cancelled
	StartIdleMonitor(ctx context.Context) error
}

// AuthResult represents the result of an authentication attempt
type AuthResult struct {
	Success bool
	Message string
}

// Authenticator verifies a password
type Authenticator interface {
	Authenticate(password string) AuthResult
}

// PamAuthenticator handles PAM-based user authentication
type PamAuthenticator struct {
	serviceName string
	username    string
}

// SecurePassword holds the typed password and wipes it on removal
type SecurePassword struct {
	mu   sync.Mutex
	data []byte
}
