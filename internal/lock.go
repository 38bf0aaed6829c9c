package internal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/msteinert/pam"
	"golang.org/x/sys/unix"
)

// NewPamAuthenticator creates a PAM authenticator for the current user
func NewPamAuthenticator(config Configuration) *PamAuthenticator {
	username := os.Getenv("USER")
	if currentUser, err := user.Current(); err == nil {
		username = currentUser.Username
	}
	if username == "" {
		username = "nobody"
	}

	return &PamAuthenticator{
		serviceName: config.PamService,
		username:    username,
	}
}

// Authenticate attempts to authenticate with the given password
func (a *PamAuthenticator) Authenticate(password string) AuthResult {
	conv := func(style pam.Style, msg string) (string, error) {
		switch style {
		case pam.PromptEchoOff:
			return password, nil
		case pam.PromptEchoOn:
			// Username is already known to the transaction
			return "", nil
		case pam.ErrorMsg:
			Info("PAM error: %s", msg)
			return "", nil
		case pam.TextInfo:
			Info("PAM info: %s", msg)
			return "", nil
		default:
			return "", errors.New("unexpected conversation style")
		}
	}

	t, err := pam.StartFunc(a.serviceName, a.username, conv)
	if err != nil {
		return AuthResult{Message: fmt.Sprintf("Failed to start PAM transaction: %v", err)}
	}

	if err := t.Authenticate(0); err != nil {
		return AuthResult{Message: fmt.Sprintf("Authentication failed: %v", err)}
	}

	if err := t.AcctMgmt(0); err != nil {
		return AuthResult{Message: fmt.Sprintf("Account validation failed: %v", err)}
	}

	return AuthResult{Success: true, Message: "Authentication successful"}
}

// LockHelper bundles the side jobs around a lock session: authentication,
// the single instance lock, hook commands and media control
type LockHelper struct {
	authenticator Authenticator
	config        Configuration
	mediaCtrl     *MediaController
	lockFile      *os.File
}

// NewLockHelper creates a new helper instance with the given configuration
func NewLockHelper(config Configuration) *LockHelper {
	var mediaCtrl *MediaController
	if config.LockPauseMedia || config.UnlockUnpauseMedia {
		Debug("Media control is enabled, initializing media controller")
		var err error
		mediaCtrl, err = NewMediaController()
		if err != nil {
			// Locking goes ahead without media control
			Error("Failed to initialize media controller: %v", err)
		}
	}

	return &LockHelper{
		authenticator: NewPamAuthenticator(config),
		config:        config,
		mediaCtrl:     mediaCtrl,
	}
}

// Authenticate checks password with the configured authenticator
func (h *LockHelper) Authenticate(password string) AuthResult {
	return h.authenticator.Authenticate(password)
}

// lockFilePath prefers the per-user runtime directory
func lockFilePath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "frostlock.lock")
}

// EnsureSingleInstance takes an exclusive lock on the lock file. The file
// stays open until ReleaseSingleInstance.
func (h *LockHelper) EnsureSingleInstance() error {
	path := lockFilePath()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return errors.New("another instance of frostlock is already running")
		}
		return fmt.Errorf("failed to lock %s: %w", path, err)
	}

	Debug("Holding instance lock %s", path)
	h.lockFile = file
	return nil
}

// ReleaseSingleInstance drops the instance lock
func (h *LockHelper) ReleaseSingleInstance() {
	if h.lockFile == nil {
		return
	}
	unix.Flock(int(h.lockFile.Fd()), unix.LOCK_UN)
	h.lockFile.Close()
	h.lockFile = nil
}

// CheckUserPermissions refuses to run as root
func (h *LockHelper) CheckUserPermissions() error {
	if os.Geteuid() == 0 {
		return errors.New("frostlock should not be run as root")
	}
	return nil
}

// RunPreLockCommand runs the configured pre-lock command (if any)
func (h *LockHelper) RunPreLockCommand() error {
	if h.config.PreLockCommand == "" {
		return nil
	}
	Debug("Running pre-lock command: %s", h.config.PreLockCommand)
	return runShellCommand(h.config.PreLockCommand)
}

// RunPostLockCommand runs the configured post-lock command (if any)
func (h *LockHelper) RunPostLockCommand() error {
	if h.config.PostLockCommand == "" {
		return nil
	}
	Debug("Running post-lock command: %s", h.config.PostLockCommand)
	return runShellCommand(h.config.PostLockCommand)
}

// runShellCommand executes a shell command string
func runShellCommand(cmd string) error {
	out, err := exec.Command("sh", "-c", strings.TrimSpace(cmd)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %q failed: %w: %s", cmd, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// PauseMediaIfEnabled pauses all media if enabled in config
func (h *LockHelper) PauseMediaIfEnabled() error {
	if !h.config.LockPauseMedia || h.mediaCtrl == nil {
		return nil
	}
	Debug("Pausing all media players")
	return h.mediaCtrl.PauseAllMedia()
}

// UnpauseMediaIfEnabled resumes the players paused on lock if enabled in config
func (h *LockHelper) UnpauseMediaIfEnabled() error {
	if !h.config.UnlockUnpauseMedia || h.mediaCtrl == nil {
		return nil
	}
	Debug("Unpausing media players")
	return h.mediaCtrl.UnpauseAllMedia()
}

// Close releases the instance lock and the media controller
func (h *LockHelper) Close() {
	h.ReleaseSingleInstance()
	if h.mediaCtrl != nil {
		h.mediaCtrl.Close()
	}
}

// NewSecurePassword creates a new secure password container
func NewSecurePassword() *SecurePassword {
	return &SecurePassword{
		data: make([]byte, 0, 64),
	}
}

// Append adds bytes to the password
func (p *SecurePassword) Append(b ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.data)+len(b) > cap(p.data) {
		// Grow by hand so the old backing array can be wiped
		grown := make([]byte, len(p.data), 2*cap(p.data)+len(b))
		copy(grown, p.data)
		wipe(p.data)
		p.data = grown
	}
	p.data = append(p.data, b...)
}

// RemoveLast removes the last rune from the password and reports whether
// anything was removed
func (p *SecurePassword) RemoveLast() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.data) == 0 {
		return false
	}
	// Step back over UTF-8 continuation bytes
	n := len(p.data) - 1
	for n > 0 && p.data[n]&0xc0 == 0x80 {
		n--
	}
	wipe(p.data[n:])
	p.data = p.data[:n]
	return true
}

// Clear wipes the password data
func (p *SecurePassword) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	wipe(p.data)
	p.data = p.data[:0]
}

// String returns the password as a string (use carefully)
func (p *SecurePassword) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.data)
}

// Length returns the password length in bytes
func (p *SecurePassword) Length() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
