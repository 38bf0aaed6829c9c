package internal

import (
	"fmt"
	"time"
)

const (
	maxFailedAttempts    = 3
	lockoutStep          = 30 * time.Second
	maxLockoutDuration   = 10 * time.Minute
	debugLockoutDuration = 5 * time.Second
)

// LockoutManager handles authentication failures and lockout periods
type LockoutManager struct {
	failedAttempts int       // failures since the last lockout
	lockouts       int       // lockouts since the last successful unlock
	lockoutUntil   time.Time // input is ignored until then
	lockoutActive  bool
	debug          bool

	now func() time.Time
}

// NewLockoutManager creates a new lockout manager with the given configuration
func NewLockoutManager(config Configuration) *LockoutManager {
	return &LockoutManager{
		debug: config.DebugExit,
		now:   time.Now,
	}
}

// HandleFailedAttempt records a failed authentication.
// Returns: lockoutActive (bool), lockoutDuration (time.Duration), remainingAttempts (int)
func (lm *LockoutManager) HandleFailedAttempt() (bool, time.Duration, int) {
	lm.failedAttempts++
	Info("Authentication failed (%d/%d attempts)", lm.failedAttempts, maxFailedAttempts)

	if lm.failedAttempts < maxFailedAttempts {
		return false, 0, maxFailedAttempts - lm.failedAttempts
	}

	lm.lockouts++
	duration := lm.lockoutDuration()
	lm.lockoutUntil = lm.now().Add(duration)
	lm.lockoutActive = true
	lm.failedAttempts = 0

	Info("Failed %d attempts, locking out for %v", maxFailedAttempts, duration)
	return true, duration, 0
}

// lockoutDuration grows by one step per lockout, capped
func (lm *LockoutManager) lockoutDuration() time.Duration {
	if lm.debug {
		return debugLockoutDuration
	}
	d := lockoutStep * time.Duration(lm.lockouts)
	if d > maxLockoutDuration {
		d = maxLockoutDuration
	}
	return d
}

// IsLockedOut checks if authentication is currently locked out
func (lm *LockoutManager) IsLockedOut() bool {
	if !lm.lockoutActive {
		return false
	}
	if lm.now().Before(lm.lockoutUntil) {
		return true
	}

	Info("Lockout period has expired, clearing lockout state")
	lm.lockoutActive = false
	return false
}

// GetRemainingTime returns how much time is left in the lockout
func (lm *LockoutManager) GetRemainingTime() time.Duration {
	if !lm.lockoutActive {
		return 0
	}

	remaining := lm.lockoutUntil.Sub(lm.now())
	if remaining <= 0 {
		lm.lockoutActive = false
		return 0
	}
	return remaining
}

// FormatRemainingTime returns the remaining lockout time as mm:ss
func (lm *LockoutManager) FormatRemainingTime() string {
	remaining := lm.GetRemainingTime().Round(time.Second)
	minutes := int(remaining.Minutes())
	seconds := int(remaining.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ResetLockout clears all failure state after a successful authentication
func (lm *LockoutManager) ResetLockout() {
	lm.failedAttempts = 0
	lm.lockouts = 0
	lm.lockoutActive = false
}

// GetLockoutUntil returns the time when the lockout ends
func (lm *LockoutManager) GetLockoutUntil() time.Time {
	return lm.lockoutUntil
}
