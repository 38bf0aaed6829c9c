package internal

import "unicode"

// KeyAction is what a key press means to the password prompt
type KeyAction int

const (
	KeyIgnore KeyAction = iota
	KeyChar
	KeyBackspace
	KeyClear
	KeySubmit
	KeyDebugExit
)

// KeyInput is a key press already resolved against the keyboard mapping
type KeyInput struct {
	Action KeyAction
	Text   string // set for KeyChar
}

// InputResult tells the event loop what to do after a key press
type InputResult int

const (
	InputContinue InputResult = iota
	InputUnlocked
	InputExit
)

// PasswordInput is the password state machine. It owns the typed password
// and drives the compositor's lock state.
type PasswordInput struct {
	password   *SecurePassword
	compositor *Compositor
	auth       Authenticator
	lockout    *LockoutManager

	lockoutShown bool
}

// NewPasswordInput creates the state machine for one lock session
func NewPasswordInput(compositor *Compositor, auth Authenticator, lockout *LockoutManager) *PasswordInput {
	return &PasswordInput{
		password:   NewSecurePassword(),
		compositor: compositor,
		auth:       auth,
		lockout:    lockout,
	}
}

// HandleKey applies one key press
func (p *PasswordInput) HandleKey(key KeyInput) InputResult {
	if key.Action == KeyDebugExit {
		Info("Debug exit triggered")
		p.password.Clear()
		return InputExit
	}

	if p.lockout.IsLockedOut() {
		Debug("Ignoring input during lockout (%s left)", p.lockout.FormatRemainingTime())
		p.RefreshLockout()
		return InputContinue
	}

	state := &p.compositor.State

	switch key.Action {
	case KeyChar:
		p.password.Append([]byte(key.Text)...)
		state.InputPosition++
		state.Unlock = UnlockKeyActive
		if state.Auth == AuthWrong || state.Auth == AuthLockFailed {
			state.Auth = AuthIdle
		}
		p.redraw()

	case KeyBackspace:
		if p.password.RemoveLast() {
			state.InputPosition--
			state.Unlock = UnlockBackspaceActive
		} else {
			state.Unlock = UnlockNothingToDelete
		}
		p.redraw()

	case KeyClear:
		p.clear()

	case KeySubmit:
		return p.submit()
	}

	return InputContinue
}

func (p *PasswordInput) submit() InputResult {
	state := &p.compositor.State
	state.Auth = AuthVerify
	state.Unlock = UnlockKeyPressed
	p.redraw()

	Info("Attempting authentication with password of length: %d", state.InputPosition)
	result := p.auth.Authenticate(p.password.String())
	Info("Authentication result: success=%v, message=%s", result.Success, result.Message)

	if result.Success {
		p.password.Clear()
		state.InputPosition = 0
		state.Auth = AuthIdle
		p.lockout.ResetLockout()
		return InputUnlocked
	}

	state.Auth = AuthWrong
	locked, duration, _ := p.lockout.HandleFailedAttempt()
	if locked {
		Info("Input locked out for %v", duration)
	}
	p.clear()
	if locked {
		p.RefreshLockout()
	}
	return InputContinue
}

// RefreshLockout updates the countdown shown during a lockout and removes it
// once the lockout has expired. The event loop calls it once a second.
func (p *PasswordInput) RefreshLockout() {
	if p.lockout.IsLockedOut() {
		p.lockoutShown = true
		p.compositor.SetNotice(
			"TOO MANY FAILED PASSWORD ATTEMPTS",
			"LOCKED OUT FOR: "+p.lockout.FormatRemainingTime(),
		)
		p.redraw()
		return
	}

	if p.lockoutShown {
		Info("Lockout expired, accepting input again")
		p.lockoutShown = false
		p.compositor.SetNotice()
		p.redraw()
	}
}

// clear wipes the password and hides the indicator
func (p *PasswordInput) clear() {
	p.password.Clear()
	p.compositor.State.InputPosition = 0
	if err := p.compositor.ClearIndicator(); err != nil {
		Error("Failed to redraw indicator: %v", err)
	}
}

func (p *PasswordInput) redraw() {
	if err := p.compositor.RedrawUnlockIndicator(); err != nil {
		Error("Failed to redraw indicator: %v", err)
	}
}

// Len returns the number of bytes typed so far
func (p *PasswordInput) Len() int {
	return p.password.Length()
}

// Keysym values the prompt cares about
const (
	keysymBackSpace = 0xff08
	keysymReturn    = 0xff0d
	keysymEscape    = 0xff1b
	keysymKPEnter   = 0xff8d
)

// keysymRune maps a keysym to the character it produces, or 0 if it does not
// produce one
func keysymRune(sym uint32) rune {
	var r rune
	switch {
	case sym >= 0x20 && sym <= 0x7e, sym >= 0xa0 && sym <= 0xff:
		// Latin-1 keysyms equal their code points
		r = rune(sym)
	case sym >= 0x01000100 && sym <= 0x0110ffff:
		// Directly encoded Unicode keysyms
		r = rune(sym - 0x01000000)
	default:
		return 0
	}
	if !unicode.IsPrint(r) {
		return 0
	}
	return r
}

// resolveKeysym picks the keysym for a key from the first two columns of its
// mapping. Caps Lock only changes letters. A key with a single letter keysym
// has its case derived from that letter.
func resolveKeysym(lower, upper uint32, shift, lock bool) uint32 {
	if upper == 0 {
		upper = lower
		if r := keysymRune(lower); r != 0 && unicode.IsLetter(r) {
			lower = runeKeysym(unicode.ToLower(r))
			upper = runeKeysym(unicode.ToUpper(r))
		}
	}

	switch {
	case shift && lock:
		return toUpperKeysym(upper)
	case shift:
		return upper
	case lock:
		return toUpperKeysym(lower)
	}
	return lower
}

func toUpperKeysym(sym uint32) uint32 {
	if r := keysymRune(sym); r != 0 && unicode.IsLower(r) {
		return runeKeysym(unicode.ToUpper(r))
	}
	return sym
}

// runeKeysym is the inverse of keysymRune
func runeKeysym(r rune) uint32 {
	if r <= 0xff {
		return uint32(r)
	}
	return 0x01000000 + uint32(r)
}

// classifyKey turns a keysym plus modifier state into a prompt action
func classifyKey(sym uint32, ctrl, debugExit bool) KeyInput {
	if debugExit && (sym == keysymEscape || sym == 'q' || sym == 'Q') {
		return KeyInput{Action: KeyDebugExit}
	}

	switch sym {
	case keysymReturn, keysymKPEnter:
		return KeyInput{Action: KeySubmit}
	case keysymBackSpace:
		return KeyInput{Action: KeyBackspace}
	case keysymEscape:
		return KeyInput{Action: KeyClear}
	}

	if ctrl {
		if sym == 'u' || sym == 'U' {
			return KeyInput{Action: KeyClear}
		}
		return KeyInput{Action: KeyIgnore}
	}

	if r := keysymRune(sym); r != 0 {
		return KeyInput{Action: KeyChar, Text: string(r)}
	}
	return KeyInput{Action: KeyIgnore}
}
