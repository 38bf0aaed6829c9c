package internal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/screensaver"
	"github.com/BurntSushi/xgb/xproto"
)

// IdleWatcher polls the user idle time and starts a lock session once it
// passes the timeout
type IdleWatcher struct {
	timeout  time.Duration
	interval time.Duration

	// idleTime reports the time since the last user input
	idleTime func() (time.Duration, error)
	// lock runs a lock session and returns when it ends
	lock func() error
}

// Run watches until ctx is cancelled
func (w *IdleWatcher) Run(ctx context.Context) error {
	Info("Idle watcher started, timeout: %v", w.timeout)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			Info("Idle watcher stopped")
			return nil
		case <-ticker.C:
		}

		idle, err := w.idleTime()
		if err != nil {
			Error("Error querying idle time: %v", err)
			continue
		}
		Debug("Current idle time: %v", idle)

		if idle < w.timeout {
			continue
		}

		Info("Idle timeout reached (%v), locking screen", idle)
		if err := w.lock(); err != nil {
			Error("Lock session failed: %v", err)
		}
	}
}

// screensaverIdleTime queries the idle counter of the screensaver extension
func screensaverIdleTime(conn *xgb.Conn, root xproto.Window) func() (time.Duration, error) {
	return func() (time.Duration, error) {
		info, err := screensaver.QueryInfo(conn, xproto.Drawable(root)).Reply()
		if err != nil {
			return 0, err
		}
		return time.Duration(info.MsSinceUserInput) * time.Millisecond, nil
	}
}

// lockInChild runs this binary with --lock in a separate process so the lock
// session gets a fresh X connection and GL context
func lockInChild(configPath string) func() error {
	return func() error {
		args := []string{"--lock"}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		if DebugEnabled() {
			args = append(args, "-log")
		}

		cmd := exec.Command(os.Args[0], args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		Debug("Starting lock process: %v", cmd.Args)
		return cmd.Run()
	}
}

// StartIdleMonitor locks the screen whenever the user has been idle for the
// configured timeout. It blocks until ctx is cancelled.
func (l *X11Locker) StartIdleMonitor(ctx context.Context) error {
	Info("Starting idle monitor")
	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer conn.Close()

	if err := screensaver.Init(conn); err != nil {
		return fmt.Errorf("failed to initialize screensaver extension: %w", err)
	}

	root := xproto.Setup(conn).DefaultScreen(conn).Root
	l.idleWatcher = &IdleWatcher{
		timeout:  time.Duration(l.config.IdleTimeout) * time.Second,
		interval: time.Second,
		idleTime: screensaverIdleTime(conn, root),
		lock:     lockInChild(l.configPath),
	}

	return l.idleWatcher.Run(ctx)
}
