package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/tuxx/frostlock/internal"
)

func init() {
	// X and GL calls of the lock session must stay on one OS thread
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("c", "", "Path to configuration file")
	flag.StringVar(configPath, "config", "", "Path to configuration file")

	lockScreen := flag.Bool("l", false, "Lock the screen immediately")
	flag.BoolVar(lockScreen, "lock", false, "Lock the screen immediately")

	imagePath := flag.String("i", "", "Show this image instead of a blurred screenshot")
	flag.StringVar(imagePath, "image", "", "Show this image instead of a blurred screenshot")

	debugExit := flag.Bool("debug-exit", false, "Enable exit with ESC or Q key (for debugging)")
	debugMode := flag.Bool("log", false, "Enable debug logging")
	generateConfig := flag.Bool("generate-config", false, "Write the default configuration file and exit")

	flag.Parse()

	if *debugMode {
		internal.InitLogger(internal.LevelDebug, true)
		internal.Debug("Debug logging enabled")
	} else {
		internal.InitLogger(internal.LevelError, false)
	}

	if *generateConfig {
		path, err := internal.GenerateDefaultConfigFile()
		if err != nil {
			internal.Fatal("Failed to generate config: %v", err)
		}
		fmt.Println(path)
		return
	}

	config := internal.DefaultConfig()

	if *configPath == "" {
		if p, err := internal.DefaultConfigPath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				internal.Info("Using default config file: %s", p)
				*configPath = p
			}
		}
	}

	if *configPath != "" {
		if err := internal.LoadConfig(*configPath, &config); err != nil {
			// Continue with defaults
			internal.Error("loading config: %v", err)
			config = internal.DefaultConfig()
		}
	}

	if *lockScreen {
		config.LockScreen = true
	}
	if *debugExit {
		config.DebugExit = true
	}
	if *imagePath != "" {
		config.ImagePath = *imagePath
		config.LiveCapture = false
	}

	if os.Getenv("WAYLAND_DISPLAY") != "" && os.Getenv("DISPLAY") == "" {
		internal.Fatal("Wayland sessions without Xwayland are not supported")
	}

	var locker internal.ScreenLocker = internal.NewX11Locker(config, *configPath)

	if config.LockScreen {
		if err := locker.Lock(); err != nil {
			internal.Fatal("Failed to lock screen: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := locker.StartIdleMonitor(ctx); err != nil {
		internal.Fatal("Failed to start idle monitor: %v", err)
	}
}
