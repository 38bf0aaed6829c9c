package internal

import (
	"bufio"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
)

// detectMonitors returns the geometry of every active output. RandR is asked
// first, the xrandr tool is the fallback. An empty result means nothing is
// known about the monitor layout.
func detectMonitors(conn *xgb.Conn, root xproto.Window) []ScreenRegion {
	monitors, err := randrMonitors(conn, root)
	if err == nil && len(monitors) > 0 {
		logMonitors("RandR", monitors)
		return monitors
	}
	if err != nil {
		Warn("RandR monitor query failed: %v", err)
	}

	monitors, err = xrandrMonitors()
	if err != nil {
		Warn("Failed to detect monitors with xrandr: %v", err)
		return nil
	}
	logMonitors("xrandr", monitors)
	return monitors
}

func logMonitors(source string, monitors []ScreenRegion) {
	Info("Detected %d monitors via %s", len(monitors), source)
	for i, m := range monitors {
		Debug("Monitor %d: x=%d, y=%d, width=%d, height=%d", i, m.X, m.Y, m.Width, m.Height)
	}
}

// randrMonitors lists the enabled CRTCs
func randrMonitors(conn *xgb.Conn, root xproto.Window) ([]ScreenRegion, error) {
	if err := randr.Init(conn); err != nil {
		return nil, fmt.Errorf("failed to initialize RandR extension: %w", err)
	}

	res, err := randr.GetScreenResourcesCurrent(conn, root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var monitors []ScreenRegion
	for _, crtc := range res.Crtcs {
		info, err := randr.GetCrtcInfo(conn, crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			Debug("Skipping CRTC %d: %v", crtc, err)
			continue
		}
		if info.Mode == 0 || info.Width == 0 || info.Height == 0 {
			continue
		}
		monitors = append(monitors, ScreenRegion{
			X:      int(info.X),
			Y:      int(info.Y),
			Width:  int(info.Width),
			Height: int(info.Height),
		})
	}
	return monitors, nil
}

func xrandrMonitors() ([]ScreenRegion, error) {
	cmd := exec.Command("xrandr", "--current")
	Debug("Executing command: %s", strings.Join(cmd.Args, " "))

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run xrandr: %w", err)
	}
	return parseXrandr(string(output)), nil
}

// Matches e.g. "DP-1 connected primary 2560x1440+1920+0 (normal left ...)"
var xrandrOutputLine = regexp.MustCompile(`^\S+ connected (?:primary )?(\d+)x(\d+)\+(-?\d+)\+(-?\d+)`)

// parseXrandr extracts the geometry of connected, active outputs from
// `xrandr --current` output
func parseXrandr(output string) []ScreenRegion {
	var monitors []ScreenRegion

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := xrandrOutputLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}

		var v [4]int
		for i := range v {
			v[i], _ = strconv.Atoi(m[i+1])
		}
		if v[0] == 0 || v[1] == 0 {
			continue
		}
		monitors = append(monitors, ScreenRegion{X: v[2], Y: v[3], Width: v[0], Height: v[1]})
	}
	return monitors
}
