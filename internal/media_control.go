package internal

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisPath       = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisPlayer     = "org.mpris.MediaPlayer2.Player"
	playbackPlaying = "Playing"
	playbackPaused  = "Paused"
)

// MediaController pauses MPRIS players over the session bus while the screen
// is locked
type MediaController struct {
	conn   *dbus.Conn
	paused []string // players paused by us, resumed on unlock
}

// NewMediaController connects to the session bus
func NewMediaController() (*MediaController, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &MediaController{conn: conn}, nil
}

// Close closes the D-Bus connection
func (mc *MediaController) Close() {
	if mc.conn != nil {
		mc.conn.Close()
	}
}

// mprisPlayers filters the well-known MPRIS player names out of a bus name list
func mprisPlayers(names []string) []string {
	var players []string
	for _, name := range names {
		if strings.HasPrefix(name, mprisPrefix) {
			players = append(players, name)
		}
	}
	return players
}

func (mc *MediaController) listPlayers() ([]string, error) {
	var names []string
	err := mc.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}
	return mprisPlayers(names), nil
}

func (mc *MediaController) playbackStatus(obj dbus.BusObject) (string, error) {
	v, err := obj.GetProperty(mprisPlayer + ".PlaybackStatus")
	if err != nil {
		return "", err
	}
	status, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected PlaybackStatus type %s", v.Signature())
	}
	return status, nil
}

// PauseAllMedia pauses every player that is currently playing
func (mc *MediaController) PauseAllMedia() error {
	players, err := mc.listPlayers()
	if err != nil {
		return err
	}

	mc.paused = mc.paused[:0]
	for _, name := range players {
		obj := mc.conn.Object(name, mprisPath)
		status, err := mc.playbackStatus(obj)
		if err != nil {
			Debug("Failed to get playback status for %s: %v", name, err)
			continue
		}
		if status != playbackPlaying {
			continue
		}
		if call := obj.Call(mprisPlayer+".Pause", 0); call.Err != nil {
			Error("Failed to pause %s: %v", name, call.Err)
			continue
		}
		Debug("Paused %s", name)
		mc.paused = append(mc.paused, name)
	}

	Debug("Paused %d of %d media players", len(mc.paused), len(players))
	return nil
}

// UnpauseAllMedia resumes the players PauseAllMedia paused, as long as they
// are still paused
func (mc *MediaController) UnpauseAllMedia() error {
	for _, name := range mc.paused {
		obj := mc.conn.Object(name, mprisPath)
		status, err := mc.playbackStatus(obj)
		if err != nil || status != playbackPaused {
			continue
		}
		if call := obj.Call(mprisPlayer+".Play", 0); call.Err != nil {
			Error("Failed to unpause %s: %v", name, call.Err)
			continue
		}
		Debug("Resumed %s", name)
	}
	mc.paused = mc.paused[:0]
	return nil
}
