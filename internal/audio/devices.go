// Package audio owns PulseAudio input devices, capture streams, WAV framing, and PCM playback.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// ErrNoDevices indicates the Pulse server reported no input sources.
var ErrNoDevices = errors.New("no audio input devices found")

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Label is the human-facing device name.
func (d Device) Label() string {
	if strings.TrimSpace(d.Description) != "" {
		return d.Description
	}
	return d.ID
}

// Selection is the resolved capture source plus fallback context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func newClient(iconName string) (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("vakil"),
		pulse.ClientApplicationIconName(iconName),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns Pulse input sources with default and availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newClient("audio-input-microphone")
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var reply pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(reply))
	for _, info := range reply {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			State:       sourceStateString(info.State),
			Available:   sourceAvailable(info),
			Muted:       info.Mute,
			Default:     info.SourceName == defaultSource.ID(),
		})
	}
	return devices, nil
}

// SelectDevice resolves the input and fallback preferences against live devices.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return pickDevice(devices, input, fallback)
}

// pickDevice prefers input, then fallback, and never returns a muted or unavailable source.
func pickDevice(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, ErrNoDevices
	}

	primary, err := lookupDevice(devices, input, "audio.input")
	if err != nil {
		return Selection{}, err
	}
	primaryReason := unusableReason(primary)
	if primaryReason == "" {
		return Selection{Device: primary}, nil
	}

	alternate, err := lookupDevice(devices, fallback, "audio.fallback")
	if err != nil {
		return Selection{}, fmt.Errorf("input %q is %s and no usable fallback: %w", primary.ID, primaryReason, err)
	}
	if reason := unusableReason(alternate); reason != "" {
		return Selection{}, fmt.Errorf("fallback input %q is %s", alternate.ID, reason)
	}

	return Selection{
		Device:   alternate,
		Warning:  fmt.Sprintf("input %q is %s; using %q", primary.ID, primaryReason, alternate.ID),
		Fallback: alternate.ID != primary.ID,
	}, nil
}

func lookupDevice(devices []Device, term string, key string) (Device, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || term == "default" {
		for _, device := range devices {
			if device.Default {
				return device, nil
			}
		}
		return Device{}, errors.New("default audio source is unavailable")
	}

	for _, device := range devices {
		if deviceMatches(device, term) {
			return device, nil
		}
	}
	return Device{}, fmt.Errorf("%s %q did not match any device", key, term)
}

func unusableReason(device Device) string {
	switch {
	case device.Muted:
		return "muted"
	case !device.Available:
		return "unavailable"
	default:
		return ""
	}
}

// deviceMatches reports whether a lowercase term appears in the device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(device.ID), term) ||
		strings.Contains(strings.ToLower(device.Description), term)
}

func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	for _, port := range source.Ports {
		if port.Name == source.ActivePortName {
			// unknown=0, no=1, yes=2
			return port.Available != 1
		}
	}
	return true
}
