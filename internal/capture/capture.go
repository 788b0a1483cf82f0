// Package capture owns the microphone grant and one recording pass at a time.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbright/vakil/internal/audio"
	"github.com/rbright/vakil/internal/domain"
	"github.com/rs/zerolog"
)

var (
	// ErrPermission indicates device access was denied or no capture capability exists.
	ErrPermission = errors.New("microphone access denied")
	// ErrPermissionRequired indicates Start was called before a successful RequestPermission.
	ErrPermissionRequired = errors.New("microphone permission has not been granted")
	// ErrAlreadyCapturing indicates Start was called while a recording pass is active.
	ErrAlreadyCapturing = errors.New("a recording is already in progress")
	// ErrDeviceUnavailable indicates acquisition failed after permission was granted.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
)

// PermissionState tracks whether the device grant has been requested and its outcome.
type PermissionState string

const (
	PermissionUnrequested PermissionState = "unrequested"
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
)

// Recorder is the platform port that probes and opens capture streams.
type Recorder interface {
	Probe(context.Context) (string, error)
	Open(context.Context) (audio.Stream, error)
}

// Options configures optional session behavior.
type Options struct {
	// DumpDir, when set, receives a copy of every finalized artifact.
	DumpDir string
	// OnBytes observes captured byte counts when a pass finalizes.
	OnBytes func(int64)
}

// Session holds at most one active stream and produces one artifact per pass.
type Session struct {
	recorder Recorder
	logger   zerolog.Logger
	opts     Options

	mu         sync.Mutex
	permission PermissionState
	device     string
	stream     audio.Stream
	collected  chan []byte
}

// NewSession constructs a session with permission unrequested.
func NewSession(recorder Recorder, logger zerolog.Logger, opts Options) *Session {
	return &Session{
		recorder:   recorder,
		logger:     logger.With().Str("component", "capture").Logger(),
		opts:       opts,
		permission: PermissionUnrequested,
	}
}

// Permission returns the current grant state.
func (s *Session) Permission() PermissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// Active reports whether a device handle is currently held.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// RequestPermission probes for a usable device and records the outcome.
func (s *Session) RequestPermission(ctx context.Context) (PermissionState, error) {
	if s.recorder == nil {
		s.setPermission(PermissionDenied, "")
		return PermissionDenied, fmt.Errorf("%w: no capture backend configured", ErrPermission)
	}

	device, err := s.recorder.Probe(ctx)
	if err != nil {
		s.setPermission(PermissionDenied, "")
		s.logger.Warn().Err(err).Msg("microphone permission denied")
		return PermissionDenied, fmt.Errorf("%w: %v", ErrPermission, err)
	}

	s.setPermission(PermissionGranted, device)
	s.logger.Info().Str("device", device).Msg("microphone permission granted")
	return PermissionGranted, nil
}

func (s *Session) setPermission(state PermissionState, device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permission = state
	s.device = device
}

// Start acquires the device and begins collecting chunks.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.permission != PermissionGranted {
		return ErrPermissionRequired
	}
	if s.stream != nil {
		return ErrAlreadyCapturing
	}

	stream, err := s.recorder.Open(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("capture start failed")
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	collected := make(chan []byte, 1)
	go collect(stream.Chunks(), collected)

	s.stream = stream
	s.collected = collected
	s.logger.Debug().Str("device", stream.Description()).Msg("capture started")
	return nil
}

// collect appends chunks in arrival order until the stream closes them.
func collect(chunks <-chan []byte, out chan<- []byte) {
	var pcm []byte
	for chunk := range chunks {
		pcm = append(pcm, chunk...)
	}
	out <- pcm
}

// Stop releases the device and finalizes the pass into an artifact.
// Without an active pass it returns ok=false and no error.
func (s *Session) Stop() (artifact domain.Artifact, ok bool, err error) {
	s.mu.Lock()
	stream := s.stream
	collected := s.collected
	s.stream = nil
	s.collected = nil
	s.mu.Unlock()

	if stream == nil {
		return domain.Artifact{}, false, nil
	}

	stopErr := stream.Stop()
	pcm := <-collected
	captured := stream.BytesCaptured()
	if s.opts.OnBytes != nil {
		s.opts.OnBytes(captured)
	}

	if stopErr != nil {
		s.logger.Error().Err(stopErr).Msg("capture stream stop failed")
		return domain.Artifact{}, true, fmt.Errorf("finalize recording: %w", stopErr)
	}

	artifact = domain.NewArtifact(audio.EncodeWAV(pcm, audio.SampleRate, audio.Channels), int64(len(pcm)), stream.Description())
	s.logger.Info().
		Str("device", artifact.Device).
		Int64("bytes_captured", captured).
		Int("artifact_bytes", artifact.Size()).
		Msg("capture finalized")

	s.dump(artifact)
	return artifact, true, nil
}

// Close releases any active stream without producing an artifact.
func (s *Session) Close() {
	s.mu.Lock()
	stream := s.stream
	collected := s.collected
	s.stream = nil
	s.collected = nil
	s.mu.Unlock()

	if stream == nil {
		return
	}
	_ = stream.Stop()
	<-collected
	s.logger.Debug().Msg("capture released on teardown")
}

func (s *Session) dump(artifact domain.Artifact) {
	if strings.TrimSpace(s.opts.DumpDir) == "" || artifact.Empty() {
		return
	}
	if err := os.MkdirAll(s.opts.DumpDir, 0o700); err != nil {
		s.logger.Warn().Err(err).Msg("unable to create debug audio dir")
		return
	}
	path := filepath.Join(s.opts.DumpDir, fmt.Sprintf("capture-%s.wav", time.Now().Format("20060102-150405.000")))
	if err := os.WriteFile(path, artifact.Bytes(), 0o600); err != nil {
		s.logger.Warn().Err(err).Msg("unable to write debug audio dump")
		return
	}
	s.logger.Debug().Str("path", path).Msg("debug audio dump written")
}

// DebugDir returns the XDG state location used for debug artifacts.
func DebugDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "vakil", "debug"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "vakil", "debug"), nil
}
