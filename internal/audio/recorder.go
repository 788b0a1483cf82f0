package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// PulseRecorder opens capture streams on the configured source, one at a time.
type PulseRecorder struct {
	input    string
	fallback string
	logger   zerolog.Logger

	// selectFn and startFn are swapped in tests.
	selectFn func(context.Context, string, string) (Selection, error)
	startFn  func(context.Context, Device) (Stream, error)

	openMu sync.Mutex
	mu     sync.Mutex
	active Stream
}

// NewPulseRecorder builds a recorder for the audio.input/audio.fallback preferences.
func NewPulseRecorder(input, fallback string, logger zerolog.Logger) *PulseRecorder {
	return &PulseRecorder{
		input:    input,
		fallback: fallback,
		logger:   logger.With().Str("component", "recorder").Logger(),
		selectFn: SelectDevice,
		startFn: func(ctx context.Context, device Device) (Stream, error) {
			return StartCapture(ctx, device)
		},
	}
}

// Probe checks that a usable capture source exists and returns its label.
func (r *PulseRecorder) Probe(ctx context.Context) (string, error) {
	selection, err := r.selectFn(ctx, r.input, r.fallback)
	if err != nil {
		return "", err
	}
	if selection.Warning != "" {
		r.logger.Warn().Str("device", selection.Device.ID).Msg(selection.Warning)
	}
	return selection.Device.Label(), nil
}

// Open releases any stream still held by this recorder and then opens a new one.
func (r *PulseRecorder) Open(ctx context.Context) (Stream, error) {
	r.openMu.Lock()
	defer r.openMu.Unlock()

	r.mu.Lock()
	previous := r.active
	r.active = nil
	r.mu.Unlock()
	if previous != nil {
		r.logger.Debug().Str("device", previous.Description()).Msg("releasing previous capture stream")
		_ = previous.Stop()
	}

	selection, err := r.selectFn(ctx, r.input, r.fallback)
	if err != nil {
		return nil, err
	}

	stream, err := r.startFn(ctx, selection.Device)
	if err != nil {
		return nil, fmt.Errorf("start capture on %q: %w", selection.Device.ID, err)
	}
	tracked := &trackedStream{Stream: stream, release: r.forget}
	r.mu.Lock()
	r.active = tracked
	r.mu.Unlock()

	r.logger.Info().
		Str("device", selection.Device.ID).
		Bool("fallback", selection.Fallback).
		Msg("capture stream opened")
	return tracked, nil
}

// Active reports whether a stream is currently held.
func (r *PulseRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *PulseRecorder) forget(s *trackedStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == Stream(s) {
		r.active = nil
	}
}

// trackedStream clears the recorder's active slot when stopped.
type trackedStream struct {
	Stream
	once    sync.Once
	release func(*trackedStream)
}

func (s *trackedStream) Stop() error {
	err := s.Stream.Stop()
	s.once.Do(func() { s.release(s) })
	return err
}
