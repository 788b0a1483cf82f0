// Package indicator shows query progress as desktop notifications and short audio cues.
package indicator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rbright/vakil/internal/audio"
	"github.com/rbright/vakil/internal/config"
	"github.com/rs/zerolog"
)

const (
	backendDesktop = "desktop"
	backendNone    = "none"

	persistentTimeoutMS = 300000
	defaultErrorMS      = 1200
)

// Sink plays synthesized cue audio.
type Sink interface {
	Play(ctx context.Context, pcm audio.PCM) error
}

// notifier is the notification backend.
type notifier interface {
	Notify(ctx context.Context, appName string, replaceID uint32, summary string, timeoutMS int) (uint32, error)
	Dismiss(ctx context.Context, id uint32) error
}

// Desktop is the indicator used by voice sessions.
type Desktop struct {
	cfg      config.IndicatorConfig
	logger   zerolog.Logger
	messages messages
	backend  notifier
	sink     Sink

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
	cues           sync.WaitGroup
}

// New creates an indicator from config. A nil sink plays cues through PulseAudio.
func New(cfg config.IndicatorConfig, logger zerolog.Logger, sink Sink) *Desktop {
	if sink == nil {
		sink = audio.PulseSink{MediaName: "vakil indicator cue", Latency: 0.02}
	}
	return &Desktop{
		cfg:      cfg,
		logger:   logger.With().Str("component", "indicator").Logger(),
		messages: messagesFromEnv(),
		backend:  busctl{},
		sink:     sink,
	}
}

// ShowRecording signals recording start and emits the start cue.
func (d *Desktop) ShowRecording(ctx context.Context) {
	d.playCue(cueStart)
	d.show(ctx, persistentTimeoutMS, d.messages.recording)
}

// ShowTranscribing signals the post-capture transcription state.
func (d *Desktop) ShowTranscribing(ctx context.Context) {
	d.show(ctx, persistentTimeoutMS, d.messages.transcribing)
}

// ShowSubmitting signals that the narrative is with the legal research service.
func (d *Desktop) ShowSubmitting(ctx context.Context) {
	d.show(ctx, persistentTimeoutMS, d.messages.submitting)
}

// ShowError displays an error message for the configured timeout.
func (d *Desktop) ShowError(ctx context.Context, text string) {
	if text == "" {
		text = d.messages.errorText
	}
	timeout := d.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = defaultErrorMS
	}
	d.show(ctx, timeout, text)
}

func (d *Desktop) CueStop(context.Context)     { d.playCue(cueStop) }
func (d *Desktop) CueComplete(context.Context) { d.playCue(cueComplete) }
func (d *Desktop) CueCancel(context.Context)   { d.playCue(cueCancel) }

// Hide dismisses the active notification.
func (d *Desktop) Hide(ctx context.Context) {
	if !d.enabled() {
		return
	}
	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()
	if id == 0 {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.backend.Dismiss(ctx, id)
	})
}

// Wait blocks until queued cues have played.
func (d *Desktop) Wait() {
	d.cues.Wait()
}

func (d *Desktop) enabled() bool {
	if !d.cfg.Enable {
		return false
	}
	backend := strings.ToLower(strings.TrimSpace(d.cfg.Backend))
	return backend == "" || backend == backendDesktop
}

// show replaces the current notification so progress updates stay in one bubble.
func (d *Desktop) show(ctx context.Context, timeoutMS int, text string) {
	if !d.enabled() {
		return
	}
	appName := strings.TrimSpace(d.cfg.DesktopAppName)
	if appName == "" {
		appName = "vakil"
	}

	d.run(ctx, func(ctx context.Context) error {
		d.mu.Lock()
		replaceID := d.notificationID
		d.mu.Unlock()

		id, err := d.backend.Notify(ctx, appName, replaceID, text, timeoutMS)
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.notificationID = id
		d.mu.Unlock()
		return nil
	})
}

// run executes an indicator operation with a bounded timeout.
func (d *Desktop) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		d.logger.Debug().Err(err).Msg("indicator dispatch failed")
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (d *Desktop) playCue(kind cueKind) {
	if !d.cfg.SoundEnable {
		return
	}
	d.cues.Add(1)
	go func() {
		defer d.cues.Done()
		d.soundMu.Lock()
		defer d.soundMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := emitCue(ctx, d.sink, kind); err != nil {
			d.logger.Debug().Err(err).Msg("indicator audio cue failed")
		}
	}()
}
