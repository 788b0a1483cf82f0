// Package workflow drives one query session from capture or typed input to a rendered result.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rbright/vakil/internal/capture"
	"github.com/rbright/vakil/internal/domain"
	"github.com/rbright/vakil/internal/fsm"
	"github.com/rbright/vakil/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout   = 60 * time.Second
	maxLocationRunes = 200
)

var (
	// ErrSubmitInFlight is returned when Submit is called while a submission is pending.
	ErrSubmitInFlight = errors.New("a submission is already in flight")
	// ErrNoArtifact is returned when Transcribe has no retained recording to send.
	ErrNoArtifact = errors.New("no recording to transcribe")
	// ErrBusy is returned when an edit would race an active capture or transcription.
	ErrBusy = errors.New("workflow is busy")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("workflow is closed")
	// ErrInterrupted is returned when a Reset lands while the device is being opened or released.
	ErrInterrupted = errors.New("capture interrupted by reset")
)

// Capturer is the capture session port.
type Capturer interface {
	Permission() capture.PermissionState
	RequestPermission(ctx context.Context) (capture.PermissionState, error)
	Start(ctx context.Context) error
	Stop() (domain.Artifact, bool, error)
	Close()
}

// Transcriber converts a finalized recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, artifact domain.Artifact, language domain.Language, wantsSpokenReply bool) (domain.Transcription, error)
}

// Analyzer answers complaints and questions.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.SubmissionRequest) (domain.SubmissionResult, error)
}

// Presenter binds a synthesized reply to the playback controls.
type Presenter interface {
	Present(ref *domain.AudioRef, autoStart bool)
	Reset()
}

// Options wires a Workflow to its collaborators.
type Options struct {
	Capture        Capturer
	Transcriber    Transcriber
	Analyzer       Analyzer
	Playback       Presenter
	Defaults       domain.Defaults
	Timeout        time.Duration
	AutoTranscribe bool
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Snapshot is a read-only copy of the workflow state.
type Snapshot struct {
	State       fsm.State
	Session     domain.Session
	Permission  capture.PermissionState
	Capturing   bool
	HasArtifact bool
	// ArtifactBytes and Device describe the retained recording, if any.
	ArtifactBytes int64
	Device        string
	Result        domain.SubmissionResult
	Error         *domain.Failure
	InFlight      bool
	Version       uint64
}

// Workflow is the single owner of a Session. All methods are safe for concurrent use
// and none of them wait on the network.
type Workflow struct {
	capture        Capturer
	transcriber    Transcriber
	analyzer       Analyzer
	playback       Presenter
	defaults       domain.Defaults
	timeout        time.Duration
	autoTranscribe bool
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      fsm.State
	session    domain.Session
	artifact   *domain.Artifact
	result     domain.SubmissionResult
	failure    *domain.Failure
	generation uint64
	resets     uint64
	deviceBusy bool
	opCancel   context.CancelFunc
	version    uint64
	changed    chan struct{}
	closed     bool
}

// New builds an idle workflow with an empty session.
func New(opts Options) *Workflow {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	playback := opts.Playback
	if playback == nil {
		playback = noopPresenter{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Workflow{
		capture:        opts.Capture,
		transcriber:    opts.Transcriber,
		analyzer:       opts.Analyzer,
		playback:       playback,
		defaults:       opts.Defaults,
		timeout:        timeout,
		autoTranscribe: opts.AutoTranscribe,
		logger:         opts.Logger.With().Str("component", "workflow").Logger(),
		metrics:        opts.Metrics,
		now:            now,
		ctx:            ctx,
		cancel:         cancel,
		state:          fsm.StateIdle,
		session:        domain.NewSession(opts.Defaults),
		changed:        make(chan struct{}),
	}
}

// Snapshot returns a deep copy of the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Changed returns a channel that is closed on the next state change.
func (w *Workflow) Changed() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changed
}

// Wait blocks until a snapshot satisfies match or ctx ends.
func (w *Workflow) Wait(ctx context.Context, match func(Snapshot) bool) (Snapshot, error) {
	for {
		w.mu.Lock()
		snap := w.snapshotLocked()
		changed := w.changed
		w.mu.Unlock()

		if match(snap) {
			return snap, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// SetInputMode switches between typed and spoken input.
func (w *Workflow) SetInputMode(mode domain.InputMode) error {
	if _, err := domain.ParseInputMode(string(mode)); err != nil {
		return validationFailure(err.Error())
	}
	return w.update(func() error {
		w.session.InputMode = mode
		return nil
	})
}

// SetLanguage selects the language used for transcription and analysis.
func (w *Workflow) SetLanguage(language domain.Language) error {
	if !language.Valid() {
		return validationFailure(fmt.Sprintf("unsupported language %q", language))
	}
	return w.update(func() error {
		w.session.Language = language
		return nil
	})
}

// SetQueryKind switches between complaint analysis and a general question.
func (w *Workflow) SetQueryKind(kind domain.QueryKind) error {
	if _, err := domain.ParseQueryKind(string(kind)); err != nil {
		return validationFailure(err.Error())
	}
	return w.update(func() error {
		w.session.QueryKind = kind
		return nil
	})
}

// SetLocation records the free-form location hint.
func (w *Workflow) SetLocation(location string) error {
	if len([]rune(strings.TrimSpace(location))) > maxLocationRunes {
		return validationFailure(fmt.Sprintf("location must be at most %d characters", maxLocationRunes))
	}
	return w.update(func() error {
		w.session.LocationHint = location
		return nil
	})
}

// ToggleEvidence flips membership of an evidence tag and reports the new membership.
func (w *Workflow) ToggleEvidence(tag string) (bool, error) {
	var member bool
	err := w.update(func() error {
		var err error
		member, err = w.session.EvidenceTags.Toggle(tag)
		if err != nil {
			return validationFailure(err.Error())
		}
		return nil
	})
	return member, err
}

// ToggleAggravating flips membership of an aggravating factor and reports the new membership.
func (w *Workflow) ToggleAggravating(tag string) (bool, error) {
	var member bool
	err := w.update(func() error {
		var err error
		member, err = w.session.AggravatingTags.Toggle(tag)
		if err != nil {
			return validationFailure(err.Error())
		}
		return nil
	})
	return member, err
}

// SetWantsSpokenReply toggles synthesized audio for the next submission.
func (w *Workflow) SetWantsSpokenReply(enabled bool) error {
	return w.update(func() error {
		w.session.WantsSpokenReply = enabled
		return nil
	})
}

// EditText replaces the narrative and moves the workflow into composing.
func (w *Workflow) EditText(text string) error {
	return w.compose(func() error {
		w.session.NarrativeText = text
		return nil
	})
}

// LoadSample fills the session with a canned scenario.
func (w *Workflow) LoadSample(name string) error {
	sample, err := domain.FindSample(name)
	if err != nil {
		return validationFailure(err.Error())
	}
	return w.compose(func() error {
		return sample.Apply(&w.session)
	})
}

// RequestPermission asks the capture session for device access.
// A denial leaves the state untouched and surfaces a PermissionError.
func (w *Workflow) RequestPermission(ctx context.Context) (capture.PermissionState, error) {
	if w.capture == nil {
		return capture.PermissionDenied, w.permissionDenied(capture.ErrPermission)
	}

	permission, err := w.capture.RequestPermission(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return permission, ErrClosed
	}
	if err != nil {
		failure := Classify(err, domain.ErrorPermission)
		w.failure = &failure
		w.notifyLocked()
		return permission, failure
	}
	if w.failure != nil && w.failure.Kind == domain.ErrorPermission {
		w.failure = nil
	}
	w.notifyLocked()
	return permission, nil
}

// StartCapture acquires the input device and begins a recording pass.
// The device is opened without holding the state lock; a Reset or Close that
// lands meanwhile wins and the new stream is released.
func (w *Workflow) StartCapture(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	if err := w.claimDeviceLocked(fsm.EventStart); err != nil {
		w.mu.Unlock()
		return err
	}
	if w.capture == nil || w.capture.Permission() != capture.PermissionGranted {
		w.deviceBusy = false
		failure := Classify(capture.ErrPermissionRequired, domain.ErrorPermission)
		w.failure = &failure
		w.notifyLocked()
		w.mu.Unlock()
		return failure
	}
	resets := w.resets
	w.mu.Unlock()

	startErr := w.capture.Start(w.ctx)

	w.mu.Lock()
	w.deviceBusy = false
	if err := w.interruptedLocked(resets, fsm.EventStart); err != nil {
		w.mu.Unlock()
		if startErr == nil {
			w.capture.Close()
		}
		return err
	}
	defer w.mu.Unlock()

	if startErr != nil {
		failure := Classify(startErr, domain.ErrorDeviceUnavailable)
		if failure.Kind == domain.ErrorPermission {
			w.failure = &failure
			w.notifyLocked()
			return failure
		}
		w.logger.Error().Err(startErr).Msg("capture start failed")
		_ = w.transitionLocked(fsm.EventStart)
		w.failLocked(failure)
		return failure
	}

	w.artifact = nil
	return w.transitionLocked(fsm.EventStart)
}

// StopCapture finalizes the active recording. It is a no-op when not capturing.
func (w *Workflow) StopCapture(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.state != fsm.StateCapturing {
		w.mu.Unlock()
		return nil
	}
	if err := w.claimDeviceLocked(fsm.EventStop); err != nil {
		w.mu.Unlock()
		return err
	}
	resets := w.resets
	w.mu.Unlock()

	artifact, ok, err := w.capture.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.deviceBusy = false
	if err := w.interruptedLocked(resets, fsm.EventStop); err != nil {
		return err
	}

	if err != nil || !ok {
		if err == nil {
			err = capture.ErrDeviceUnavailable
		}
		failure := Classify(err, domain.ErrorDeviceUnavailable)
		w.failLocked(failure)
		return failure
	}

	w.artifact = &artifact
	if err := w.transitionLocked(fsm.EventStop); err != nil {
		return err
	}
	w.logger.Info().Int("artifact_bytes", artifact.Size()).Msg("recording captured")

	if w.autoTranscribe {
		return w.transcribeLocked(ctx)
	}
	return nil
}

// claimDeviceLocked marks a device call pending if event is currently allowed.
func (w *Workflow) claimDeviceLocked(event fsm.Event) error {
	if w.closed {
		return ErrClosed
	}
	if w.deviceBusy {
		return fmt.Errorf("%w: device operation pending", ErrBusy)
	}
	if _, err := fsm.Transition(w.state, event); err != nil {
		return err
	}
	w.deviceBusy = true
	return nil
}

// interruptedLocked reports whether the workflow moved on while a device call ran unlocked.
func (w *Workflow) interruptedLocked(resets uint64, event fsm.Event) error {
	if w.closed {
		return ErrClosed
	}
	if w.resets != resets {
		return ErrInterrupted
	}
	if _, err := fsm.Transition(w.state, event); err != nil {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return nil
}

// Transcribe sends the retained recording for transcription in the background.
func (w *Workflow) Transcribe(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.transcribeLocked(ctx)
}

func (w *Workflow) transcribeLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.artifact == nil {
		return ErrNoArtifact
	}
	if _, err := fsm.Transition(w.state, fsm.EventTranscribe); err != nil {
		return err
	}

	artifact := *w.artifact
	language := w.session.Language
	speak := w.session.WantsSpokenReply
	generation, opCtx := w.beginLocked()
	if err := w.transitionLocked(fsm.EventTranscribe); err != nil {
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		transcription, err := w.transcriber.Transcribe(opCtx, artifact, language, speak)
		w.finishTranscription(generation, transcription, err)
	}()
	return nil
}

func (w *Workflow) finishTranscription(generation uint64, transcription domain.Transcription, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if generation != w.generation {
		w.metrics.StaleResponse("transcribe")
		w.logger.Debug().Uint64("generation", generation).Msg("dropping stale transcription")
		return
	}
	w.endOpLocked()

	if err != nil {
		w.failLocked(Classify(err, domain.ErrorTranscriptionFailed))
		return
	}
	w.session.NarrativeText = transcription.Text
	_ = w.transitionLocked(fsm.EventTranscribed)
}

// Submit snapshots the session and sends it for analysis in the background.
func (w *Workflow) Submit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.state == fsm.StateSubmitting {
		return ErrSubmitInFlight
	}
	if !w.session.HasNarrative() {
		failure := validationFailure("please provide an incident narrative or question")
		w.failure = &failure
		w.notifyLocked()
		return failure
	}
	if _, err := fsm.Transition(w.state, fsm.EventSubmit); err != nil {
		return err
	}

	request := w.session.Request(w.now())
	generation, opCtx := w.beginLocked()
	w.result = nil
	w.playback.Reset()
	if err := w.transitionLocked(fsm.EventSubmit); err != nil {
		return err
	}
	w.logger.Info().
		Str("kind", string(request.Kind)).
		Str("language", string(request.Language)).
		Uint64("generation", generation).
		Msg("submission sent")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		result, err := w.analyzer.Analyze(opCtx, request)
		w.finishSubmission(generation, request, result, err)
	}()
	return nil
}

func (w *Workflow) finishSubmission(generation uint64, request domain.SubmissionRequest, result domain.SubmissionResult, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if generation != w.generation {
		w.metrics.StaleResponse("submit")
		w.logger.Debug().Uint64("generation", generation).Msg("dropping stale submission response")
		return
	}
	w.endOpLocked()

	if err == nil && result == nil {
		err = errors.New("service returned no result")
	}
	if err != nil {
		fallback := domain.ErrorAnalysisFailed
		if request.Kind == domain.KindQuestion {
			fallback = domain.ErrorChatFailed
		}
		w.failLocked(Classify(err, fallback))
		return
	}

	w.result = result
	if err := w.transitionLocked(fsm.EventResolve); err != nil {
		return
	}
	w.playback.Present(domain.AudioOf(result), request.WantsSpokenReply)
}

// DismissError clears the displayed error without touching session content.
func (w *Workflow) DismissError() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failure == nil {
		return
	}
	w.failure = nil
	w.notifyLocked()
}

// Reset abandons in-flight work, releases the device, and empties the session.
// The permission grant is kept.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

func (w *Workflow) resetLocked() {
	w.generation++
	w.resets++
	w.endOpLocked()
	if w.capture != nil {
		w.capture.Close()
	}
	w.playback.Reset()

	w.artifact = nil
	w.result = nil
	w.failure = nil
	w.session.Reset(w.defaults)
	_ = w.transitionLocked(fsm.EventReset)
}

// Close resets the workflow and waits for background requests to return.
func (w *Workflow) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.resetLocked()
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
}

// update applies a session edit that never changes state.
func (w *Workflow) update(apply func() error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := apply(); err != nil {
		return err
	}
	w.notifyLocked()
	return nil
}

// compose applies a narrative edit and enters composing where allowed.
// While submitting, content changes without a state change.
func (w *Workflow) compose(apply func() error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	switch w.state {
	case fsm.StateCapturing, fsm.StateTranscribing:
		return fmt.Errorf("%w: cannot edit while %s", ErrBusy, w.state)
	case fsm.StateSubmitting:
		if err := apply(); err != nil {
			return err
		}
		w.notifyLocked()
		return nil
	}

	if _, err := fsm.Transition(w.state, fsm.EventEdit); err != nil {
		return err
	}
	if err := apply(); err != nil {
		return err
	}
	return w.transitionLocked(fsm.EventEdit)
}

func (w *Workflow) beginLocked() (uint64, context.Context) {
	w.endOpLocked()
	w.generation++
	opCtx, cancel := context.WithTimeout(w.ctx, w.timeout)
	w.opCancel = cancel
	return w.generation, opCtx
}

func (w *Workflow) endOpLocked() {
	if w.opCancel != nil {
		w.opCancel()
		w.opCancel = nil
	}
}

func (w *Workflow) failLocked(failure domain.Failure) {
	if err := w.transitionLocked(fsm.EventFail); err != nil {
		w.logger.Error().Err(err).Msg("unable to enter failed state")
	}
	w.failure = &failure
	w.logger.Warn().Str("kind", string(failure.Kind)).Str("error", failure.Message).Msg("workflow failed")
	w.notifyLocked()
}

func (w *Workflow) transitionLocked(event fsm.Event) error {
	next, err := fsm.Transition(w.state, event)
	if err != nil {
		return err
	}
	if next != fsm.StateFailed {
		w.failure = nil
	}
	w.logger.Debug().Str("from", string(w.state)).Str("event", string(event)).Str("to", string(next)).Msg("transition")
	w.state = next
	w.metrics.Transition(string(next))
	w.notifyLocked()
	return nil
}

func (w *Workflow) notifyLocked() {
	w.version++
	close(w.changed)
	w.changed = make(chan struct{})
}

func (w *Workflow) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       w.state,
		Session:     w.session.Clone(),
		Permission:  capture.PermissionUnrequested,
		Capturing:   w.state == fsm.StateCapturing,
		HasArtifact: w.artifact != nil,
		Result:      w.result,
		InFlight:    w.state == fsm.StateTranscribing || w.state == fsm.StateSubmitting,
		Version:     w.version,
	}
	if w.capture != nil {
		snap.Permission = w.capture.Permission()
	}
	if w.artifact != nil {
		snap.ArtifactBytes = w.artifact.BytesCaptured
		snap.Device = w.artifact.Device
	}
	if w.failure != nil {
		failure := *w.failure
		snap.Error = &failure
	}
	return snap
}

func (w *Workflow) permissionDenied(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	failure := Classify(err, domain.ErrorPermission)
	w.failure = &failure
	w.notifyLocked()
	return failure
}

func validationFailure(message string) domain.Failure {
	return domain.Failure{Kind: domain.ErrorValidation, Message: message}
}

type noopPresenter struct{}

func (noopPresenter) Present(*domain.AudioRef, bool) {}
func (noopPresenter) Reset()                         {}
