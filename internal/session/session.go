// Package session runs one voice query from recording to answer on top of the workflow.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbright/vakil/internal/domain"
	"github.com/rbright/vakil/internal/fsm"
	"github.com/rbright/vakil/internal/ipc"
	"github.com/rbright/vakil/internal/workflow"
	"github.com/rs/zerolog"
)

type action int

const (
	actionStop action = iota + 1
	actionCancel
)

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	Snapshot          workflow.Snapshot
	Cancelled         bool
	Err               error
	AudioDevice       string
	BytesCaptured     int64
	TranscribeLatency time.Duration
	SubmitLatency     time.Duration
	StartedAt         time.Time
	FinishedAt        time.Time
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowRecording(context.Context)
	ShowTranscribing(context.Context)
	ShowSubmitting(context.Context)
	ShowError(context.Context, string)
	CueStop(context.Context)
	CueComplete(context.Context)
	CueCancel(context.Context)
	Hide(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) ShowRecording(context.Context)     {}
func (noopIndicator) ShowTranscribing(context.Context)  {}
func (noopIndicator) ShowSubmitting(context.Context)    {}
func (noopIndicator) ShowError(context.Context, string) {}
func (noopIndicator) CueStop(context.Context)           {}
func (noopIndicator) CueComplete(context.Context)       {}
func (noopIndicator) CueCancel(context.Context)         {}
func (noopIndicator) Hide(context.Context)              {}

// Controller sequences a Flow through one voice query and serves IPC commands meanwhile.
type Controller struct {
	logger    zerolog.Logger
	flow      Flow
	indicator Indicator
	replay    func(context.Context) error
	now       func() time.Time

	actions chan action
}

// NewController wires a controller. replay may be nil when playback is disabled.
func NewController(logger zerolog.Logger, flow Flow, indicator Indicator, replay func(context.Context) error) *Controller {
	if indicator == nil {
		indicator = noopIndicator{}
	}
	return &Controller{
		logger:    logger.With().Str("component", "session").Logger(),
		flow:      flow,
		indicator: indicator,
		replay:    replay,
		now:       time.Now,
		actions:   make(chan action, 1),
	}
}

// State returns the workflow state.
func (c *Controller) State() fsm.State {
	return c.flow.Snapshot().State
}

// Run records until stop or cancel arrives, then transcribes and submits the narrative.
func (c *Controller) Run(ctx context.Context) Result {
	result := Result{StartedAt: c.now()}
	finish := func(err error) Result {
		result.Snapshot = c.flow.Snapshot()
		result.Err = err
		result.FinishedAt = c.now()
		c.logger.Info().
			Str("state", string(result.Snapshot.State)).
			Bool("cancelled", result.Cancelled).
			Int64("bytes_captured", result.BytesCaptured).
			Dur("transcribe_latency", result.TranscribeLatency).
			Dur("submit_latency", result.SubmitLatency).
			AnErr("error", err).
			Msg("voice session finished")
		return result
	}

	if _, err := c.flow.RequestPermission(ctx); err != nil {
		c.indicator.ShowError(ctx, "Microphone access denied")
		return finish(err)
	}
	if err := c.flow.StartCapture(ctx); err != nil {
		c.indicator.ShowError(ctx, "Unable to start recording")
		c.flow.Reset()
		return finish(err)
	}
	c.indicator.ShowRecording(ctx)

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
		defer cancel()
		c.indicator.Hide(cleanupCtx)
	}()

	select {
	case <-ctx.Done():
		c.abort("Cancelled")
		return finish(ctx.Err())
	case a := <-c.actions:
		if a == actionCancel {
			c.abort("")
			result.Cancelled = true
			return finish(nil)
		}
	}

	if err := c.flow.StopCapture(ctx); err != nil {
		c.indicator.ShowError(context.Background(), "Recording failed")
		return finish(err)
	}
	c.indicator.CueStop(context.Background())

	snap := c.flow.Snapshot()
	result.BytesCaptured = snap.ArtifactBytes
	result.AudioDevice = snap.Device
	if snap.State == fsm.StateCaptured {
		if err := c.flow.Transcribe(ctx); err != nil {
			c.indicator.ShowError(context.Background(), "Speech recognition failed")
			return finish(err)
		}
	}
	c.indicator.ShowTranscribing(ctx)

	started := c.now()
	snap, cancelled, err := c.await(ctx, fsm.StateTranscribing)
	result.TranscribeLatency = c.now().Sub(started)
	if cancelled || err != nil {
		result.Cancelled = cancelled
		return finish(err)
	}
	if snap.Error != nil {
		c.indicator.ShowError(context.Background(), "Speech recognition failed")
		return finish(*snap.Error)
	}
	if !snap.Session.HasNarrative() {
		c.indicator.ShowError(context.Background(), "No speech detected")
		return finish(ErrEmptyNarrative)
	}

	if err := c.flow.Submit(ctx); err != nil {
		c.indicator.ShowError(context.Background(), "Unable to submit")
		return finish(err)
	}
	c.indicator.ShowSubmitting(ctx)

	started = c.now()
	snap, cancelled, err = c.await(ctx, fsm.StateSubmitting)
	result.SubmitLatency = c.now().Sub(started)
	if cancelled || err != nil {
		result.Cancelled = cancelled
		return finish(err)
	}
	if snap.Error != nil {
		c.indicator.ShowError(context.Background(), failureHeadline(*snap.Error))
		return finish(*snap.Error)
	}

	c.indicator.CueComplete(context.Background())
	return finish(nil)
}

// await blocks until the workflow leaves busy. A cancel request or ctx end resets the workflow.
func (c *Controller) await(ctx context.Context, busy fsm.State) (workflow.Snapshot, bool, error) {
	waitCtx, stop := context.WithCancel(ctx)
	defer stop()

	cancelled := make(chan struct{})
	go func() {
		for {
			select {
			case a := <-c.actions:
				if a == actionCancel {
					close(cancelled)
					stop()
					return
				}
			case <-waitCtx.Done():
				return
			}
		}
	}()

	snap, err := c.flow.Wait(waitCtx, func(s workflow.Snapshot) bool { return s.State != busy })
	if err == nil {
		return snap, false, nil
	}

	select {
	case <-cancelled:
		c.abort("")
		return c.flow.Snapshot(), true, nil
	default:
	}
	c.abort("Cancelled")
	return c.flow.Snapshot(), false, err
}

func (c *Controller) abort(message string) {
	c.flow.Reset()
	c.indicator.CueCancel(context.Background())
	if message != "" {
		c.indicator.ShowError(context.Background(), message)
	}
}

// Handle serves IPC commands for the active owner session.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.status()
	case ipc.CommandStop:
		return c.requestStop()
	case ipc.CommandCancel:
		return c.requestCancel()
	case ipc.CommandSpeak:
		return c.requestReplay(ctx)
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) status() ipc.Response {
	snap := c.flow.Snapshot()
	resp := ipc.Response{OK: true, State: string(snap.State), Message: "status"}
	if snap.Error != nil {
		resp.Kind = string(snap.Error.Kind)
		resp.Message = snap.Error.Message
	}
	return resp
}

// requestStop enqueues a stop action when state permits it.
func (c *Controller) requestStop() ipc.Response {
	state := c.State()
	switch state {
	case fsm.StateCapturing:
	case fsm.StateTranscribing, fsm.StateSubmitting:
		return ipc.Response{OK: false, State: string(state), Error: "already " + string(state)}
	default:
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot stop from state %s", state)}
	}

	select {
	case c.actions <- actionStop:
		return ipc.Response{OK: true, State: string(state), Message: "stop requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "stop already requested"}
	}
}

// requestCancel enqueues a cancel action while the session is busy.
func (c *Controller) requestCancel() ipc.Response {
	state := c.State()
	if !state.Busy() {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot cancel from state %s", state)}
	}

	select {
	case c.actions <- actionCancel:
		return ipc.Response{OK: true, State: string(state), Message: "cancel requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "cancel already requested"}
	}
}

func (c *Controller) requestReplay(ctx context.Context) ipc.Response {
	state := c.State()
	if c.replay == nil {
		return ipc.Response{OK: false, State: string(state), Error: "playback is disabled"}
	}
	if state != fsm.StateResulted {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("no reply to play in state %s", state)}
	}
	if err := c.replay(ctx); err != nil {
		return ipc.Response{OK: false, State: string(state), Error: err.Error()}
	}
	return ipc.Response{OK: true, State: string(state), Message: "playing reply"}
}

func failureHeadline(failure domain.Failure) string {
	switch failure.Kind {
	case domain.ErrorTimeout:
		return "Service timed out"
	case domain.ErrorChatFailed:
		return "Question failed"
	default:
		return "Analysis failed"
	}
}

// IsEmptyNarrative reports whether err means nothing usable was recorded.
func IsEmptyNarrative(err error) bool {
	return errors.Is(err, ErrEmptyNarrative)
}
