package session

import (
	"context"
	"errors"

	"github.com/rbright/vakil/internal/capture"
	"github.com/rbright/vakil/internal/workflow"
)

// ErrEmptyNarrative indicates transcription finished without usable speech.
var ErrEmptyNarrative = errors.New("no speech recognized; check microphone input or mute state")

// Flow is the workflow surface a voice session drives.
type Flow interface {
	RequestPermission(context.Context) (capture.PermissionState, error)
	StartCapture(context.Context) error
	StopCapture(context.Context) error
	Transcribe(context.Context) error
	Submit(context.Context) error
	Reset()
	Snapshot() workflow.Snapshot
	Wait(context.Context, func(workflow.Snapshot) bool) (workflow.Snapshot, error)
}
