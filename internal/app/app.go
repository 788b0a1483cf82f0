package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rbright/vakil/internal/audio"
	"github.com/rbright/vakil/internal/capture"
	"github.com/rbright/vakil/internal/cli"
	"github.com/rbright/vakil/internal/config"
	"github.com/rbright/vakil/internal/doctor"
	"github.com/rbright/vakil/internal/domain"
	"github.com/rbright/vakil/internal/fsm"
	"github.com/rbright/vakil/internal/indicator"
	"github.com/rbright/vakil/internal/ipc"
	"github.com/rbright/vakil/internal/legalapi"
	"github.com/rbright/vakil/internal/logging"
	"github.com/rbright/vakil/internal/metrics"
	"github.com/rbright/vakil/internal/playback"
	"github.com/rbright/vakil/internal/render"
	"github.com/rbright/vakil/internal/session"
	"github.com/rbright/vakil/internal/shell"
	"github.com/rbright/vakil/internal/version"
	"github.com/rbright/vakil/internal/workflow"
	"github.com/rs/zerolog"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2

	forwardTimeout = 220 * time.Millisecond
)

type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Logger replaces the rotating file logger when set.
	Logger *zerolog.Logger
	// Recorder replaces the Pulse recorder when set.
	Recorder capture.Recorder
	// Indicator replaces the desktop indicator when set.
	Indicator session.Indicator
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdin: os.Stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("vakil"))
		return exitUsage
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("vakil"))
		return exitOK
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return exitOK
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}

	logRuntime, err := logging.New(logging.Options{
		Level:      cfgLoaded.Config.Log.Level,
		MaxSizeMB:  cfgLoaded.Config.Log.MaxSizeMB,
		MaxBackups: cfgLoaded.Config.Log.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return exitError
	}
	defer func() { _ = logRuntime.Close() }()

	logger := logRuntime.Logger
	if r.Logger != nil {
		logger = *r.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		// A missing file is logged, not printed.
		if cfgLoaded.Exists {
			fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		}
		logger.Warn().Int("line", w.Line).Str("message", w.Message).Msg("config warning")
	}

	logger.Info().
		Str("command", string(parsed.Command)).
		Str("config", cfgLoaded.Path).
		Str("log", logRuntime.Path).
		Msg("command start")

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, doctor.Probes{})
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return exitOK
		}
		return exitError
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandSamples:
		render.New(r.Stdout, parsed.Plain).Samples(domain.SampleCases)
		return exitOK
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.CommandCancel)
	case cli.CommandReplay:
		return r.forwardOrFail(ctx, ipc.CommandSpeak)
	case cli.CommandComplaint, cli.CommandQuestion, cli.CommandRecord, cli.CommandShell:
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return exitUsage
	}

	rt, err := r.buildRuntime(ctx, cfgLoaded.Config, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error().Err(err).Msg("runtime setup failed")
		return exitError
	}
	defer rt.Close()

	switch parsed.Command {
	case cli.CommandRecord:
		return r.commandRecord(ctx, parsed, cfgLoaded.Config, rt, logger)
	case cli.CommandShell:
		return r.commandShell(ctx, parsed, rt, logger)
	default:
		return r.commandQuery(ctx, parsed, rt)
	}
}

// runtime is the object graph shared by every command that talks to the service.
type runtime struct {
	metrics  *metrics.Metrics
	client   *legalapi.Client
	player   *playback.Player
	capture  *capture.Session
	workflow *workflow.Workflow
	stop     context.CancelFunc
	done     chan struct{}
}

func (r Runner) buildRuntime(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*runtime, error) {
	m := metrics.New()

	client, err := legalapi.New(legalapi.Options{
		BaseURL:       cfg.Service.BaseURL,
		QuestionRoute: legalapi.Route(cfg.Service.QuestionRoute),
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}

	var player *playback.Player
	if cfg.Playback.Enable {
		player = playback.New(playback.Options{
			Resolve:       client.ResolveAudio,
			PlayerCommand: cfg.Playback.PlayerCmd.Argv,
			AutoplayDelay: time.Duration(cfg.Playback.AutoplayDelayMS) * time.Millisecond,
			CacheTTL:      time.Duration(cfg.Playback.CacheTTLMS) * time.Millisecond,
			Logger:        logger,
			Metrics:       m,
		})
	}

	recorder := r.Recorder
	if recorder == nil {
		recorder = audio.NewPulseRecorder(cfg.Audio.Input, cfg.Audio.Fallback, logger)
	}
	captureOpts := capture.Options{OnBytes: m.CaptureBytes}
	if cfg.Debug.EnableAudioDump {
		if dir, err := capture.DebugDir(); err == nil {
			captureOpts.DumpDir = dir
		} else {
			logger.Warn().Err(err).Msg("audio dump disabled")
		}
	}
	captureSession := capture.NewSession(recorder, logger, captureOpts)

	opts := workflow.Options{
		Capture:        captureSession,
		Transcriber:    client,
		Analyzer:       client,
		Defaults:       cfg.Session.Defaults(),
		Timeout:        cfg.Service.Timeout(),
		AutoTranscribe: cfg.Session.AutoTranscribe,
		Logger:         logger,
		Metrics:        m,
	}
	if player != nil {
		opts.Playback = player
	}

	serveCtx, stop := context.WithCancel(ctx)
	rt := &runtime{
		metrics:  m,
		client:   client,
		player:   player,
		capture:  captureSession,
		workflow: workflow.New(opts),
		stop:     stop,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(rt.done)
		if cfg.Metrics.Listen == "" {
			return
		}
		if err := metrics.Serve(serveCtx, cfg.Metrics.Listen, m, logger); err != nil {
			logger.Error().Err(err).Str("addr", cfg.Metrics.Listen).Msg("metrics listener failed")
		}
	}()
	return rt, nil
}

// Close stops playback, cancels in-flight work, and shuts the metrics listener down.
func (rt *runtime) Close() {
	if rt.player != nil {
		rt.player.Reset()
	}
	rt.workflow.Close()
	rt.stop()
	<-rt.done
}

// applyQuery copies command-line query fields onto the workflow session.
func applyQuery(flow *workflow.Workflow, parsed cli.Parsed) error {
	kind := parsed.Kind
	switch parsed.Command {
	case cli.CommandComplaint:
		kind = domain.KindComplaint
	case cli.CommandQuestion:
		kind = domain.KindQuestion
	}
	if kind != "" {
		if err := flow.SetQueryKind(kind); err != nil {
			return err
		}
	}
	if parsed.Sample != "" {
		if err := flow.LoadSample(parsed.Sample); err != nil {
			return err
		}
	}
	if parsed.Text != "" {
		if err := flow.EditText(parsed.Text); err != nil {
			return err
		}
	}
	if parsed.Language != "" {
		if err := flow.SetLanguage(parsed.Language); err != nil {
			return err
		}
	}
	if parsed.Location != "" {
		if err := flow.SetLocation(parsed.Location); err != nil {
			return err
		}
	}

	current := flow.Snapshot().Session
	for _, tag := range parsed.Evidence {
		if current.EvidenceTags.Has(tag) {
			continue
		}
		if _, err := flow.ToggleEvidence(tag); err != nil {
			return err
		}
	}
	for _, tag := range parsed.Aggravating {
		if current.AggravatingTags.Has(tag) {
			continue
		}
		if _, err := flow.ToggleAggravating(tag); err != nil {
			return err
		}
	}
	if parsed.Speak != nil {
		if err := flow.SetWantsSpokenReply(*parsed.Speak); err != nil {
			return err
		}
	}
	return nil
}

func (r Runner) commandQuery(ctx context.Context, parsed cli.Parsed, rt *runtime) int {
	out := render.New(r.Stdout, parsed.Plain)
	errOut := render.New(r.Stderr, parsed.Plain)

	flow := rt.workflow
	if err := applyQuery(flow, parsed); err != nil {
		return r.reportError(errOut, err)
	}
	if err := flow.Submit(ctx); err != nil {
		return r.reportError(errOut, err)
	}

	snap, err := flow.Wait(ctx, func(s workflow.Snapshot) bool { return s.State != fsm.StateSubmitting })
	if err != nil {
		flow.Reset()
		fmt.Fprintln(r.Stderr, "cancelled")
		return exitError
	}
	if snap.Error != nil {
		errOut.Failure(*snap.Error)
		return exitError
	}

	out.Result(snap.Result)
	r.playReply(ctx, rt, snap)
	return exitOK
}

// playReply plays the presented reply in the foreground so the process outlives the clip.
func (r Runner) playReply(ctx context.Context, rt *runtime, snap workflow.Snapshot) {
	if rt.player == nil || !snap.Session.WantsSpokenReply || rt.player.Current() == nil {
		return
	}
	if err := rt.player.Start(ctx); err != nil {
		fmt.Fprintf(r.Stderr, "warning: playback: %v\n", err)
		return
	}
	if err := rt.player.Wait(ctx); err != nil {
		return
	}
	if err := rt.player.Err(); err != nil {
		fmt.Fprintf(r.Stderr, "warning: playback failed: %v\n", err)
	}
}

func (r Runner) reportError(out *render.Renderer, err error) int {
	var failure domain.Failure
	if errors.As(err, &failure) {
		out.Failure(failure)
		return exitError
	}
	fmt.Fprintf(r.Stderr, "error: %v\n", err)
	return exitError
}

func (r Runner) commandShell(ctx context.Context, parsed cli.Parsed, rt *runtime, logger zerolog.Logger) int {
	if err := applyQuery(rt.workflow, parsed); err != nil {
		return r.reportError(render.New(r.Stderr, parsed.Plain), err)
	}

	var player shell.Player
	if rt.player != nil {
		player = rt.player
	}
	in := r.Stdin
	if in == nil {
		in = os.Stdin
	}
	if err := shell.New(rt.workflow, player, in, r.Stdout, parsed.Plain, logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	return exitOK
}

func (r Runner) commandRecord(ctx context.Context, parsed cli.Parsed, cfg config.Config, rt *runtime, logger zerolog.Logger) int {
	errOut := render.New(r.Stderr, parsed.Plain)

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}

	owner := &ipc.Owner{Path: socketPath, ProbeTimeout: 180 * time.Millisecond, Attempts: 8}
	listener, err := owner.Listen(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	defer owner.Release()

	if err := applyQuery(rt.workflow, parsed); err != nil {
		return r.reportError(errOut, err)
	}
	if err := rt.workflow.SetInputMode(domain.InputVoice); err != nil {
		return r.reportError(errOut, err)
	}

	ind := r.Indicator
	if ind == nil {
		desktop := indicator.New(cfg.Indicator, logger, nil)
		defer desktop.Wait()
		ind = desktop
	}
	var replay func(context.Context) error
	if rt.player != nil {
		replay = rt.player.Start
	}
	controller := session.NewController(logger, rt.workflow, ind, replay)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, controller, logger)
	}()

	fmt.Fprintln(r.Stdout, `recording; run "vakil stop" to finish or "vakil cancel" to abort`)
	result := controller.Run(ctx)
	logSessionResult(logger, result)

	exitCode := exitOK
	switch {
	case result.Cancelled:
		fmt.Fprintln(r.Stdout, "cancelled")
	case session.IsEmptyNarrative(result.Err):
		fmt.Fprintln(r.Stderr, "error: no speech detected")
		exitCode = exitError
	case result.Err != nil:
		exitCode = r.reportError(errOut, result.Err)
	default:
		render.New(r.Stdout, parsed.Plain).Result(result.Snapshot.Result)
		r.playReply(ctx, rt, result.Snapshot)
	}

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return exitError
	}
	return exitCode
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return exitError
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	return exitOK
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return exitOK
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	if resp.State == "" {
		resp.State = string(fsm.StateIdle)
	}
	fmt.Fprintln(r.Stdout, resp.State)
	if resp.Kind != "" {
		fmt.Fprintf(r.Stdout, "[%s] %s\n", resp.Kind, resp.Message)
	}
	return exitOK
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: no active vakil session")
		return exitError
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return exitOK
}

func logSessionResult(logger zerolog.Logger, result session.Result) {
	event := logger.Info()
	msg := "session complete"
	if result.Err != nil {
		event = logger.Error().Err(result.Err)
		msg = "session failed"
	}
	event.
		Str("state", string(result.Snapshot.State)).
		Bool("cancelled", result.Cancelled).
		Time("started_at", result.StartedAt).
		Time("finished_at", result.FinishedAt).
		Int64("duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds()).
		Str("audio_device", result.AudioDevice).
		Int64("bytes_captured", result.BytesCaptured).
		Int("narrative_length", len(result.Snapshot.Session.NarrativeText)).
		Int64("transcribe_latency_ms", result.TranscribeLatency.Milliseconds()).
		Int64("submit_latency_ms", result.SubmitLatency.Milliseconds()).
		Msg(msg)
}

// tryForward sends command to a running owner. handled is false when no owner is listening.
func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.IsSocketMissing(err) || ipc.IsConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}
