// Package shell is a line-oriented terminal front end over one workflow.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rbright/vakil/internal/capture"
	"github.com/rbright/vakil/internal/domain"
	"github.com/rbright/vakil/internal/fsm"
	"github.com/rbright/vakil/internal/render"
	"github.com/rbright/vakil/internal/workflow"
	"github.com/rs/zerolog"
)

const prompt = "vakil> "

// Flow is the workflow surface the shell drives.
type Flow interface {
	Snapshot() workflow.Snapshot
	Changed() <-chan struct{}
	SetInputMode(domain.InputMode) error
	SetLanguage(domain.Language) error
	SetQueryKind(domain.QueryKind) error
	SetLocation(string) error
	ToggleEvidence(string) (bool, error)
	ToggleAggravating(string) (bool, error)
	SetWantsSpokenReply(bool) error
	EditText(string) error
	LoadSample(string) error
	RequestPermission(context.Context) (capture.PermissionState, error)
	StartCapture(context.Context) error
	StopCapture(context.Context) error
	Transcribe(context.Context) error
	Submit(context.Context) error
	DismissError()
	Reset()
}

// Player is the playback control surface.
type Player interface {
	Start(context.Context) error
	Stop()
}

// Shell reads commands from in and renders workflow changes to out.
type Shell struct {
	flow     Flow
	player   Player
	in       io.Reader
	logger   zerolog.Logger
	mu       sync.Mutex
	renderer *render.Renderer
	out      io.Writer
}

// New builds a shell. player may be nil when playback is disabled.
func New(flow Flow, player Player, in io.Reader, out io.Writer, plain bool, logger zerolog.Logger) *Shell {
	return &Shell{
		flow:     flow,
		player:   player,
		in:       in,
		out:      out,
		renderer: render.New(out, plain),
		logger:   logger.With().Str("component", "shell").Logger(),
	}
}

type command struct {
	usage string
	help  string
	run   func(s *Shell, ctx context.Context, arg string) error
}

var errQuit = errors.New("quit")

var commands map[string]command

var commandOrder = []string{
	"text", "append", "kind", "lang", "mode", "location", "evidence", "aggravating", "speak", "sample",
	"perm", "rec", "stop", "transcribe", "submit", "play", "pause", "dismiss", "reset", "show", "help", "quit",
}

func init() {
	commands = map[string]command{
		"text":        {"text <narrative>", "replace the narrative", cmdText},
		"append":      {"append <words>", "append to the narrative", cmdAppend},
		"kind":        {"kind complaint|question", "set the query kind", cmdKind},
		"lang":        {"lang auto|english|hindi|tamil", "set the language", cmdLang},
		"mode":        {"mode text|voice", "set the input mode", cmdMode},
		"location":    {"location <place>", "set the location hint (empty clears)", cmdLocation},
		"evidence":    {"evidence <tag>", "toggle an evidence tag", cmdEvidence},
		"aggravating": {"aggravating <tag>", "toggle an aggravating factor", cmdAggravating},
		"speak":       {"speak on|off", "request a spoken reply", cmdSpeak},
		"sample":      {"sample <name>", "load a built-in sample case", cmdSample},
		"perm":        {"perm", "request microphone access", cmdPermission},
		"rec":         {"rec", "start recording", cmdRecord},
		"stop":        {"stop", "stop recording", cmdStop},
		"transcribe":  {"transcribe", "transcribe the last recording", cmdTranscribe},
		"submit":      {"submit", "send the query", cmdSubmit},
		"play":        {"play", "play the spoken reply", cmdPlay},
		"pause":       {"pause", "stop the spoken reply", cmdPause},
		"dismiss":     {"dismiss", "clear the error", cmdDismiss},
		"reset":       {"reset", "start over", cmdReset},
		"show":        {"show", "print the current state", cmdShow},
		"help":        {"help", "list commands", cmdHelp},
		"quit":        {"quit", "leave the shell", cmdQuit},
	}
}

// Run processes commands until quit, end of input, or ctx cancellation.
func (s *Shell) Run(ctx context.Context) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watch(watchCtx)
	}()
	defer func() {
		stopWatch()
		wg.Wait()
	}()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-watchCtx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	s.printf("%s", prompt)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			if err := s.Exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				s.printf("error: %v\n", err)
			}
			s.printf("%s", prompt)
		}
	}
}

// Exec runs a single command line.
func (s *Shell) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	name, arg, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", name)
	}
	s.logger.Debug().Str("command", name).Msg("shell command")
	return cmd.run(s, ctx, strings.TrimSpace(arg))
}

// watch renders state changes, errors, and results as they arrive.
func (s *Shell) watch(ctx context.Context) {
	changed := s.flow.Changed()
	last := s.flow.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
		changed = s.flow.Changed()
		snap := s.flow.Snapshot()
		s.mu.Lock()
		s.announce(last, snap)
		s.mu.Unlock()
		last = snap
	}
}

func (s *Shell) announce(prev, next workflow.Snapshot) {
	switch {
	case next.Error != nil && (prev.Error == nil || *prev.Error != *next.Error):
		fmt.Fprintln(s.out)
		s.renderer.Failure(*next.Error)
	case next.State == fsm.StateResulted && prev.State != fsm.StateResulted:
		fmt.Fprintln(s.out)
		s.renderer.Result(next.Result)
	case next.State != prev.State && next.State.Busy():
		fmt.Fprintf(s.out, "\n[%s]\n", next.State)
	case prev.State == fsm.StateTranscribing && next.State == fsm.StateComposing:
		fmt.Fprintf(s.out, "\ntranscribed: %s\n", next.Session.NarrativeText)
	}
}

func (s *Shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func cmdText(s *Shell, _ context.Context, arg string) error {
	return s.flow.EditText(arg)
}

func cmdAppend(s *Shell, _ context.Context, arg string) error {
	current := strings.TrimSpace(s.flow.Snapshot().Session.NarrativeText)
	if current != "" && arg != "" {
		arg = current + " " + arg
	} else if arg == "" {
		arg = current
	}
	return s.flow.EditText(arg)
}

func cmdKind(s *Shell, _ context.Context, arg string) error {
	kind, err := domain.ParseQueryKind(arg)
	if err != nil {
		return err
	}
	return s.flow.SetQueryKind(kind)
}

func cmdLang(s *Shell, _ context.Context, arg string) error {
	language, err := domain.ParseLanguage(arg)
	if err != nil {
		return err
	}
	return s.flow.SetLanguage(language)
}

func cmdMode(s *Shell, _ context.Context, arg string) error {
	mode, err := domain.ParseInputMode(arg)
	if err != nil {
		return err
	}
	return s.flow.SetInputMode(mode)
}

func cmdLocation(s *Shell, _ context.Context, arg string) error {
	return s.flow.SetLocation(arg)
}

func cmdEvidence(s *Shell, _ context.Context, arg string) error {
	on, err := s.flow.ToggleEvidence(arg)
	if err != nil {
		return err
	}
	s.printf("evidence %q %s\n", arg, onOff(on))
	return nil
}

func cmdAggravating(s *Shell, _ context.Context, arg string) error {
	on, err := s.flow.ToggleAggravating(arg)
	if err != nil {
		return err
	}
	s.printf("aggravating %q %s\n", arg, onOff(on))
	return nil
}

func cmdSpeak(s *Shell, _ context.Context, arg string) error {
	switch strings.ToLower(arg) {
	case "on", "yes", "true":
		return s.flow.SetWantsSpokenReply(true)
	case "off", "no", "false":
		return s.flow.SetWantsSpokenReply(false)
	default:
		return fmt.Errorf("usage: %s", commands["speak"].usage)
	}
}

func cmdSample(s *Shell, _ context.Context, arg string) error {
	if arg == "" {
		s.mu.Lock()
		s.renderer.Samples(domain.SampleCases)
		s.mu.Unlock()
		return nil
	}
	return s.flow.LoadSample(arg)
}

func cmdPermission(s *Shell, ctx context.Context, _ string) error {
	state, err := s.flow.RequestPermission(ctx)
	if err != nil {
		return err
	}
	s.printf("microphone %s\n", state)
	return nil
}

func cmdRecord(s *Shell, ctx context.Context, _ string) error {
	if s.flow.Snapshot().Permission != capture.PermissionGranted {
		if _, err := s.flow.RequestPermission(ctx); err != nil {
			return err
		}
	}
	return s.flow.StartCapture(ctx)
}

func cmdStop(s *Shell, ctx context.Context, _ string) error {
	return s.flow.StopCapture(ctx)
}

func cmdTranscribe(s *Shell, ctx context.Context, _ string) error {
	return s.flow.Transcribe(ctx)
}

func cmdSubmit(s *Shell, ctx context.Context, _ string) error {
	return s.flow.Submit(ctx)
}

func cmdPlay(s *Shell, ctx context.Context, _ string) error {
	if s.player == nil {
		return errors.New("playback is disabled")
	}
	return s.player.Start(ctx)
}

func cmdPause(s *Shell, _ context.Context, _ string) error {
	if s.player != nil {
		s.player.Stop()
	}
	return nil
}

func cmdDismiss(s *Shell, _ context.Context, _ string) error {
	s.flow.DismissError()
	return nil
}

func cmdReset(s *Shell, _ context.Context, _ string) error {
	s.flow.Reset()
	return nil
}

func cmdShow(s *Shell, _ context.Context, _ string) error {
	snap := s.flow.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderer.Snapshot(snap)
	if snap.State == fsm.StateResulted {
		s.renderer.Result(snap.Result)
	}
	return nil
}

func cmdHelp(s *Shell, _ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Fprintf(s.out, "  %-32s %s\n", cmd.usage, cmd.help)
	}
	return nil
}

func cmdQuit(*Shell, context.Context, string) error {
	return errQuit
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
