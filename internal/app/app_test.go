package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbright/vakil/internal/audio"
	"github.com/rbright/vakil/internal/ipc"
	"github.com/rbright/vakil/internal/session"
	"github.com/rbright/vakil/internal/workflow"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "vakil")
	require.Empty(t, stderr.String())
}

func TestExecuteUsageErrorsExitTwo(t *testing.T) {
	for _, args := range [][]string{
		{"definitely-not-a-command"},
		{"complaint"},
		{"doctor", "--evidence", "CCTV"},
	} {
		var stdout bytes.Buffer
		var stderr bytes.Buffer

		exitCode := Execute(context.Background(), args, &stdout, &stderr)
		require.Equal(t, 2, exitCode, args)
		require.Contains(t, stderr.String(), "error:", args)
		require.Contains(t, stderr.String(), "Usage:", args)
	}
}

func TestRunnerInvalidConfigExitsOne(t *testing.T) {
	paths := setupRunnerEnv(t, `{"service": {"base_url": "ftp://nope"}}`)

	var stderr bytes.Buffer
	runner := Runner{Stdout: io.Discard, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "samples"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid configuration")
}

func TestRunnerSamplesListsBuiltInCases(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: io.Discard}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "--no-color", "samples"})
	require.Equal(t, 0, exitCode)
	for _, name := range []string{"theft", "assault", "cyber"} {
		require.Contains(t, stdout.String(), name)
	}
}

func TestRunnerComplaintPrintsAnalysis(t *testing.T) {
	var got map[string]any
	service := newServiceStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/legal", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"success": true, "legal_analysis": {"summary": "Theft of a mobile phone.", "confidence": "high"}}`)
	})
	paths := setupRunnerEnv(t, serviceConfig(service.URL))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{
		"--config", paths.configPath, "--no-color",
		"complaint", "my", "phone", "was", "stolen",
		"--evidence", "cctv", "--location", "Delhi",
	})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "Theft of a mobile phone.")

	require.Equal(t, "my phone was stolen", got["narrative"])
	require.Equal(t, "Delhi", got["location_state"])
	require.Equal(t, []any{"CCTV"}, got["evidence_available"])
	require.Equal(t, true, got["is_complaint"])
}

func TestRunnerSampleComplaintKeepsSampleTags(t *testing.T) {
	var got map[string]any
	service := newServiceStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"success": true, "legal_analysis": {"summary": "ok"}}`)
	})
	paths := setupRunnerEnv(t, serviceConfig(service.URL))

	runner := Runner{Stdout: io.Discard, Stderr: io.Discard}
	exitCode := runner.Execute(context.Background(), []string{
		"--config", paths.configPath,
		"complaint", "--sample", "theft", "--evidence", "CCTV,FSL",
	})
	require.Equal(t, 0, exitCode)
	require.ElementsMatch(t, []any{"CCTV", "eyewitness", "FSL"}, got["evidence_available"])
}

func TestRunnerQuestionUsesChatRoute(t *testing.T) {
	service := newServiceStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		_, _ = io.WriteString(w, `{"success": true, "response": "It depends on the value."}`)
	})
	paths := setupRunnerEnv(t, serviceConfig(service.URL))

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: io.Discard}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "question", "is", "theft", "bailable?"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "It depends on the value.")
}

func TestRunnerServiceFailureIsReportedVerbatim(t *testing.T) {
	service := newServiceStub(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"success": false, "error": "rate limited"}`)
	})
	paths := setupRunnerEnv(t, serviceConfig(service.URL))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "--no-color", "complaint", "stolen bicycle"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "[AnalysisFailed] rate limited")
	require.Empty(t, stdout.String())
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	var stderr bytes.Buffer
	runner := Runner{Stdout: io.Discard, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active vakil session")
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")
	commands := make(chan string, 8)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "vakil.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "capturing"}
		case ipc.CommandStop, ipc.CommandCancel, ipc.CommandSpeak:
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	for _, cmd := range []string{"status", "stop", "cancel", "replay"} {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd})
		require.Equal(t, 0, exitCode, cmd)
		require.Empty(t, stderr.String(), cmd)
	}

	got := []string{<-commands, <-commands, <-commands, <-commands}
	require.Equal(t, []string{"status", "stop", "cancel", "speak"}, got)
}

func TestRunnerStatusPrintsFailureKind(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "vakil.sock"), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "failed", Kind: "timeout", Message: "no answer"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: io.Discard}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "failed\n[timeout] no answer\n", stdout.String())
}

func TestRunnerStatusFallsBackToIdleWhenServerStateEmpty(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "vakil.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: true}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "vakil.sock")
	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		if req.Command == ipc.CommandStatus {
			return ipc.Response{OK: true, State: "submitting"}
		}
		return ipc.Response{OK: false, Error: "unsupported"}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "submitting", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.CommandCancel)
	require.True(t, handled)
	require.ErrorContains(t, err, "unsupported")
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "vakil.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "vakil.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.ErrorContains(t, err, `forward command "status":`)

	<-done
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t, `{"service": {"base_url": "http://127.0.0.1:1"}, "indicator": {"enable": false}, "playback": {"enable": false}}`)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: io.Discard}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "[OK] config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] service.http")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t, "{}")
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stderr bytes.Buffer
	runner := Runner{Stdout: io.Discard, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerRecordOwnerPathFailsWithoutMicrophone(t *testing.T) {
	paths := setupRunnerEnv(t, serviceConfig("http://127.0.0.1:1"))

	var stderr bytes.Buffer
	runner := Runner{
		Stdout:    io.Discard,
		Stderr:    &stderr,
		Recorder:  &stubRecorder{probeErr: fmt.Errorf("no source")},
		Indicator: nopIndicator{},
	}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "--no-color", "record"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "[PermissionError]")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "vakil.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerRecordStopTranscribesAndSubmits(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	service := newServiceStub(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/api/transcribe":
			_, _ = io.WriteString(w, `{"success": true, "transcription": "what is the punishment for theft"}`)
		case "/api/chat":
			_, _ = io.WriteString(w, `{"success": true, "response": "Up to three years."}`)
		default:
			http.NotFound(w, r)
		}
	})
	env := setupRunnerEnv(t, serviceConfig(service.URL))

	var stdout syncBuffer
	var stderr syncBuffer
	runner := Runner{
		Stdout:    &stdout,
		Stderr:    &stderr,
		Recorder:  &stubRecorder{chunk: bytes.Repeat([]byte{1, 0}, 1600)},
		Indicator: nopIndicator{},
	}

	done := make(chan int, 1)
	go func() {
		done <- runner.Execute(context.Background(), []string{"--config", env.configPath, "--no-color", "record", "--kind", "question"})
	}()

	socketPath := filepath.Join(env.runtimeDir, "vakil.sock")
	require.Eventually(t, func() bool {
		resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
		return handled && err == nil && resp.State == "capturing"
	}, 3*time.Second, 20*time.Millisecond)

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStop)
	require.True(t, handled)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Message)

	select {
	case code := <-done:
		require.Equal(t, 0, code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("record did not finish")
	}

	require.Contains(t, stdout.String(), "Up to three years.")
	mu.Lock()
	require.Equal(t, []string{"/api/transcribe", "/api/chat"}, paths)
	mu.Unlock()
}

func TestLogSessionResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := zerolog.New(&logBuf)

	started := time.Now()
	finished := started.Add(1500 * time.Millisecond)

	logSessionResult(logger, session.Result{
		StartedAt:     started,
		FinishedAt:    finished,
		AudioDevice:   "Mic",
		BytesCaptured: 123,
		SubmitLatency: 20 * time.Millisecond,
	})
	require.Contains(t, logBuf.String(), "session complete")
	require.Contains(t, logBuf.String(), `"duration_ms":1500`)
	require.Contains(t, logBuf.String(), `"bytes_captured":123`)

	logBuf.Reset()
	logSessionResult(logger, session.Result{
		Snapshot:   workflow.Snapshot{},
		StartedAt:  started,
		FinishedAt: finished,
		Err:        fmt.Errorf("boom"),
	})
	require.Contains(t, logBuf.String(), "session failed")
	require.Contains(t, logBuf.String(), "boom")
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func setupRunnerEnv(t *testing.T, config string) runnerPaths {
	t.Helper()

	t.Setenv("XDG_STATE_HOME", t.TempDir())
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func serviceConfig(baseURL string) string {
	return fmt.Sprintf(`{
  // test service
  "service": {"base_url": %q, "timeout_ms": 5000},
  "playback": {"enable": false},
  "indicator": {"enable": false},
}`, baseURL)
}

func newServiceStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler), zerolog.Nop())
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

type stubRecorder struct {
	probeErr error
	chunk    []byte
}

func (r *stubRecorder) Probe(context.Context) (string, error) {
	if r.probeErr != nil {
		return "", r.probeErr
	}
	return "Stub Mic", nil
}

func (r *stubRecorder) Open(context.Context) (audio.Stream, error) {
	stream := &stubStream{chunks: make(chan []byte, 1), bytes: int64(len(r.chunk))}
	stream.chunks <- r.chunk
	return stream, nil
}

type stubStream struct {
	chunks chan []byte
	bytes  int64
	once   sync.Once
}

func (s *stubStream) Chunks() <-chan []byte { return s.chunks }
func (s *stubStream) BytesCaptured() int64  { return s.bytes }
func (s *stubStream) Description() string   { return "Stub Mic" }

func (s *stubStream) Stop() error {
	s.once.Do(func() { close(s.chunks) })
	return nil
}

type nopIndicator struct{}

func (nopIndicator) ShowRecording(context.Context)     {}
func (nopIndicator) ShowTranscribing(context.Context)  {}
func (nopIndicator) ShowSubmitting(context.Context)    {}
func (nopIndicator) ShowError(context.Context, string) {}
func (nopIndicator) CueStop(context.Context)           {}
func (nopIndicator) CueComplete(context.Context)       {}
func (nopIndicator) CueCancel(context.Context)         {}
func (nopIndicator) Hide(context.Context)              {}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Clone(b.buf.String())
}
