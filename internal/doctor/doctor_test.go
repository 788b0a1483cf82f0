package doctor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rbright/vakil/internal/audio"
	"github.com/rbright/vakil/internal/config"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func fakeSelection(id string, warning string) func(context.Context, string, string) (audio.Selection, error) {
	return func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{Device: audio.Device{ID: id}, Warning: warning}, nil
	}
}

func startHealthServer(t *testing.T, status grpc_health_v1.HealthCheckResponse_ServingStatus) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", status)
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return lis.Addr().String()
}

func findCheck(t *testing.T, report Report, name string) Check {
	t.Helper()
	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("check %q not in report: %+v", name, report.Checks)
	return Check{}
}

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
	require.True(t, Report{Checks: []Check{{Name: "one", Pass: true}}}.OK())
}

func TestCheckCommand(t *testing.T) {
	require.Contains(t, checkCommand(nil, "playback.player_cmd").Message, "command is empty")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake-player"), []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	check := checkCommand([]string{"fake-player", "--volume", "0.5"}, "playback.player_cmd")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "playback.player_cmd command is available")

	missing := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, missing.Pass)
	require.Contains(t, missing.Message, "binary not found")
}

func TestCheckServiceHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default().Service
	cfg.BaseURL = server.URL + "/"
	cfg.HealthPath = "/"
	check := checkServiceHTTP(context.Background(), cfg, server.Client())
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 200")

	cfg.HealthPath = "/down"
	check = checkServiceHTTP(context.Background(), cfg, server.Client())
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 503")
}

func TestCheckServiceHTTPUnreachable(t *testing.T) {
	cfg := config.Default().Service
	cfg.BaseURL = "http://127.0.0.1:1"
	check := checkServiceHTTP(context.Background(), cfg, http.DefaultClient)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "request failed")
}

func TestCheckServiceGRPC(t *testing.T) {
	serving := checkServiceGRPC(context.Background(), startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING))
	require.True(t, serving.Pass, serving.Message)

	notServing := checkServiceGRPC(context.Background(), startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING))
	require.False(t, notServing.Pass)
	require.Contains(t, notServing.Message, "NOT_SERVING")
}

func TestCheckAudioSelection(t *testing.T) {
	check := checkAudioSelection(context.Background(), config.AudioConfig{}, fakeSelection("alsa_input.usb", "input \"default\" is muted; using \"alsa_input.usb\""))
	require.True(t, check.Pass)
	require.Contains(t, check.Message, `selected "alsa_input.usb"`)
	require.Contains(t, check.Message, "muted")

	failed := checkAudioSelection(context.Background(), config.AudioConfig{}, func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{}, errors.New("connect pulse server: refused")
	})
	require.False(t, failed.Pass)
	require.Equal(t, "audio.device", failed.Name)
}

func TestRunSelectsChecksFromConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	binDir := t.TempDir()
	for _, name := range []string{"busctl", "fake-player"} {
		require.NoError(t, os.WriteFile(filepath.Join(binDir, name), []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	}
	t.Setenv("PATH", binDir+":"+os.Getenv("PATH"))

	cfg := config.Default()
	cfg.Service.BaseURL = server.URL
	cfg.Service.GRPCHealth = startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
	cfg.Playback.PlayerCmd = config.CommandConfig{Raw: "fake-player", Argv: []string{"fake-player"}}

	report := Run(context.Background(), config.Loaded{Path: "/tmp/vakil.jsonc", Config: cfg, Exists: true}, Probes{
		SelectDevice: fakeSelection("default", ""),
		HTTPClient:   server.Client(),
	})

	require.True(t, report.OK(), report.String())
	require.Contains(t, findCheck(t, report, "config").Message, `loaded "/tmp/vakil.jsonc"`)
	require.Contains(t, findCheck(t, report, "service.http").Message, "HTTP 404")
	findCheck(t, report, "service.grpc_health")
	findCheck(t, report, "busctl")
	findCheck(t, report, "fake-player")
}

func TestRunSkipsOptionalChecks(t *testing.T) {
	cfg := config.Default()
	cfg.Service.BaseURL = "http://127.0.0.1:1"
	cfg.Indicator.Backend = "none"
	cfg.Playback.Enable = false

	report := Run(context.Background(), config.Loaded{Path: "/tmp/missing.jsonc", Config: cfg}, Probes{
		SelectDevice: fakeSelection("default", ""),
	})

	require.False(t, report.OK())
	require.Len(t, report.Checks, 3)
	require.Contains(t, findCheck(t, report, "config").Message, "using defaults")
}
