// Package doctor runs readiness diagnostics for config, audio, tools, and the legal research service.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/vakil/internal/audio"
	"github.com/rbright/vakil/internal/config"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes are the live environment lookups a doctor run performs.
type Probes struct {
	SelectDevice func(ctx context.Context, input, fallback string) (audio.Selection, error)
	HTTPClient   *http.Client
}

func (p Probes) withDefaults() Probes {
	if p.SelectDevice == nil {
		p.SelectDevice = audio.SelectDevice
	}
	if p.HTTPClient == nil {
		p.HTTPClient = &http.Client{Timeout: probeTimeout}
	}
	return p
}

// Run executes environment, config, and service checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, probes Probes) Report {
	probes = probes.withDefaults()
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkAudioSelection(ctx, cfg.Audio, probes.SelectDevice))
	checks = append(checks, checkServiceHTTP(ctx, cfg.Service, probes.HTTPClient))
	if strings.TrimSpace(cfg.Service.GRPCHealth) != "" {
		checks = append(checks, checkServiceGRPC(ctx, cfg.Service.GRPCHealth))
	}
	if cfg.Indicator.Enable && strings.EqualFold(strings.TrimSpace(cfg.Indicator.Backend), "desktop") {
		checks = append(checks, checkBinary("busctl", "desktop notifications"))
	}
	if cfg.Playback.Enable {
		checks = append(checks, checkCommand(cfg.Playback.PlayerCmd.Argv, "playback.player_cmd"))
	}

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 {
		message = fmt.Sprintf("%s with %d warning(s)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.AudioConfig, selectDevice func(context.Context, string, string) (audio.Selection, error)) Check {
	selection, err := selectDevice(ctx, cfg.Input, cfg.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkServiceHTTP probes the service health path. Any response below 500 means the service is up.
func checkServiceHTTP(ctx context.Context, cfg config.ServiceConfig, client *http.Client) Check {
	const name = "service.http"
	url := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + cfg.HealthPath

	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("invalid health URL %q: %v", url, err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
}

// checkServiceGRPC asks the standard gRPC health service for overall status.
func checkServiceGRPC(ctx context.Context, target string) Check {
	const name = "service.grpc_health"
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("dial %q: %v", target, err)}
	}
	defer conn.Close()

	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(checkCtx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("health check %q: %v", target, err)}
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s reports %s", target, resp.GetStatus())}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is serving", target)}
}
