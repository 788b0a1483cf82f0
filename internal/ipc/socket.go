package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// SocketName is the owner socket file inside XDG_RUNTIME_DIR.
const SocketName = "vakil.sock"

// ErrAlreadyRunning means a live vakil session already answers on the socket.
var ErrAlreadyRunning = errors.New("vakil session already running")

// RuntimeSocketPath returns $XDG_RUNTIME_DIR/vakil.sock.
func RuntimeSocketPath() (string, error) {
	dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if dir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(dir, SocketName), nil
}

// Owner claims the session socket for one recording process.
type Owner struct {
	Path string
	// ProbeTimeout bounds the status probe sent to an existing socket.
	ProbeTimeout time.Duration
	// Attempts is how many times binding is tried after clearing a stale socket.
	Attempts int

	listener net.Listener
}

// Listen binds the socket. A socket left by a dead process is unlinked; one
// whose owner answers yields ErrAlreadyRunning. A probe that neither connects
// nor is refused leaves the file alone.
func (o *Owner) Listen(ctx context.Context) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(o.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}

	attempts := max(o.Attempts, 1)
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*25*time.Millisecond); err != nil {
				return nil, err
			}
		}

		listener, err := net.Listen("unix", o.Path)
		if err == nil {
			_ = os.Chmod(o.Path, 0o600)
			o.listener = listener
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen on %s: %w", o.Path, err)
		}
		lastErr = err

		if err := o.clearStale(ctx); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("claim %s: gave up after %d attempts: %w", o.Path, attempts, lastErr)
}

func (o *Owner) clearStale(ctx context.Context) error {
	alive, err := Probe(ctx, o.Path, o.ProbeTimeout)
	switch {
	case alive:
		return ErrAlreadyRunning
	case err != nil:
		return fmt.Errorf("probe existing socket %s: %w", o.Path, err)
	}
	if err := os.Remove(o.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", o.Path, err)
	}
	return nil
}

// Release closes the listener and unlinks the socket file.
func (o *Owner) Release() {
	if o.listener == nil {
		return
	}
	_ = o.listener.Close()
	_ = os.Remove(o.Path)
	o.listener = nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
