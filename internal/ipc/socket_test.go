package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestOwnerListenReplacesDeadSocketFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), SocketName)
	require.NoError(t, os.WriteFile(path, []byte("left over"), 0o600))

	owner := &Owner{Path: path, ProbeTimeout: 50 * time.Millisecond, Attempts: 3}
	listener, err := owner.Listen(context.Background())
	require.NoError(t, err)
	require.NotNil(t, listener)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.ModeSocket, info.Mode()&os.ModeSocket)

	owner.Release()
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
	owner.Release()
}

func TestOwnerListenRefusesLiveSession(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), SocketName)
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, listener, HandlerFunc(func(context.Context, Request) Response {
			return Response{OK: true, State: "capturing"}
		}), zerolog.Nop())
	}()

	owner := &Owner{Path: path, ProbeTimeout: 80 * time.Millisecond, Attempts: 2}
	_, err = owner.Listen(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-served)
}

func TestOwnerListenKeepsSocketWhenProbeTimesOut(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), SocketName)
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)

	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				time.Sleep(250 * time.Millisecond)
			}()
		}
	}()

	owner := &Owner{Path: path, ProbeTimeout: 30 * time.Millisecond}
	_, err = owner.Listen(context.Background())
	require.ErrorContains(t, err, "probe existing socket")
	require.NotErrorIs(t, err, ErrAlreadyRunning)

	_, err = os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, listener.Close())
	<-accepted
}

func TestRuntimeSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	_, err := RuntimeSocketPath()
	require.ErrorContains(t, err, "XDG_RUNTIME_DIR")

	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	path, err := RuntimeSocketPath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, SocketName), path)
}
