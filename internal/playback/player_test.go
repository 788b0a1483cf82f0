package playback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rbright/vakil/internal/audio"
	"github.com/rbright/vakil/internal/domain"
	"github.com/rbright/vakil/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	played  []audio.PCM
	block   bool
	started chan struct{}
	stopped chan struct{}
}

func newRecordingSink(block bool) *recordingSink {
	return &recordingSink{
		block:   block,
		started: make(chan struct{}, 8),
		stopped: make(chan struct{}, 8),
	}
}

func (s *recordingSink) Play(ctx context.Context, pcm audio.PCM) error {
	s.mu.Lock()
	s.played = append(s.played, pcm)
	s.mu.Unlock()
	s.started <- struct{}{}

	if s.block {
		<-ctx.Done()
		s.stopped <- struct{}{}
		return ctx.Err()
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

func wavBody() []byte {
	return audio.EncodeWAV(audio.SamplesToBytes([]int16{10, -10, 20, -20}), 16000, 1)
}

func newAudioServer(t *testing.T, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.wav" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func newTestPlayer(server *httptest.Server, sink Sink, m *metrics.Metrics) *Player {
	return New(Options{
		Resolve: func(ref domain.AudioRef) (string, error) {
			return server.URL + ref.URL, nil
		},
		Sink:          sink,
		AutoplayDelay: 10 * time.Millisecond,
		Logger:        zerolog.Nop(),
		Metrics:       m,
	})
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink")
	}
}

func TestStartWithoutPresentedReference(t *testing.T) {
	server, _ := newAudioServer(t, wavBody())
	player := newTestPlayer(server, newRecordingSink(false), nil)

	require.ErrorIs(t, player.Start(context.Background()), ErrNothingPresented)

	player.Present(nil, true)
	require.Nil(t, player.Current())
	require.ErrorIs(t, player.Start(context.Background()), ErrNothingPresented)
}

func TestStartPlaysWAVAndCachesFetch(t *testing.T) {
	server, hits := newAudioServer(t, wavBody())
	sink := newRecordingSink(false)
	player := newTestPlayer(server, sink, nil)

	player.Present(&domain.AudioRef{URL: "/reply.wav"}, false)
	require.Equal(t, "/reply.wav", player.Current().URL)

	require.NoError(t, player.Start(context.Background()))
	waitSignal(t, sink.started)
	require.NoError(t, player.Wait(context.Background()))

	require.NoError(t, player.Start(context.Background()))
	waitSignal(t, sink.started)
	require.NoError(t, player.Wait(context.Background()))

	require.Equal(t, 2, sink.count())
	require.Equal(t, int32(1), hits.Load())
	require.False(t, player.Active())
	require.NoError(t, player.Err())

	sink.mu.Lock()
	require.Equal(t, []int16{10, -10, 20, -20}, sink.played[0].Samples)
	sink.mu.Unlock()
}

func TestAutoplayStartsOnceAfterDelay(t *testing.T) {
	server, _ := newAudioServer(t, wavBody())
	sink := newRecordingSink(false)
	player := newTestPlayer(server, sink, nil)

	player.Present(&domain.AudioRef{URL: "/reply.wav"}, true)
	waitSignal(t, sink.started)
	require.NoError(t, player.Wait(context.Background()))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, sink.count())
}

func TestResetCancelsPendingAutoplay(t *testing.T) {
	server, hits := newAudioServer(t, wavBody())
	sink := newRecordingSink(false)
	player := New(Options{
		Resolve:       func(ref domain.AudioRef) (string, error) { return server.URL + ref.URL, nil },
		Sink:          sink,
		AutoplayDelay: 100 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})

	player.Present(&domain.AudioRef{URL: "/reply.wav"}, true)
	player.Reset()
	require.Nil(t, player.Current())

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 0, sink.count())
	require.Equal(t, int32(0), hits.Load())
}

func TestPresentingNewReferenceStopsCurrentClip(t *testing.T) {
	server, _ := newAudioServer(t, wavBody())
	sink := newRecordingSink(true)
	player := newTestPlayer(server, sink, nil)

	player.Present(&domain.AudioRef{URL: "/first.wav"}, false)
	require.NoError(t, player.Start(context.Background()))
	waitSignal(t, sink.started)
	require.True(t, player.Active())

	player.Present(&domain.AudioRef{URL: "/second.wav"}, false)
	waitSignal(t, sink.stopped)
	require.NoError(t, player.Wait(context.Background()))
	require.False(t, player.Active())
	require.Equal(t, "/second.wav", player.Current().URL)
	require.NoError(t, player.Err())
}

func TestStopKeepsReferencePresented(t *testing.T) {
	server, _ := newAudioServer(t, wavBody())
	sink := newRecordingSink(true)
	player := newTestPlayer(server, sink, nil)

	player.Present(&domain.AudioRef{URL: "/reply.wav"}, false)
	require.NoError(t, player.Start(context.Background()))
	waitSignal(t, sink.started)

	player.Stop()
	waitSignal(t, sink.stopped)
	require.NotNil(t, player.Current())
	require.False(t, player.Active())
}

func TestFetchFailureIsCountedNotRetried(t *testing.T) {
	server, hits := newAudioServer(t, wavBody())
	m := metrics.New()
	sink := newRecordingSink(false)
	player := newTestPlayer(server, sink, m)

	player.Present(&domain.AudioRef{URL: "/missing.wav"}, true)
	require.Eventually(t, func() bool { return player.Err() != nil }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, player.Wait(context.Background()))

	require.Contains(t, player.Err().Error(), "404")
	require.Equal(t, float64(1), testutil.ToFloat64(m.PlaybackFailures()))
	require.Equal(t, int32(1), hits.Load())
	require.Equal(t, 0, sink.count())
}

func TestNonWAVUsesPlayerCommand(t *testing.T) {
	server, _ := newAudioServer(t, []byte("ID3 not really an mp3"))
	out := filepath.Join(t.TempDir(), "played")
	sink := newRecordingSink(false)
	player := New(Options{
		Resolve:       func(ref domain.AudioRef) (string, error) { return server.URL + ref.URL, nil },
		Sink:          sink,
		PlayerCommand: []string{"sh", "-c", `cp "$1" "` + out + `"`, "sh"},
		Logger:        zerolog.Nop(),
	})

	player.Present(&domain.AudioRef{URL: "/reply.mp3"}, false)
	require.NoError(t, player.Start(context.Background()))
	require.NoError(t, player.Wait(context.Background()))
	require.NoError(t, player.Err())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "ID3 not really an mp3", string(data))
	require.Equal(t, 0, sink.count())
}

func TestExpandPlayerArgs(t *testing.T) {
	require.Equal(t, []string{"--quiet", "/tmp/r.audio"}, expandPlayerArgs([]string{"--quiet"}, "/tmp/r.audio"))
	require.Equal(t, []string{"/tmp/r.audio"}, expandPlayerArgs(nil, "/tmp/r.audio"))
	require.Equal(t,
		[]string{"--input=/tmp/r.audio", "--loop=no"},
		expandPlayerArgs([]string{"--input={file}", "--loop=no"}, "/tmp/r.audio"),
	)
}

func TestNonWAVWithoutPlayerCommandFails(t *testing.T) {
	server, _ := newAudioServer(t, []byte("OggS"))
	player := newTestPlayer(server, newRecordingSink(false), nil)

	player.Present(&domain.AudioRef{URL: "/reply.ogg"}, false)
	require.NoError(t, player.Start(context.Background()))
	require.NoError(t, player.Wait(context.Background()))
	require.ErrorContains(t, player.Err(), "no player command")
}
