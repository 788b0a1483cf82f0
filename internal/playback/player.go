// Package playback fetches synthesized replies from the service and plays them one at a time.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rbright/vakil/internal/audio"
	"github.com/rbright/vakil/internal/domain"
	"github.com/rbright/vakil/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	defaultAutoplayDelay = 500 * time.Millisecond
	defaultCacheTTL      = 10 * time.Minute
	maxAudioBytes        = 32 << 20
)

// ErrNothingPresented is returned by Start when no audio reference is bound.
var ErrNothingPresented = errors.New("no audio reply to play")

// Sink plays decoded PCM and blocks until it drains or ctx is cancelled.
type Sink interface {
	Play(ctx context.Context, pcm audio.PCM) error
}

// Resolver maps a service audio reference to an absolute URL.
type Resolver func(ref domain.AudioRef) (string, error)

// Options configures a Player.
type Options struct {
	Resolve       Resolver
	HTTPClient    *http.Client
	Sink          Sink
	PlayerCommand []string
	AutoplayDelay time.Duration
	CacheTTL      time.Duration
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// Player owns at most one presented reference and at most one active clip.
type Player struct {
	resolve Resolver
	http    *http.Client
	sink    Sink
	command []string
	delay   time.Duration
	cache   *cache.Cache
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	current    *domain.AudioRef
	generation uint64
	autoplay   *time.Timer
	cancel     context.CancelFunc
	done       chan struct{}
	active     bool
	lastErr    error
}

// New builds a Player. A nil Sink plays WAV through PulseAudio.
func New(opts Options) *Player {
	delay := opts.AutoplayDelay
	if delay <= 0 {
		delay = defaultAutoplayDelay
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	sink := opts.Sink
	if sink == nil {
		sink = audio.PulseSink{MediaName: "vakil reply"}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	resolve := opts.Resolve
	if resolve == nil {
		resolve = func(ref domain.AudioRef) (string, error) { return ref.URL, nil }
	}

	return &Player{
		resolve: resolve,
		http:    httpClient,
		sink:    sink,
		command: append([]string(nil), opts.PlayerCommand...),
		delay:   delay,
		cache:   cache.New(ttl, 2*ttl),
		logger:  opts.Logger.With().Str("component", "playback").Logger(),
		metrics: opts.Metrics,
	}
}

// Present binds the controls to ref, stopping whatever was playing.
// With autoStart the clip starts once after the autoplay delay.
func (p *Player) Present(ref *domain.AudioRef, autoStart bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.generation++
	p.current = nil
	if ref == nil || ref.URL == "" {
		return
	}
	copied := *ref
	p.current = &copied

	if !autoStart {
		return
	}
	generation := p.generation
	p.autoplay = time.AfterFunc(p.delay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.generation != generation || p.current == nil {
			return
		}
		p.autoplay = nil
		p.startLocked(context.Background())
	})
}

// Current returns the presented reference, or nil.
func (p *Player) Current() *domain.AudioRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	copied := *p.current
	return &copied
}

// Active reports whether a clip is playing.
func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Err returns the failure of the most recent clip, if any.
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Start plays the presented reference in the background, replacing any active clip.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ErrNothingPresented
	}
	p.startLocked(ctx)
	return nil
}

func (p *Player) startLocked(ctx context.Context) {
	if p.autoplay != nil {
		p.autoplay.Stop()
		p.autoplay = nil
	}
	if p.cancel != nil {
		p.cancel()
	}

	ref := *p.current
	previous := p.done
	playCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	generation := p.generation

	p.cancel = cancel
	p.done = done
	p.active = true
	p.lastErr = nil

	go func() {
		defer close(done)
		defer cancel()
		if previous != nil {
			<-previous
		}

		err := p.play(playCtx, ref)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			p.metrics.PlaybackFailure()
			p.logger.Warn().Err(err).Str("url", ref.URL).Msg("playback failed")
		}

		p.mu.Lock()
		if p.done == done {
			p.active = false
			p.cancel = nil
			if p.generation == generation {
				p.lastErr = err
			}
		}
		p.mu.Unlock()
	}()
}

// Stop halts the active clip and any pending autoplay. The reference stays presented.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Reset stops playback and unbinds the presented reference.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.generation++
	p.current = nil
	p.lastErr = nil
}

// Wait blocks until the active clip finishes or ctx is done.
func (p *Player) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Player) stopLocked() {
	if p.autoplay != nil {
		p.autoplay.Stop()
		p.autoplay = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.active = false
}

func (p *Player) play(ctx context.Context, ref domain.AudioRef) error {
	data, err := p.fetch(ctx, ref)
	if err != nil {
		return err
	}

	if audio.IsWAV(data) {
		pcm, err := audio.DecodeWAV(data)
		if err == nil {
			return p.sink.Play(ctx, pcm)
		}
		p.logger.Debug().Err(err).Msg("wav decode failed; falling back to player command")
	}
	return p.playExternal(ctx, data)
}

func (p *Player) fetch(ctx context.Context, ref domain.AudioRef) ([]byte, error) {
	target, err := p.resolve(ref)
	if err != nil {
		return nil, err
	}
	if cached, ok := p.cache.Get(target); ok {
		return cached.([]byte), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build audio request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio %q: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch audio %q: %s", target, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("read audio %q: %w", target, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("audio %q is empty", target)
	}

	p.cache.SetDefault(target, data)
	return data, nil
}

func (p *Player) playExternal(ctx context.Context, data []byte) error {
	if len(p.command) == 0 {
		return errors.New("audio is not WAV and no player command is configured")
	}

	dir, err := os.MkdirTemp("", "vakil-reply-")
	if err != nil {
		return fmt.Errorf("create reply temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "reply.audio")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write reply audio: %w", err)
	}

	args := expandPlayerArgs(p.command[1:], path)
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w (%s)", p.command[0], err, string(output))
	}
	return nil
}

// expandPlayerArgs substitutes {file} with the reply path, or appends the path
// when no argument names it.
func expandPlayerArgs(args []string, path string) []string {
	out := make([]string, 0, len(args)+1)
	substituted := false
	for _, arg := range args {
		if strings.Contains(arg, "{file}") {
			arg = strings.ReplaceAll(arg, "{file}", path)
			substituted = true
		}
		out = append(out, arg)
	}
	if !substituted {
		out = append(out, path)
	}
	return out
}
