package indicator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rbright/vakil/internal/audio"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueCancel
)

const (
	cueSampleRate = 16000
	cueNoteGap    = 22 * time.Millisecond
	cueMaxRamp    = 5 * time.Millisecond
)

// note is one sine segment of a cue. Level is a fraction of full scale.
type note struct {
	hz    float64
	dur   time.Duration
	level float64
}

// Rising for start and complete, falling for cancel.
var cueScores = map[cueKind][]note{
	cueStart:    {{660, 60 * time.Millisecond, 0.16}, {990, 80 * time.Millisecond, 0.16}},
	cueStop:     {{620, 120 * time.Millisecond, 0.18}},
	cueComplete: {{784, 60 * time.Millisecond, 0.16}, {988, 60 * time.Millisecond, 0.16}, {1319, 110 * time.Millisecond, 0.16}},
	cueCancel:   {{480, 75 * time.Millisecond, 0.18}, {360, 90 * time.Millisecond, 0.18}},
}

var renderedCues = sync.OnceValue(func() map[cueKind][]int16 {
	out := make(map[cueKind][]int16, len(cueScores))
	for kind, score := range cueScores {
		out[kind] = renderScore(score)
	}
	return out
})

func emitCue(ctx context.Context, sink Sink, kind cueKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := renderedCues()[kind]
	if len(samples) == 0 {
		return nil
	}
	return sink.Play(ctx, audio.PCM{SampleRate: cueSampleRate, Channels: 1, Samples: samples})
}

// renderScore concatenates notes with a short silence between them.
func renderScore(score []note) []int16 {
	var pcm []int16
	gap := sampleCount(cueNoteGap)
	for i, n := range score {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, renderNote(n)...)
	}
	return pcm
}

// renderNote produces a sine with linear fade in and out so segments do not click.
func renderNote(n note) []int16 {
	count := sampleCount(n.dur)
	if count == 0 || n.hz <= 0 || n.level <= 0 {
		return nil
	}

	ramp := max(1, min(count/10, sampleCount(cueMaxRamp)))
	step := 2 * math.Pi * n.hz / cueSampleRate
	out := make([]int16, count)
	for i := range out {
		gain := min(1, float64(i)/float64(ramp), float64(count-1-i)/float64(ramp))
		out[i] = int16(math.Round(math.Sin(step*float64(i)) * n.level * gain * math.MaxInt16))
	}
	return out
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
