package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	// SampleRate is the capture rate used for every recording.
	SampleRate = 16000
	// Channels is the capture channel count.
	Channels = 1

	frameBytes = 640 // 20ms @ 16kHz mono s16
)

// Stream is one open recording pass. Stop releases the device and closes Chunks.
type Stream interface {
	Chunks() <-chan []byte
	Stop() error
	BytesCaptured() int64
	Description() string
}

// Capture streams fixed-size PCM frames from one Pulse source.
type Capture struct {
	device Device

	client *pulse.Client
	stream *pulse.RecordStream

	frames chan []byte
	done   chan struct{}

	mu      sync.Mutex
	partial []byte
	stopped bool

	release sync.Once
	writers sync.WaitGroup
	bytes   atomic.Int64
}

// StartCapture opens a 16kHz mono s16 record stream on device.
// The stream stops when ctx ends or Stop is called.
func StartCapture(ctx context.Context, device Device) (*Capture, error) {
	client, err := newClient("audio-input-microphone")
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	c := newCapture(device)
	c.client = client

	stream, err := client.NewRecord(
		pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(frameBytes),
		pulse.RecordMediaName("vakil query"),
	)
	if err != nil {
		_ = c.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	c.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-c.done:
		}
	}()

	return c, nil
}

func newCapture(device Device) *Capture {
	return &Capture{
		device: device,
		frames: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// Device returns the source this capture reads from.
func (c *Capture) Device() Device {
	return c.device
}

// Description implements Stream.
func (c *Capture) Description() string {
	return c.device.Label()
}

// Chunks returns captured PCM as frameBytes slices; the final slice may be shorter.
func (c *Capture) Chunks() <-chan []byte {
	return c.frames
}

// BytesCaptured reports total PCM bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Stop halts the stream and closes Chunks once every accepted byte, including the
// partial last frame, has been queued. It is idempotent and never waits on the reader.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Stop Pulse before refusing writes so callbacks already in flight are kept.
	c.release.Do(func() {
		if c.stream != nil {
			c.stream.Stop()
			c.stream.Close()
		}
		if c.client != nil {
			c.client.Close()
		}
	})

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.done)
	c.mu.Unlock()

	go c.flush()
	return nil
}

// flush queues the tail after the last writer returns, then closes Chunks.
func (c *Capture) flush() {
	c.writers.Wait()

	c.mu.Lock()
	tail := c.partial
	c.partial = nil
	c.mu.Unlock()

	if len(tail) > 0 {
		c.frames <- tail
	}
	close(c.frames)
}

func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under mu so flush cannot miss a writer that was admitted before Stop.
	c.writers.Add(1)
	c.partial = append(c.partial, buffer...)
	var ready [][]byte
	for len(c.partial) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, c.partial[:frameBytes])
		c.partial = c.partial[frameBytes:]
		ready = append(ready, frame)
	}
	c.bytes.Add(int64(len(buffer)))
	c.mu.Unlock()
	defer c.writers.Done()

	for _, frame := range ready {
		c.frames <- frame
	}
	return len(buffer), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
