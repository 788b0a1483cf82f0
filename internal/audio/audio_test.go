package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPickDeviceDefaultSource(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := pickDevice(devices, "default", "default")
	require.NoError(t, err)
	require.Equal(t, "elgato", selection.Device.ID)
	require.Empty(t, selection.Warning)
	require.False(t, selection.Fallback)
}

func TestPickDeviceMutedPrimaryUsesFallback(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Muted: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := pickDevice(devices, "elgato", "sony")
	require.NoError(t, err)
	require.Equal(t, "sony", selection.Device.ID)
	require.Contains(t, selection.Warning, "muted")
	require.True(t, selection.Fallback)
}

func TestPickDeviceFailsWhenOnlySourceMuted(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Muted: true, Default: true},
	}

	_, err := pickDevice(devices, "default", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "muted")
}

func TestPickDeviceUnavailablePrimaryMissingFallback(t *testing.T) {
	devices := []Device{
		{ID: "usb-mic", Description: "USB Mic", Available: false, Default: true},
	}

	_, err := pickDevice(devices, "usb", "headset")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unavailable")
	require.Contains(t, err.Error(), "did not match")
}

func TestPickDeviceUnknownInput(t *testing.T) {
	devices := []Device{{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true}}

	_, err := pickDevice(devices, "missing", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not match")

	_, err = pickDevice(nil, "default", "default")
	require.ErrorIs(t, err, ErrNoDevices)
}

func TestDeviceMatchesAndLabel(t *testing.T) {
	dev := Device{ID: "alsa_input.usb-elgato", Description: "Elgato Wave 3 Mono"}
	require.True(t, deviceMatches(dev, "elgato"))
	require.True(t, deviceMatches(dev, "wave 3"))
	require.False(t, deviceMatches(dev, "missing"))
	require.False(t, deviceMatches(dev, ""))

	require.Equal(t, "Elgato Wave 3 Mono", dev.Label())
	require.Equal(t, "raw-id", Device{ID: "raw-id"}.Label())
}

func TestListDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListDevices(context.Background())
	require.Error(t, err)

	_, err = SelectDevice(context.Background(), "default", "default")
	require.Error(t, err)
}

func TestSourceStateString(t *testing.T) {
	require.Equal(t, "running", sourceStateString(0))
	require.Equal(t, "idle", sourceStateString(1))
	require.Equal(t, "suspended", sourceStateString(2))
	require.Equal(t, "unknown(99)", sourceStateString(99))
}

func TestSourceAvailable(t *testing.T) {
	require.False(t, sourceAvailable(nil))
	require.True(t, sourceAvailable(&pulseproto.GetSourceInfoReply{}))

	available := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, available, []sourcePort{{name: "mic", available: 2}})
	require.True(t, sourceAvailable(available))

	unplugged := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, unplugged, []sourcePort{{name: "mic", available: 1}})
	require.False(t, sourceAvailable(unplugged))
}

func TestCaptureFramesAndStopFlushesTail(t *testing.T) {
	c := newCapture(Device{ID: "mic-1", Description: "Mic"})

	input := make([]byte, frameBytes+111)
	for i := range input {
		input[i] = byte(i % 251)
	}

	n, err := c.onPCM(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, int64(len(input)), c.BytesCaptured())

	first := <-c.Chunks()
	require.Len(t, first, frameBytes)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	tail, ok := <-c.Chunks()
	require.True(t, ok)
	require.Len(t, tail, 111)

	_, ok = <-c.Chunks()
	require.False(t, ok)
	require.Equal(t, "Mic", c.Description())
}

func TestCaptureStopKeepsTailWhenQueueIsFull(t *testing.T) {
	c := newCapture(Device{ID: "mic-1"})

	input := make([]byte, cap(c.frames)*frameBytes+100)
	n, err := c.onPCM(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Len(t, c.frames, cap(c.frames))

	require.NoError(t, c.Stop())

	delivered := 0
	for chunk := range c.Chunks() {
		delivered += len(chunk)
	}
	require.EqualValues(t, c.BytesCaptured(), delivered)
	require.Equal(t, len(input), delivered)
}

func TestCaptureStopDuringWritesDeliversEveryAcceptedByte(t *testing.T) {
	c := newCapture(Device{ID: "mic-1"})

	delivered := make(chan int, 1)
	go func() {
		total := 0
		for chunk := range c.Chunks() {
			total += len(chunk)
		}
		delivered <- total
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		buffer := make([]byte, 333)
		for {
			if _, err := c.onPCM(buffer); err != nil {
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Stop())
	<-writerDone

	select {
	case total := <-delivered:
		require.Positive(t, total)
		require.EqualValues(t, c.BytesCaptured(), total)
	case <-time.After(2 * time.Second):
		t.Fatal("chunks were not closed after Stop")
	}
}

func TestCaptureOnPCMAfterStopReturnsEOF(t *testing.T) {
	c := newCapture(Device{ID: "mic-1"})
	require.NoError(t, c.Stop())

	n, err := c.onPCM([]byte{1, 2, 3})
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, c.BytesCaptured())
}

func TestWAVRoundTripPreservesSamples(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	encoded := EncodeWAV(SamplesToBytes(samples), SampleRate, Channels)

	require.True(t, IsWAV(encoded))
	require.Len(t, encoded, wavHeaderSize+2*len(samples))
	require.Equal(t, uint32(2*len(samples)), binary.LittleEndian.Uint32(encoded[40:44]))

	decoded, err := DecodeWAV(encoded)
	require.NoError(t, err)
	require.Equal(t, SampleRate, decoded.SampleRate)
	require.Equal(t, 1, decoded.Channels)
	require.Equal(t, samples, decoded.Samples)
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	base := EncodeWAV(SamplesToBytes([]int16{7, 8}), 22050, 2)

	// splice a LIST chunk between fmt and data
	list := append([]byte("LIST"), 3, 0, 0, 0, 'a', 'b', 'c', 0)
	spliced := append([]byte{}, base[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, base[36:]...)

	decoded, err := DecodeWAV(spliced)
	require.NoError(t, err)
	require.Equal(t, 22050, decoded.SampleRate)
	require.Equal(t, 2, decoded.Channels)
	require.Equal(t, []int16{7, 8}, decoded.Samples)
}

func TestDecodeWAVRejectsBadInput(t *testing.T) {
	_, err := DecodeWAV([]byte("ID3 mp3 payload"))
	require.ErrorIs(t, err, ErrNotWAV)

	header := EncodeWAV(nil, 16000, 1)
	binary.LittleEndian.PutUint16(header[34:36], 8)
	_, err = DecodeWAV(header)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sample width")
}

func TestPulseSinkIgnoresEmptyAndCancelled(t *testing.T) {
	require.NoError(t, PulseSink{}.Play(context.Background(), PCM{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := PulseSink{}.Play(ctx, PCM{SampleRate: 16000, Channels: 1, Samples: []int16{1}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPulseRecorderReleasesPreviousStreamBeforeOpening(t *testing.T) {
	var opened []*fakeStream
	recorder := NewPulseRecorder("default", "default", zerolog.Nop())
	recorder.selectFn = func(context.Context, string, string) (Selection, error) {
		return Selection{Device: Device{ID: "mic", Description: "Mic", Available: true, Default: true}}, nil
	}
	recorder.startFn = func(context.Context, Device) (Stream, error) {
		for _, s := range opened {
			if !s.stopped.Load() {
				return nil, errors.New("device busy")
			}
		}
		s := &fakeStream{}
		opened = append(opened, s)
		return s, nil
	}

	first, err := recorder.Open(context.Background())
	require.NoError(t, err)
	require.True(t, recorder.Active())

	second, err := recorder.Open(context.Background())
	require.NoError(t, err)
	require.True(t, opened[0].stopped.Load())
	require.False(t, opened[1].stopped.Load())

	// stopping a stale handle must not clear the current one
	require.NoError(t, first.Stop())
	require.True(t, recorder.Active())

	require.NoError(t, second.Stop())
	require.False(t, recorder.Active())
}

func TestPulseRecorderProbeAndOpenErrors(t *testing.T) {
	recorder := NewPulseRecorder("default", "default", zerolog.Nop())
	recorder.selectFn = func(context.Context, string, string) (Selection, error) {
		return Selection{}, errors.New("no audio input devices found")
	}

	_, err := recorder.Probe(context.Background())
	require.Error(t, err)

	recorder.selectFn = func(context.Context, string, string) (Selection, error) {
		return Selection{Device: Device{ID: "mic", Description: "Mic"}, Warning: "using fallback"}, nil
	}
	label, err := recorder.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Mic", label)

	recorder.startFn = func(context.Context, Device) (Stream, error) {
		return nil, errors.New("revoked")
	}
	_, err = recorder.Open(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "revoked")
	require.False(t, recorder.Active())
}

type fakeStream struct {
	stopped atomic.Bool
}

func (s *fakeStream) Chunks() <-chan []byte {
	ch := make(chan []byte)
	close(ch)
	return ch
}

func (s *fakeStream) Stop() error {
	s.stopped.Store(true)
	return nil
}

func (s *fakeStream) BytesCaptured() int64 { return 0 }
func (s *fakeStream) Description() string  { return "fake" }

type sourcePort struct {
	name      string
	available uint32
}

func setSourcePorts(t *testing.T, reply *pulseproto.GetSourceInfoReply, ports []sourcePort) {
	t.Helper()

	sliceType := reflect.TypeOf(reply.Ports)
	sliceValue := reflect.MakeSlice(sliceType, len(ports), len(ports))
	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}
	reflect.ValueOf(reply).Elem().FieldByName("Ports").Set(sliceValue)
}
