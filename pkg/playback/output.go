package playback

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"time"
)

// Output is an audio sink. Play starts one buffer and invokes done exactly
// once when the buffer has finished; done may run on another goroutine.
// Exactly one Output instance is live per device/sample-rate selection and
// it must be closed before a replacement is created.
type Output interface {
	SampleRate() int
	Play(samples []float32, done func()) error
	Close() error
}

var errOutputClosed = errors.New("audio output closed")

// TimedOutput plays buffers against wall-clock time at its sample rate,
// optionally writing the PCM back out as little-endian int16 (for piping
// into an external player). It stands in for a hardware output device.
type TimedOutput struct {
	rate int
	w    io.Writer

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

func NewTimedOutput(sampleRate int, w io.Writer) *TimedOutput {
	return &TimedOutput{
		rate:   sampleRate,
		w:      w,
		timers: make(map[*time.Timer]struct{}),
	}
}

func (o *TimedOutput) SampleRate() int { return o.rate }

func (o *TimedOutput) Play(samples []float32, done func()) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errOutputClosed
	}
	w := o.w
	o.mu.Unlock()

	if w != nil {
		buf := make([]byte, len(samples)*2)
		for i, s := range samples {
			v := int16(math.Round(float64(s) * 32767))
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}

	d := time.Duration(len(samples)) * time.Second / time.Duration(o.rate)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errOutputClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		o.mu.Lock()
		delete(o.timers, timer)
		o.mu.Unlock()
		done()
	})
	o.timers[timer] = struct{}{}
	o.mu.Unlock()
	return nil
}

// Close stops pending completion callbacks. Pending buffers never report
// completion after Close; the owning pipeline is expected to reset anyway.
func (o *TimedOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	for t := range o.timers {
		t.Stop()
	}
	o.timers = make(map[*time.Timer]struct{})
	return nil
}

var _ Output = (*TimedOutput)(nil)
