package playback

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
)

func encodePCM16(samples []int16) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func TestDecodePCM16NormalizesToUnitRange(t *testing.T) {
	encoded := encodePCM16([]int16{0, 16384, -16384, 32767, -32768})
	samples, err := DecodePCM16(encoded)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if s < -1 || s > 1 {
			t.Fatalf("sample %d out of range: %v", i, s)
		}
	}
	if samples[0] != 0 {
		t.Fatalf("zero sample should decode to 0, got %v", samples[0])
	}
	if math.Abs(float64(samples[1])-0.5) > 0.001 {
		t.Fatalf("expected ~0.5, got %v", samples[1])
	}
	if samples[4] != -1 {
		t.Fatalf("int16 min should decode to -1, got %v", samples[4])
	}
}

func TestDecodePCM16RejectsBadInput(t *testing.T) {
	if _, err := DecodePCM16("not-base64!!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
	odd := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})
	if _, err := DecodePCM16(odd); err == nil {
		t.Fatalf("expected error for odd byte count")
	}
}

type fakeOutput struct {
	mu     sync.Mutex
	rate   int
	plays  [][]float32
	dones  []func()
	errs   []error
	closed bool
}

func newFakeOutput(rate int) *fakeOutput {
	return &fakeOutput{rate: rate}
}

func (o *fakeOutput) SampleRate() int { return o.rate }

func (o *fakeOutput) Play(samples []float32, done func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		if err != nil {
			return err
		}
	}
	o.plays = append(o.plays, samples)
	o.dones = append(o.dones, done)
	return nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *fakeOutput) playCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.plays)
}

func (o *fakeOutput) finish(i int) {
	o.mu.Lock()
	done := o.dones[i]
	o.mu.Unlock()
	done()
}

type captureNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureNotifier) Notify(source, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, source+": "+message)
}

func (c *captureNotifier) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func frame(n int) []float32 {
	return make([]float32, n)
}

func TestPipelinePlaysSequentially(t *testing.T) {
	out := newFakeOutput(44100)
	p := NewPipeline(nil, nil)
	p.SwapOutput(out)

	p.Enqueue(Item{Samples: frame(441)})
	p.Enqueue(Item{Samples: frame(441)})
	p.Enqueue(Item{Samples: frame(441)})

	if got := out.playCount(); got != 1 {
		t.Fatalf("expected exactly one active play, got %d", got)
	}
	if p.QueueLen() != 2 {
		t.Fatalf("expected 2 queued, got %d", p.QueueLen())
	}

	out.finish(0)
	if got := out.playCount(); got != 2 {
		t.Fatalf("completion should pump the next frame, got %d plays", got)
	}
	out.finish(1)
	out.finish(2)
	if got := out.playCount(); got != 3 {
		t.Fatalf("expected 3 plays total, got %d", got)
	}
	if p.Playing() {
		t.Fatalf("guard should clear after the last frame")
	}
	if p.QueueLen() != 0 {
		t.Fatalf("queue should be empty, got %d", p.QueueLen())
	}
}

func TestPipelineContinuesPastFailedFrame(t *testing.T) {
	out := newFakeOutput(44100)
	out.errs = []error{errors.New("device busy")}
	notifier := &captureNotifier{}
	p := NewPipeline(nil, notifier)
	p.SwapOutput(out)

	p.Enqueue(Item{Samples: frame(441)})
	p.Enqueue(Item{Samples: frame(441)})

	// The first frame fails; the pump must move on to the second.
	if got := out.playCount(); got != 1 {
		t.Fatalf("expected the second frame to play after failure, got %d", got)
	}
	if notifier.Count() != 1 {
		t.Fatalf("expected one playback failure notification, got %d", notifier.Count())
	}
	out.finish(0)
	if p.Playing() {
		t.Fatalf("guard should clear after completion")
	}
}

func TestPipelineResetDropsQueueAndGuard(t *testing.T) {
	out := newFakeOutput(44100)
	p := NewPipeline(nil, nil)
	p.SwapOutput(out)

	p.Enqueue(Item{Samples: frame(441)})
	p.Enqueue(Item{Samples: frame(441)})
	p.Reset()

	if p.QueueLen() != 0 {
		t.Fatalf("reset should empty the queue, got %d", p.QueueLen())
	}
	if p.Playing() {
		t.Fatalf("reset should clear the playback guard")
	}
	// A stale completion from the pre-reset frame must not replay anything.
	out.finish(0)
	if got := out.playCount(); got != 1 {
		t.Fatalf("stale completion should find an empty queue, got %d plays", got)
	}
}

func TestPipelineSwapOutputClosesOldAndClearsState(t *testing.T) {
	old := newFakeOutput(44100)
	p := NewPipeline(nil, nil)
	p.SwapOutput(old)
	p.Enqueue(Item{Samples: frame(441)})
	p.Enqueue(Item{Samples: frame(441)})

	replacement := newFakeOutput(16000)
	p.SwapOutput(replacement)

	if !old.closed {
		t.Fatalf("previous output should be closed on swap")
	}
	if p.QueueLen() != 0 || p.Playing() {
		t.Fatalf("swap should clear queue and guard")
	}

	p.Enqueue(Item{Samples: frame(160)})
	if replacement.playCount() != 1 {
		t.Fatalf("new output should receive frames, got %d", replacement.playCount())
	}
}

func TestPipelineIgnoresEmptyFrames(t *testing.T) {
	out := newFakeOutput(44100)
	p := NewPipeline(nil, nil)
	p.SwapOutput(out)
	p.Enqueue(Item{})
	if out.playCount() != 0 {
		t.Fatalf("empty frame should not reach the output")
	}
}
