package playback

import (
	"log/slog"
	"sync"

	"github.com/monitorpro/console/pkg/errorsx"
)

// Item is one decoded audio frame awaiting playback. Sequence is carried
// from the wire but never used for reordering: playback is strictly
// arrival order, relying on the relay's in-order delivery.
type Item struct {
	Samples   []float32
	Timestamp any
	Sequence  int64
}

// Notifier receives user-visible playback error notifications.
type Notifier interface {
	Notify(source, message string)
}

// Pipeline is an ordered queue of decoded frames with a single-slot
// playback sequencer: at most one item is audibly playing at any instant.
// A failed frame clears the slot and the pump continues with the next
// queued item, so one bad frame never stalls the queue.
type Pipeline struct {
	logger   *slog.Logger
	notifier Notifier

	mu      sync.Mutex
	queue   []Item
	playing bool
	out     Output
}

func NewPipeline(logger *slog.Logger, notifier Notifier) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger, notifier: notifier}
}

// SwapOutput closes any existing output context before installing the
// replacement. Queue and guard are cleared: queued frames were decoded for
// the previous sample rate.
func (p *Pipeline) SwapOutput(out Output) {
	p.mu.Lock()
	old := p.out
	p.out = out
	p.queue = nil
	p.playing = false
	p.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// CloseOutput tears down the output context without a replacement.
func (p *Pipeline) CloseOutput() {
	p.SwapOutput(nil)
}

// Enqueue appends one item and pumps the queue.
func (p *Pipeline) Enqueue(item Item) {
	if len(item.Samples) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, item)
	p.mu.Unlock()
	p.pump()
}

// Reset drops all queued items and clears the playback guard.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.queue = nil
	p.playing = false
	p.mu.Unlock()
}

// QueueLen reports the number of items waiting behind the current one.
func (p *Pipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Playing reports whether an item is currently audible.
func (p *Pipeline) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Pipeline) pump() {
	for {
		p.mu.Lock()
		if p.playing || len(p.queue) == 0 || p.out == nil {
			p.mu.Unlock()
			return
		}
		item := p.queue[0]
		p.queue = p.queue[1:]
		p.playing = true
		out := p.out
		p.mu.Unlock()

		// 10 ms of mono PCM per frame. A mismatch is logged but the frame
		// still plays at the output's rate; no resampling, no drop.
		if expected := out.SampleRate() / 100; len(item.Samples) != expected {
			p.logger.Warn("unexpected_audio_frame_size",
				"got", len(item.Samples),
				"expected", expected,
			)
		}

		err := out.Play(item.Samples, p.onPlayDone)
		if err == nil {
			return
		}

		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
		p.logger.Error("audio_frame_playback_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.ReasonAudioPlayback),
		)
		if p.notifier != nil {
			p.notifier.Notify("Error", "Failed to play audio frame")
		}
	}
}

func (p *Pipeline) onPlayDone() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	p.pump()
}
