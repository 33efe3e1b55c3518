package errorsx

// ReasonCode is a short machine-readable error reason. The taxonomy mirrors
// how failures are recovered: transport reasons feed the reconnect loop,
// protocol and decode reasons are logged and dropped, domain reasons flip a
// stream status, and lookup reasons degrade to sentinel values.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonRelayDial      ReasonCode = "relay_dial"
	ReasonRelayHandshake ReasonCode = "relay_handshake"
	ReasonRelayRead      ReasonCode = "relay_read"

	ReasonProtocolDecode ReasonCode = "protocol_decode"

	ReasonAudioDecode   ReasonCode = "audio_decode"
	ReasonAudioPlayback ReasonCode = "audio_playback"

	ReasonStreamError ReasonCode = "stream_error"

	ReasonGeocodeLookup ReasonCode = "geocode_lookup"

	ReasonCommandValidate ReasonCode = "command_validate"
	ReasonCommandSend     ReasonCode = "command_send"
	ReasonSnapshotFetch   ReasonCode = "snapshot_fetch"
)
