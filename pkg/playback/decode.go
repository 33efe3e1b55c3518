package playback

import (
	"encoding/base64"
	"errors"

	"github.com/monitorpro/console/pkg/errorsx"
)

// DecodePCM16 converts a transport-encoded audio frame (base64 over
// little-endian signed 16-bit mono PCM) into normalized float32 samples in
// [-1, 1]. One input sample maps to exactly one output sample.
func DecodePCM16(encoded string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonAudioDecode)
	}
	if len(raw)%2 != 0 {
		return nil, errorsx.Wrap(errors.New("pcm16 payload has odd length"), errorsx.ReasonAudioDecode)
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		s := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		samples[i] = float32(s) / 32768.0
	}
	return samples, nil
}
