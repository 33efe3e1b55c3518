package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonGeocodeLookup)
	if Reason(err) != ReasonGeocodeLookup {
		t.Fatalf("expected reason %s, got %s", ReasonGeocodeLookup, Reason(err))
	}
	if !HasReason(err, ReasonGeocodeLookup) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonAudioDecode)
	second := Wrap(first, ReasonRelayRead)
	if Reason(second) != ReasonAudioDecode {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
