package transports

import (
	"context"

	"github.com/monitorpro/console/pkg/frames"
)

// Transport is the ingestion boundary to the backend relay. Implementations
// own their network lifecycle, including reconnection; Recv delivers
// inbound frames in arrival order until Close.
type Transport interface {
	Name() string
	Open(ctx context.Context, deviceID string) error
	Close() error
	Recv() <-chan frames.Frame
}
