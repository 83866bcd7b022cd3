// Package discovery turns raw service-browse hits into verified,
// registered device sessions. The platform browse primitive (mDNS on
// the phone) is injected; this package owns probing, de-duplication
// and session lifecycle.
package discovery

import (
	"context"
)

// Endpoint is one raw discovery hit.
type Endpoint struct {
	// Host is the advertised instance hostname, without domain.
	Host string
	// Addr is the literal host:port the service resolved to.
	Addr string
}

// EventKind discriminates browse events.
type EventKind int

const (
	EndpointFound EventKind = iota
	EndpointLost
)

// Event is one browse observation.
type Event struct {
	Kind     EventKind
	Endpoint Endpoint
}

// Discoverer is the platform service-browse primitive. Browse streams
// events until ctx is cancelled; the coordinator owns the channel and
// closes it after Browse returns.
type Discoverer interface {
	Browse(ctx context.Context, serviceType string, events chan<- Event) error
}

// StaticDiscoverer announces a fixed endpoint list once and then waits
// for cancellation. Used for configured (non-mDNS) devices and tests.
type StaticDiscoverer struct {
	Endpoints []Endpoint
}

// Browse implements Discoverer.
func (s *StaticDiscoverer) Browse(ctx context.Context, _ string, events chan<- Event) error {
	for _, ep := range s.Endpoints {
		select {
		case events <- Event{Kind: EndpointFound, Endpoint: ep}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}
