package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/sidekick/internal/deviceapi"
)

// RetryPolicy bounds a probe. Each attempt tries every candidate URL
// once with its own timeout.
type RetryPolicy struct {
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Second
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Second
	}
	return p
}

// candidateURLs orders the ways to reach an endpoint: the mDNS
// hostname first, then the literal resolved address. Some networks
// resolve .local names but route only by IP, others the reverse.
func candidateURLs(ep Endpoint) []string {
	var urls []string
	if ep.Host != "" {
		host := ep.Host
		if !strings.Contains(host, ".") {
			host += ".local"
		}
		urls = append(urls, "http://"+host)
	}
	if ep.Addr != "" {
		addr := "http://" + ep.Addr
		if len(urls) == 0 || urls[0] != addr {
			urls = append(urls, addr)
		}
	}
	return urls
}

// probe verifies an endpoint hosts a real device by fetching its
// identity. The first candidate URL that answers wins; that URL
// becomes the session URL.
func (c *Coordinator) probe(ctx context.Context, ep Endpoint) (*deviceapi.DeviceInfo, string, error) {
	urls := candidateURLs(ep)
	if len(urls) == 0 {
		return nil, "", fmt.Errorf("probe: endpoint has no host or address")
	}

	policy := c.retry
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		for _, u := range urls {
			attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
			info, err := c.clients(u).Info(attemptCtx)
			cancel()
			if err == nil {
				return info, u, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
		}
		if attempt < policy.MaxAttempts {
			select {
			case <-time.After(policy.Backoff):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		}
	}
	return nil, "", fmt.Errorf("probe %s: %w", ep.Addr, lastErr)
}
