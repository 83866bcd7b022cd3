package discovery

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/sidekick/internal/deviceapi"
	"github.com/HerbHall/sidekick/internal/registry"
	"github.com/HerbHall/sidekick/pkg/models"
)

// Options tune a Coordinator. Zero values fall back to sane defaults.
type Options struct {
	ServiceType    string
	Retry          RetryPolicy
	MaxAge         time.Duration
	KeepAliveEvery time.Duration
	ModemOnMinutes int
	ProbeRate      rate.Limit
}

// Coordinator drives discovery sessions: it consumes browse events,
// probes found endpoints, registers verified devices, and keeps tc2
// modems awake while a session is held.
type Coordinator struct {
	discoverer Discoverer
	clients    deviceapi.Factory
	registry   *registry.Registry
	logger     *zap.Logger
	limiter    *rate.Limiter

	serviceType    string
	retry          RetryPolicy
	maxAge         time.Duration
	keepAliveEvery time.Duration
	modemOnMins    int

	mu        sync.Mutex
	cancel    context.CancelFunc
	probing   map[string]bool
	keepAlive map[models.DeviceID]context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a Coordinator around the given browse primitive.
func New(d Discoverer, clients deviceapi.Factory, reg *registry.Registry, logger *zap.Logger, opts Options) *Coordinator {
	if opts.ServiceType == "" {
		opts.ServiceType = "_cacophonator-management._tcp"
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = registry.DefaultMaxAge
	}
	if opts.KeepAliveEvery <= 0 {
		opts.KeepAliveEvery = 5 * time.Minute
	}
	if opts.ModemOnMinutes <= 0 {
		opts.ModemOnMinutes = 5
	}
	if opts.ProbeRate <= 0 {
		opts.ProbeRate = rate.Every(200 * time.Millisecond)
	}
	return &Coordinator{
		discoverer:     d,
		clients:        clients,
		registry:       reg,
		logger:         logger,
		limiter:        rate.NewLimiter(opts.ProbeRate, 3),
		serviceType:    opts.ServiceType,
		retry:          opts.Retry.withDefaults(),
		maxAge:         opts.MaxAge,
		keepAliveEvery: opts.KeepAliveEvery,
		modemOnMins:    opts.ModemOnMinutes,
		keepAlive:      make(map[models.DeviceID]context.CancelFunc),
	}
}

// Start begins a discovery session. It is idempotent while a session
// is running. With clear the registry is wiped first; without it,
// known devices are kept and revalidated before new hits arrive.
func (c *Coordinator) Start(ctx context.Context, clear bool) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.probing = make(map[string]bool)
	c.mu.Unlock()

	if clear {
		c.registry.Clear()
	} else {
		known := c.registry.Values()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.revalidate(runCtx, known)
		}()
	}

	events := make(chan Event, 16)
	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		defer close(events)
		if err := c.discoverer.Browse(runCtx, c.serviceType, events); err != nil && runCtx.Err() == nil {
			c.logger.Warn("browse ended", zap.Error(err))
		}
	}()
	go func() {
		defer c.wg.Done()
		c.consume(runCtx, events)
	}()
	go func() {
		defer c.wg.Done()
		c.evictLoop(runCtx)
	}()
}

// Stop cancels the platform listener and waits for pending probes.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
}

// Running reports whether a session is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Coordinator) consume(ctx context.Context, events <-chan Event) {
	for ev := range events {
		switch ev.Kind {
		case EndpointFound:
			c.handleFound(ctx, ev.Endpoint)
		case EndpointLost:
			c.handleLost(ctx, ev.Endpoint)
		}
	}
}

func (c *Coordinator) handleFound(ctx context.Context, ep Endpoint) {
	c.mu.Lock()
	if c.probing[ep.Addr] {
		c.mu.Unlock()
		return
	}
	if _, ok := c.connectedByEndpoint(ep.Addr); ok {
		c.mu.Unlock()
		return
	}
	c.probing[ep.Addr] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.probing, ep.Addr)
			c.mu.Unlock()
		}()
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		c.probeAndRegister(ctx, ep)
	}()
}

func (c *Coordinator) probeAndRegister(ctx context.Context, ep Endpoint) {
	info, sessionURL, err := c.probe(ctx, ep)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Debug("probe failed",
				zap.String("endpoint", ep.Addr),
				zap.Error(err))
		}
		return
	}

	device := models.Device{
		ID:        models.DeviceID(strconv.Itoa(info.DeviceID)),
		SaltID:    info.SaltID,
		Name:      info.DeviceName,
		Group:     info.GroupName,
		Host:      ep.Host,
		Endpoint:  ep.Addr,
		URL:       sessionURL,
		Type:      models.DeviceType(info.Type),
		IsProd:    info.IsProd(),
		TimeFound: time.Now(),
		Connected: true,
	}
	c.registry.Upsert(ctx, device)
	c.logger.Info("device connected",
		zap.String("device", string(device.ID)),
		zap.String("name", device.Name),
		zap.String("url", device.URL))

	if device.Type == models.DeviceTypeTC2 {
		c.startKeepAlive(ctx, device)
	}
}

// startKeepAlive runs one keep-alive loop per device. A reconnect
// inside a keep-alive interval replaces the previous loop instead of
// stacking a second one on the stale session URL.
func (c *Coordinator) startKeepAlive(ctx context.Context, device models.Device) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if old, ok := c.keepAlive[device.ID]; ok {
		old()
	}
	c.keepAlive[device.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.keepModemAlive(loopCtx, device)
	}()
}

func (c *Coordinator) cancelKeepAlive(id models.DeviceID) {
	c.mu.Lock()
	cancel := c.keepAlive[id]
	delete(c.keepAlive, id)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) handleLost(ctx context.Context, ep Endpoint) {
	device, ok := c.connectedByEndpoint(ep.Addr)
	if !ok {
		return
	}
	c.cancelKeepAlive(device.ID)
	c.registry.MarkDisconnected(ctx, device.ID)
	c.logger.Info("device lost",
		zap.String("device", string(device.ID)),
		zap.String("endpoint", ep.Addr))
}

func (c *Coordinator) connectedByEndpoint(addr string) (models.Device, bool) {
	for _, d := range c.registry.Values() {
		if d.Connected && d.Endpoint == addr {
			return d, true
		}
	}
	return models.Device{}, false
}

// revalidate re-probes devices carried over from a previous session
// and disconnects those that no longer answer.
func (c *Coordinator) revalidate(ctx context.Context, known []models.Device) {
	for _, d := range known {
		if !d.Connected {
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		if _, _, err := c.probe(ctx, Endpoint{Host: d.Host, Addr: d.Endpoint}); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.registry.MarkDisconnected(ctx, d.ID)
			c.logger.Info("carried-over device no longer answers",
				zap.String("device", string(d.ID)))
		}
	}
}

// keepModemAlive asks a tc2 device to keep its uplink powered while
// the session lasts. The loop exits when its context is cancelled or
// the device is no longer registered as connected.
func (c *Coordinator) keepModemAlive(ctx context.Context, device models.Device) {
	ticker := time.NewTicker(c.keepAliveEvery)
	defer ticker.Stop()
	for {
		if _, ok := c.registry.Connected(device.ID); !ok {
			return
		}
		if err := c.clients(device.URL).TurnOnModem(ctx, c.modemOnMins); err != nil && ctx.Err() == nil {
			c.logger.Debug("modem keep-alive failed",
				zap.String("device", string(device.ID)),
				zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.registry.EvictStale(ctx, c.maxAge)
		case <-ctx.Done():
			return
		}
	}
}
