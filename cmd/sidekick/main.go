package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/sidekick/internal/cloud"
	"github.com/HerbHall/sidekick/internal/config"
	"github.com/HerbHall/sidekick/internal/deviceapi"
	"github.com/HerbHall/sidekick/internal/discovery"
	"github.com/HerbHall/sidekick/internal/event"
	"github.com/HerbHall/sidekick/internal/geo"
	"github.com/HerbHall/sidekick/internal/registry"
	"github.com/HerbHall/sidekick/internal/storage"
	"github.com/HerbHall/sidekick/internal/store"
	syncer "github.com/HerbHall/sidekick/internal/sync"
	"github.com/HerbHall/sidekick/internal/version"
	"github.com/HerbHall/sidekick/pkg/models"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("sidekick starting", zap.String("version", version.Short()))
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	discoveryCfg, err := config.DiscoverySection(v)
	if err != nil {
		logger.Fatal("invalid discovery configuration", zap.Error(err))
	}
	syncCfg, err := config.SyncSection(v)
	if err != nil {
		logger.Fatal("invalid sync configuration", zap.Error(err))
	}
	cloudCfg, err := config.CloudSection(v)
	if err != nil {
		logger.Fatal("invalid cloud configuration", zap.Error(err))
	}
	locationCfg, err := config.LocationSection(v)
	if err != nil {
		logger.Fatal("invalid location configuration", zap.Error(err))
	}

	dbPath := v.GetString("database.path")
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("database initialized", zap.String("path", dbPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	localStore, err := storage.NewLocalStore(ctx, db)
	if err != nil {
		logger.Fatal("failed to initialize local storage", zap.Error(err))
	}

	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(bus, logger.Named("registry"))
	clients := deviceapi.NewFactory(discoveryCfg.ProbeTimeout, logger.Named("deviceapi"))

	cloudProd := cloud.NewClient(cloudCfg.ProdURL, cloudCfg.Timeout, logger.Named("cloud"))
	cloudTest := cloud.NewClient(cloudCfg.TestURL, cloudCfg.Timeout, logger.Named("cloud"))

	// Configured credentials establish the upload session at startup;
	// without them the engine runs download-only.
	if cloudCfg.Email != "" && cloudCfg.Password != "" {
		cc := cloudProd
		if cloudCfg.UseTest {
			cc = cloudTest
		}
		if err := cc.Authenticate(ctx, cloudCfg.Email, cloudCfg.Password); err != nil {
			logger.Warn("cloud sign-in failed, uploads disabled until retry", zap.Error(err))
		} else {
			logger.Info("cloud session established", zap.Bool("test", cloudCfg.UseTest))
		}
	} else {
		logger.Info("no cloud credentials configured, running download-only")
	}

	orch := syncer.New(reg, clients, localStore, bus, syncCfg.RecordingsDir, logger.Named("sync"))

	locator := &geo.FixedLocator{
		Coords:   models.Coords{Lat: locationCfg.Latitude, Lng: locationCfg.Longitude},
		Accuracy: locationCfg.AccuracyM,
	}
	reconciler := geo.NewReconciler(locator, clients, reg, localStore,
		syncCfg.LocationThreshold, logger.Named("geo"))

	// Configured endpoints stand in for the phone's mDNS browse when
	// running off-device.
	var endpoints []discovery.Endpoint
	for _, addr := range discoveryCfg.Endpoints {
		host, rest, found := strings.Cut(addr, "=")
		if found {
			endpoints = append(endpoints, discovery.Endpoint{Host: host, Addr: rest})
		} else {
			endpoints = append(endpoints, discovery.Endpoint{Addr: addr})
		}
	}
	coordinator := discovery.New(
		&discovery.StaticDiscoverer{Endpoints: endpoints},
		clients, reg, logger.Named("discovery"),
		discovery.Options{
			ServiceType: discoveryCfg.ServiceType,
			Retry: discovery.RetryPolicy{
				MaxAttempts: discoveryCfg.ProbeRetries,
				Timeout:     discoveryCfg.ProbeTimeout,
			},
			MaxAge:         discoveryCfg.MaxDeviceAge,
			KeepAliveEvery: syncCfg.ModemKeepAlive,
			ModemOnMinutes: syncCfg.ModemOnMinutes,
			ProbeRate:      rate.Every(200 * time.Millisecond),
		})

	// Every verified connection triggers a download pass for that
	// device, and a position check when an operator position is set.
	bus.Subscribe(event.TopicDeviceConnected, func(ctx context.Context, e event.Event) {
		device, ok := e.Payload.(models.Device)
		if !ok {
			return
		}
		go func() {
			if err := orch.SaveItems(ctx, device); err != nil {
				logger.Warn("sync pass failed",
					zap.String("device", string(device.ID)),
					zap.Error(err))
			}
		}()
		go func() {
			status, err := reconciler.Status(ctx, device)
			if err != nil {
				logger.Debug("location check failed",
					zap.String("device", string(device.ID)),
					zap.Error(err))
				return
			}
			logger.Info("device location status",
				zap.String("device", string(device.ID)),
				zap.String("status", string(status)))
			if status == geo.StatusNeedsUpdate && locationCfg.AutoUpdate {
				if _, err := reconciler.SetToCurrentPosition(ctx, device); err != nil {
					logger.Warn("location update failed",
						zap.String("device", string(device.ID)),
						zap.Error(err))
				}
			}
		}()
	})

	coordinator.Start(ctx, true)
	logger.Info("discovery started",
		zap.String("service_type", discoveryCfg.ServiceType),
		zap.Int("static_endpoints", len(endpoints)))

	// Periodic upload passes, one per backend scope, whenever a session
	// is available.
	uploadTicker := time.NewTicker(syncCfg.UploadInterval)
	defer uploadTicker.Stop()
	go func() {
		for {
			select {
			case <-uploadTicker.C:
				for _, cc := range []*cloud.Client{cloudProd, cloudTest} {
					if !cc.TokenValid() {
						continue
					}
					if err := orch.UploadItems(ctx, cc); err != nil {
						logger.Warn("upload pass failed", zap.Error(err))
					}
					if err := orch.SyncLocations(ctx, cc); err != nil {
						logger.Warn("location sync failed", zap.Error(err))
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	coordinator.Stop()
}
