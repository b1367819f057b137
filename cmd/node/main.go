package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "lanlink/internal/handlers/http"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/internal/infrastructure/calling"
	"lanlink/internal/infrastructure/discovery"
	"lanlink/internal/infrastructure/media"
	"lanlink/internal/infrastructure/middleware"
	"lanlink/internal/infrastructure/monitoring"
	"lanlink/internal/infrastructure/registry"
	"lanlink/internal/infrastructure/repositories"
	"lanlink/internal/infrastructure/transport"
	"lanlink/pkg/config"
	"lanlink/pkg/logger"
)

// meteredClient counts outbound messages on top of the transport client.
type meteredClient struct {
	*transport.Client
	metrics *monitoring.Collector
}

func (c *meteredClient) SendText(ctx context.Context, peerIP, content string) error {
	err := c.Client.SendText(ctx, peerIP, content)
	if err == nil {
		c.metrics.RecordMessageSent("text")
	}
	return err
}

func (c *meteredClient) SendFile(ctx context.Context, peerIP, filename string, data []byte) error {
	err := c.Client.SendFile(ctx, peerIP, filename, data)
	if err == nil {
		c.metrics.RecordMessageSent("file")
	}
	return err
}

// meteredSink counts inbound messages before handing them to the console.
type meteredSink struct {
	next    ports.MessageSink
	metrics *monitoring.Collector
}

func (s *meteredSink) DeliverText(senderIP, username, content string, timestamp float64) {
	s.metrics.RecordMessageReceived("text", len(content))
	s.next.DeliverText(senderIP, username, content, timestamp)
}

func (s *meteredSink) DeliverFile(senderIP, username, storedName string, size int) {
	s.metrics.RecordMessageReceived("file", size)
	s.next.DeliverFile(senderIP, username, storedName, size)
}

// meteredObserver records call outcomes before handing them to the console.
type meteredObserver struct {
	next    ports.CallObserver
	metrics *monitoring.Collector
}

func (o *meteredObserver) CallAccepted(peerIP string) {
	o.metrics.RecordCallOutcome("accepted")
	o.metrics.SetCallState(domain.CallInCall)
	o.next.CallAccepted(peerIP)
}

func (o *meteredObserver) CallRejected(peerIP string) {
	o.metrics.RecordCallOutcome("rejected")
	o.metrics.SetCallState(domain.CallIdle)
	o.next.CallRejected(peerIP)
}

func (o *meteredObserver) CallBusy(peerIP string) {
	o.metrics.RecordCallOutcome("busy")
	o.metrics.SetCallState(domain.CallIdle)
	o.next.CallBusy(peerIP)
}

func (o *meteredObserver) CallEnded(peerIP string) {
	o.metrics.RecordCallOutcome("ended")
	o.metrics.SetCallState(domain.CallIdle)
	o.next.CallEnded(peerIP)
}

func main() {
	var cfg *config.Config
	var err error
	if env := os.Getenv("LANLINK_CONFIG"); env != "" {
		// An explicitly named config must exist; no silent defaults.
		cfg, err = config.LoadStrict(env)
	} else {
		configPaths := []string{
			"configs/config.yaml",
			"config.yaml",
			"/etc/lanlink/config.yaml",
		}
		for _, path := range configPaths {
			cfg, err = config.Load(path)
			if err == nil {
				break
			}
		}
	}
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	zapLogger, err := logger.New(cfg.Logging.Level)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	log.Infow("starting lanlink node",
		"username", cfg.Node.Username,
		"history_backend", cfg.History.Backend,
	)

	metrics := monitoring.NewCollector()

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer repoFactory.Close()

	history := repoFactory.CreateMessageHistory()
	fileStore, err := repoFactory.CreateFileStore()
	if err != nil {
		log.Fatalw("failed to initialize file store", "error", err)
	}

	reg := registry.NewPeerRegistry()
	reg.OnPeerFound(func(p domain.Peer) {
		log.Infow("peer discovered", "ip", p.IP, "username", p.Username)
		metrics.SetPeersActive(reg.Len())
	})
	reg.OnPeerLost(func(p domain.Peer) {
		log.Infow("peer lost", "ip", p.IP, "username", p.Username)
		metrics.SetPeersActive(reg.Len())
	})

	console := newCLI(cfg.Node.Username, reg, history, log)

	client := &meteredClient{
		Client:  transport.NewClient(reg, cfg.Node.Username, cfg.Transport.DialTimeout, log),
		metrics: metrics,
	}
	console.client = client

	server := transport.NewServer(
		cfg.Transport.ListenPort,
		reg,
		&meteredSink{next: console, metrics: metrics},
		fileStore,
		history,
		log,
	)
	if err := server.Start(); err != nil {
		log.Fatalw("failed to start message server", "error", err)
	}
	defer server.Stop()

	disco := discovery.NewService(discovery.Config{
		Username:          cfg.Node.Username,
		BroadcastPort:     cfg.Discovery.BroadcastPort,
		ListenPort:        cfg.Transport.ListenPort,
		BroadcastInterval: cfg.Discovery.BroadcastInterval,
		PruneInterval:     cfg.Discovery.PruneInterval,
		PeerTTL:           cfg.Discovery.PeerTTL,
	}, reg, log)
	if err := disco.Start(); err != nil {
		log.Fatalw("failed to start discovery", "error", err)
	}
	defer disco.Stop()

	mediaEngine := media.NewEngine(media.Config{
		AudioFrameSamples: cfg.Media.AudioFrameSamples,
		VideoWidth:        cfg.Media.VideoWidth,
		VideoHeight:       cfg.Media.VideoHeight,
		VideoFPS:          cfg.Media.VideoFPS,
		JPEGQuality:       cfg.Media.JPEGQuality,
		ChunkThreshold:    cfg.Media.ChunkThreshold,
		Meter:             metrics,
	}, &media.SyntheticProvider{
		Width:  cfg.Media.VideoWidth,
		Height: cfg.Media.VideoHeight,
		Logger: log,
	}, log)

	callEngine := calling.NewEngine(
		cfg.Node.Username,
		domain.CallPorts{
			Audio:   cfg.Calling.AudioPort,
			Video:   cfg.Calling.VideoPort,
			Control: cfg.Calling.ControlPort,
		},
		reg,
		mediaEngine,
		console,
		&meteredObserver{next: console, metrics: metrics},
		log,
	)
	if err := callEngine.Start(); err != nil {
		log.Fatalw("failed to start call signaling", "error", err)
	}
	defer callEngine.Stop()
	console.engine = callEngine

	health := monitoring.NewHealthChecker()
	health.AddCheck("repositories", repoFactory.HealthCheck)

	var apiSrv *http.Server
	serverErr := make(chan error, 1)
	if cfg.API.Enabled {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(middleware.RecoveryMiddleware(log))
		router.Use(middleware.NewHTTPRateLimitMiddleware(cfg.API.RequestsPerSecond, cfg.API.Burst))

		handler := httpapi.NewNodeHandler(
			reg, history, fileStore, client, health,
			cfg.Monitoring.PrometheusEnabled, log,
		)
		handler.SetupRoutes(router)

		apiSrv = &http.Server{
			Addr:         cfg.API.Address,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			log.Infow("api listening", "address", cfg.API.Address)
			if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	} else if cfg.Monitoring.PrometheusEnabled {
		// No API surface, expose metrics on their own port.
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
			log.Infow("metrics listening", "address", addr)
			if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
				serverErr <- err
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cliDone := make(chan struct{})
	go func() {
		console.Run(ctx)
		close(cliDone)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("shutting down", "signal", sig.String())
	case <-cliDone:
		log.Infow("console closed, shutting down")
	}
	cancel()

	if apiSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("api shutdown failed, forcing close", "error", err)
			apiSrv.Close()
		}
	}
	log.Infow("node stopped")
}
