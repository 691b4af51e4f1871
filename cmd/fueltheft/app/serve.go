package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleet-monitor/fueltheft/internal/auth"
	"fleet-monitor/fueltheft/internal/jobs"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/notify"
	"fleet-monitor/fueltheft/internal/pipeline"
	transporthttp "fleet-monitor/fueltheft/internal/transport/http"
)

// mqttConnectWait bounds how long serve waits for the first broker connection.
const mqttConnectWait = 10 * time.Second

type serveOptions struct {
	autoStart  bool
	failClosed bool
	queueSize  int
}

func newServeCommand(g *globals) *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API and the live monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, o)
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&o.autoStart, "monitor.auto-start", false, "Start live monitoring immediately instead of waiting for the API.")
	fs.BoolVar(&o.failClosed, "verifier.fail-closed", false, "Treat vehicles as moving when their telemetry cannot be queried.")
	fs.IntVar(&o.queueSize, "notify.queue-size", 1024, "Alerts buffered for the websocket, Redis and MQTT publishers.")
	return cmd
}

func runServe(ctx context.Context, g *globals, o *serveOptions) error {
	cfg := g.cfg
	logger := log.Std()

	b, err := open(ctx, cfg, need{telemetry: true, alerts: true, state: true, dedup: true, redis: true})
	if err != nil {
		return err
	}
	defer b.Close()

	hub := notify.NewHub(logger)
	defer hub.Close()

	publishers := []notify.Publisher{hub}
	if b.redis != nil {
		publishers = append(publishers, notify.NewRedisPublisher(b.redis))
	}
	if cfg.MQTTBroker != "" {
		mq, err := notify.NewMQTTPublisher(ctx, notify.MQTTConfig{
			Broker:    cfg.MQTTBroker,
			ClientID:  cfg.MQTTClientID,
			TopicRoot: cfg.MQTTTopicRoot,
			QoS:       1,
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = mq.Close(closeCtx)
		}()
		awaitBroker(ctx, mq, mqttConnectWait, logger.WithValues("broker", cfg.MQTTBroker))
		publishers = append(publishers, mq)
	}

	broadcaster := notify.NewBroadcaster(o.queueSize, logger, publishers...)
	sink := notify.NewFanout(b.alerts, broadcaster, logger)

	policy := pipeline.FailOpen
	if o.failClosed {
		policy = pipeline.FailClosed
	}
	engineOpts := pipeline.EngineOptions{
		Source:         b.source,
		Sink:           sink,
		Settings:       b.state,
		Cursors:        b.state,
		FailurePolicy:  policy,
		RegistryMaxAge: cfg.RegistryRefresh(),
		Logger:         logger,
	}
	if b.dedup != nil {
		engineOpts.Dedup = b.dedup
	}
	engine := pipeline.NewEngine(ctx, engineOpts)
	defer engine.Stop()

	registry := jobs.NewRegistry(engine.Analyze, logger)
	defer registry.Wait()

	var keys auth.KeyLookup
	if b.redis != nil {
		keys = b.redis
	}
	health := map[string]transporthttp.Pinger{"timescale": b.timescale}
	if b.redis != nil {
		health["redis"] = b.redis
	}
	if b.sqlite != nil {
		health["sqlite"] = b.sqlite
	}

	server := transporthttp.NewServer(transporthttp.Options{
		Monitor:     engine,
		Alerts:      b.alerts,
		Analyses:    registry,
		Stream:      hub,
		Auth:        auth.NewAuthenticator(cfg, keys, logger),
		Health:      health,
		MaxAnalysis: cfg.MaxAnalysisSpan(),
		Logger:      logger,
	})

	if o.autoStart {
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("start monitoring: %w", err)
		}
	}

	// The broadcaster outlives every alert producer: it is cancelled only
	// after the API, the live monitor and running analyses have finished.
	bctx, stopBroadcast := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBroadcast()
	serverDone := make(chan struct{})

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		broadcaster.Run(bctx)
		return nil
	})
	eg.Go(func() error {
		defer close(serverDone)
		return server.ListenAndServe(egCtx, cfg.HTTPAddr)
	})
	eg.Go(func() error {
		quiesce(egCtx, stopBroadcast,
			func() { <-serverDone },
			engine.Stop,
			registry.Wait,
		)
		return nil
	})

	log.Info("fueltheft serving",
		"addr", cfg.HTTPAddr,
		"store", cfg.StoreBackend,
		"dedup", cfg.DedupBackend,
		"publishers", len(publishers))
	return eg.Wait()
}

// quiesce waits for ctx to be done, runs stops in order and then calls done.
func quiesce(ctx context.Context, done context.CancelFunc, stops ...func()) {
	<-ctx.Done()
	for _, stop := range stops {
		stop()
	}
	done()
}

type connectionWaiter interface {
	AwaitConnection(ctx context.Context) error
}

// awaitBroker waits up to wait for the first broker connection and reports
// whether it came up. A broker that is down is logged, not fatal.
func awaitBroker(ctx context.Context, c connectionWaiter, wait time.Duration, logger log.Logger) bool {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := c.AwaitConnection(ctx); err != nil {
		logger.Warn("mqtt broker not reachable yet, publishes retry in the background",
			"wait", wait, "error", err)
		return false
	}
	return true
}
