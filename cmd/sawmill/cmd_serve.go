package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	natsx "github.com/wehubfusion/Sawmill/internal/nats"
	"github.com/wehubfusion/Sawmill/internal/tracing"
	"github.com/wehubfusion/Sawmill/pkg/concurrency"
	"github.com/wehubfusion/Sawmill/pkg/metrics"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/reporting"
	"github.com/wehubfusion/Sawmill/pkg/runner"
	"github.com/wehubfusion/Sawmill/pkg/storage"
)

// healthService is the gRPC health service name reporting runner state.
const healthService = "sawmill.Runner"

type serveFlags struct {
	pipeline string

	natsURL        string
	stream         string
	inputSubject   string
	durable        string
	outputSubject  string
	failureSubject string
	maxDeliver     int
	ackWait        time.Duration

	metricsAddr string
	healthAddr  string

	sentryDSN     string
	environment   string
	azureConn     string
	deadLetterBox string
	otlpEndpoint  string
	sampleRatio   float64
}

func newServeCmd(a *app) *cobra.Command {
	fl := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Process documents from a NATS JetStream consumer",
		Long: "Pulls documents from a JetStream stream, publishes processed documents to the\n" +
			"output subject and failures to the failure subject. Exposes Prometheus metrics\n" +
			"over HTTP and a gRPC health service.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a.logger, fl)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&fl.pipeline, "pipeline", "p", "", "Pipeline definition file (required)")
	f.StringVar(&fl.natsURL, "nats-url", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
	f.StringVar(&fl.stream, "stream", "DOCS", "JetStream stream name")
	f.StringVar(&fl.inputSubject, "subject", "docs.in", "Subject documents are read from")
	f.StringVar(&fl.durable, "durable", "sawmill", "Durable consumer name")
	f.StringVar(&fl.outputSubject, "output-subject", "docs.out", "Subject for processed documents")
	f.StringVar(&fl.failureSubject, "failure-subject", "docs.failed", "Subject for failed documents; empty dead-letters them")
	f.IntVar(&fl.maxDeliver, "max-deliver", 5, "Deliveries before JetStream gives up on a document")
	f.DurationVar(&fl.ackWait, "ack-wait", 30*time.Second, "Time JetStream waits for an acknowledgement")
	f.StringVar(&fl.metricsAddr, "metrics-addr", ":9090", "Prometheus /metrics listen address")
	f.StringVar(&fl.healthAddr, "health-addr", ":9091", "gRPC health listen address")
	f.StringVar(&fl.sentryDSN, "sentry-dsn", os.Getenv("SENTRY_DSN"), "Sentry DSN; empty disables reporting")
	f.StringVar(&fl.environment, "environment", envOr("SAWMILL_ENV", "development"), "Deployment environment")
	f.StringVar(&fl.azureConn, "azure-connection-string", os.Getenv("AZURE_STORAGE_CONNECTION_STRING"), "Azure storage connection string for dead letters")
	f.StringVar(&fl.deadLetterBox, "dead-letter-container", "sawmill-dead-letters", "Azure blob container for dead letters")
	f.StringVar(&fl.otlpEndpoint, "otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP/HTTP host:port; empty disables tracing")
	f.Float64Var(&fl.sampleRatio, "trace-sample-ratio", 1.0, "Fraction of documents traced")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func serve(parent context.Context, logger *zap.Logger, fl *serveFlags) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conc := concurrency.LoadConfig()
	if err := conc.Validate(); err != nil {
		return err
	}
	logger.Info("Concurrency configuration", zap.String("config", conc.String()))

	if fl.otlpEndpoint != "" {
		cfg := runner.DefaultTracingConfig("sawmill")
		cfg.ServiceVersion = version
		cfg.Environment = fl.environment
		cfg.OTLPEndpoint = fl.otlpEndpoint
		cfg.SampleRatio = fl.sampleRatio
		shutdown, err := runner.SetupTracing(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer tracing.Shutdown(shutdown, 10*time.Second, logger)
	}

	var reporter reporting.Reporter = reporting.NopReporter{}
	if fl.sentryDSN != "" {
		sr, err := reporting.NewSentryReporter(sentry.ClientOptions{
			Dsn:         fl.sentryDSN,
			Environment: fl.environment,
			Release:     "sawmill@" + version,
		}, logger)
		if err != nil {
			return err
		}
		defer sr.Flush(2 * time.Second)
		reporter = sr
	}

	prom := metrics.NewPrometheusTracker("sawmill", nil)
	meterProvider, err := metrics.NewPrometheusMeterProvider(prom.Registry())
	if err != nil {
		return err
	}
	defer meterProvider.Shutdown(context.Background())

	eng, err := loadEngine(fl.pipeline, conc, engineHooks{
		trackers: func(pipelineID string) ([]pipeline.MetricsTracker, error) {
			otelTracker, err := metrics.NewOTelTracker(meterProvider.Meter(metrics.MeterName),
				attribute.String("pipeline.id", pipelineID))
			if err != nil {
				return nil, err
			}
			return []pipeline.MetricsTracker{prom, otelTracker}, nil
		},
		onOvertime: func(pipelineID string) pipeline.OvertimeCallback {
			return runner.OvertimeReporter(pipelineID, reporter)
		},
	}, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	var deadLetters storage.DeadLetterStore
	if fl.azureConn != "" {
		store, err := storage.NewAzureBlobStore(fl.azureConn, fl.deadLetterBox, logger)
		if err != nil {
			return err
		}
		deadLetters = store
	} else {
		logger.Warn("No dead-letter store configured; undeliverable documents are only logged")
	}

	nc, err := natsx.Connect(ctx, natsx.DefaultConnectionConfig(fl.natsURL), logger)
	if err != nil {
		return err
	}
	defer natsx.Close(nc)
	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}
	jsc := natsx.WrapJetStream(js)
	if err := natsx.EnsureStream(jsc, natsx.StreamSpec{Name: fl.stream, Subjects: []string{fl.inputSubject}}, logger); err != nil {
		return err
	}
	if err := natsx.EnsureConsumer(jsc, fl.stream, natsx.ConsumerSpec{
		Durable:       fl.durable,
		FilterSubject: fl.inputSubject,
		MaxDeliver:    fl.maxDeliver,
		AckWait:       fl.ackWait,
	}, logger); err != nil {
		return err
	}
	source, err := runner.SubscribeJetStream(jsc, fl.stream, fl.durable, conc.FetchWait)
	if err != nil {
		return err
	}
	defer source.Close()

	healthSrv := health.NewServer()
	breaker := concurrency.NewCircuitBreaker(conc.BreakerThreshold, conc.BreakerReset,
		concurrency.WithStateChange(func(from, to concurrency.CircuitBreakerState) {
			logger.Warn("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			status := healthpb.HealthCheckResponse_SERVING
			if to == concurrency.StateOpen {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			healthSrv.SetServingStatus(healthService, status)
		}))

	r, err := runner.New(source, runner.NewJetStreamPublisher(jsc), eng.executor, eng.pipeline,
		runner.Config{
			OutputSubject:  fl.outputSubject,
			FailureSubject: fl.failureSubject,
			Workers:        conc.Workers,
			BatchSize:      conc.BatchSize,
		},
		runner.WithLogger(logger),
		runner.WithReporter(reporter),
		runner.WithDeadLetters(deadLetters),
		runner.WithLimiter(concurrency.NewLimiter(conc.MaxConcurrent, breaker)),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	httpSrv := &http.Server{Addr: fl.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", fl.healthAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", fl.healthAddr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Info("Serving metrics", zap.String("addr", fl.metricsAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Serving gRPC health", zap.String("addr", fl.healthAddr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		defer cancel()
		defer healthSrv.Shutdown()
		return r.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	stats := r.Stats()
	logger.Info("Shutdown complete",
		zap.Int64("received", stats.Received),
		zap.Int64("dead_lettered", stats.DeadLettered))
	return err
}
