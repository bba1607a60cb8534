package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	"golang.org/x/sync/errgroup"

	"github.com/getsentry/proxyprof/internal/chrometrace"
	"github.com/getsentry/proxyprof/internal/classprofile"
	"github.com/getsentry/proxyprof/internal/export"
	"github.com/getsentry/proxyprof/internal/httputil"
	"github.com/getsentry/proxyprof/internal/logutil"
	"github.com/getsentry/proxyprof/internal/metrics"
	"github.com/getsentry/proxyprof/internal/proxy"
	"github.com/getsentry/proxyprof/internal/storageprovider"
	"github.com/getsentry/proxyprof/internal/timeutil"
)

type (
	messageWriteCloser interface {
		export.MessageWriter
		Close() error
	}

	environment struct {
		config ServiceConfig

		clock    timeutil.Clock
		metrics  *metrics.Aggregator
		registry *classprofile.Registry
		trace    *chrometrace.Recorder

		storage         *storageprovider.Blob
		profilingWriter messageWriteCloser
		exporters       []export.Exporter
	}
)

var release string

func newEnvironment(ctx context.Context, config ServiceConfig) (*environment, error) {
	e := environment{
		config:   config,
		clock:    timeutil.System,
		metrics:  metrics.NewAggregator(config.MetricsMaxMethods, config.MetricsMaxSamples),
		registry: classprofile.DefaultRegistry,
		trace:    chrometrace.NewRecorder(config.TraceCapacity),
	}
	if config.ExportBucketURL != "" {
		storage, err := storageprovider.Open(ctx, config.ExportBucketURL)
		if err != nil {
			return nil, err
		}
		e.storage = storage
		e.exporters = append(e.exporters, export.BlobExporter{
			Storage: storage,
			Prefix:  config.ExportPrefix,
		})
	}
	if len(config.KafkaBrokers) > 0 {
		e.profilingWriter = &kafka.Writer{
			Addr:         kafka.TCP(config.KafkaBrokers...),
			Async:        true,
			Balancer:     kafka.CRC32Balancer{},
			BatchSize:    10,
			Compression:  kafka.Lz4,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}
		e.exporters = append(e.exporters, export.KafkaExporter{
			Writer: e.profilingWriter,
			Topic:  config.KafkaTopic,
		})
	}
	return &e, nil
}

func (e *environment) shutdown() {
	if e.storage != nil {
		if err := e.storage.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	if e.profilingWriter != nil {
		if err := e.profilingWriter.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/health", e.getHealth},
		{http.MethodGet, "/classes", e.getClasses},
		{http.MethodGet, "/trace", e.getTrace},
		{http.MethodGet, "/classes/:class/flat", e.getFlat},
		{http.MethodGet, "/classes/:class/tree", e.getTree},
		{http.MethodGet, "/classes/:class/calltree", e.getCallTree},
		{http.MethodGet, "/classes/:class/report", e.getReport},
		{http.MethodGet, "/classes/:class/metrics", e.getMetrics},
		{http.MethodGet, "/classes/:class/flamegraph", e.getFlamegraph},
		{http.MethodDelete, "/classes/:class", e.deleteClass},
		{http.MethodPost, "/export", e.postExport},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.NameTransaction(route.path, route.handler)
		handlerFunc = httputil.DecompressPayload(handlerFunc)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}

	return router, nil
}

// serve runs server on l until ctx is done, then gives in-flight requests
// 30 seconds to complete.
func serve(ctx context.Context, server *http.Server, l net.Listener) error {
	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(l)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(cctx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("can't read the configuration")
	}

	logutil.ConfigureLogger(config.LogLevel)

	err = sentry.Init(sentry.ClientOptions{
		BeforeSend:       httputil.SetHTTPStatusCodeTag,
		Dsn:              config.SentryDSN,
		EnableTracing:    true,
		Environment:      config.Environment,
		Release:          release,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, config)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	router, err := env.newRouter()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := &http.Server{
		Addr:    ":" + config.Port,
		Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
	}
	l, err := net.Listen("tcp", server.Addr)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("can't listen")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(ctx, server, l)
	})
	g.Go(func() error {
		return export.Run(ctx, env.registry, env.exporters, config.ExportInterval, env.clock)
	})
	if config.Workload {
		g.Go(func() error {
			return loopWorkload(
				ctx,
				config.WorkloadInterval,
				config.WorkloadScale,
				proxy.WithRegistry(env.registry),
				proxy.WithSlowCallThreshold(config.SlowCallThreshold),
				proxy.WithObserver(proxy.LogObserver(log.Logger)),
				proxy.WithObserver(env.metrics),
				proxy.WithObserver(env.trace),
			)
		})
	}

	log.Info().Str("addr", server.Addr).Int("exporters", len(env.exporters)).Msg("proxyprof started")
	if err := g.Wait(); err != nil {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	// Shutdown the rest of the environment after the HTTP connections are closed
	env.shutdown()
}
