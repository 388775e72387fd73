package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/transcache"
	"github.com/always-cache/transcache/cache"
	cachekey "github.com/always-cache/transcache/pkg/cache-key"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	providerFlag       string
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin, if different from the origin URL")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 8080)")
	flag.StringVar(&providerFlag, "provider", "", "Caching provider to use: memory, sqlite or redis")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name for the sqlite provider")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if logFilenameFlag != "" {
		logFile, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		}
		defer logFile.Close()
		logOutputs = append(logOutputs, logFile)
	}
	log.Logger = log.Level(logLevel).Output(zerolog.MultiLevelWriter(logOutputs...)).
		With().Str("version", version).Logger()

	config, err := loadConfig(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	applyFlags(&config)
	if err := config.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// applyFlags overrides the config with the flags given on the command line.
func applyFlags(config *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			config.Origin = originFlag
		case "host":
			config.Host = hostFlag
		case "port":
			config.Port = portFlag
		case "provider":
			config.Provider = providerFlag
		case "db":
			config.DB = dbFilenameFlag
		}
	})
}

func run(ctx context.Context, config Config) error {
	store, closeStore, err := newStore(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	originURL, err := url.Parse(config.Origin)
	if err != nil {
		return err
	}
	origin := transcache.NewOriginTransport(*originURL, config.Host)
	if len(config.Rules) > 0 {
		origin.ModifyResponse = config.Rules.Apply
	}

	encodings, err := config.encodings()
	if err != nil {
		return err
	}
	svc := transcache.New(transcache.Config{
		Cache:               store,
		Upstream:            origin,
		Logger:              &log.Logger,
		Encodings:           encodings,
		StoreIdentity:       config.StoreIdentity,
		MinBodySize:         config.MinBodySize,
		MaxBodySize:         config.MaxBodySize,
		MinEncodableSize:    config.MinEncodableSize,
		DefaultDuration:     config.DefaultDuration,
		DisableInvalidation: config.DisableInvalidation,
		KeyHook: cachekey.Hooks(
			cachekey.IgnoreQuery(config.IgnoreQuery...),
			cachekey.FromHeaders(config.KeyHeaders...),
		),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           router(svc, log.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if config.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(config.TLSCert, config.TLSKey)
		if err != nil {
			return fmt.Errorf("load certificate: %w", err)
		}
		server.TLSConfig = &tls.Config{
			GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
				return &cert, nil
			},
		}
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Msgf("Proxying port %d to %s (with hostname '%s') using %s cache",
			config.Port, config.Origin, config.Host, config.Provider)
		if server.TLSConfig != nil {
			errc <- server.ListenAndServeTLS("", "")
		} else {
			errc <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// router serves the cache admin endpoints and passes everything else to the
// caching proxy.
func router(svc *transcache.Service, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	}))

	r.Method(http.MethodPost, "/-/cache/reset", transcache.ResetHandler(svc.Cache()))
	r.Method(http.MethodGet, "/-/metrics", promhttp.Handler())
	// e.g. GET /-/cache/reset belongs to the origin
	r.MethodNotAllowed(svc.ServeHTTP)
	r.Handle("/*", svc)
	return r
}

func newStore(ctx context.Context, config Config) (cache.Cache, func(), error) {
	switch config.Provider {
	case "sqlite":
		store, err := cache.NewSQLiteCache(config.DB, &log.Logger)
		if err != nil {
			return nil, nil, err
		}
		go purgeLoop(ctx, store, config.PurgeInterval)
		return store, func() { store.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", config.RedisAddr, err)
		}
		return cache.NewRedisCache(client, config.RedisPrefix, &log.Logger), func() { client.Close() }, nil
	default:
		store, err := cache.NewMemoryCache(config.MaxEntries, config.MaxWeight, &log.Logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
