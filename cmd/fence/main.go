package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	"github.com/AlexKimmel/fence/internal/auth"
	"github.com/AlexKimmel/fence/internal/config"
	"github.com/AlexKimmel/fence/internal/fence"
	"github.com/AlexKimmel/fence/internal/gateway"
	"github.com/AlexKimmel/fence/internal/loop"
	"github.com/AlexKimmel/fence/internal/obs"
	"github.com/AlexKimmel/fence/internal/ratelimit"
	"github.com/AlexKimmel/fence/internal/ratelimit/memory"
)

const version = "v0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "fence"
	app.Usage = "pace loops and clients to a minimum interval"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "Path to the YAML config file (defaults apply when empty)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "Serve /tick, paced per client",
			Action: serve,
		},
		{
			Name:  "run",
			Usage: "Run a paced loop that logs each tick",
			Flags: []cli.Flag{
				cli.DurationFlag{
					Name:  "interval",
					Usage: "Minimum time between ticks (overrides loop.interval)",
				},
				cli.IntFlag{
					Name:  "iterations",
					Usage: "Stop after N ticks, 0 = until interrupted (overrides loop.iterations)",
					Value: -1,
				},
				cli.StringFlag{
					Name:  "metrics-addr",
					Usage: "Expose loop metrics on this address (e.g. :9100); disabled when empty",
				},
			},
			Action: run,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger := zerolog.New(os.Stderr)
		logger.Fatal().Err(err).Msg("fence")
	}
}

func loadConfig(c *cli.Context) (*config.Root, error) {
	path := c.GlobalString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	interval := cfg.Loop.Interval.Duration
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}
	iterations := cfg.Loop.Iterations
	if n := c.Int("iterations"); n >= 0 {
		iterations = n
	}

	ctx, stop := signalContext()
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)
	if addr := c.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
		defer srv.Close()
	}

	r := &loop.Runner{
		Fence: fence.FromDuration(interval),
		Task: func(_ context.Context, i int) error {
			logger.Info().Int("tick", i).Msg("tick")
			return nil
		},
		Iterations: iterations,
		Logger:     logger,
		Observer:   metrics,
	}

	logger.Info().Dur("interval", interval).Int("iterations", iterations).Msg("loop starting")
	_, err = r.Run(ctx)
	return err
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)
	logger.Info().Msg("Setup logger")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(version))
	})

	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.Handle("/tick", tickHandler(time.Now))

	lim, err := memory.New(cfg.Pacing.MaxKeys)
	if err != nil {
		return err
	}
	defer lim.Close()

	policy := ratelimit.Policy{Interval: cfg.Pacing.Interval.Duration}
	skip := map[string]struct{}{
		"/health":                        {},
		"/version":                       {},
		cfg.Observability.PrometheusPath: {},
	}
	clients := auth.NewStatic(cfg.Pacing.KeyHeader, cfg.Secrets())

	handler := gateway.Chain(
		mux,
		obs.Logger(logger),
		metrics.Middleware(skip),
		gateway.BodyLimit(int(cfg.Server.MaxBody())),
		clients.Middleware(skip),
		gateway.Pace(lim, policy, cfg.ClientIntervals(), skip, metrics.OnPaced, metrics.OnError),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	// start
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Dur("interval", policy.Interval).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	ctx, stop := signalContext()
	defer stop()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
	return nil
}

type tick struct {
	Client string `json:"client"`
	At     int64  `json:"at"` // unix ms
}

func tickHandler(now func() time.Time) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.ClientIDFrom(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tick{Client: id, At: now().UnixMilli()})
	})
}
