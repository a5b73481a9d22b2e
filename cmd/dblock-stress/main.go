package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-dblock/v1/admin"
	"github.com/mirkobrombin/go-dblock/v1/config"
	"github.com/mirkobrombin/go-dblock/v1/lock"
	"github.com/mirkobrombin/go-dblock/v1/metrics"
	"github.com/mirkobrombin/go-dblock/v1/syncbus"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "dblock-stress",
	Short: "Exercise the multi-resource lock manager",
	Long: `dblock-stress drives a lock manager with randomized, overlapping
read/write requests and reports how many were granted. It can expose the
manager through /metrics, /active and /watch while the workload runs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.SetDefaults(v)
		if path := v.GetString("config"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config: %w", err)
			}
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a randomized workload",
	RunE:  runStress,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	runCmd.Flags().Int("parallel", 0, "maximum concurrently granted requests (0 = unbounded)")
	runCmd.Flags().Int("workers", 0, "number of concurrent workers")
	runCmd.Flags().Int("requests", 0, "requests per worker")
	runCmd.Flags().String("admin", "", "listen address for /metrics, /active and /watch")
	runCmd.Flags().Bool("trace", false, "print OpenTelemetry spans to stdout")
	runCmd.Flags().Duration("timeout", time.Minute, "abort the workload after this long")
	_ = v.BindPFlag("lock.parallel", runCmd.Flags().Lookup("parallel"))
	_ = v.BindPFlag("stress.workers", runCmd.Flags().Lookup("workers"))
	_ = v.BindPFlag("stress.requests", runCmd.Flags().Lookup("requests"))
	_ = v.BindPFlag("admin.addr", runCmd.Flags().Lookup("admin"))

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStress(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetLevel(cfg.Log.LogLevel())

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reg := metrics.NewRegistry()
	metrics.RegisterLockMetrics(reg)
	opts := []lock.Option{
		lock.WithParallel(cfg.Lock.Parallel),
		lock.WithLogger(log),
		lock.WithName("stress"),
		lock.WithMetrics(reg),
	}
	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
		opts = append(opts, lock.WithTracing())
	}

	bus, closeBus, err := newBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer closeBus()
	opts = append(opts, lock.WithBus(bus))

	m := lock.NewManager(opts...)
	defer m.Close()

	if cfg.Admin.Addr != "" {
		srv := newAdminServer(cfg.Admin.Addr, reg, m, bus)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("admin server stopped")
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
		log.WithField("addr", cfg.Admin.Addr).Info("admin endpoints enabled")
	}

	start := time.Now()
	res, err := Run(ctx, m, Workload{
		Workers:   cfg.Stress.Workers,
		Requests:  cfg.Stress.Requests,
		Resources: cfg.Stress.Resources,
		MaxHold:   time.Duration(cfg.Stress.HoldMicros) * time.Microsecond,
	})
	if err != nil {
		return err
	}
	st := m.Stats()
	log.WithFields(logrus.Fields{
		"granted":   res.Granted,
		"global":    res.Global,
		"max_wait":  res.MaxWait,
		"elapsed":   time.Since(start),
		"cancelled": st.Cancelled,
		"dropped":   st.DroppedEvents,
	}).Info("workload finished")
	return nil
}

func newBus(cfg config.BusConfig) (syncbus.Bus, func(), error) {
	switch cfg.Kind {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		bus := syncbus.NewRedisBus(client)
		return bus, func() {
			_ = bus.Close()
			_ = client.Close()
		}, nil
	case "nats":
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to nats: %w", err)
		}
		return syncbus.NewNATSBus(conn), conn.Close, nil
	default:
		return syncbus.NewInMemoryBus(), func() {}, nil
	}
}

func newAdminServer(addr string, reg *prometheus.Registry, m *lock.Manager, bus syncbus.Bus) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/active", admin.ActiveHandler(m))
	mux.Handle("/watch", admin.WatchHandler(m, bus))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
