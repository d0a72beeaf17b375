// Command kvcored is the process entry point: it constructs every
// collaborator (config, logger, keyspace, dispatcher, durable log,
// replica sink, cron loops, listeners, shutdown coordinator) and wires
// them into one running reactor, then blocks until signaled.
package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lordbasex/kvcore/client"
	"github.com/lordbasex/kvcore/clock"
	"github.com/lordbasex/kvcore/config"
	"github.com/lordbasex/kvcore/cron"
	"github.com/lordbasex/kvcore/dispatch"
	"github.com/lordbasex/kvcore/durablelog"
	"github.com/lordbasex/kvcore/eviction"
	"github.com/lordbasex/kvcore/info"
	"github.com/lordbasex/kvcore/keyspace"
	"github.com/lordbasex/kvcore/objx"
	"github.com/lordbasex/kvcore/replica"
	"github.com/lordbasex/kvcore/shutdown"
	"github.com/lordbasex/kvcore/sleep"
	"github.com/lordbasex/kvcore/transport"
)

func main() {
	cfg := config.LoadConfigFromFlags()

	logFormat := info.LegacyFormat
	if cfg.LogFormat == "logfmt" {
		logFormat = info.LogfmtFormat
	}
	log := info.NewLogger(logFormat, 'M', os.Stdout)

	reg := prometheus.NewRegistry()
	dispatchMetrics := dispatch.NewMetrics(reg)
	sleepMetrics := sleep.NewMetrics(reg)

	ks := keyspace.New(cfg.Databases)
	shared := objx.NewShared()
	oracle := clock.New()
	clients := client.NewRegistry()
	commandTable := dispatch.BuildRegistry()

	durableLog, err := openDurableLog(cfg)
	if err != nil {
		log.WithFields(map[string]any{"err": err}).Fatal("failed to open durable log")
	}

	replicaSink := openReplicaSink(cfg)

	pool, buckets := openEvictionState(cfg)

	d := dispatch.New(commandTable, ks, shared, oracle, clients, cfg, durableLog, replicaSink, pool, buckets, dispatchMetrics, log)

	sleeper := sleep.NewCoordinator(ks, clients, durableLog, pool, buckets, oracle, sleepMetrics)
	sleeper.MaxEvictPerTick = 4

	reactor := transport.NewReactor(d, sleeper, 1024)
	go reactor.Run()

	listeners := startListeners(cfg, reactor, clients, log)

	closers := make([]io.Closer, len(listeners))
	for i, ln := range listeners {
		closers[i] = ln
	}
	shutdownCoord := shutdown.New(shutdown.Options{
		DurableLog:      durableLog,
		Replica:         replicaSink,
		Pause:           d,
		ShutdownTimeout: cfg.ShutdownTimeout,
		PIDFilePath:     cfg.PIDFile,
		Listeners:       closers,
		ReplicasCaughtUp: func() bool {
			return replicaSink == nil || replicaSink.Connected()
		},
	})

	serverCron := cron.NewServerCron(cron.ServerCronConfig{HZ: cfg.HZ}, oracle, ks, func() bool { return false })
	serverCron.OnSizeReport(func() {
		log.Infof("db size report: %d keys across %d databases, %d clients", totalKeys(ks), ks.Count(), clients.Len())
	})
	serverCron.Start()

	clientCron := cron.NewClientCron(cron.ClientCronConfig{
		HZ:          cfg.HZ,
		MaxHZ:       cfg.ClientHZMax,
		IdleTimeout: cfg.ClientIdleTimeout,
	}, clients, buckets)
	clientCron.Start()

	writePIDFile(cfg.PIDFile, log)
	stopWatch := watchPIDFile(cfg.PIDFile, log)

	startMetricsServer(cfg.MetricsAddr, reg, log)

	waitForSignalAndShutdown(shutdownCoord, serverCron, clientCron, reactor, cfg.ShutdownTimeout, log)
	if stopWatch != nil {
		stopWatch()
	}
}

func openDurableLog(cfg *config.ServerConfig) (durablelog.Sink, error) {
	switch {
	case cfg.DurableLogMySQLDSN != "":
		return durablelog.NewMySQLAuditSink(context.Background(), durablelog.MySQLAuditConfig{DSN: cfg.DurableLogMySQLDSN})
	case cfg.AppendOnly:
		return durablelog.Open(cfg.DurableLogPath, fsyncPolicy(cfg.AppendFsync))
	default:
		return nil, nil
	}
}

func fsyncPolicy(name string) durablelog.FsyncPolicy {
	switch name {
	case "always":
		return durablelog.FsyncAlways
	case "no":
		return durablelog.FsyncNever
	default:
		return durablelog.FsyncEverySecond
	}
}

func openReplicaSink(cfg *config.ServerConfig) replica.Sink {
	if cfg.ReplicaAMQPURL == "" {
		return nil
	}
	sink := replica.NewAMQPSink(cfg.ReplicaAMQPURL, cfg.ReplicaExchangeName, replica.ReconnectConfig{
		Enabled:           cfg.ReconnectEnabled,
		MaxAttempts:       cfg.ReconnectMaxAttempts,
		InitialInterval:   cfg.ReconnectInitialInterval,
		MaxInterval:       cfg.ReconnectMaxInterval,
		BackoffMultiplier: cfg.ReconnectBackoffMultiplier,
		ResetInterval:     cfg.ReconnectResetInterval,
	})
	if err := sink.Connect(); err != nil {
		// Reconnection keeps retrying in the background; a failed first
		// dial is not fatal.
		_ = err
	}
	return sink
}

// evictionCandidateCapacity bounds the maxmemory candidate pool
// independent of MaxMemoryBytes, since KeyPool tracks candidate keys, not
// bytes — spec.md's eviction gate (§4.4 step 11) only needs "a victim",
// not an exact memory accounting structure.
const evictionCandidateCapacity = 1 << 16

func openEvictionState(cfg *config.ServerConfig) (*eviction.KeyPool, *eviction.ClientBuckets) {
	var pool *eviction.KeyPool
	if cfg.MaxMemoryBytes > 0 {
		p, err := eviction.NewKeyPool(evictionCandidateCapacity)
		if err == nil {
			pool = p
		}
	}
	var buckets *eviction.ClientBuckets
	if cfg.MaxClientsMem > 0 {
		buckets = eviction.NewClientBuckets()
	}
	return pool, buckets
}

func startListeners(cfg *config.ServerConfig, reactor *transport.Reactor, clients *client.Registry, log *info.Logger) []net.Listener {
	var listeners []net.Listener

	if cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			log.WithFields(map[string]any{"err": err, "addr": cfg.ListenAddr}).Fatal("failed to bind TCP listener")
		}
		listeners = append(listeners, ln)
		go func() {
			if err := transport.Accept(ln, reactor, clients); err != nil {
				log.WithFields(map[string]any{"err": err}).Warn("tcp accept loop exited")
			}
		}()
	}

	if cfg.UnixSocket != "" {
		_ = os.Remove(cfg.UnixSocket)
		ln, err := net.Listen("unix", cfg.UnixSocket)
		if err != nil {
			log.WithFields(map[string]any{"err": err, "path": cfg.UnixSocket}).Fatal("failed to bind unix socket listener")
		}
		listeners = append(listeners, ln)
		go func() {
			if err := transport.Accept(ln, reactor, clients); err != nil {
				log.WithFields(map[string]any{"err": err}).Warn("unix accept loop exited")
			}
		}()
	}

	return listeners
}

func writePIDFile(path string, log *info.Logger) {
	if path == "" {
		return
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		log.WithFields(map[string]any{"err": err, "path": path}).Warn("failed to write pid file")
	}
}

// watchPIDFile warns if the pid file disappears out from under the
// running process — an external cleanup script or a second instance
// racing for the same path — rather than silently leaving stale state an
// operator would otherwise only discover at the next restart.
//
// Grounded on hazyhaar-GoClode's Engine.WatchFile (internal/core/db.go,
// retrieved as an other_examples/ excerpt): a goroutine wrapping
// fsnotify.NewWatcher, selecting over Events/Errors, filtering on the
// operation it cares about.
func watchPIDFile(path string, log *info.Logger) func() {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithFields(map[string]any{"err": err}).Warn("failed to start pid file watcher")
		return nil
	}
	if err := watcher.Add(dirOf(path)); err != nil {
		log.WithFields(map[string]any{"err": err, "path": path}).Warn("failed to watch pid file directory")
		watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == path && (event.Op&fsnotify.Remove != 0 || event.Op&fsnotify.Rename != 0) {
					log.WithFields(map[string]any{"path": path}).Warn("pid file removed unexpectedly")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithFields(map[string]any{"err": err}).Warn("pid file watcher error")
			}
		}
	}()

	return func() { watcher.Close() }
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func startMetricsServer(addr string, reg *prometheus.Registry, log *info.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(map[string]any{"err": err}).Warn("metrics server exited")
		}
	}()
}

func totalKeys(ks *keyspace.Keyspace) int {
	total := 0
	for i := 0; i < ks.Count(); i++ {
		total += ks.DB(i).Size()
	}
	return total
}

func waitForSignalAndShutdown(coord *shutdown.Coordinator, serverCron *cron.ServerCron, clientCron *cron.ClientCron, reactor *transport.Reactor, timeout time.Duration, log *info.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	serverCron.Stop()
	clientCron.Stop()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// finalize closes every registered listener itself (shutdown.Options
	// .Listeners), so there is nothing left for this function to close.
	if err := coord.Run(ctx, shutdown.Request{}); err != nil {
		log.WithFields(map[string]any{"err": err}).Warn("shutdown completed with errors")
	}

	reactor.Stop()

	log.Info("kvcored: shut down")
}
