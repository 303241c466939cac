package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kvcache-router/kvcache-router/kvrouter"
	"github.com/kvcache-router/kvcache-router/kvrouter/discovery"
	"github.com/kvcache-router/kvcache-router/kvrouter/scrape"
	"github.com/kvcache-router/kvcache-router/kvrouter/telemetry"
)

var (
	configPath    string
	listenAddr    string
	etcdEndpoints []string
	etcdNamespace string
	etcdComponent string
	workerURLTmpl string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the router as an HTTP service",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to router config YAML (optional, defaults used if omitted)")
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().StringSliceVar(&etcdEndpoints, "etcd-endpoints", []string{"127.0.0.1:2379"}, "etcd cluster endpoints")
	serveCmd.Flags().StringVar(&etcdNamespace, "namespace", "default", "Discovery namespace")
	serveCmd.Flags().StringVar(&etcdComponent, "component", "inference-worker", "Discovery component name")
	serveCmd.Flags().StringVar(&workerURLTmpl, "worker-metrics-url", "http://worker-%d.internal:9000/metrics", "printf template mapping worker id to its metrics URL")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := kvrouter.DefaultConfig()
	if configPath != "" {
		loaded, err := kvrouter.LoadConfig(configPath)
		if err != nil {
			logrus.WithError(err).Fatal("kvrouter: loading config")
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hasher := kvrouter.NewBlockHasher(cfg.BlockSize, cfg.HashSeed)
	indexer := kvrouter.NewIndexer(int(cfg.EventChannelCapacity), cfg.PerWorkerBlockCapacity)
	endpoints := kvrouter.NewEndpointSet()
	metrics := kvrouter.NewMetricsAggregator()
	endpoints.RegisterPurger(indexer.PurgeWorker)
	endpoints.RegisterPurger(metrics.PurgeWorker)

	selector := kvrouter.NewSelector(cfg.SelectionPolicy)
	scheduler := kvrouter.NewScheduler(endpoints, metrics, selector, cfg.BlockSize, cfg.Coefficients)
	router := kvrouter.NewRouter(hasher, indexer, scheduler)

	reg := telemetry.NewRegistry(prometheus.DefaultRegisterer)
	sink := func(worker kvrouter.WorkerID, requestISL uint32, cachedBlocks uint32) {
		reg.EmitHitRate(telemetry.HitRateSample{
			Worker:        worker,
			OverlapBlocks: cachedBlocks,
			TotalBlocks:   requestISL / uint32(cfg.BlockSize),
		})
	}

	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   etcdEndpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		logrus.WithError(err).Fatal("kvrouter: connecting to etcd")
	}
	defer etcdClient.Close()

	onStale := func(stale bool) {
		if stale {
			logrus.Warn("kvrouter: discovery feed stale, degrading scheduler")
			scheduler.Degrade()
		} else {
			logrus.Info("kvrouter: discovery feed recovered")
			scheduler.Recover(cfg.Coefficients)
		}
	}
	watcher := discovery.NewEtcdWatcher(etcdClient, etcdNamespace, etcdComponent, endpoints, onStale)
	scraper := scrape.NewScraper(endpoints, metrics, scrape.DefaultResolver(workerURLTmpl), cfg.MetricScrapeInterval())

	mux := http.NewServeMux()
	mux.Handle("/route", kvrouter.ServeHandler(router, sink))
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: listenAddr, Handler: mux}

	group, gctx := errgroup.WithContext(ctx)
	indexer.Run(gctx)
	group.Go(func() error {
		watcher.Run(gctx, cfg.StalenessThreshold())
		return nil
	})
	group.Go(func() error {
		scraper.Run(gctx)
		return nil
	})
	group.Go(func() error {
		reg.Run(gctx)
		return nil
	})
	group.Go(func() error {
		logrus.Infof("kvrouter: listening on %s", listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logrus.WithError(err).Fatal("kvrouter: serve exited with error")
	}
	indexer.Close()
}
