// Command provideragentd runs the provider-side agent: the Payments Engine
// and the Matcher/Offer-Propagation Engine, wired to the Activity, Payment,
// and Discovery APIs over gRPC, with an inbound gRPC server exposing the
// control-event and discovery surfaces consumed by the rest of the
// marketplace.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golem-market/provideragent/config"
	"github.com/golem-market/provideragent/internal/payments"
	"github.com/golem-market/provideragent/internal/paymentmodel"
	"github.com/golem-market/provideragent/internal/providerctx"
	"github.com/golem-market/provideragent/internal/store"
	"github.com/golem-market/provideragent/metrics"
	"github.com/golem-market/provideragent/rpcclient/activityapi"
	"github.com/golem-market/provideragent/rpcclient/discoveryapi"
	"github.com/golem-market/provideragent/rpcclient/paymentapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flags "github.com/jessevdk/go-flags"
	"google.golang.org/grpc"
)

func main() {
	if err := run(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}
	if cfg.LogFile != "" {
		if err := initLogRotator(cfg.LogFile, cfg.LogFileMaxSizeKB, cfg.LogFileMaxRolls); err != nil {
			return fmt.Errorf("init log rotator: %w", err)
		}
	}
	setLogLevels(cfg.LogLevel)

	durations, err := cfg.ParseDurations()
	if err != nil {
		return fmt.Errorf("parse durations: %w", err)
	}

	dialOpts := []grpc.DialOption{grpc.WithInsecure(), grpc.WithBlock(), grpc.WithTimeout(durations.GrpcDialTimeout)}

	activityClient, err := activityapi.Dial(cfg.ActivityAPIAddr, dialOpts...)
	if err != nil {
		return fmt.Errorf("dial activity api: %w", err)
	}
	defer activityClient.Close()

	paymentClient, err := paymentapi.Dial(cfg.PaymentAPIAddr, dialOpts...)
	if err != nil {
		return fmt.Errorf("dial payment api: %w", err)
	}
	defer paymentClient.Close()

	discoveryClient, err := discoveryapi.Dial(cfg.DiscoveryAddr, cfg.DiscoveryRateLimitPerSec, dialOpts...)
	if err != nil {
		return fmt.Errorf("dial discovery api: %w", err)
	}
	defer discoveryClient.Close()

	var subStore store.Store
	var boltStore *store.BoltStore
	if cfg.BoltDBPath != "" {
		boltStore, err = store.OpenBoltStore(cfg.BoltDBPath)
		if err != nil {
			return fmt.Errorf("open offer/demand store: %w", err)
		}
		defer boltStore.Close()
		subStore = boltStore
	} else {
		subStore = store.NewMemStore()
	}

	rec := metrics.New()

	ctx := providerctx.New(providerctx.Deps{
		ActivityAPI:  activityClient,
		PaymentAPI:   paymentClient,
		Discovery:    discoveryClient,
		Validator:    hashValidator{},
		Store:        subStore,
		ModelBuilder: paymentmodel.LinearBuilder{},
		Config: payments.Config{
			GetEventsTimeout:       durations.GetEventsTimeout,
			GetEventsErrorTimeout:  durations.GetEventsErrorTimeout,
			InvoiceReissueInterval: durations.InvoiceReissueInterval,
			InvoiceResendInterval:  durations.InvoiceResendInterval,
			SessionID:              cfg.SessionID,
		},
		Metrics:            rec,
		OfferSweepInterval: durations.OfferSweepInterval,
	})
	defer ctx.Stop()

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&controlServiceDesc, &controlServer{engine: ctx.Payments})
	grpcServer.RegisterService(&discoveryServiceDesc, &discoveryServer{matcher: ctx.Matcher})
	grpcServer.RegisterService(&adminServiceDesc, &adminServer{engine: ctx.Payments, boltStore: boltStore, backupDir: cfg.BackupDir})

	lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GrpcListenAddr, err)
	}
	go func() {
		log.Infof("gRPC server listening on %s", cfg.GrpcListenAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC server stopped: %v", err)
		}
	}()
	defer grpcServer.GracefulStop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddr, Handler: mux}
	go func() {
		log.Infof("Metrics server listening on %s", cfg.MetricsListenAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server stopped: %v", err)
		}
	}()
	defer metricsSrv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Infof("Shutting down.")
	return nil
}
