package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rechain/starknet-sequencer/internal/api"
	"github.com/rechain/starknet-sequencer/internal/batcher"
	"github.com/rechain/starknet-sequencer/internal/builder"
	"github.com/rechain/starknet-sequencer/internal/classcache"
	"github.com/rechain/starknet-sequencer/internal/consensus"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/execution"
	"github.com/rechain/starknet-sequencer/internal/l1"
	"github.com/rechain/starknet-sequencer/internal/mempool"
	"github.com/rechain/starknet-sequencer/internal/network"
	"github.com/rechain/starknet-sequencer/internal/storage"
	"github.com/rechain/starknet-sequencer/pkg/config"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Error initializing config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base, err := storage.NewBadgerStore(cfg.Storage.Path, cfg.Storage.CacheSize, cfg.Storage.Sync)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer base.Close()

	store, err := storage.NewSequencerStore(ctx, base)
	if err != nil {
		log.Fatalf("Failed to initialize sequencer store: %v", err)
	}
	defer store.Close()

	classes, err := classcache.New(cfg.ClassCache.Capacity)
	if err != nil {
		log.Fatalf("Failed to initialize class cache: %v", err)
	}

	pool := mempool.NewInMemoryPool()
	l1Client := l1.StaticClient{Hash: "0x0"}

	factory := builder.NewFactory(
		store,
		classes,
		func() execution.CairoRunner { return execution.NewFakeRunner(nil) },
		execution.DefaultVersionedConstants(),
		cfg.Builder.TxChunkSize,
		bouncerWeights(cfg.Bouncer),
	)

	b := batcher.New(store, store, pool, l1Client, factory, batcher.Config{
		StreamChunkSize: cfg.Batcher.StreamingChunkSize,
		GasPrices:       core.GasPrices{},
	})

	var bus network.Bus
	if cfg.Network.UseLoopback {
		bus = network.NewStandaloneLoopbackBus()
	} else {
		lb, err := network.NewLibP2PBus(cfg.Network.ListenAddress, cfg.Network.Bootstrap)
		if err != nil {
			log.Fatalf("Failed to initialize network bus: %v", err)
		}
		defer lb.Close()
		bus = lb
	}

	validators := make([]core.ValidatorId, cfg.Consensus.NumValidators)
	for i := range validators {
		validators[i] = core.ValidatorId(fmt.Sprintf("validator-%d", i))
	}
	self := core.ValidatorId(cfg.Consensus.ValidatorID)
	if self == "" {
		self = validators[0]
	}

	cctx := batcher.NewBatcherContext(b, bus, self, batcher.NewValidatorSet(validators))

	manager := consensus.NewMultiHeightManager(consensus.Config{
		ValidatorID: self,
		StartHeight: core.BlockNumber(cfg.Consensus.StartHeight),
		Timeouts: consensus.TimeoutsConfig{
			ProposalTimeout:  cfg.Consensus.Timeouts.ProposalTimeout,
			PrevoteTimeout:   cfg.Consensus.Timeouts.PrevoteTimeout,
			PrecommitTimeout: cfg.Consensus.Timeouts.PrecommitTimeout,
		},
	}, cctx, bus)

	go func() {
		if err := manager.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("consensus manager stopped: %v", err)
		}
	}()

	restServer := api.NewServer(b, manager, store)
	healthServer := api.NewHealthServer()

	go func() {
		if !cfg.API.REST.Enabled {
			return
		}
		log.Printf("Starting REST API server on %s", cfg.API.REST.Address)
		if err := restServer.Start(cfg.API.REST.Address); err != nil {
			log.Printf("REST API server error: %v", err)
		}
	}()

	go func() {
		if !cfg.API.GRPC.Enabled {
			return
		}
		log.Printf("Starting gRPC health server on %s", cfg.API.GRPC.Address)
		if err := healthServer.Start(cfg.API.GRPC.Address); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := restServer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping REST server: %v", err)
	}
	if err := healthServer.Stop(); err != nil {
		log.Printf("Error stopping gRPC server: %v", err)
	}
}

func bouncerWeights(cfg config.BouncerConfig) core.BouncerWeights {
	w := core.NewBouncerWeights()
	w.NSteps = cfg.MaxNSteps
	w.StateDiffSize = cfg.MaxStateDiffSize
	w.MessageSegmentLength = cfg.MaxMessageSegmentLength
	for k, v := range cfg.MaxBuiltinCounts {
		w.BuiltinCounts[k] = v
	}
	return w
}
