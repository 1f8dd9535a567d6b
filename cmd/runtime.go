package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapctl/config"
	"swapctl/pkg/assets"
	"swapctl/pkg/client"
	"swapctl/pkg/endpoint"
	"swapctl/pkg/journal"
	"swapctl/pkg/ledger"
	"swapctl/pkg/logger"
	"swapctl/pkg/metrics"
	"swapctl/pkg/publisher"
	"swapctl/pkg/swap"
)

const serviceName = "swapctl"

// runtime holds the components a command works with
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	ledger   *ledger.Solana
	registry *assets.Registry
	journal  *journal.Journal

	// Set only when a wallet is required
	signer    *ledger.LocalSigner
	pool      *endpoint.Pool
	executor  *swap.Executor
	publisher *publisher.Publisher
	metrics   *http.Server
}

// newRuntime loads configuration and wires the ledger, registry and journal.
// withWallet additionally wires the signer, endpoint pool, executor and sinks.
func newRuntime(cmd *cobra.Command, withWallet bool) (*runtime, error) {
	configFile, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger.Init(serviceName, cfg.Env, level)
	log := logger.L()

	rt := &runtime{cfg: cfg, logger: log}

	rt.ledger, err = ledger.NewSolana(log, ledger.Config{
		RPCURL:         cfg.RPCURL,
		Commitment:     cfg.Commitment,
		SkipPreflight:  cfg.SkipPreflight,
		PollInterval:   cfg.ConfirmPollInterval,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	rt.registry, err = assets.NewRegistry(cfg.Assets, rt.ledger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.journal, err = journal.New(cfg.JournalPath)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if !withWallet {
		return rt, nil
	}

	if err := cfg.RequireWallet(); err != nil {
		rt.Close()
		return nil, err
	}
	rt.signer, err = ledger.NewLocalSigner(cfg.PrivateKey)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.pool, err = endpoint.NewPool(cfg.Endpoints)
	if err != nil {
		rt.Close()
		return nil, err
	}

	quoter := client.New(log, client.Config{
		Timeout:                 cfg.RequestTimeout,
		RequestsPerSecond:       cfg.RequestsPerSecond,
		Burst:                   cfg.Burst,
		APIKey:                  cfg.APIKey,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})

	sinks := []swap.Sink{rt.journal}
	if cfg.NATSURL != "" {
		rt.publisher, err = publisher.Connect(log, cfg.NATSURL, cfg.NATSSubject, serviceName)
		if err != nil {
			// Outcomes are still journaled
			log.Warn("publisher.connect_failed", zap.String("url", cfg.NATSURL), zap.Error(err))
		} else {
			sinks = append(sinks, rt.publisher)
		}
	}

	rt.executor = swap.New(log, rt.pool, quoter, rt.signer, rt.ledger, swap.Config{
		Backoff:             swap.Policy{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		DustThreshold:       cfg.DustThreshold,
		ConfirmTimeout:      cfg.ConfirmTimeout,
		RequireConfirmation: cfg.RequireConfirmation,
	}, swap.WithSinks(sinks...))

	logger.S().Debugw("runtime.ready",
		"wallet", rt.signer.Identity(),
		"endpoints", cfg.Endpoints,
		"rpc_url", cfg.RPCURL,
		"sinks", len(sinks),
		"require_confirmation", cfg.RequireConfirmation,
	)

	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}
	if metricsAddr != "" {
		rt.metrics = metrics.Serve(metricsAddr)
		log.Info("metrics.listening", zap.String("addr", metricsAddr))
	}

	return rt, nil
}

// Close releases connections and listeners
func (r *runtime) Close() {
	if r.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = r.metrics.Shutdown(ctx)
		cancel()
	}
	if r.publisher != nil {
		r.publisher.Close()
	}
	if r.ledger != nil {
		_ = r.ledger.Close()
	}
}
