package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/avln0x/sweepguard/internal/chainio"
	"github.com/avln0x/sweepguard/internal/config"
	"github.com/avln0x/sweepguard/internal/gasfee"
	"github.com/avln0x/sweepguard/internal/metrics"
	"github.com/avln0x/sweepguard/internal/relay"
	"github.com/avln0x/sweepguard/internal/rescue"
	"github.com/avln0x/sweepguard/internal/resilience"
	"github.com/avln0x/sweepguard/internal/txbuild"
	"github.com/avln0x/sweepguard/internal/watch"
)

var (
	flagEnvFile string
	flagDebug   bool
	flagPoll    bool
)

func main() {
	root := &cobra.Command{
		Use:   "sweepguard",
		Short: "Watches a compromised wallet and races a private sweep when funds land",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context())
		},
	}
	root.Flags().StringVar(&flagEnvFile, "env-file", ".env", "env file to load before reading settings")
	root.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	root.Flags().BoolVar(&flagPoll, "poll", false, "force polling even on a websocket node")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(flagEnvFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load env file %s: %w", flagEnvFile, err)
	}

	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(log)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	signer, err := chainio.NewSignerFromHex(cfg.WalletPKHex)
	if err != nil {
		return fmt.Errorf("wallet key: %w", err)
	}
	authKey := signer.Key()
	if cfg.FlashbotsAuthPKHex != "" {
		authKey, err = gethcrypto.HexToECDSA(trimHexPrefix(cfg.FlashbotsAuthPKHex))
		if err != nil {
			return fmt.Errorf("flashbots auth key: %w", errors.Join(resilience.ErrInvalidCredential, err))
		}
	} else {
		log.Warn("FLASHBOTS_AUTH_PK unset, signing relay auth with the wallet key")
	}

	log.Info("starting",
		"node", cfg.NodeURL,
		"relay", cfg.RelayURL,
		"wallet", signer.Address().Hex(),
		"safe", cfg.SafeAddress().Hex(),
		"wallet_key", config.MaskSecret(cfg.WalletPKHex),
		"auth_key", config.MaskSecret(cfg.FlashbotsAuthPKHex),
		"target_blocks", cfg.TargetBlocks,
		"max_priority_gwei", cfg.MaxPriorityGwei,
		"tip_mul", cfg.TipMul,
		"simulate", cfg.Simulate,
		"dry_run", cfg.DryRun,
	)

	chain, err := chainio.Dial(ctx, cfg.NodeURL)
	if err != nil {
		return fmt.Errorf("dial node: %w", err)
	}
	defer chain.Close()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "err", err)
			}
		}()
		defer srv.Close()
		log.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	recovery := time.Duration(cfg.BreakerRecoverySec) * time.Second
	newBreaker := func(name string) *resilience.CircuitBreaker {
		b := resilience.NewCircuitBreaker(name, cfg.BreakerThreshold, recovery)
		b.OnTransition(func(name string, from, to resilience.BreakerState) {
			log.Warn("breaker transition", "breaker", name, "from", from.String(), "to", to.String())
			met.BreakerTransition(name, to.String())
		})
		return b
	}
	chainBreaker := newBreaker("chain")
	feeBreaker := newBreaker("fees")
	relayBreaker := newBreaker("relay")

	retry := resilience.DefaultRetryPolicy

	maxPriority := gasfee.GweiToWei(cfg.MaxPriorityGwei)
	estimator := gasfee.NewEstimator(chain, maxPriority, retry, feeBreaker, log)
	builder := txbuild.NewBuilder(chain, signer, retry, log)

	fb := relay.NewFlashbotsClient(cfg.RelayURL, authKey, chain, log)
	submitter := relay.NewSubmitter(fb, relayBreaker, relay.SubmitterConfig{
		Simulate:          cfg.Simulate,
		SubmissionTimeout: time.Duration(cfg.SubmitTimeoutSec) * time.Second,
	}, log, met)

	watcher := watch.NewWatcher(chain, signer.Address(), watch.Config{
		PollInterval:      time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		ReconnectAttempts: cfg.ReconnectAttempts,
	}, retry, chainBreaker, log, met)

	minSweep, _ := cfg.MinSweep()
	orch := rescue.NewOrchestrator(rescue.Config{
		Destination:   cfg.SafeAddress(),
		MinSweepWei:   minSweep,
		TargetCount:   cfg.TargetBlocks,
		TipEscalation: cfg.TipMul,
		DryRun:        cfg.DryRun,
	}, signer.Address(), chain, estimator, builder, submitter,
		rescue.LogHooks{Log: log}, watcher.Stop, log, met)

	cb := orch.Watch(ctx)
	if cfg.WantsPush() && !flagPoll {
		err = watcher.StartPush(ctx, cb)
	} else {
		err = watcher.StartPoll(ctx, cb, time.Duration(cfg.PollIntervalMs)*time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	<-ctx.Done()
	log.Info("shutting down")
	watcher.Stop()
	orch.WaitIdle()
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
