package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"orphi/audit"
	"orphi/config"
	"orphi/core"
	"orphi/gateway"
	"orphi/ledger"
	"orphi/observability/logging"
	"orphi/pools"
	"orphi/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	bootstrapRoot := flag.String("bootstrap", "", "Create the root member with this id if the ledger is empty")
	bootstrapTier := flag.Uint("bootstrap-tier", 1, "Package tier for the bootstrap root")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("orphid", cfg.Environment, cfg.LogFile)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	store, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		logger.Error("Failed to open audit store", slog.Any("error", err))
		os.Exit(1)
	}

	led := ledger.NewLedger(db)
	sink := &loggingSink{log: logger}
	authorize := clubAuthorizer(cfg.Auth.Enabled)
	node, err := core.NewNode(led, cfg.Engine, sink, store, authorize, clockwork.NewRealClock(), logger)
	if err != nil {
		logger.Error("Failed to build node", slog.Any("error", err))
		os.Exit(1)
	}

	if *bootstrapRoot != "" {
		if _, err := node.GetMember(*bootstrapRoot); errors.Is(err, ledger.ErrUnknownMember) {
			receipt, err := node.Bootstrap(*bootstrapRoot, uint8(*bootstrapTier))
			if err != nil {
				logger.Error("Bootstrap failed", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("Bootstrapped root member", "member", receipt.Member, "tier", receipt.Tier)
		}
	}

	stopSchedule := make(chan struct{})
	go runScheduler(node, logger, stopSchedule)

	server := gateway.NewServer(node, store, *cfg, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.ListenAddress)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("Gateway stopped", slog.Any("error", err))
	}
	close(stopSchedule)
}

// runScheduler sweeps the timed pools once a minute; distributions that are
// not yet due or have nothing to pay are silent no-ops.
func runScheduler(node *core.Node, logger *slog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for _, pool := range []string{pools.Leader, pools.Help} {
				report, err := node.Distribute(pool, now.UTC(), "scheduler")
				if err != nil {
					if errors.Is(err, pools.ErrDistributionNotDue) {
						continue
					}
					logger.Error("Scheduled distribution failed", "pool", pool, slog.Any("error", err))
					continue
				}
				if report.TotalPaid.Sign() > 0 {
					logger.Info("Pool distributed", "pool", pool, "paid", report.TotalPaid.String(), "eligible", report.Eligible)
				}
			}
		}
	}
}

// loggingSink records payable amounts; actual settlement happens out of band
// through the payment rail that tails these entries.
type loggingSink struct {
	log *slog.Logger
}

func (s *loggingSink) Payable(memberID string, amount *big.Int) error {
	s.log.Info("Payable queued", "member", memberID, "amount", amount.String())
	return nil
}

func clubAuthorizer(authEnabled bool) pools.Authorizer {
	return func(actor string) bool {
		if !authEnabled {
			return true
		}
		return actor != ""
	}
}
