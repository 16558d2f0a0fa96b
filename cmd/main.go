package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nadflip-web-worker/config"
	"nadflip-web-worker/worker"
	"nadflip-web-worker/worker/broadcast"
)

var cfg config.Config

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nadflip",
		Short: "NadFlip coin flip worker",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.GetConfig()
			config.SetupLogger(&cfg)
		},
		SilenceUsage: true,
	}
	root.AddCommand(
		runCmd(),
		flipCmd(),
		statsCmd(),
		historyCmd(),
		poolCmd(),
		settlementCmd(),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newService(ctx context.Context, sink worker.PresentationSink) (*worker.WorkerService, error) {
	service, err := worker.NewWorkerService(ctx, &cfg, sink)
	if err != nil {
		log.Errorf("worker init failed: %v", err)
		return nil, err
	}
	return service, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the worker, the websocket hub and the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			hub := broadcast.NewHub()
			go hub.Run(ctx)

			service, err := newService(ctx, worker.MultiSink{worker.NewLogSink(), broadcast.NewHubSink(hub)})
			if err != nil {
				return err
			}

			server := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: broadcast.NewHandler(ctx, hub, service.Settlement).Routes(),
			}
			go func() {
				log.Infof("listening on %s", cfg.ListenAddr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("http server: %v", err)
					cancel()
				}
			}()

			err = service.Run(ctx)

			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = server.Shutdown(shutdownCtx)
			return err
		},
	}
}

// revealWaiter unblocks the flip command once the outcome is shown.
type revealWaiter struct {
	done chan struct{}
}

func (r *revealWaiter) BeginPendingAnimation() {}

func (r *revealWaiter) CancelPendingAnimation() {}

func (r *revealWaiter) RevealOutcome(won bool, amount decimal.Decimal, guessHigh bool) {
	select {
	case r.done <- struct{}{}:
	default:
	}
}

func (r *revealWaiter) RenderHistoryPage(records []worker.FlipRecord, page int) {}

func (r *revealWaiter) RenderStatsPanel(stats worker.PlayerStats) {}

func (r *revealWaiter) RenderPoolPanel(pool worker.PoolInfo) {}

func flipCmd() *cobra.Command {
	var (
		amount string
		low    bool
	)
	cmd := &cobra.Command{
		Use:   "flip",
		Short: "Place one wager and wait for its outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			stake, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}

			ctx, cancel := signalContext()
			defer cancel()

			waiter := &revealWaiter{done: make(chan struct{}, 1)}
			service, err := newService(ctx, worker.MultiSink{worker.NewLogSink(), waiter})
			if err != nil {
				return err
			}
			if err := service.Connect(ctx); err != nil {
				return err
			}
			defer service.Disconnect()

			wager, err := service.Flip(ctx, stake, !low)
			if err != nil {
				return err
			}
			log.Infof("wager %s sent in tx %s", wager.ID, wager.TxHash.Hex())

			select {
			case <-waiter.done:
			case <-ctx.Done():
				return ctx.Err()
			}

			settlement, err := service.Settlement(wager.ID)
			if err == nil && settlement.Forced {
				log.Warn("outcome could not be confirmed on chain, check the history later")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "stake in MON")
	cmd.Flags().BoolVar(&low, "low", false, "guess low instead of high")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [address]",
		Short: "Show player stats",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var player common.Address
			if len(args) == 1 {
				if !common.IsHexAddress(args[0]) {
					return fmt.Errorf("invalid address %q", args[0])
				}
				player = common.HexToAddress(args[0])
			}

			ctx, cancel := signalContext()
			defer cancel()
			service, err := newService(ctx, worker.NewLogSink())
			if err != nil {
				return err
			}
			_, err = service.Stats(ctx, player)
			return err
		},
	}
}

func historyCmd() *cobra.Command {
	var (
		page int
		mine bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent flips",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			service, err := newService(ctx, worker.NewLogSink())
			if err != nil {
				return err
			}
			_, pages, err := service.History(ctx, page, mine)
			if err != nil {
				return err
			}
			log.Infof("%d page(s) in total", pages)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().BoolVar(&mine, "mine", false, "only the wallet's own flips")
	return cmd
}

func poolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show jackpot, contract balance and fee",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			service, err := newService(ctx, worker.NewLogSink())
			if err != nil {
				return err
			}
			service.Pool(ctx)
			return nil
		},
	}
}

func settlementCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settlement <wager-id>",
		Short: "Show a journaled settlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			service, err := newService(ctx, worker.NewLogSink())
			if err != nil {
				return err
			}
			s, err := service.Settlement(args[0])
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"wager":  s.WagerID,
				"flip":   s.FlipID,
				"won":    s.Won,
				"amount": s.Amount,
				"forced": s.Forced,
				"source": s.Source,
			}).Info("settlement")
			return nil
		},
	}
}
