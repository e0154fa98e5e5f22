package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"time26-oracle/internal/alerting"
	"time26-oracle/internal/api"
	"time26-oracle/internal/chain"
	"time26-oracle/internal/config"
	"time26-oracle/internal/eligibility"
	"time26-oracle/internal/metrics"
	"time26-oracle/internal/oracle"
	"time26-oracle/internal/pricecache"
	"time26-oracle/internal/pricefeed"
	"time26-oracle/internal/scheduler"
	"time26-oracle/internal/service"
	"time26-oracle/internal/storage"
	"time26-oracle/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Registry

	oracle *oracle.Oracle
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logger.With().Str("component", "app").Logger(),
		Metrics: metrics.Default(),
	}
}

// Oracle returns the process-wide pricing oracle, building it on first use.
func (a *App) Oracle() *oracle.Oracle {
	if a.oracle != nil {
		return a.oracle
	}
	feed := a.Config.PriceFeed
	if feed.UserAgent == "" {
		feed.UserAgent = version.UserAgent()
	}
	source := pricefeed.NewCoinGecko(pricefeed.CoinGeckoOptions{
		BaseURL:   feed.BaseURL,
		CoinID:    feed.CoinID,
		APIKey:    feed.APIKey,
		UserAgent: feed.UserAgent,
		Timeout:   feed.RequestTimeout,
	}, a.Logger)
	cache := pricecache.New(feed.CacheTTL, nil)
	adapter := pricefeed.NewAdapter(source, cache, pricefeed.AdapterOptions{
		Fallback: a.Config.Pricing.POLFallback(),
		Timeout:  feed.RequestTimeout,
		Metrics:  a.Metrics,
	}, a.Logger)
	a.oracle = oracle.New(adapter, a.Config.Pricing.TIME26USD(), a.Logger)
	return a.oracle
}

func (a *App) newChainReader() *chain.Reader {
	return chain.NewReader(chain.Options{
		RPCURL:             a.Config.Polygon.RPCURL,
		TokenAddress:       a.Config.Polygon.TokenAddress,
		DistributorAddress: a.Config.Polygon.DistributorAddress,
		Timeout:            a.Config.Polygon.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	var notifiers []alerting.Notifier
	for _, channel := range a.Config.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(channel)) {
		case "telegram":
			cfg := a.Config.Alerting.Telegram
			if !cfg.Enabled {
				a.Logger.Warn().Msg("telegram channel listed but alerting.telegram.enabled is false")
				continue
			}
			notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
		case "log":
			notifiers = append(notifiers, alerting.NewLogNotifier(a.Logger))
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alert channel ignored")
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewDispatcher(a.Config.Alerting.Cooldown, a.Logger, notifiers...)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newSettlementService(store *storage.Store, sched *scheduler.Scheduler, reader service.BalanceReader, notifier alerting.Notifier) (*service.Service, error) {
	tolerance, err := a.Config.Settlement.ToleranceAmount()
	if err != nil {
		return nil, fmt.Errorf("settlement.tolerance_wei: %w", err)
	}
	pool, err := a.Config.Settlement.DailyPoolAmount()
	if err != nil {
		return nil, fmt.Errorf("settlement.daily_pool_wei: %w", err)
	}

	deps := service.Deps{
		Scheduler: sched,
		Chain:     reader,
		Prices:    a.Oracle(),
		Notifier:  notifier,
		Metrics:   a.Metrics,
	}
	if store != nil {
		deps.Snapshots = store
		deps.Rewards = store
		deps.Locker = store
	}

	return service.New(service.Options{
		Tolerance:    tolerance,
		DailyPool:    pool,
		LookbackDays: a.Config.Settlement.LookbackDays,
		AlertsOn:     a.Config.Alerting.Enabled,
		Channels:     a.Config.Alerting.Channels,
		LockKey:      a.Config.Scheduler.AdvisoryLockKey,
	}, deps, a.Logger), nil
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   true,
	}, a.Logger)
}

// Serve runs the HTTP API and, when enabled, the settlement scheduler.
func (a *App) Serve(ctx context.Context) error {
	return a.run(ctx, true)
}

// Settle runs the settlement scheduler without the HTTP API.
func (a *App) Settle(ctx context.Context) error {
	return a.run(ctx, false)
}

func (a *App) run(ctx context.Context, withAPI bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	reader := a.newChainReader()
	defer reader.Close()

	group, gctx := errgroup.WithContext(ctx)

	settling := a.Config.Settlement.Enabled && a.Config.Polygon.RPCURL != ""
	if !settling {
		a.Logger.Warn().Msg("settlement disabled or polygon.rpc_url missing; scheduler not started")
		if !withAPI {
			return errors.New("nothing to run: settlement is disabled")
		}
	} else {
		sched, err := a.newScheduler()
		if err != nil {
			return err
		}
		svc, err := a.newSettlementService(store, sched, reader, a.newNotifier())
		if err != nil {
			return err
		}
		group.Go(func() error {
			a.Logger.Info().Msg("starting settlement scheduler")
			return svc.Run(gctx)
		})
	}

	if withAPI {
		var lister api.SnapshotLister
		if store != nil {
			lister = store
		}
		handler := api.NewRouter(api.Config{
			Prices:    a.Oracle(),
			Evaluator: eligibility.NewEvaluator(a.Oracle(), a.Metrics, a.Logger),
			Snapshots: lister,
			Logger:    a.Logger,
		})
		srv := api.NewServer(a.Config.Server.Addr, a.Config.Server.ReadTimeout, a.Config.Server.WriteTimeout, handler)

		group.Go(func() error {
			a.Logger.Info().Str("addr", srv.Addr).Msg("http api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("service stopped")
	return nil
}

// ExportOptions hold parameters for exporting settlement history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// QuoteOptions configure the quote command. Amounts are smallest-unit decimal strings.
type QuoteOptions struct {
	MintCost        string
	EstimatedGasWei string
	Balance         string
	GasLimit        uint64
}
