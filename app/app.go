/*
Package app assembles the reimbursement engine from configuration.

PURPOSE:
  Shared by the server and the one-shot sync command so both run the same
  graph: store, report client, orchestrator, sweeper and the optional
  side channels (Redis lock, document archive, run notifications).

OPTIONAL BACKENDS:
  redis.address empty      -> in-process lock
  archive.backend ""       -> no archive
  notify.queue_url empty   -> no notifications
*/
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/warp/reimbursement-engine/archive"
	"github.com/warp/reimbursement-engine/config"
	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/lock"
	"github.com/warp/reimbursement-engine/normalize"
	"github.com/warp/reimbursement-engine/notify"
	"github.com/warp/reimbursement-engine/observe"
	"github.com/warp/reimbursement-engine/pipeline"
	"github.com/warp/reimbursement-engine/report"
	"github.com/warp/reimbursement-engine/store/sqlite"
)

// App is the wired component graph.
type App struct {
	Store   *sqlite.Store
	Costs   *ledger.CostBook
	Service *ledger.Service
	Sweeper *ledger.Sweeper
	Syncer  *pipeline.Syncer
	Obs     *observe.Telemetry

	closers []func() error
}

// Build wires every component described by cfg. Metrics register on reg.
func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Obs: observe.New(logger, reg)}

	def, bySKU, err := cfg.Costs.Parse()
	if err != nil {
		return nil, err
	}
	a.Costs = ledger.NewCostBook(def, bySKU)

	a.Store, err = sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	locker, err := a.locker(ctx, cfg.Redis, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	archiver, err := a.archiver(ctx, cfg.Archive)
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier, err := newNotifier(ctx, cfg.Notify)
	if err != nil {
		a.Close()
		return nil, err
	}

	apiClient, downloadClient := httpClients(cfg.Upstream)
	reports := report.NewClient(
		report.NewHTTPUpstream(cfg.Upstream.BaseURL, cfg.Upstream.AccessToken, apiClient),
		report.NewHTTPFetcher(downloadClient),
		cfg.Upstream.MarketplaceID,
		a.Obs,
	)

	a.Service = ledger.NewService(a.Store, a.Costs, a.Obs, nil)
	a.Sweeper = ledger.NewSweeper(a.Store, a.Obs, nil)
	a.Syncer = pipeline.NewSyncer(pipeline.Deps{
		Reports:    reports,
		Normalizer: normalize.New(a.Obs, nil),
		Engine:     ledger.NewEngine(a.Store, a.Obs, nil),
		Sweeper:    a.Sweeper,
		Runs:       a.Store,
		Locker:     locker,
		Archive:    archiver,
		Notifier:   notifier,
		Obs:        a.Obs,
	}, pipeline.Options{
		Kind:         cfg.Sync.Kind,
		MaxWait:      cfg.Sync.MaxWait,
		PollInterval: cfg.Sync.PollInterval,
		LockTTL:      cfg.Sync.LockTTL,
	})
	return a, nil
}

// ApplyCosts swaps the unit-cost catalog. Used on config reload.
func (a *App) ApplyCosts(c config.CostsConfig) error {
	def, bySKU, err := c.Parse()
	if err != nil {
		return err
	}
	a.Costs.Replace(def, bySKU)
	return nil
}

// Close releases the database and backend connections in reverse order.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// =============================================================================
// OPTIONAL BACKENDS
// =============================================================================

func (a *App) locker(ctx context.Context, cfg config.RedisConfig, logger *logrus.Logger) (lock.Locker, error) {
	if cfg.Address == "" {
		return lock.NewLocal(), nil
	}
	l, rdb, err := lock.DialRedis(ctx, cfg.Address, cfg.Password, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Address, err)
	}
	a.closers = append(a.closers, rdb.Close)
	logger.WithFields(logrus.Fields{"component": "lock", "address": cfg.Address}).Info("using redis sync lock")
	return l, nil
}

func (a *App) archiver(ctx context.Context, cfg config.ArchiveConfig) (archive.Archiver, error) {
	switch cfg.Backend {
	case "dir":
		return archive.NewDir(cfg.Dir), nil
	case "gcs":
		client, err := archive.NewGCSClient(ctx, cfg.CredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return archive.NewGCS(client, cfg.Bucket, cfg.Prefix), nil
	default:
		return archive.Nop{}, nil
	}
}

// httpClients returns the client for report API calls and a separate one for
// document downloads, which can run far longer than an API call.
func httpClients(cfg config.UpstreamConfig) (apiClient, downloadClient *http.Client) {
	download := report.DefaultDownloadTimeout
	if cfg.Timeout > download {
		download = cfg.Timeout
	}
	return &http.Client{Timeout: cfg.Timeout}, &http.Client{Timeout: download}
}

func newNotifier(ctx context.Context, cfg config.NotifyConfig) (notify.Publisher, error) {
	if cfg.QueueURL == "" {
		return notify.Nop{}, nil
	}
	client, err := notify.NewSQSClient(ctx, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("sqs client: %w", err)
	}
	return notify.NewSQS(client, cfg.QueueURL), nil
}
