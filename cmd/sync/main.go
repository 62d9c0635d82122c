/*
main.go - One-shot ledger sync

Runs a single sync over a date range followed by the status sweep, then
exits. Suited to cron or a batch job when the server's scheduler is off.

FLAGS:
  -config  YAML config path (optional)
  -env     dotenv file (default: .env)
  -start   range start, YYYY-MM-DD or RFC 3339 (default: yesterday)
  -end     range end, exclusive (default: today)

Exit status is 1 when the sync or the sweep fails.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/warp/reimbursement-engine/app"
	"github.com/warp/reimbursement-engine/config"
	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/observe"
)

func main() {
	configPath := flag.String("config", "", "YAML config path")
	envFile := flag.String("env", ".env", "dotenv file")
	startFlag := flag.String("start", "", "range start (default: yesterday)")
	endFlag := flag.String("end", "", "range end, exclusive (default: today)")
	flag.Parse()

	config.LoadEnv(*envFile)
	cfg, err := config.Load(*configPath)
	if err != nil {
		observe.NewLogger("info", "text", nil).WithError(err).Fatal("failed to load config")
	}
	logger := observe.NewLogger(cfg.Log.Level, cfg.Log.Format, nil)

	start, end := ledger.Yesterday(ledger.SystemClock())
	if start, err = parseTime(*startFlag, start); err != nil {
		logger.WithError(err).Fatal("invalid -start")
	}
	if end, err = parseTime(*endFlag, end); err != nil {
		logger.WithError(err).Fatal("invalid -end")
	}
	if !end.After(start) {
		logger.WithFields(logrus.Fields{"start": start, "end": end}).Fatal("-end must be after -start")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize")
	}

	code := run(ctx, a, logger, start, end)
	a.Close()
	os.Exit(code)
}

func run(ctx context.Context, a *app.App, logger *logrus.Logger, start, end time.Time) int {
	result, err := a.Syncer.RunSync(ctx, start, end)
	if err != nil {
		logger.WithError(err).Error("sync failed")
		return 1
	}
	logger.WithField("run", result.String()).Info("sync finished")

	res, err := a.Sweeper.Sweep(ctx)
	if err != nil {
		logger.WithError(err).Error("status sweep failed")
		return 1
	}
	logger.WithFields(logrus.Fields{
		"promoted": res.WaitingToClaimable,
		"resolved": res.ClaimableToResolved,
	}).Info("status sweep finished")
	return 0
}

func parseTime(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	if t, err := time.Parse(ledger.DateLayout, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}
