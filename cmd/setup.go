package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/schemamend/schemamend/config"
	"github.com/schemamend/schemamend/database"
	"github.com/schemamend/schemamend/detect"
	"github.com/schemamend/schemamend/extract"
	"github.com/schemamend/schemamend/inspect"
	"github.com/schemamend/schemamend/monitor"
	"github.com/schemamend/schemamend/notify"
	"github.com/schemamend/schemamend/remedy"
)

type engine struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	db        database.Pool
	log       *zap.Logger
	inspector *inspect.Inspector
	scanner   *extract.Scanner
	detector  *detect.Detector
	monitor   *monitor.Monitor
	remedy    *remedy.Engine
}

// detectIssues runs one fresh snapshot + static scan + detection pass.
func (e *engine) detectIssues(ctx context.Context) ([]detect.Issue, error) {
	snap, err := e.inspector.SnapshotWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	patterns, err := e.scanner.ScanDirs(e.cfg.ScanPaths)
	if err != nil {
		return nil, err
	}
	return e.detector.Detect(ctx, snap, patterns), nil
}

func (e *engine) close() {
	e.pool.Close()
	_ = e.log.Sync()
}

// setup wires the full engine from config, the same composition the host
// application embeds.
func setup(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log := zap.NewNop()
	if verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return nil, fmt.Errorf("building logger: %v", err)
		}
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db := database.Pool{Pool: pool}

	inspector := inspect.NewInspector(db, cfg.QueryTimeout.Std(), log).
		WithRetry(cfg.MaxRetries, cfg.RetryBaseDelay.Std())
	scanner := extract.NewScanner(log)
	detector := detect.New(log).
		WithReferenceRows(cfg.ReferenceRows, detect.NewPGProbe(db))
	eng := remedy.NewEngine(db, log)

	var notifier notify.Notifier = notify.LogNotifier{Log: log}
	if cfg.WebhookURL != "" {
		notifier = notify.Multi{notifier, notify.NewWebhookNotifier(cfg.WebhookURL)}
	}

	mon := monitor.New(monitor.Params{
		DB:        db,
		Inspector: inspector,
		Scanner:   scanner,
		Detector:  detector,
		Engine:    eng,
		Notifier:  notifier,
		ScanPaths: cfg.ScanPaths,
		Interval:  cfg.Interval.Std(),
		Threshold: detect.ParseSeverity(cfg.AutoFixThreshold),
		Retention: cfg.Retention.Std(),
		Log:       log,
	})

	return &engine{
		cfg:       cfg,
		pool:      pool,
		db:        db,
		log:       log,
		inspector: inspector,
		scanner:   scanner,
		detector:  detector,
		monitor:   mon,
		remedy:    eng,
	}, nil
}
