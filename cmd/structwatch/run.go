package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"structwatch/internal/app"
	"structwatch/internal/config"
	"structwatch/internal/fetcher"
	"structwatch/internal/fingerprint"
	"structwatch/internal/normalize"
	"structwatch/internal/observability"
	"structwatch/internal/report"
	"structwatch/internal/storage"
	"structwatch/internal/storage/sqlstore"
)

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one detection pass (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDetection(cmd)
		},
	}
}

func (c *cli) runDetection(cmd *cobra.Command) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.GetLogPath(time.Now()), cfg.Observability.LogLevel, observability.Rotation{
		MaxSizeMB:  cfg.Observability.LogMaxSizeMB,
		MaxBackups: cfg.Observability.LogMaxBackups,
		MaxAgeDays: cfg.Observability.LogMaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Close()
	}()

	// Ctrl+C отменяет текущие загрузки
	ctx, stop := app.GracefulShutdown(cmd.Context(), logger)
	defer stop()

	signal, err := detect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Detection run failed", "error", err.Error())
		return err
	}
	c.exitCode = signal.ExitCode()
	return nil
}

// detect собирает зависимости из конфига, выполняет проход и записывает отчёт
func detect(ctx context.Context, cfg *config.Config, logger *observability.Logger) (report.Signal, error) {
	generator, err := fingerprint.NewGenerator(cfg.Fingerprint.Algorithm)
	if err != nil {
		return report.SignalFatal, err
	}
	normalizer := normalize.NewNormalizer(normalize.Options{
		TrimNBSP:       cfg.Fingerprint.TrimNBSP,
		CollapseSpaces: cfg.Fingerprint.CollapseSpaces,
	})
	// Создаём экстрактор
	parse := fingerprint.ParseHTML
	if cfg.Fingerprint.TrimNBSP || cfg.Fingerprint.CollapseSpaces {
		parse = fingerprint.HTMLParser(normalizer)
	}
	extractor := fingerprint.NewExtractor(generator, parse, cfg.Fingerprint.MaxMatches)

	// Загрузчики: HTTP всегда, браузер по конфигу
	limiter := fetcher.NewHostLimiter(cfg.RateLimit.MaxConcurrentPerHost, cfg.RateLimit.RPM)
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:      cfg.HTTP.UserAgent,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		Timeout:        cfg.GetHTTPTimeout(),
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		MaxIdleConns:   cfg.HTTP.MaxIdleConnections,
	}, limiter, logger)

	var renderer fetcher.PageFetcher
	if cfg.Rod.Enabled {
		rodFetcher := fetcher.NewRodFetcher(fetcher.RodOptions{
			ChromePath:  cfg.Rod.ChromePath,
			RemoteURL:   cfg.Rod.RemoteURL,
			PageTimeout: cfg.GetRodPageTimeout(),
			UserAgent:   cfg.HTTP.UserAgent,
		}, limiter, logger)
		defer func() {
			if err := rodFetcher.Close(); err != nil {
				logger.Warn("Failed to close browser", "error", err.Error())
			}
		}()
		renderer = rodFetcher
	}

	paths := storage.PathsFor(cfg.GetStateDir())
	logger.Info("Configuration loaded",
		"targets", len(cfg.Targets),
		"workers", cfg.Workers,
		"algorithm", generator.Algorithm(),
		"state_dir", cfg.GetStateDir(),
		"render", renderer != nil,
	)

	metrics := observability.NewMetrics()

	detector := app.NewDetector(
		cfg.Targets,
		fetcher.NewRouter(httpFetcher, renderer),
		extractor,
		storage.NewFileBaseline(paths.Baseline),
		logger,
		metrics,
		app.Options{Workers: cfg.Workers},
	)

	r, err := detector.Run(ctx)
	if err != nil {
		return report.SignalFatal, err
	}

	// Отчёт сохраняем даже после сигнала остановки
	reportCtx := context.WithoutCancel(ctx)

	// SQL зеркало необязательно, его сбой не фатален
	var mirrors []report.Mirror
	if cfg.Storage.Driver != "" {
		repo, err := openMirror(reportCtx, cfg, logger)
		if err != nil {
			logger.Error("SQL mirror unavailable", "driver", cfg.Storage.Driver, "error", err.Error())
		} else {
			defer func() {
				_ = repo.Close()
			}()
			mirrors = append(mirrors, repo)
		}
	}

	signal, err := report.NewReporter(storage.NewFileJournal(paths.Journal), logger, mirrors...).Report(reportCtx, r)
	if err != nil {
		return report.SignalFatal, err
	}

	if path := cfg.Observability.MetricsPath; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			logger.Warn("Failed to write metrics", "path", path, "error", err.Error())
		}
	}

	return signal, nil
}

func openMirror(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*sqlstore.Repository, error) {
	repo, err := sqlstore.Open(cfg.Storage.Driver, cfg.Storage.DSN, cfg.GetCommandTimeout(), logger)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}
