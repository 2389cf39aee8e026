package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"engram/internal/api"
	"engram/internal/config"
	"engram/internal/events"
	"engram/internal/logging"
	"engram/internal/manager"
	"engram/internal/matcher"
	"engram/internal/monitor"
	"engram/internal/preflight"
	"engram/internal/ripping"
	"engram/internal/store"
	"engram/internal/subtitles"
	"engram/internal/tmdb"
)

func newStartCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the Engram daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), *configFlag)
		},
	}
}

func runStart(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, resolvedPath, exists, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// One daemon per machine; a second instance would fight over the drives.
	lock := flock.New(filepath.Join(cfg.Paths.LogDir, "engram.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another engram daemon is already running (lock at %s)", lock.Path())
	}
	defer lock.Unlock()

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "engram.log")},
	})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	if exists {
		logger.Info("configuration loaded", logging.String("path", resolvedPath))
	} else {
		logger.Warn("no configuration file found; running with defaults",
			logging.String("expected", resolvedPath))
	}

	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
		} else {
			logger.Warn("preflight check failed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
		}
	}

	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	broadcaster := events.New(logger)
	defer broadcaster.Close()

	var searcher tmdb.Searcher
	if cfg.TMDB.APIKey != "" {
		client, err := tmdb.New(cfg.TMDB.APIKey, cfg.TMDB.BaseURL, cfg.TMDB.Language)
		if err != nil {
			return fmt.Errorf("configure tmdb client: %w", err)
		}
		searcher = client
	} else {
		logger.Warn("tmdb api key not set; identification falls back to volume labels")
	}

	cache := subtitles.NewCache(cfg.Paths.SubtitleCacheDir)
	var providers []subtitles.Provider
	if cfg.Subtitles.OpenSubtitlesAPIKey != "" {
		providers = append(providers, subtitles.NewOpenSubtitles(
			cfg.Subtitles.OpenSubtitlesAPIKey,
			cfg.Subtitles.OpenSubtitlesUserAgent,
			cfg.Subtitles.RequestsPerMinute))
	}
	if cfg.Subtitles.AddicSevenAPIKey != "" {
		providers = append(providers, subtitles.NewAddic7ed(
			cfg.Subtitles.AddicSevenAPIKey,
			cfg.Subtitles.RequestsPerMinute))
	}
	if len(providers) == 0 {
		logger.Warn("no subtitle providers configured; episode matching uses the cache only")
	}
	builder := subtitles.NewBuilder(cache, providers, logger)

	tool, err := ripping.NewClient(cfg.Tools.MakeMKV, cfg.Ripping.ScanTimeout, cfg.Ripping.RipTimeout)
	if err != nil {
		return fmt.Errorf("configure makemkv client: %w", err)
	}

	titleMatcher := matcher.New(
		matcher.NewFFmpegExtractor(cfg.Tools.FFmpeg),
		matcher.NewWhisperTranscriber(cfg.Tools.Whisper, cfg.Matcher.WhisperModel, cfg.Matcher.Language),
		matcher.Config{
			ChunkSeconds:     cfg.Matcher.ChunkSeconds,
			ChunkCount:       cfg.Matcher.ChunkCount,
			ChunkStartOffset: cfg.Matcher.ChunkStartOffset,
			MinConfidence:    cfg.Matcher.MinConfidence,
			MaxConcurrent:    cfg.Matcher.MaxConcurrentMatches,
		},
		logger)

	mgr := manager.New(cfg, manager.Deps{
		Store:  st,
		Events: broadcaster,
		Tool:   tool,
		Readiness: ripping.ReadinessConfig{
			PollInterval:    time.Duration(cfg.Ripping.FilePollInterval * float64(time.Second)),
			StabilityChecks: cfg.Ripping.StabilityChecks,
			Timeout:         time.Duration(cfg.Ripping.FileReadyTimeout) * time.Second,
		},
		Subtitles: builder,
		Matcher:   titleMatcher,
		TMDB:      searcher,
		Logger:    logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	mon := monitor.New(
		cfg.Monitor.Drives,
		time.Duration(cfg.Monitor.PollInterval*float64(time.Second)),
		monitor.NewLsblkProber(0),
		mgr.HandleDriveEvent,
		broadcaster,
		logger)
	if err := mon.Start(ctx); err != nil {
		mgr.Stop()
		return err
	}

	netlink := monitor.NewNetlinkAccelerator(mon, logger)
	_ = netlink.Start(ctx)

	server := api.NewServer(cfg, st, mgr, broadcaster, nil, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Paths.APIBind)
	}()
	logger.Info("daemon started",
		logging.String("api", cfg.Paths.APIBind),
		logging.String("database", st.Path()))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("api server: %w", err)
		}
	}

	logger.Info("shutting down")
	netlink.Stop()
	mon.Stop()
	mgr.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("api shutdown: %w", err)
	}

	return runErr
}
