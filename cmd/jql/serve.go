package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/issuesearch/internal/events"
	filtersync "github.com/alfredjeanlab/issuesearch/internal/sync"
)

// syncDestinations builds the backup destinations the configuration
// enables. A destination that cannot be created is logged and skipped.
func syncDestinations(ctx context.Context) []filtersync.Backup {
	var dests []filtersync.Backup
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := filtersync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, filtersync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch, logger))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	return dests
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the index in step with issue events and back up saved searches",
	Long: `Subscribe to issue events on NATS and apply them to the index, and
export saved searches to the configured S3 and git destinations on the
sync interval. Runs until interrupted.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.NATSURL == "" && cfg.SyncInterval == 0 {
			return errors.New("nothing to serve: set JQL_NATS_URL or a sync interval")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		// Start the sync scheduler if any destinations are configured.
		var scheduler *filtersync.Scheduler
		if cfg.SyncInterval > 0 {
			var dests []filtersync.Destination
			for _, b := range syncDestinations(ctx) {
				dests = append(dests, b)
			}
			if len(dests) > 0 {
				scheduler = filtersync.NewScheduler(a.store, dests, cfg.SyncInterval, logger)
				scheduler.Start()
				logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
			}
		}

		// Start the index subscriber if NATS is available.
		indexerDone := make(chan struct{})
		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				if scheduler != nil {
					scheduler.Stop()
				}
				return err
			}
			go func() {
				defer close(indexerDone)
				if err := a.pipeline.Run(ctx, sub); err != nil {
					logger.Error("index subscriber error", "err", err)
				}
				if n := sub.Dropped(); n > 0 {
					logger.Warn("issue events were dropped; run \"jql index rebuild\"", "dropped", n)
				}
				sub.Close()
			}()
			logger.Info("index subscriber started", "nats_url", cfg.NATSURL)
		} else {
			close(indexerDone)
			logger.Info("index subscriber disabled (JQL_NATS_URL not set)")
		}

		logger.Info("issuesearch server started", "pid", os.Getpid())
		<-ctx.Done()
		logger.Info("received signal, shutting down")

		<-indexerDone
		stats := a.pipeline.Stats()
		logger.Info("index subscriber stopped", "indexed", stats.Indexed, "deleted", stats.Deleted, "failed", stats.Failed)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}
		logger.Info("shutdown complete")
		return nil
	},
}
