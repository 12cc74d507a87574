package main

import (
	"fmt"

	"github.com/spf13/cobra"

	apperrors "github.com/yuchilin/plannerd/internal/errors"
	"github.com/yuchilin/plannerd/internal/events"
	"github.com/yuchilin/plannerd/internal/remote"
	"github.com/yuchilin/plannerd/internal/store"
	"github.com/yuchilin/plannerd/internal/sync"
)

var resyncUser string

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Replay queued changes and pull the latest remote documents",
	Long:  "resync runs one offline-to-online pass: queued local changes are pushed to the remote document store, then every synced collection is fetched and newer remote copies replace local ones.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Remote.Endpoint == "" {
			return apperrors.New(apperrors.ErrInvalid, "resync needs remote.endpoint configured")
		}

		st, err := store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()

		docs := remote.NewHTTPStore(&remote.Config{
			Endpoint: cfg.Remote.Endpoint,
			Token:    cfg.Remote.Token,
		})
		engine := sync.NewEngine(st, docs, events.NewBus(), &sync.Config{
			AutoSaveDelay: cfg.Sync.AutoSaveDelay,
			RetryBase:     cfg.Sync.RetryBase,
			RetryCap:      cfg.Sync.RetryCap,
			MaxAttempts:   cfg.Sync.MaxAttempts,
		})

		replayed, err := engine.SyncPendingChanges(cmd.Context())
		if err != nil {
			return err
		}
		if err := engine.Resync(cmd.Context(), resyncUser); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "replayed %d pending change(s), collections refreshed for %s\n",
			replayed, resyncUser)
		return nil
	},
}

func init() {
	resyncCmd.Flags().StringVar(&resyncUser, "user", "local", "user id to resync")
	rootCmd.AddCommand(resyncCmd)
}
