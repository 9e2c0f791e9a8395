// Package app contains the top-level orchestration for the hub and client
// roles.
package app

import (
	"context"
	"errors"

	"github.com/1ureka/rhythmhub/internal/config"
	"github.com/1ureka/rhythmhub/internal/hub"
	"github.com/1ureka/rhythmhub/internal/metadata"
	"github.com/1ureka/rhythmhub/internal/util"
)

// RunHub orchestrates the hub lifecycle:
//  1. Load the song library, if one is configured
//  2. Start the stats reporter
//  3. Serve TCP, HTTP and the tick loop until ctx ends
func RunHub(ctx context.Context, cfg config.HubConfig) error {
	if cfg.Debug {
		util.EnableDebug()
	}

	var songs metadata.Provider = metadata.NewLibrary()
	if cfg.SongLibrary != "" {
		lib, err := metadata.Load(cfg.SongLibrary)
		if err != nil {
			return err
		}
		util.LogInfo("loaded %d songs from %s", lib.Len(), cfg.SongLibrary)
		songs = lib
	}

	srv, err := hub.New(cfg, songs)
	if err != nil {
		return err
	}

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	util.LogInfo("hub stopped")
	return nil
}
