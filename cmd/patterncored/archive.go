package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"patterncore/internal/archive"
	"patterncore/internal/config"
	"patterncore/internal/core"
	"patterncore/internal/infra/persistence"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage audit exports",
	}
	cmd.AddCommand(newArchiveExportCmd(), newArchiveListCmd())
	return cmd
}

func openArchive(cmd *cobra.Command, cfg config.Config) (archive.Store, error) {
	return archive.Open(cmd.Context(), archive.Driver(cfg.Archive.Driver), archive.Options{
		Root:      cfg.Archive.Root,
		Bucket:    cfg.Archive.Bucket,
		Region:    cfg.Archive.Region,
		Endpoint:  cfg.Archive.Endpoint,
		PathStyle: cfg.Archive.PathStyle,
	})
}

func newArchiveExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the current audit trail to the archive store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			store, err := persistence.Open(
				persistence.Driver(cfg.Persistence.Driver),
				persistence.Options{SQLitePath: cfg.Persistence.SQLitePath, PostgresDSN: cfg.Persistence.PostgresDSN},
				core.GateConfig{MinSampleSize: cfg.Gate.MinSampleSize, MinSharpe: cfg.Gate.MinSharpe, MaxDrawdown: cfg.Gate.MaxDrawdown},
				core.DriftConfig{MinLiveTrades: cfg.Drift.MinLiveTrades, Tolerance: cfg.Drift.Tolerance},
				cfg.Episodic.EmbeddingDim,
			)
			if err != nil {
				return err
			}
			svc, err := core.NewService(store, nil)
			if err != nil {
				return err
			}
			data, err := svc.ExportAuditJSON()
			if err != nil {
				return err
			}
			dest, err := openArchive(cmd, cfg)
			if err != nil {
				return err
			}
			key := fmt.Sprintf("audit/%s.json", time.Now().UTC().Format("20060102T150405Z"))
			info, err := dest.Put(cmd.Context(), key, bytes.NewReader(data), archive.PutOptions{ContentType: "application/json"})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %s (%d bytes)\n", info.Key, info.Size)
			return nil
		},
	}
}

func newArchiveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived audit exports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			dest, err := openArchive(cmd, cfg)
			if err != nil {
				return err
			}
			infos, err := dest.List(cmd.Context(), "audit/")
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", info.Key, info.Size, info.LastModified.Format(time.RFC3339))
			}
			return nil
		},
	}
}
