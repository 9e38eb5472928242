package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deltabar-tiles/server/internal/config"
)

func exportCommand() *cobra.Command {
	var (
		trackID string
		zoom    int
		tiles   string
		height  float64
		out     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render a set of tiles of one track to SVG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := newLogger(cfg.Log.Level, verbose)

			positions, err := parsePositions(tiles)
			if err != nil {
				return err
			}
			if trackID == "" {
				trackID = cfg.Data.DefaultTrack
			}

			a, err := openApp(cfg, logger, trackID)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := a.registry.Get(trackID)
			if height > 0 {
				if err := svc.SetTrackHeight(height); err != nil {
					return err
				}
			}
			view, err := svc.View(zoom, positions)
			if err != nil {
				return err
			}
			for _, f := range view.Failures {
				logger.Warn("tile skipped", "tile", f.ID, "err", f.Error)
			}

			data, err := svc.ExportSVG()
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			logger.Info("export written", "path", out, "tiles", len(view.Tiles))
			return nil
		},
	}

	cmd.Flags().StringVar(&trackID, "track", "", "track id (default track when empty)")
	cmd.Flags().IntVar(&zoom, "zoom", 0, "zoom level")
	cmd.Flags().StringVar(&tiles, "tiles", "0", "comma-separated tile positions")
	cmd.Flags().Float64Var(&height, "height", 0, "track height in pixels (config value when 0)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	return cmd
}

func parsePositions(s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid tile position %q", p)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no tile positions given")
	}
	return out, nil
}
