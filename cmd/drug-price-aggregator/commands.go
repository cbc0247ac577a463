package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/drug-price-aggregator/internal/app"
	"github.com/fairyhunter13/drug-price-aggregator/internal/config"
	"github.com/fairyhunter13/drug-price-aggregator/internal/lookup"
	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
)

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "drug-price-aggregator",
		Short:         "Find drug prices across pharmacy sources, search the registry and track price alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if envFile != "" {
				config.LoadDotEnv(envFile)
			} else {
				config.LoadDotEnv()
			}
			// one-shot commands print JSON on stdout, so their logs go to stderr
			obs.InitLogger(cmd.ErrOrStderr(), config.Load().LogLevel)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file instead of .env")

	root.AddCommand(newServeCmd(), newLookupCmd(), newSearchCmd(), newNearestCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background alert sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			obs.InitLogger(cmd.OutOrStdout(), cfg.LogLevel)
			obs.Logger.Info("service_starting", "addr", cfg.HTTPAddr)
			c, err := app.Build(cmd.Context(), cfg, app.Options{})
			if err != nil {
				return err
			}
			defer c.Close()
			err = c.Serve(cmd.Context())
			obs.Logger.Info("service_stopped")
			return err
		},
	}
}

func newLookupCmd() *cobra.Command {
	var category string
	var force bool
	cmd := &cobra.Command{
		Use:   "lookup <drug name>",
		Short: "Search the registry, then aggregate prices on a miss",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := parseCategory(category)
			if err != nil {
				return err
			}
			c, err := app.Build(cmd.Context(), config.Load(), app.Options{})
			if err != nil {
				return err
			}
			defer c.Close()
			res := c.Lookup.Lookup(cmd.Context(), lookup.Request{
				Query:    strings.Join(args, " "),
				Category: cat,
				Force:    force,
			})
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "Registry section: substance, invivo, technology, diagnostic")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Aggregate prices even when the registry matched")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Substring search over the drug registry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := parseCategory(category)
			if err != nil {
				return err
			}
			c, err := app.Build(cmd.Context(), config.Load(), app.Options{})
			if err != nil {
				return err
			}
			defer c.Close()
			out := c.Catalog.Search(strings.Join(args, " "), cat)
			if out == nil {
				out = []model.CatalogRecord{}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "Registry section: substance, invivo, technology, diagnostic")
	return cmd
}

func newNearestCmd() *cobra.Command {
	var lat, lon, radius float64
	cmd := &cobra.Command{
		Use:   "nearest",
		Short: "List pharmacies closest to a coordinate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := app.Build(cmd.Context(), config.Load(), app.Options{})
			if err != nil {
				return err
			}
			defer c.Close()
			out := c.Ranker.Nearest(lat, lon, radius)
			if out == nil {
				out = []model.NearbyPharmacy{}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude")
	cmd.Flags().Float64VarP(&radius, "radius", "r", 5, "Search radius in km; regional pharmacies above 10")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func parseCategory(s string) (model.Category, error) {
	cat, ok := model.ParseCategory(strings.ToLower(strings.TrimSpace(s)))
	if !ok {
		return cat, fmt.Errorf("unknown category %q", s)
	}
	return cat, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
