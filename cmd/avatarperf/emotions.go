package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/example/go-avatar-perf/internal/emotion"
	"github.com/spf13/cobra"
)

func newEmotionsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "emotions",
		Short: "List available emotion presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(catalog.List())
			}
			return printEmotions(cmd.OutOrStdout(), catalog.List())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print presets as JSON")

	return cmd
}

func printEmotions(w io.Writer, profiles []emotion.Profile) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tPARAMETERS")
	for _, p := range profiles {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Label, profileSummary(p))
	}
	return tw.Flush()
}

func profileSummary(p emotion.Profile) string {
	c := p.Clamped()
	return fmt.Sprintf("tempo x%.2f, pitch %+.1f st, gesture %.2f, mouth %.2f, brows %+.2f",
		c.TempoMultiplier, c.PitchShift, c.GestureIntensity, c.MouthIntensity, c.BrowLift)
}
