package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/local/pathdesk/internal/score"
)

func newScoreCmd() *cobra.Command {
	var (
		lvi, budding, pdcs, grade2, sm2 string
		asJSON                          bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute the PLNM score from five binary observations",
		Long: `Compute the PLNM score. Each observation is 0/1 or negative/positive.

` + score.Formula,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var obs score.Observations
			for _, f := range []struct {
				name string
				raw  string
				dst  *int
			}{
				{"lvi", lvi, &obs.LVI},
				{"tumor_budding", budding, &obs.TumorBudding},
				{"pdcs_level", pdcs, &obs.PDCsLevel},
				{"histologic_grade2", grade2, &obs.HistologicGrade2},
				{"sm2", sm2, &obs.SM2},
			} {
				v, err := score.ParseFlag(f.name, f.raw)
				if err != nil {
					return err
				}
				*f.dst = v
			}
			total, err := obs.Score()
			if err != nil {
				return err
			}
			terms, _ := obs.Breakdown()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"score": total, "max_score": score.MaxScore, "breakdown": terms})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, t := range terms {
				fmt.Fprintf(tw, "%s\t%s\t×%d\t%d\n", t.Name, score.Label(t.Value), t.Weight, t.Contribution)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "PLNM Score: %d / %d\n", total, score.MaxScore)
			return nil
		},
	}
	cmd.Flags().StringVar(&lvi, "lvi", "0", "lymphovascular invasion (0|1)")
	cmd.Flags().StringVar(&budding, "tumor-budding", "0", "tumor budding (0|1)")
	cmd.Flags().StringVar(&pdcs, "pdcs-level", "0", "poorly differentiated clusters level (0|1)")
	cmd.Flags().StringVar(&grade2, "histologic-grade2", "0", "histologic grade 2 (0|1)")
	cmd.Flags().StringVar(&sm2, "sm2", "0", "submucosal invasion SM2 (0|1)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
