package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fairweather/internal/alternatives"
	"fairweather/internal/scoring"
	"fairweather/internal/types"
)

// scoreReport is the output of the score command.
type scoreReport struct {
	Location  string                  `json:"location"`
	Date      time.Time               `json:"date"`
	EventType types.EventType         `json:"event_type"`
	Forecast  *types.ForecastRecord   `json:"forecast"`
	Result    types.SuitabilityResult `json:"result"`
}

func (c *cli) scoreCmd() *cobra.Command {
	var eventType string
	cmd := &cobra.Command{
		Use:   "score <location> <date>",
		Short: "Score the forecast for a location and date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := scoring.Lookup(eventType)
			if err != nil {
				return err
			}
			date, err := types.ParseDate(args[1])
			if err != nil {
				return err
			}
			d, err := c.deps(cmd)
			if err != nil {
				return err
			}

			f, err := d.provider.GetForecast(commandContext(cmd), args[0], date)
			if err != nil {
				return err
			}
			report := scoreReport{
				Location:  args[0],
				Date:      date,
				EventType: profile.EventType(),
				Forecast:  f,
				Result:    scoring.Score(f, profile),
			}
			return render(cmd.OutOrStdout(), c.output, report, func(w io.Writer) {
				writeScore(w, report)
			})
		},
	}
	cmd.Flags().StringVarP(&eventType, "event-type", "t", string(types.EventTypeGeneral), "event type to score for")
	return cmd
}

func (c *cli) alternativesCmd() *cobra.Command {
	var (
		eventType      string
		windowDays     int
		minImprovement float64
		limit          int
	)
	cmd := &cobra.Command{
		Use:   "alternatives <location> <date>",
		Short: "Find nearby dates with better weather",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			et, err := types.ParseEventType(eventType)
			if err != nil {
				return err
			}
			date, err := types.ParseDate(args[1])
			if err != nil {
				return err
			}
			d, err := c.deps(cmd)
			if err != nil {
				return err
			}

			res, err := d.finder.Find(commandContext(cmd), alternatives.Request{
				Location:       args[0],
				OriginalDate:   date,
				EventType:      et,
				WindowDays:     windowDays,
				MinImprovement: minImprovement,
				Limit:          limit,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.output, res, func(w io.Writer) {
				writeAlternatives(w, res)
			})
		},
	}
	cmd.Flags().StringVarP(&eventType, "event-type", "t", string(types.EventTypeGeneral), "event type to score for")
	cmd.Flags().IntVarP(&windowDays, "window", "w", 3, "days after the date to consider")
	cmd.Flags().Float64VarP(&minImprovement, "min-improvement", "m", alternatives.DefaultMinImprovement, "score margin a date must exceed")
	cmd.Flags().IntVarP(&limit, "limit", "l", 5, "maximum alternatives to show (0 for all)")
	return cmd
}

func (c *cli) seriesCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "series <location>",
		Short: "Show the forecast series for a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 || days > 16 {
				return fmt.Errorf("--days must be between 1 and 16, got %d", days)
			}
			d, err := c.deps(cmd)
			if err != nil {
				return err
			}
			series, err := d.provider.GetForecastSeries(commandContext(cmd), args[0], days)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.output, series, func(w io.Writer) {
				writeSeries(w, args[0], series)
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 5, "number of days to show")
	return cmd
}

func (c *cli) profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the scoring profiles per event type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profiles := scoring.Profiles()
			return render(cmd.OutOrStdout(), c.output, profiles, func(w io.Writer) {
				writeProfiles(w, profiles)
			})
		},
	}
}

func writeScore(w io.Writer, r scoreReport) {
	fmt.Fprintf(w, "%s on %s (%s)\n", r.Location, r.Date.Format("2006-01-02 15:04 MST"), r.EventType)
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "Score:      %d/100 %s\n", r.Result.Score, conditionLabel(r.Result.Condition))
	if r.Forecast != nil && r.Forecast.Description != "" {
		fmt.Fprintf(w, "Conditions: %s\n", r.Forecast.Description)
	}
	fmt.Fprintln(w)
	writeAnalysis(w, r.Result.Analysis)
}

func writeAnalysis(w io.Writer, a types.WeatherAnalysis) {
	for _, p := range types.AllParameters {
		ps, ok := a[p]
		if !ok {
			continue
		}
		note := ""
		if ps.Imputed {
			note = dim("  (not reported)")
		}
		fmt.Fprintf(w, "  %-14s %10.1f  score %5.1f  weight %.2f%s\n", p, ps.Value, ps.Score, ps.Weight, note)
	}
}

func writeAlternatives(w io.Writer, res *alternatives.Result) {
	o := res.Original
	fmt.Fprintf(w, "%s (%s)\n", res.Location, res.EventType)
	fmt.Fprintf(w, "Original %s: %d/100 %s\n", o.Date.Format("2006-01-02"), o.Result.Score, conditionLabel(o.Result.Condition))
	fmt.Fprintln(w, strings.Repeat("-", 40))

	if len(res.Alternatives) == 0 {
		fmt.Fprintln(w, "No better dates found.")
	}
	for i, a := range res.Alternatives {
		fmt.Fprintf(w, "%d. %s  %d/100 %s  +%.1f\n", i+1, a.Date.Format("2006-01-02 Mon"),
			a.Result.Score, conditionLabel(a.Result.Condition), a.Improvement)
	}

	if res.Partial {
		fmt.Fprintln(w, warn("Search timed out; results cover completed dates only."))
	}
	for _, s := range res.Skipped {
		fmt.Fprintln(w, dim(fmt.Sprintf("skipped %s: %s", s.Date.Format("2006-01-02"), s.Code)))
	}
}

func writeSeries(w io.Writer, location string, series []types.ForecastRecord) {
	fmt.Fprintf(w, "%s: %d forecast entries\n", location, len(series))
	for _, f := range series {
		fmt.Fprintf(w, "  %s  %s  %s\n", f.Timestamp.Format("2006-01-02 15:04"), measurement(f.Temperature, "°C"), f.Description)
	}
}

func writeProfiles(w io.Writer, profiles []scoring.Profile) {
	for _, p := range profiles {
		fmt.Fprintln(w, bold(string(p.EventType())))
		rules := p.Rules()
		for _, param := range types.AllParameters {
			r, ok := rules[param]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "  %-14s weight %.2f  ideal %g..%g  tolerance %g\n", param, r.Weight, r.IdealMin, r.IdealMax, r.Tolerance)
		}
	}
}

func measurement(v *float64, unit string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%s", *v, unit)
}
