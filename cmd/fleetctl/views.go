package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ukydev/fleet-insights/internal/aggregate"
	"github.com/ukydev/fleet-insights/internal/report"
)

func windowFlag(cmd *cobra.Command, target *string, def string) {
	cmd.Flags().StringVarP(target, "window", "w", def,
		"time window ("+strings.Join(aggregate.WindowNames, ", ")+")")
}

func newDriversCmd(c *cli) *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "drivers",
		Short: "Per-driver miles, fuel and efficiency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := c.api.DriverMetrics(cmd.Context(), window)
			if err != nil {
				return err
			}
			return writeRows(c.table(), "Driver", rows)
		},
	}
	windowFlag(cmd, &window, "")
	return cmd
}

func writeRows(tw flusher, first string, rows []aggregate.Row) error {
	fmt.Fprintf(tw, "%s\tTrips\tMiles\tFuel\tMPG\tAvg mph\n", first)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.2f\t%.1f\n",
			r.Label, r.TripsCount, r.TotalMiles, r.TotalFuel, r.FuelEfficiency, r.AvgSpeed)
	}
	return tw.Flush()
}

type flusher interface {
	io.Writer
	Flush() error
}

func newTripsChartCmd(c *cli) *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "trips-chart",
		Short: "Completed trips per driver per period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.api.TripsChart(cmd.Context(), window)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, resp.Label)
			tw := c.table()
			fmt.Fprint(tw, "Driver")
			for _, b := range resp.Frame.Buckets {
				fmt.Fprintf(tw, "\t%s", b.Label)
			}
			fmt.Fprintln(tw, "\tTotal")
			for _, d := range resp.Drivers {
				fmt.Fprint(tw, d.Label)
				for _, b := range resp.Frame.Buckets {
					fmt.Fprintf(tw, "\t%.0f", b.ByEntity[d.Key])
				}
				fmt.Fprintf(tw, "\t%d\n", d.TripsCount)
			}
			return tw.Flush()
		},
	}
	windowFlag(cmd, &window, "7d")
	return cmd
}

func newFuelCmd(c *cli) *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "fuel",
		Short: "Fuel usage per period with trend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.api.FuelChart(cmd.Context(), window)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, resp.Label)
			tw := c.table()
			fmt.Fprintln(tw, "Period\tTrips\tFuel")
			total := 0.0
			for _, b := range resp.Frame.Buckets {
				fmt.Fprintf(tw, "%s\t%d\t%.1f\n", b.Label, b.Count, b.Value)
				total += b.Value
			}
			fmt.Fprintf(tw, "Total\t\t%.1f\n", total)
			if err := tw.Flush(); err != nil {
				return err
			}
			if resp.Trend != nil {
				fmt.Fprintf(c.out, "Trend: %s\n", formatTrend(*resp.Trend))
			}
			return nil
		},
	}
	windowFlag(cmd, &window, "7d")
	return cmd
}

func formatTrend(t aggregate.Trend) string {
	arrow := "down"
	if t.Positive {
		arrow = "up"
	}
	return fmt.Sprintf("%.1f%% %s", t.Percent, arrow)
}

func newEfficiencyCmd(c *cli) *cobra.Command {
	var month string
	var daily bool
	cmd := &cobra.Command{
		Use:   "efficiency",
		Short: "Monthly fuel efficiency per carrier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.api.Efficiency(cmd.Context(), month)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Fuel efficiency %s\n", resp.Month)
			tw := c.table()
			fmt.Fprintln(tw, "Carrier\tTrips\tMiles\tFuel\tMPG\tFuel/trip")
			for _, s := range resp.Carriers {
				fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.2f\t%.2f\n",
					s.CarrierName, s.TripsCount, s.TotalMiles, s.TotalFuel, s.FuelEfficiency, s.AvgFuelPerTrip)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if !daily || resp.Daily == nil {
				return nil
			}
			fmt.Fprintln(c.out)
			tw = c.table()
			fmt.Fprint(tw, "Day")
			for _, s := range resp.Carriers {
				fmt.Fprintf(tw, "\t%s", s.CarrierName)
			}
			fmt.Fprintln(tw, "\tTotal")
			for _, b := range resp.Daily.Buckets {
				fmt.Fprint(tw, b.Label)
				for _, s := range resp.Carriers {
					fmt.Fprintf(tw, "\t%.1f", b.ByEntity[s.CarrierID])
				}
				fmt.Fprintf(tw, "\t%.1f\n", b.Value)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&month, "month", "m", "", "month as YYYY-MM (default current)")
	cmd.Flags().BoolVar(&daily, "daily", false, "also print daily fuel per carrier")
	return cmd
}

func newLeaderboardCmd(c *cli) *cobra.Command {
	var month string
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Top drivers per carrier by miles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.api.Leaderboard(cmd.Context(), month, limit)
			if err != nil {
				return err
			}
			if len(resp.Carriers) == 0 {
				fmt.Fprintf(c.out, "No completed trips in %s\n", resp.Month)
				return nil
			}
			for i, board := range resp.Carriers {
				if i > 0 {
					fmt.Fprintln(c.out)
				}
				fmt.Fprintf(c.out, "%s (%s)\n", board.CarrierName, resp.Month)
				tw := c.table()
				fmt.Fprintln(tw, "#\tDriver\tTrips\tMiles\tFuel\tMPG")
				for rank, d := range board.Drivers {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%.1f\t%.1f\t%.2f\n",
						rank+1, d.Label, d.TripsCount, d.TotalMiles, d.TotalFuel, d.FuelEfficiency)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&month, "month", "m", "", "month as YYYY-MM (default current)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "drivers per carrier")
	return cmd
}

func newExportCmd(c *cli) *cobra.Command {
	var month, output string
	var limit int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the monthly efficiency workbook (xlsx)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eff, err := c.api.Efficiency(cmd.Context(), month)
			if err != nil {
				return err
			}
			board, err := c.api.Leaderboard(cmd.Context(), eff.Month, limit)
			if err != nil {
				return err
			}
			if output == "" {
				output = "efficiency-" + eff.Month + ".xlsx"
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			err = report.Write(f, report.Efficiency{
				Month:        eff.Month,
				Carriers:     eff.Carriers,
				Daily:        eff.Daily,
				Leaderboards: board.Carriers,
			})
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			c.logger.WithField("file", output).Info("Workbook written")
			fmt.Fprintln(c.out, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&month, "month", "m", "", "month as YYYY-MM (default current)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default efficiency-<month>.xlsx)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "drivers per carrier on the leaderboard sheet")
	return cmd
}
