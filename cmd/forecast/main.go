package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/Arnav-102/UrbanPulse/internal/sim/forecast"
	"github.com/Arnav-102/UrbanPulse/internal/sim/tuning"
)

type row struct {
	Hour    int     `json:"hour"`
	Traffic float64 `json:"traffic"`
}

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		seed       = flag.Int64("seed", 0, "override the tuning seed (0 keeps the configured one)")
		asJSON     = flag.Bool("json", false, "print JSON instead of a table")
	)
	flag.Parse()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	f, err := forecast.Build(tune.Forecast, tune.Seed)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build forecaster:", err)
		os.Exit(1)
	}
	rows, err := table(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "forecast:", err)
		os.Exit(1)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rows)
		return
	}
	if err := printTable(os.Stdout, tune.Forecast.Model, rows); err != nil {
		os.Exit(1)
	}
	if !rushHours(rows) {
		fmt.Fprintln(os.Stderr, "warning: 08:00 and 17:00 are not above 02:00")
		os.Exit(1)
	}
}

func table(f forecast.Forecaster) ([]row, error) {
	rows := make([]row, 0, 24)
	for h := 0; h < 24; h++ {
		v, err := f.Forecast(float64(h))
		if err != nil {
			return nil, fmt.Errorf("hour %d: %w", h, err)
		}
		rows = append(rows, row{Hour: h, Traffic: v})
	}
	return rows, nil
}

// rushHours reports whether the morning and evening peaks beat the night trough.
func rushHours(rows []row) bool {
	return rows[8].Traffic > rows[2].Traffic && rows[17].Traffic > rows[2].Traffic
}

func printTable(out io.Writer, model string, rows []row) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "model=%s\n", model)
	fmt.Fprintln(tw, "HOUR\tTRAFFIC")
	for _, r := range rows {
		fmt.Fprintf(tw, "%02d:00\t%.2f\n", r.Hour, r.Traffic)
	}
	return tw.Flush()
}
