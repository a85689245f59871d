package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/ajharbinger/dilution-monitor/internal/app"
	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/services"
	"github.com/ajharbinger/dilution-monitor/pkg/config"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.New()

	fix := flag.Bool("fix", false, "set every flagged value to null")
	fence := flag.Float64("fence", 0, "IQR multiplier (0 uses the scoring config outlier fence)")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log = logger.NewFromEnv()
	}
	if envErr != nil {
		log.Debug("No .env file found")
	}

	a, err := app.New(context.Background(), cfg, log, app.Options{})
	if err != nil {
		log.Fatal("Failed to initialize application", err)
	}
	defer a.Close()

	if *fence <= 0 {
		*fence = a.ScoringConfig.Get().OutlierFence
	}

	report, err := services.NewDataValidator(a.Repos, *fence, log).Scan(*fix)
	if err != nil {
		log.Fatal("Validation scan failed", err)
	}
	printReport(report, *fix)
}

func printReport(report *services.ValidationReport, fixed bool) {
	fmt.Printf("Scanned %d entities, %d values outside the fence\n", report.EntitiesScanned, report.Total())
	if report.Total() == 0 {
		return
	}

	fields := make([]string, 0, len(report.FieldCounts))
	for f := range report.FieldCounts {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nFIELD\tCOUNT")
	for _, f := range fields {
		fmt.Fprintf(w, "%s\t%d\n", f, report.FieldCounts[f])
	}
	fmt.Fprintln(w, "\nTICKER\tPERIOD\tFIELD\tVALUE\tFENCE")
	for _, e := range report.Entities {
		for _, o := range e.Outliers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.4g\t[%.4g, %.4g]\n", e.Ticker, o.FiscalPeriod, o.Field, o.Value, o.Fence.Lower, o.Fence.Upper)
		}
	}
	w.Flush()

	if fixed {
		fmt.Printf("\nNulled %d values\n", report.Fixed)
	} else {
		fmt.Println("\nRun with --fix to null these values")
	}
}
