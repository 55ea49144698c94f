// calreport scores a history of resolved predictions and prints the
// calibration report the trading gate runs on: Brier score, expected
// calibration error and per-band accuracy. Input is a JSON array of
// {"predicted": 0.65, "outcome": true} records, from a file or stdin.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/phenomenon0/edgetrader/pkg/trader/calibration"
)

var (
	inputPath = flag.String("input", "-", "Path to resolved predictions JSON ('-' for stdin)")
	ceiling   = flag.Float64("ceiling", 0.25, "Brier ceiling to judge the history against")
	window    = flag.Int("window", 0, "Score only the most recent N records (0 = all)")
)

func main() {
	flag.Parse()

	history, err := readHistory(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "calreport: %v\n", err)
		os.Exit(1)
	}
	if *window > 0 && len(history) > *window {
		history = history[len(history)-*window:]
	}

	report := calibration.Score(history)

	fmt.Printf("samples:            %d\n", report.Samples)
	fmt.Printf("brier score:        %.4f\n", report.Brier)
	fmt.Printf("calibration error:  %.4f\n", report.CalibrationError)
	fmt.Println()
	fmt.Println("band        count   avg predicted   observed")
	for _, b := range report.Buckets {
		if b.Count == 0 {
			fmt.Printf("%3.0f-%3.0f%%   %5d              --         --\n", b.Lo, b.Hi, b.Count)
			continue
		}
		fmt.Printf("%3.0f-%3.0f%%   %5d           %.3f      %.3f\n",
			b.Lo, b.Hi, b.Count, b.AvgPredicted, b.ObservedAccuracy)
	}
	fmt.Println()

	if report.Samples == 0 {
		fmt.Println("verdict: no history, gate would pass")
		return
	}
	if report.Brier > *ceiling {
		fmt.Printf("verdict: BLOCKED, Brier %.4f above ceiling %.4f\n", report.Brier, *ceiling)
		os.Exit(2)
	}
	fmt.Printf("verdict: trading allowed, Brier %.4f within ceiling %.4f\n", report.Brier, *ceiling)
}

func readHistory(path string) ([]calibration.Sample, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var records []struct {
		Predicted float64 `json:"predicted"`
		Outcome   bool    `json:"outcome"`
	}
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	history := make([]calibration.Sample, len(records))
	for i, rec := range records {
		history[i] = calibration.Sample{Predicted: rec.Predicted, Outcome: rec.Outcome}
	}
	return history, nil
}
