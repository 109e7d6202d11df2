/*
 *	Copyright 2024 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// beam_decode runs beam search over a toy bigram model described in YAML, printing the
// n-best outputs of each input line.
//
// Usage:
//
//	beam_decode -model=model.yaml -input=sources.txt -nbest=2 -csv=results.csv
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/nmt/pkg/ml/seq2seq"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagModel   = flag.String("model", "", "YAML file with the toy model and generation parameters.")
	flagInput   = flag.String("input", "-", "File with one source line per row, \"-\" for stdin.")
	flagNBest   = flag.Int("nbest", 0, "Number of hypotheses to output per line. If 0, use the model's n_best.")
	flagBeams   = flag.Int("beams", 0, "Beam size. If 0, use the model's num_beams.")
	flagCSV     = flag.String("csv", "", "If set, also write the results as CSV to this file.")
	flagNoColor = flag.Bool("no_color", false, "Disable colors in the output table.")
	flagNoBar   = flag.Bool("no_progress", false, "Disable the progress bar.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *flagModel == "" {
		klog.Fatal("-model is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Stdout); err != nil {
		klog.Fatalf("beam_decode failed: %+v", err)
	}
}

func run(ctx context.Context, out io.Writer) error {
	model, err := LoadToyModel(*flagModel)
	if err != nil {
		return err
	}
	config := &model.Generation
	if *flagBeams > 0 {
		config.NumBeams = *flagBeams
	}
	if *flagNBest > 0 {
		config.NBest = *flagNBest
	}

	lines, err := readLines(*flagInput)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return errors.New("no input lines")
	}
	srcLengths := model.SetSources(lines)
	lineIDs := make([]int, len(lines))
	for ii := range lineIDs {
		lineIDs[ii] = ii
	}

	batch, err := seq2seq.NewBatch(config, lineIDs, srcLengths)
	if err != nil {
		return err
	}
	start := time.Now()
	var bar *progressbar.ProgressBar
	if !*flagNoBar {
		bar = progressbar.NewOptions(config.MaxLength,
			progressbar.OptionSetDescription("decoding"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish())
	}
	for done := false; !done; {
		done, err = batch.Step(ctx, model)
		if err != nil {
			return err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	elapsed := time.Since(start)

	results := batch.Results()
	rows := collectRows(model, results)
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	fmt.Fprintln(out, renderTable(rows))

	var numFailed, numFinished int
	for ii, result := range results {
		if result.Err != nil {
			numFailed++
		}
		numFinished += batch.Histories()[ii].NumCandidates()
	}
	fmt.Fprintf(out, "Decoded %s lines in %s steps (%s): %s finished hypotheses, %s failed lines.\n",
		humanize.Comma(int64(len(lines))), humanize.Comma(int64(batch.NumSteps())), elapsed.Round(time.Millisecond),
		humanize.Comma(int64(numFinished)), humanize.Comma(int64(numFailed)))

	if *flagCSV != "" {
		f, err := os.Create(*flagCSV)
		if err != nil {
			return errors.Wrapf(err, "failed to create %q", *flagCSV)
		}
		if err := writeCSV(f, rows); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "failed to close %q", *flagCSV)
		}
		klog.V(1).Infof("wrote %s rows to %q", humanize.Comma(int64(len(rows))), *flagCSV)
	}
	return nil
}

// readLines reads the source lines from path, or stdin if path is "-".
func readLines(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open input %q", path)
		}
		defer f.Close()
		r = f
	}
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read input %q", path)
	}
	return lines, nil
}
