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

package seq2seq

import (
	"context"
	"math"

	"github.com/gomlx/nmt/pkg/ml/decode/history"
	"github.com/gomlx/nmt/pkg/ml/decode/hypothesis"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Batch holds the beam search state of a batch of input lines.
//
// Each line owns one history.History and its current beam. Lines are stepped in
// parallel, but each line is only ever touched by one goroutine at a time. A Batch
// itself is not safe for concurrent use.
type Batch struct {
	config    *GenerationConfig
	items     []*item
	histories history.Histories
	numSteps  int
}

// item is the search state of one line.
type item struct {
	lineID    int
	maxLength int
	history   *history.History

	// beam holds the unfinished hypotheses to extend at the next step.
	beam     hypothesis.Beam
	beamSize int

	done bool
	err  error
}

// ItemResult is the outcome of the search for one line.
type ItemResult struct {
	LineID int

	// NBest holds up to GenerationConfig.NBest finished hypotheses, best first.
	NBest history.NBestList

	// Err is set if decoding this line failed. Other lines are not affected.
	Err error
}

// NewBatch creates the search state for the given lines.
//
// srcLengths, if not nil, holds the source length of each line and is used with
// GenerationConfig.MaxLengthFactor. The config must not be changed afterwards.
func NewBatch(config *GenerationConfig, lineIDs []int, srcLengths []int) (*Batch, error) {
	if config == nil {
		return nil, errors.New("generation config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid generation config")
	}
	if len(lineIDs) == 0 {
		return nil, errors.New("batch must have at least one line")
	}
	if srcLengths != nil && len(srcLengths) != len(lineIDs) {
		return nil, errors.Errorf("got %d source lengths for %d lines", len(srcLengths), len(lineIDs))
	}

	b := &Batch{
		config:    config,
		items:     make([]*item, len(lineIDs)),
		histories: history.NewHistories(lineIDs, config.LengthPenalty, config.WordPenalty),
	}
	eos := hypothesis.Word(config.EOSTokenID)
	for ii, lineID := range lineIDs {
		srcLength := 0
		if srcLengths != nil {
			srcLength = srcLengths[ii]
		}
		it := &item{
			lineID:    lineID,
			maxLength: config.maxLengthFor(srcLength),
			history:   b.histories[ii],
			beam:      hypothesis.Beam{hypothesis.NewStart(hypothesis.Word(config.DecoderStartTokenID))},
			beamSize:  config.NumBeams,
		}
		if err := it.history.Add(it.beam, eos, false, false); err != nil {
			return nil, errors.WithMessagef(err, "failed to start search for line %d", lineID)
		}
		b.items[ii] = it
	}
	return b, nil
}

// Config returns the generation configuration of the batch.
func (b *Batch) Config() *GenerationConfig { return b.config }

// BatchSize returns the number of lines.
func (b *Batch) BatchSize() int { return len(b.items) }

// NumSteps returns the number of steps run so far, net of rewinds.
func (b *Batch) NumSteps() int { return b.numSteps }

// Histories returns the search history of each line, in batch order.
func (b *Batch) Histories() history.Histories { return b.histories }

// Done returns whether every line finished or failed.
func (b *Batch) Done() bool {
	for _, it := range b.items {
		if !it.done {
			return false
		}
	}
	return true
}

// Step runs one beam search step for every unfinished line and returns whether all
// lines are done.
//
// A failure of one line (scorer error, malformed logits) marks that line as failed and
// is reported by Results; the other lines keep going. Step only returns an error if ctx
// is done, in which case some lines may have advanced and others not: the batch should
// then be discarded.
func (b *Batch) Step(ctx context.Context, scorer StepScorer) (done bool, err error) {
	if b.Done() {
		return true, nil
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.numWorkers())
	for _, it := range b.items {
		if it.done {
			continue
		}
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			if err := it.step(gCtx, scorer, b.config); err != nil {
				if ctxErr := gCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				it.fail(err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, errors.WithMessagef(err, "beam search interrupted at step %d", b.numSteps+1)
	}
	b.numSteps++
	done = b.Done()
	if klog.V(1).Enabled() {
		active := 0
		for _, it := range b.items {
			if !it.done {
				active++
			}
		}
		klog.Infof("beam search step %d: %d of %d lines active", b.numSteps, active, len(b.items))
	}
	return done, nil
}

// Search runs Step until every line is done and returns the results.
func (b *Batch) Search(ctx context.Context, scorer StepScorer) ([]ItemResult, error) {
	for {
		done, err := b.Step(ctx, scorer)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	return b.Results(), nil
}

// Rewind rolls the batch back n steps, as if they had never been run. Hypotheses that
// finished during those steps are forgotten, and lines that were still active in them
// become active again. Lines that finished earlier are left untouched. The start step is
// never removed.
func (b *Batch) Rewind(n int) {
	if n <= 0 {
		return
	}
	target := max(b.numSteps-n, 0)
	for _, it := range b.items {
		if it.err != nil {
			continue
		}
		it.rewind(target, b.config)
	}
	b.numSteps = target
}

// Results returns the n-best list of every line, in batch order.
// Lines without finished hypotheses get an error wrapping history.ErrEmptyState.
func (b *Batch) Results() []ItemResult {
	results := make([]ItemResult, len(b.items))
	for ii, it := range b.items {
		results[ii].LineID = it.lineID
		if it.err != nil {
			results[ii].Err = it.err
			continue
		}
		results[ii].NBest, results[ii].Err = it.history.NBest(b.config.NBest)
	}
	return results
}

// step extends the beam of the line by one word.
func (it *item) step(ctx context.Context, scorer StepScorer, config *GenerationConfig) error {
	t := it.history.Size()
	logits, err := scorer.Step(ctx, it.lineID, t, it.beam)
	if err != nil {
		return errors.WithMessagef(err, "scorer failed at step %d", t)
	}
	if logits == nil {
		return errors.Errorf("scorer returned no logits at step %d", t)
	}
	defer logits.FinalizeAll()

	numLanes, vocabSize, laneLogits, err := extractLogitsData(logits)
	if err != nil {
		return errors.WithMessagef(err, "invalid logits at step %d", t)
	}
	if numLanes != len(it.beam) {
		return errors.Errorf("scorer returned logits for %d lanes at step %d, beam has %d", numLanes, t, len(it.beam))
	}

	eos := hypothesis.Word(config.EOSTokenID)
	pathScores := make([]float32, numLanes)
	logProbs := make([][]float32, numLanes)
	for lane, hyp := range it.beam {
		pathScores[lane] = hyp.PathScore()
		logProbs[lane] = logSoftmax(laneLogits[lane])
		if t <= config.MinLength && int(eos) >= 0 && int(eos) < vocabSize {
			logProbs[lane][eos] = float32(math.Inf(-1))
		}
	}
	best := bestExpansions(pathScores, logProbs, it.beamSize)
	if len(best) == 0 {
		return errors.Errorf("no word can extend the beam at step %d", t)
	}

	newBeam := make(hypothesis.Beam, len(best))
	for k, e := range best {
		newBeam[k] = hypothesis.New(it.beam[e.lane], hypothesis.Word(e.word), e.lane, e.score)
	}
	last := t >= it.maxLength
	if err := it.history.Add(newBeam, eos, last, last); err != nil {
		return err
	}

	survivors := make(hypothesis.Beam, 0, len(newBeam))
	for _, hyp := range newBeam {
		if hyp.Word() != eos {
			survivors = append(survivors, hyp)
		}
	}
	it.beamSize -= len(newBeam) - len(survivors)
	it.beam = survivors
	it.done = last || len(it.beam) == 0 || it.beamSize <= 0
	return nil
}

func (it *item) fail(err error) {
	klog.Warningf("line %d: decoding failed: %v", it.lineID, err)
	it.err = err
	it.done = true
}

// rewind removes every step after step target and restores the beam from the new last
// step. Step 0 is the start step.
func (it *item) rewind(target int, config *GenerationConfig) {
	n := it.history.Size() - 1 - target
	if n <= 0 {
		return
	}
	it.history.Remove(n)
	last, err := it.history.LastBeam()
	if err != nil {
		// The start step is never removed.
		it.fail(errors.WithMessage(err, "rewind lost the start step"))
		return
	}

	eos := hypothesis.Word(config.EOSTokenID)
	if last[0].Prev() == nil {
		it.beam = last
	} else {
		it.beam = make(hypothesis.Beam, 0, len(last))
		for _, hyp := range last {
			if hyp.Word() != eos {
				it.beam = append(it.beam, hyp)
			}
		}
	}
	it.beamSize = config.NumBeams - it.history.NumCandidates()
	it.done = len(it.beam) == 0 || it.beamSize <= 0
}
