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

// Package history records the search grid of one input line during beam search.
//
// A History stores the beam of every time step and keeps, ordered by length-normalized
// score, every hypothesis that reached the end-of-sequence word (or was forced to stop).
// Any of them can be turned back into the full output sequence with NBest or Top.
//
// A History is owned by the single task decoding its line: it does no locking. Batches
// are decoded with one History per line, see Histories.
package history

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/gomlx/nmt/pkg/ml/decode/hypothesis"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DefaultAlpha is the default length normalization exponent.
	DefaultAlpha = float32(1)

	// DefaultWordPenalty is the default per-word penalty.
	DefaultWordPenalty = float32(0)
)

// candidate points to a finished hypothesis in the search grid.
type candidate struct {
	i, j   int // time step and lane in grid
	score  float32
	status Status
	seq    uint64 // insertion order, breaks score ties
}

// History is the search grid of one input line: the beam of every time step plus the
// finished hypotheses sorted by normalized score.
type History struct {
	lineID      int
	alpha       float32
	wordPenalty float32

	// grid[i] is the beam added at time step i.
	grid []hypothesis.Beam

	// finished is kept sorted by descending score, ties by ascending seq.
	finished []candidate
	nextSeq  uint64
}

// New creates an empty History for line lineID.
//
// alpha is the exponent of the length penalty and wordPenalty is subtracted from the
// path score once per time step. Both are fixed for the lifetime of the History.
func New(lineID int, alpha, wordPenalty float32) *History {
	return &History{
		lineID:      lineID,
		alpha:       alpha,
		wordPenalty: wordPenalty,
	}
}

// NewDefault creates an empty History with DefaultAlpha and DefaultWordPenalty.
func NewDefault(lineID int) *History {
	return New(lineID, DefaultAlpha, DefaultWordPenalty)
}

// LineID returns the index of the input line within its batch.
func (h *History) LineID() int { return h.lineID }

// Alpha returns the length penalty exponent.
func (h *History) Alpha() float32 { return h.alpha }

// WordPenaltyWeight returns the per-word penalty.
func (h *History) WordPenaltyWeight() float32 { return h.wordPenalty }

// LengthPenalty returns length^alpha.
func (h *History) LengthPenalty(length int) float32 {
	return float32(math.Pow(float64(length), float64(h.alpha)))
}

// WordPenalty returns the total word penalty for a sequence of the given length.
func (h *History) WordPenalty(length int) float32 {
	return h.wordPenalty * float32(length)
}

// normalize returns the length-normalized score of a hypothesis finishing at step.
func (h *History) normalize(pathScore float32, step int) float32 {
	return (pathScore - h.WordPenalty(step)) / h.LengthPenalty(step)
}

// Size returns the number of time steps recorded.
func (h *History) Size() int { return len(h.grid) }

// NumCandidates returns the number of finished hypotheses currently recorded.
func (h *History) NumCandidates() int { return len(h.finished) }

// Add appends the beam of the next time step.
//
// Every lane whose word is eos, or every lane if last is set, is recorded as a finished
// hypothesis, with StatusCutoff if cutoff is set and StatusFinished otherwise. Nothing is
// recorded if the last lane of the beam has no predecessor, which is the case for the
// beam holding only the start hypothesis.
//
// Add fails with ErrInvalidArgument, leaving the History unchanged, if the beam is empty
// or holds a nil lane, or if it would record a finished hypothesis at time step 0 or with
// a NaN normalized score.
func (h *History) Add(beam hypothesis.Beam, eos hypothesis.Word, last, cutoff bool) error {
	if len(beam) == 0 {
		return errors.Wrapf(ErrInvalidArgument, "empty beam added to history of line %d", h.lineID)
	}
	for j, hyp := range beam {
		if hyp == nil {
			return errors.Wrapf(ErrInvalidArgument, "nil hypothesis in lane %d of beam for line %d", j, h.lineID)
		}
	}

	step := len(h.grid)
	status := StatusFinished
	if cutoff {
		status = StatusCutoff
	}
	var newCandidates []candidate
	// Lanes leave the start hypothesis together, so checking the last lane is enough.
	if beam[len(beam)-1].Prev() != nil {
		for j, hyp := range beam {
			if hyp.Word() != eos && !last {
				continue
			}
			if step == 0 {
				return errors.Wrapf(ErrInvalidArgument,
					"line %d: finished hypothesis at time step 0 has a zero length penalty", h.lineID)
			}
			score := h.normalize(hyp.PathScore(), step)
			if math.IsNaN(float64(score)) {
				return errors.Wrapf(ErrInvalidArgument,
					"line %d: finished hypothesis at step %d lane %d has a NaN score", h.lineID, step, j)
			}
			newCandidates = append(newCandidates, candidate{
				i:      step,
				j:      j,
				score:  score,
				status: status,
			})
		}
	}

	for _, c := range newCandidates {
		h.insert(c)
		if klog.V(3).Enabled() {
			klog.Infof("line %d: finished hypothesis at step %d lane %d, score %g (%s)",
				h.lineID, c.i, c.j, c.score, c.status)
		}
	}
	h.grid = append(h.grid, beam)
	return nil
}

// insert places c after every candidate with a score greater than or equal to its own.
func (h *History) insert(c candidate) {
	c.seq = h.nextSeq
	h.nextSeq++
	pos := sort.Search(len(h.finished), func(k int) bool {
		return h.finished[k].score < c.score
	})
	h.finished = slices.Insert(h.finished, pos, c)
}

// Remove drops the last count time steps, and any finished hypothesis recorded in them.
// A count larger than Size empties the History; count <= 0 is a no-op.
func (h *History) Remove(count int) {
	if count <= 0 {
		return
	}
	count = min(count, len(h.grid))
	newSize := len(h.grid) - count
	clear(h.grid[newSize:])
	h.grid = h.grid[:newSize]

	kept := h.finished[:0]
	for _, c := range h.finished {
		if c.i < newSize {
			kept = append(kept, c)
		}
	}
	dropped := len(h.finished) - len(kept)
	h.finished = kept
	klog.V(2).Infof("line %d: removed %d time steps (%d left), dropped %d finished hypotheses",
		h.lineID, count, newSize, dropped)
}

// LastBeam returns the beam of the most recent time step.
func (h *History) LastBeam() (hypothesis.Beam, error) {
	if len(h.grid) == 0 {
		return nil, errors.Wrapf(ErrEmptyState, "no beam recorded for line %d", h.lineID)
	}
	return h.grid[len(h.grid)-1], nil
}

// Result is a finished hypothesis resolved into its full output sequence.
type Result struct {
	// Words is the output sequence, from the first emitted word to the last one
	// (the end-of-sequence word included, if emitted).
	Words hypothesis.Words

	// Hypothesis is the last node of the sequence. Its PathScore is not normalized.
	Hypothesis *hypothesis.Hypothesis

	// NormalizedScore is the length-normalized score used for ranking.
	NormalizedScore float32

	// Status tells whether the hypothesis emitted end-of-sequence or was cut off.
	Status Status
}

// String implements fmt.Stringer.
func (r Result) String() string {
	return fmt.Sprintf("%s score=%g (%s)", r.Words, r.NormalizedScore, r.Status)
}

// NBestList is a list of results sorted by descending normalized score.
type NBestList []Result

// NBest returns the n best finished hypotheses, or all of them if there are fewer.
// Equal scores are returned in the order they were added.
//
// It fails with ErrEmptyState if no hypothesis finished yet. NBest does not change the
// History: calling it repeatedly returns the same results.
func (h *History) NBest(n int) (NBestList, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "n-best size must be positive, got %d", n)
	}
	if len(h.finished) == 0 {
		return nil, errors.Wrapf(ErrEmptyState, "no finished hypothesis for line %d", h.lineID)
	}
	n = min(n, len(h.finished))
	nbest := make(NBestList, 0, n)
	for _, c := range h.finished[:n] {
		if c.i >= len(h.grid) || c.j >= len(h.grid[c.i]) {
			return nil, errors.Wrapf(ErrInconsistentIndex,
				"line %d: finished hypothesis at step %d lane %d, grid has %d steps", h.lineID, c.i, c.j, len(h.grid))
		}
		hyp := h.grid[c.i][c.j]
		nbest = append(nbest, Result{
			Words:           hyp.TracebackWords(),
			Hypothesis:      hyp,
			NormalizedScore: c.score,
			Status:          c.status,
		})
	}
	return nbest, nil
}

// Top returns the best finished hypothesis. It fails with ErrEmptyState if there is none,
// in which case the caller decides on a fallback.
func (h *History) Top() (Result, error) {
	nbest, err := h.NBest(1)
	if err != nil {
		return Result{}, err
	}
	return nbest[0], nil
}
