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

package history

import (
	"math"
	"testing"

	"github.com/gomlx/nmt/pkg/ml/decode/hypothesis"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	startWord = hypothesis.Word(0)
	eos       = hypothesis.Word(1)
)

// extend creates the next beam: lane j extends prev[parents[j]] with words[j] and scores[j].
func extend(prev hypothesis.Beam, parents []int, words []hypothesis.Word, scores []float32) hypothesis.Beam {
	beam := make(hypothesis.Beam, len(words))
	for j := range words {
		beam[j] = hypothesis.New(prev[parents[j]], words[j], parents[j], scores[j])
	}
	return beam
}

func startBeam() hypothesis.Beam {
	return hypothesis.Beam{hypothesis.NewStart(startWord)}
}

// eosAtStepTwo builds 3 steps: start, one word, then lane 0 emits eos with path score 6.
func eosAtStepTwo(t *testing.T) *History {
	h := NewDefault(3)
	b0 := startBeam()
	require.NoError(t, h.Add(b0, eos, false, false))
	b1 := extend(b0, []int{0, 0}, []hypothesis.Word{10, 11}, []float32{4, 3})
	require.NoError(t, h.Add(b1, eos, false, false))
	b2 := extend(b1, []int{0, 1}, []hypothesis.Word{eos, 12}, []float32{6, 5})
	require.NoError(t, h.Add(b2, eos, false, false))
	return h
}

func TestNew(t *testing.T) {
	h := New(5, 0.6, 0.1)
	assert.Equal(t, 5, h.LineID())
	assert.Equal(t, float32(0.6), h.Alpha())
	assert.Equal(t, float32(0.1), h.WordPenaltyWeight())
	assert.Equal(t, 0, h.Size())
	assert.Equal(t, 0, h.NumCandidates())

	d := NewDefault(2)
	assert.Equal(t, DefaultAlpha, d.Alpha())
	assert.Equal(t, DefaultWordPenalty, d.WordPenaltyWeight())
}

func TestPenalties(t *testing.T) {
	h := New(0, 2, 0.5)
	assert.InDelta(t, 9.0, h.LengthPenalty(3), 1e-6)
	assert.InDelta(t, 1.5, h.WordPenalty(3), 1e-6)
	assert.InDelta(t, 1.0, New(0, 0, 0).LengthPenalty(7), 1e-6)
}

func TestTopAfterEOS(t *testing.T) {
	h := eosAtStepTwo(t)
	require.Equal(t, 3, h.Size())
	top := must.M1(h.Top())
	assert.Equal(t, float32(3), top.NormalizedScore)
	assert.Len(t, top.Words, 2)
	assert.Equal(t, hypothesis.Words{10, eos}, top.Words)
	assert.Equal(t, float32(6), top.Hypothesis.PathScore())
	assert.Equal(t, StatusFinished, top.Status)
}

func TestRemoveDropsCandidate(t *testing.T) {
	h := eosAtStepTwo(t)
	h.Remove(1)
	assert.Equal(t, 2, h.Size())
	assert.Equal(t, 0, h.NumCandidates())
	_, err := h.Top()
	require.ErrorIs(t, err, ErrEmptyState)
}

func TestNBestSameStepOrdering(t *testing.T) {
	h := NewDefault(0)
	b0 := startBeam()
	require.NoError(t, h.Add(b0, eos, false, false))
	b1 := extend(b0, []int{0, 0}, []hypothesis.Word{10, 11}, []float32{1, 2})
	require.NoError(t, h.Add(b1, eos, false, false))
	b2 := extend(b1, []int{0, 1}, []hypothesis.Word{eos, eos}, []float32{4, 8})
	require.NoError(t, h.Add(b2, eos, false, false))

	nbest := must.M1(h.NBest(2))
	require.Len(t, nbest, 2)
	assert.Equal(t, float32(4), nbest[0].NormalizedScore)
	assert.Equal(t, hypothesis.Words{11, eos}, nbest[0].Words)
	assert.Equal(t, float32(2), nbest[1].NormalizedScore)
	assert.Equal(t, hypothesis.Words{10, eos}, nbest[1].Words)
}

func TestForceLastRecordsAllLanes(t *testing.T) {
	h := NewDefault(0)
	b0 := startBeam()
	require.NoError(t, h.Add(b0, eos, false, false))
	b1 := extend(b0, []int{0, 0, 0}, []hypothesis.Word{10, 11, 12}, []float32{-1, -2, -3})
	require.NoError(t, h.Add(b1, eos, true, true))

	require.Equal(t, 3, h.NumCandidates())
	nbest := must.M1(h.NBest(10))
	require.Len(t, nbest, 3)
	for ii, want := range []hypothesis.Word{10, 11, 12} {
		assert.Equal(t, hypothesis.Words{want}, nbest[ii].Words)
		assert.Equal(t, StatusCutoff, nbest[ii].Status)
	}
}

func TestNormalizationLaw(t *testing.T) {
	for _, tc := range []struct {
		name        string
		alpha, wp   float32
		steps       int
		pathScore   float32
		wantPenalty float64
	}{
		{"no penalties", 1, 0, 4, -8, 4},
		{"alpha 0.6", 0.6, 0, 5, -7.5, math.Pow(5, 0.6)},
		{"word penalty", 1, 0.25, 3, -3, 3},
		{"alpha 0", 0, 0.5, 2, -1, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := New(0, tc.alpha, tc.wp)
			prev := startBeam()
			require.NoError(t, h.Add(prev, eos, false, false))
			for step := 1; step < tc.steps; step++ {
				prev = extend(prev, []int{0}, []hypothesis.Word{10}, []float32{0})
				require.NoError(t, h.Add(prev, eos, false, false))
			}
			final := extend(prev, []int{0}, []hypothesis.Word{eos}, []float32{tc.pathScore})
			require.NoError(t, h.Add(final, eos, false, false))

			want := (float64(tc.pathScore) - float64(tc.wp)*float64(tc.steps)) / tc.wantPenalty
			top := must.M1(h.Top())
			assert.InDelta(t, want, float64(top.NormalizedScore), 1e-5)
			assert.Len(t, top.Words, tc.steps)
		})
	}
}

func TestAddAtStepZeroFails(t *testing.T) {
	h := NewDefault(0)
	// A beam whose lanes already have a predecessor, finishing at step 0.
	root := hypothesis.NewStart(startWord)
	beam := hypothesis.Beam{hypothesis.New(root, eos, 0, -1)}
	err := h.Add(beam, eos, false, false)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, h.Size())
	assert.Equal(t, 0, h.NumCandidates())

	// Same with forced termination.
	beam = hypothesis.Beam{hypothesis.New(root, 10, 0, -1)}
	require.ErrorIs(t, h.Add(beam, eos, true, true), ErrInvalidArgument)
	assert.Equal(t, 0, h.Size())

	// Without anything finishing, step 0 is fine.
	require.NoError(t, h.Add(beam, eos, false, false))
	assert.Equal(t, 1, h.Size())
}

func TestAddRejectsNaNScore(t *testing.T) {
	h := NewDefault(0)
	b0 := startBeam()
	require.NoError(t, h.Add(b0, eos, false, false))
	b1 := extend(b0, []int{0, 0}, []hypothesis.Word{eos, 10}, []float32{5, 1})
	require.NoError(t, h.Add(b1, eos, false, false))

	nan := float32(math.NaN())
	bad := extend(b1, []int{1, 1}, []hypothesis.Word{eos, 11}, []float32{nan, 2})
	require.ErrorIs(t, h.Add(bad, eos, false, false), ErrInvalidArgument)
	assert.Equal(t, 2, h.Size())
	assert.Equal(t, 1, h.NumCandidates())

	// NaN on a lane that does not finish is not recorded, so it is accepted.
	b2 := extend(b1, []int{1, 1}, []hypothesis.Word{eos, 11}, []float32{14, nan})
	require.NoError(t, h.Add(b2, eos, false, false))
	nbest := must.M1(h.NBest(3))
	require.Len(t, nbest, 2)
	assert.Equal(t, float32(7), nbest[0].NormalizedScore)
	assert.Equal(t, float32(5), nbest[1].NormalizedScore)
}

func TestAddInvalidBeam(t *testing.T) {
	h := NewDefault(0)
	require.ErrorIs(t, h.Add(nil, eos, false, false), ErrInvalidArgument)
	require.ErrorIs(t, h.Add(hypothesis.Beam{nil}, eos, false, false), ErrInvalidArgument)
	assert.Equal(t, 0, h.Size())
}

func TestLastLanePredecessorRule(t *testing.T) {
	h := NewDefault(0)
	require.NoError(t, h.Add(startBeam(), eos, false, false))

	// Lane 0 has a predecessor and emits eos, but the last lane is a start hypothesis:
	// nothing is recorded.
	root := hypothesis.NewStart(startWord)
	beam := hypothesis.Beam{hypothesis.New(root, eos, 0, -1), hypothesis.NewStart(startWord)}
	require.NoError(t, h.Add(beam, eos, false, false))
	assert.Equal(t, 0, h.NumCandidates())
	assert.Equal(t, 2, h.Size())

	// Forced termination is also ignored.
	require.NoError(t, h.Add(beam, eos, true, false))
	assert.Equal(t, 0, h.NumCandidates())
	assert.Equal(t, 3, h.Size())
}

func TestSizeCountsAdds(t *testing.T) {
	h := NewDefault(0)
	prev := startBeam()
	require.NoError(t, h.Add(prev, eos, false, false))
	for k := 2; k <= 10; k++ {
		prev = extend(prev, []int{0}, []hypothesis.Word{10}, []float32{float32(-k)})
		require.NoError(t, h.Add(prev, eos, false, false))
		assert.Equal(t, k, h.Size())
	}
}

func TestLastBeam(t *testing.T) {
	h := NewDefault(0)
	_, err := h.LastBeam()
	require.ErrorIs(t, err, ErrEmptyState)

	b0 := startBeam()
	require.NoError(t, h.Add(b0, eos, false, false))
	b1 := extend(b0, []int{0, 0}, []hypothesis.Word{10, 11}, []float32{-1, -2})
	require.NoError(t, h.Add(b1, eos, false, false))
	last := must.M1(h.LastBeam())
	assert.Equal(t, b1, last)

	h.Remove(1)
	assert.Equal(t, b0, must.M1(h.LastBeam()))
	h.Remove(5)
	assert.Equal(t, 0, h.Size())
	_, err = h.LastBeam()
	require.ErrorIs(t, err, ErrEmptyState)
}

// growing builds a history where every step from 2 to numSteps-1 finishes one hypothesis
// with normalized score -step.
func growing(t *testing.T, numSteps int) *History {
	h := NewDefault(0)
	prev := startBeam()
	require.NoError(t, h.Add(prev, eos, false, false))
	for step := 1; step < numSteps; step++ {
		words := []hypothesis.Word{10, eos}
		if step == 1 {
			words = []hypothesis.Word{10, 11}
		}
		beam := extend(prev, []int{0, 0}, words, []float32{float32(-step), float32(-step * step)})
		require.NoError(t, h.Add(beam, eos, false, false))
		prev = beam
	}
	return h
}

func TestRemove(t *testing.T) {
	for _, tc := range []struct {
		name                string
		count               int
		wantSize, wantCands int
	}{
		{"none", 0, 6, 4},
		{"negative", -3, 6, 4},
		{"one", 1, 5, 3},
		{"three", 3, 3, 1},
		{"all", 6, 0, 0},
		{"clamped", 100, 0, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := growing(t, 6)
			require.Equal(t, 4, h.NumCandidates())
			h.Remove(tc.count)
			assert.Equal(t, tc.wantSize, h.Size())
			assert.Equal(t, tc.wantCands, h.NumCandidates())
			if tc.wantCands == 0 {
				_, err := h.NBest(10)
				require.ErrorIs(t, err, ErrEmptyState)
				return
			}
			for _, r := range must.M1(h.NBest(10)) {
				assert.Less(t, r.Hypothesis.Length(), tc.wantSize)
			}
		})
	}
}

func TestRemoveThenAddAgain(t *testing.T) {
	h := growing(t, 4)
	h.Remove(2)
	require.Equal(t, 2, h.Size())
	prev := must.M1(h.LastBeam())
	beam := extend(prev, []int{0}, []hypothesis.Word{eos}, []float32{-1})
	require.NoError(t, h.Add(beam, eos, false, false))
	top := must.M1(h.Top())
	assert.Equal(t, hypothesis.Words{10, eos}, top.Words)
	assert.Equal(t, float32(-0.5), top.NormalizedScore)
	assert.Equal(t, 1, h.NumCandidates())
}

func TestNBestOrderingAndIdempotence(t *testing.T) {
	h := growing(t, 8)
	nbest := must.M1(h.NBest(100))
	require.Len(t, nbest, h.NumCandidates())
	for ii := 1; ii < len(nbest); ii++ {
		assert.GreaterOrEqual(t, nbest[ii-1].NormalizedScore, nbest[ii].NormalizedScore)
	}

	// Each result is also obtainable through a shorter query.
	for n := 1; n <= len(nbest); n++ {
		assert.Equal(t, nbest[:n], must.M1(h.NBest(n)))
	}
	assert.Equal(t, nbest, must.M1(h.NBest(100)))
	assert.Equal(t, nbest[0], must.M1(h.Top()))
	assert.Equal(t, must.M1(h.Top()), must.M1(h.Top()))

	_, err := h.NBest(0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTiesKeepInsertionOrder(t *testing.T) {
	h := NewDefault(0)
	b0 := startBeam()
	require.NoError(t, h.Add(b0, eos, false, false))
	b1 := extend(b0, []int{0, 0, 0}, []hypothesis.Word{eos, eos, eos}, []float32{-1, -1, -1})
	require.NoError(t, h.Add(b1, eos, false, false))

	nbest := must.M1(h.NBest(3))
	require.Len(t, nbest, 3)
	for j, r := range nbest {
		assert.Same(t, b1[j], r.Hypothesis)
	}
}

func TestResultString(t *testing.T) {
	r := must.M1(eosAtStepTwo(t).Top())
	assert.Equal(t, "[10 1] score=3 (finished)", r.String())
}

func TestStatusEnum(t *testing.T) {
	assert.Equal(t, "finished", StatusFinished.String())
	assert.Equal(t, "cutoff", StatusCutoff.String())
	assert.Equal(t, "Status(7)", Status(7).String())
	s, err := StatusString("CUTOFF")
	require.NoError(t, err)
	assert.Equal(t, StatusCutoff, s)
	_, err = StatusString("running")
	require.Error(t, err)
	assert.Equal(t, []string{"finished", "cutoff"}, StatusStrings())
}

func TestHistories(t *testing.T) {
	hs := NewHistories([]int{4, 7, 9}, 0.8, 0.1)
	require.Len(t, hs, 3)
	for ii, lineID := range []int{4, 7, 9} {
		assert.Equal(t, lineID, hs[ii].LineID())
		assert.Equal(t, float32(0.8), hs[ii].Alpha())
	}
	require.NoError(t, hs[0].Add(startBeam(), eos, false, false))
	require.NoError(t, hs[0].Add(startBeam(), eos, false, false))
	require.NoError(t, hs[2].Add(startBeam(), eos, false, false))
	assert.Equal(t, []int{2, 0, 1}, hs.Sizes())
	hs.Remove(1)
	assert.Equal(t, []int{1, 0, 0}, hs.Sizes())
}
