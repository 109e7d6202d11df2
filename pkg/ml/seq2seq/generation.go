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
	"math"
	"runtime"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// GenerationConfig holds parameters for beam search.
type GenerationConfig struct {
	// NumBeams is the beam size: how many hypotheses are kept per line at each step.
	NumBeams int `yaml:"num_beams"`

	// NBest is the number of finished hypotheses returned per line.
	NBest int `yaml:"n_best"`

	// MaxLength is the maximum number of words to generate. Hypotheses still active
	// at MaxLength are cut off.
	MaxLength int `yaml:"max_length"`

	// MaxLengthFactor, if > 0, further limits generation to MaxLengthFactor times the
	// source length.
	MaxLengthFactor float64 `yaml:"max_length_factor"`

	// MinLength is the minimum number of words to generate before allowing EOS.
	MinLength int `yaml:"min_length"`

	// LengthPenalty is the exponent applied to the length when normalizing scores.
	LengthPenalty float32 `yaml:"length_penalty"`

	// WordPenalty is subtracted from the score once per generated word.
	WordPenalty float32 `yaml:"word_penalty"`

	// EOSTokenID marks end of sequence.
	EOSTokenID int32 `yaml:"eos_token_id"`

	// DecoderStartTokenID is the word of the start hypothesis.
	DecoderStartTokenID int32 `yaml:"decoder_start_token_id"`

	// NumWorkers is the number of lines stepped in parallel. If <= 0, runtime.NumCPU() is used.
	NumWorkers int `yaml:"num_workers"`
}

// DefaultGenerationConfig returns default beam search parameters.
func DefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{
		NumBeams:            4,
		NBest:               1,
		MaxLength:           64,
		MaxLengthFactor:     0,
		MinLength:           0,
		LengthPenalty:       1.0,
		WordPenalty:         0,
		EOSTokenID:          1,
		DecoderStartTokenID: 0,
		NumWorkers:          0,
	}
}

// Validate checks that the configuration can be used for a search.
func (c *GenerationConfig) Validate() error {
	if c.NumBeams < 1 {
		return errors.Errorf("num_beams must be >= 1, got %d", c.NumBeams)
	}
	if c.NBest < 1 || c.NBest > c.NumBeams {
		return errors.Errorf("n_best must be between 1 and num_beams=%d, got %d", c.NumBeams, c.NBest)
	}
	if c.MaxLength < 1 {
		return errors.Errorf("max_length must be >= 1, got %d", c.MaxLength)
	}
	if c.MaxLengthFactor < 0 {
		return errors.Errorf("max_length_factor must be >= 0, got %g", c.MaxLengthFactor)
	}
	if c.MinLength < 0 || c.MinLength >= c.MaxLength {
		return errors.Errorf("min_length must be in [0, max_length=%d), got %d", c.MaxLength, c.MinLength)
	}
	if c.LengthPenalty < 0 || math.IsNaN(float64(c.LengthPenalty)) || math.IsInf(float64(c.LengthPenalty), 0) {
		return errors.Errorf("length_penalty must be a finite value >= 0, got %g", c.LengthPenalty)
	}
	if math.IsNaN(float64(c.WordPenalty)) || math.IsInf(float64(c.WordPenalty), 0) {
		return errors.Errorf("word_penalty must be finite, got %g", c.WordPenalty)
	}
	return nil
}

// maxLengthFor returns the maximum number of words for a source of the given length.
func (c *GenerationConfig) maxLengthFor(srcLength int) int {
	if c.MaxLengthFactor <= 0 || srcLength <= 0 {
		return c.MaxLength
	}
	limit := int(math.Ceil(c.MaxLengthFactor * float64(srcLength)))
	return max(min(limit, c.MaxLength), c.MinLength+1)
}

func (c *GenerationConfig) numWorkers() int {
	if c.NumWorkers <= 0 {
		return runtime.NumCPU()
	}
	return c.NumWorkers
}

// extractLogitsData extracts logits tensor data as float32 slices per beam lane.
// Returns the number of lanes, vocab size, and a slice of float32 slices (one per lane).
func extractLogitsData(logits *tensors.Tensor) (numLanes, vocabSize int, laneLogits [][]float32, err error) {
	shape := logits.Shape()
	if shape.Rank() < 2 || shape.Rank() > 3 {
		return 0, 0, nil, errors.Errorf("expected logits rank 2 or 3, got %d", shape.Rank())
	}

	numLanes = shape.Dimensions[0]
	vocabSize = shape.Dimensions[shape.Rank()-1]
	if vocabSize == 0 {
		return 0, 0, nil, errors.New("logits have an empty vocabulary axis")
	}

	logitsData, err := TensorToFloat32Slice(logits)
	if err != nil {
		return 0, 0, nil, err
	}

	// Split into per-lane slices, taking only the last position for 3D tensors.
	laneLogits = make([][]float32, numLanes)
	for lane := 0; lane < numLanes; lane++ {
		var offset int
		if shape.Rank() == 3 {
			seqLen := shape.Dimensions[1]
			if seqLen == 0 {
				return 0, 0, nil, errors.New("logits have an empty sequence axis")
			}
			offset = lane*seqLen*vocabSize + (seqLen-1)*vocabSize
		} else {
			offset = lane * vocabSize
		}
		laneLogits[lane] = logitsData[offset : offset+vocabSize]
	}

	return numLanes, vocabSize, laneLogits, nil
}

// logSoftmax computes log-probabilities over a slice of logits.
func logSoftmax(logits []float32) []float32 {
	// Find max for numerical stability.
	maxVal := float32(math.Inf(-1))
	for _, v := range logits {
		if v > maxVal {
			maxVal = v
		}
	}
	logProbs := make([]float32, len(logits))
	if math.IsInf(float64(maxVal), -1) {
		// Every word is masked.
		copy(logProbs, logits)
		return logProbs
	}

	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - maxVal))
	}
	logSum := float32(math.Log(sum))
	for i, v := range logits {
		logProbs[i] = v - maxVal - logSum
	}
	return logProbs
}

// expansion is a candidate for the next beam: word appended to the hypothesis in lane.
type expansion struct {
	lane  int
	word  int
	score float32
}

// topIndices returns the indices of the k largest finite values, sorted by descending
// value, ties by ascending index.
func topIndices(values []float32, k int) []int {
	indices := make([]int, 0, len(values))
	for i, v := range values {
		if math.IsInf(float64(v), -1) || math.IsNaN(float64(v)) {
			continue
		}
		indices = append(indices, i)
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return values[indices[a]] > values[indices[b]]
	})
	if k < len(indices) {
		indices = indices[:k]
	}
	return indices
}

// bestExpansions returns the beamSize best expansions over all lanes, sorted by
// descending score. Ties are broken by lane, then by word.
//
// pathScores[lane] is the score of the hypothesis in lane, and logProbs[lane] the
// log-probabilities of its next word.
func bestExpansions(pathScores []float32, logProbs [][]float32, beamSize int) []expansion {
	var candidates []expansion
	for lane, laneLogProbs := range logProbs {
		// The global top-k is made of each lane's top-k.
		for _, word := range topIndices(laneLogProbs, beamSize) {
			candidates = append(candidates, expansion{
				lane:  lane,
				word:  word,
				score: pathScores[lane] + laneLogProbs[word],
			})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	if beamSize < len(candidates) {
		candidates = candidates[:beamSize]
	}
	return candidates
}
