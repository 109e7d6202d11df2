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

// Package seq2seq runs beam search for sequence-to-sequence models like T5, BART or
// Marian-style translation models.
//
// The model itself is not part of this package: it is reached through a StepScorer,
// which returns the next-word logits for every active hypothesis of one input line.
// The package takes care of the search bookkeeping:
//   - Expanding each beam with the best scoring (hypothesis, word) pairs
//   - Recording every step and every finished hypothesis in a history.History per line
//   - Shrinking the beam as hypotheses finish, and cutting off at the maximum length
//   - Rolling back speculative steps with Batch.Rewind
//   - Decoding the lines of a batch in parallel, isolating per-line failures
//
// Example usage:
//
//	config := seq2seq.DefaultGenerationConfig()
//	config.NumBeams = 8
//	batch, err := seq2seq.NewBatch(config, lineIDs, sourceLengths)
//	results, err := batch.Search(ctx, scorer)
//	for _, r := range results {
//		fmt.Println(r.LineID, r.NBest[0].Words)
//	}
package seq2seq

import (
	"context"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/nmt/pkg/ml/decode/hypothesis"
)

// StepScorer is the model side of beam search.
//
// Step returns the logits of the next word for every hypothesis of prev, the active
// beam of line lineID, as a tensor shaped [len(prev), vocabSize] or
// [len(prev), seqLen, vocabSize] (only the last position is used). The dtype can be
// Float32, Float64 or Float16. The search finalizes the returned tensor.
//
// step is the index of the time step being generated, starting at 1 (step 0 holds
// the start hypothesis). Step may be called concurrently for different lines.
type StepScorer interface {
	Step(ctx context.Context, lineID, step int, prev hypothesis.Beam) (*tensors.Tensor, error)
}

// StepScorerFunc adapts a function to the StepScorer interface.
type StepScorerFunc func(ctx context.Context, lineID, step int, prev hypothesis.Beam) (*tensors.Tensor, error)

// Step implements StepScorer.
func (fn StepScorerFunc) Step(ctx context.Context, lineID, step int, prev hypothesis.Beam) (*tensors.Tensor, error) {
	return fn(ctx, lineID, step, prev)
}
