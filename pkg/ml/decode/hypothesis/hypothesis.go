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

// Package hypothesis defines the nodes of the search graph built during beam search.
//
// Each Hypothesis is one word emitted at one time step, linked to the hypothesis it
// extends. Many hypotheses of later steps usually share the same ancestors, so the nodes
// form a tree rooted at the start hypothesis. Nodes are immutable once created and can be
// freely shared among beams, results and goroutines.
package hypothesis

import (
	"fmt"
	"strings"
)

// Word is a token id in the target vocabulary.
type Word int32

// Words is a sequence of token ids.
type Words []Word

// Hypothesis is a node of the search graph: one emitted word plus a back link to the
// hypothesis it extends.
type Hypothesis struct {
	prev      *Hypothesis
	word      Word
	prevIndex int
	pathScore float32
}

// New creates a hypothesis extending prev with word.
//
// prevIndex is the lane of prev in the beam of the previous time step, and pathScore
// is the cumulative (unnormalized) score of the whole sequence ending in this node.
func New(prev *Hypothesis, word Word, prevIndex int, pathScore float32) *Hypothesis {
	return &Hypothesis{
		prev:      prev,
		word:      word,
		prevIndex: prevIndex,
		pathScore: pathScore,
	}
}

// NewStart creates the root hypothesis of a search: no predecessor and a zero score.
// Its word (usually the decoder start token) is never part of a traceback.
func NewStart(word Word) *Hypothesis {
	return New(nil, word, 0, 0)
}

// Prev returns the hypothesis this one extends, or nil for a start hypothesis.
func (h *Hypothesis) Prev() *Hypothesis { return h.prev }

// Word returns the emitted word.
func (h *Hypothesis) Word() Word { return h.word }

// PrevIndex returns the lane of Prev in the previous beam.
func (h *Hypothesis) PrevIndex() int { return h.prevIndex }

// PathScore returns the cumulative score of the sequence ending in this hypothesis.
func (h *Hypothesis) PathScore() float32 { return h.pathScore }

// Length returns the number of words emitted up to and including this hypothesis.
// The start hypothesis has length 0.
func (h *Hypothesis) Length() int {
	length := 0
	for node := h; node.prev != nil; node = node.prev {
		length++
	}
	return length
}

// TracebackWords returns the emitted words from the first step up to and including
// this hypothesis. The start hypothesis word is not included.
func (h *Hypothesis) TracebackWords() Words {
	words := make(Words, h.Length())
	idx := len(words) - 1
	for node := h; node.prev != nil; node = node.prev {
		words[idx] = node.word
		idx--
	}
	return words
}

// String implements fmt.Stringer.
func (h *Hypothesis) String() string {
	return fmt.Sprintf("Hypothesis{word=%d, prevIndex=%d, pathScore=%g, length=%d}",
		h.word, h.prevIndex, h.pathScore, h.Length())
}

// Beam is the set of active hypotheses of one time step, one per search lane.
type Beam []*Hypothesis

// Beams holds one Beam per input item of a batch.
type Beams []Beam

// Words returns the word emitted by each lane.
func (b Beam) Words() Words {
	words := make(Words, len(b))
	for ii, h := range b {
		words[ii] = h.word
	}
	return words
}

// String implements fmt.Stringer.
func (w Words) String() string {
	parts := make([]string, len(w))
	for ii, word := range w {
		parts[ii] = fmt.Sprintf("%d", word)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
