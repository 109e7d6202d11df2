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

package main

import (
	"context"
	"os"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/nmt/pkg/ml/decode/hypothesis"
	"github.com/gomlx/nmt/pkg/ml/seq2seq"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ToyModel is a bigram "translation" model read from YAML: the logit of the next word
// depends only on the previous word, plus a bonus for words present in the source line.
type ToyModel struct {
	// Vocabulary lists the target words, their position is their id.
	Vocabulary []string `yaml:"vocabulary"`

	// Start and EOS are the decoder start and end-of-sequence words.
	Start string `yaml:"start"`
	EOS   string `yaml:"eos"`

	// DefaultLogit is used for bigrams not listed in Bigrams.
	DefaultLogit float32 `yaml:"default_logit"`

	// CopyBonus is added to the logit of words that appear in the source line.
	CopyBonus float32 `yaml:"copy_bonus"`

	// Bigrams maps previous word -> next word -> logit.
	Bigrams map[string]map[string]float32 `yaml:"bigrams"`

	// Generation overrides the default beam search parameters. Token ids are
	// taken from Start and EOS.
	Generation seq2seq.GenerationConfig `yaml:"generation"`

	ids     map[string]hypothesis.Word
	table   [][]float32
	sources [][]hypothesis.Word
}

// LoadToyModel reads and validates a ToyModel from a YAML file.
func LoadToyModel(path string) (*ToyModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model %q", path)
	}
	m, err := ParseToyModel(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %q", path)
	}
	return m, nil
}

// ParseToyModel parses and validates a ToyModel from YAML.
func ParseToyModel(data []byte) (*ToyModel, error) {
	m := &ToyModel{
		DefaultLogit: -10,
		Generation:   *seq2seq.DefaultGenerationConfig(),
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(err, "failed to parse model YAML")
	}
	if err := m.build(); err != nil {
		return nil, err
	}
	return m, nil
}

// build indexes the vocabulary and fills the bigram table.
func (m *ToyModel) build() error {
	if len(m.Vocabulary) == 0 {
		return errors.New("model vocabulary is empty")
	}
	m.ids = make(map[string]hypothesis.Word, len(m.Vocabulary))
	for id, word := range m.Vocabulary {
		if _, found := m.ids[word]; found {
			return errors.Errorf("word %q appears twice in the vocabulary", word)
		}
		m.ids[word] = hypothesis.Word(id)
	}
	start, found := m.ids[m.Start]
	if !found {
		return errors.Errorf("start word %q not in vocabulary", m.Start)
	}
	eos, found := m.ids[m.EOS]
	if !found {
		return errors.Errorf("eos word %q not in vocabulary", m.EOS)
	}
	m.Generation.DecoderStartTokenID = int32(start)
	m.Generation.EOSTokenID = int32(eos)

	vocabSize := len(m.Vocabulary)
	m.table = make([][]float32, vocabSize)
	for prev := range m.table {
		row := make([]float32, vocabSize)
		for next := range row {
			row[next] = m.DefaultLogit
		}
		m.table[prev] = row
	}
	for prevWord, nexts := range m.Bigrams {
		prev, found := m.ids[prevWord]
		if !found {
			return errors.Errorf("bigram word %q not in vocabulary", prevWord)
		}
		for nextWord, logit := range nexts {
			next, found := m.ids[nextWord]
			if !found {
				return errors.Errorf("bigram word %q not in vocabulary", nextWord)
			}
			m.table[prev][next] = logit
		}
	}
	return nil
}

// VocabSize returns the number of target words.
func (m *ToyModel) VocabSize() int { return len(m.Vocabulary) }

// SetSources registers the source lines, line i gets line id i. Words not in the
// vocabulary are ignored. It returns the length in words of each line.
func (m *ToyModel) SetSources(lines []string) []int {
	m.sources = make([][]hypothesis.Word, len(lines))
	lengths := make([]int, len(lines))
	for ii, line := range lines {
		fields := strings.Fields(line)
		lengths[ii] = len(fields)
		for _, field := range fields {
			if id, found := m.ids[field]; found {
				m.sources[ii] = append(m.sources[ii], id)
			}
		}
	}
	return lengths
}

// Step implements seq2seq.StepScorer.
func (m *ToyModel) Step(_ context.Context, lineID, _ int, prev hypothesis.Beam) (*tensors.Tensor, error) {
	if lineID < 0 || lineID >= len(m.sources) {
		return nil, errors.Errorf("unknown line %d", lineID)
	}
	vocabSize := m.VocabSize()
	data := make([]float32, len(prev)*vocabSize)
	for lane, hyp := range prev {
		word := int(hyp.Word())
		if word < 0 || word >= vocabSize {
			return nil, errors.Errorf("word %d out of vocabulary in lane %d", word, lane)
		}
		row := data[lane*vocabSize : (lane+1)*vocabSize]
		copy(row, m.table[word])
		for _, src := range m.sources[lineID] {
			row[src] += m.CopyBonus
		}
	}
	return seq2seq.CreateFloat32Tensor(data, len(prev), vocabSize), nil
}

// Decode converts word ids back to text.
func (m *ToyModel) Decode(words hypothesis.Words) string {
	parts := make([]string, len(words))
	for ii, w := range words {
		if int(w) >= 0 && int(w) < len(m.Vocabulary) {
			parts[ii] = m.Vocabulary[w]
		} else {
			parts[ii] = "<unk>"
		}
	}
	return strings.Join(parts, " ")
}
