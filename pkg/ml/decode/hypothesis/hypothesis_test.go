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

package hypothesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart(t *testing.T) {
	start := NewStart(7)
	assert.Nil(t, start.Prev())
	assert.Equal(t, Word(7), start.Word())
	assert.Equal(t, float32(0), start.PathScore())
	assert.Equal(t, 0, start.Length())
	assert.Empty(t, start.TracebackWords())
}

func TestTracebackWords(t *testing.T) {
	start := NewStart(0)
	h1 := New(start, 10, 0, -0.5)
	h2 := New(h1, 11, 0, -1.0)
	h3 := New(h2, 12, 0, -1.25)

	require.Equal(t, 3, h3.Length())
	assert.Equal(t, Words{10, 11, 12}, h3.TracebackWords())
	assert.Equal(t, Words{10, 11}, h2.TracebackWords())
	assert.Equal(t, Words{10}, h1.TracebackWords())
	assert.Equal(t, float32(-1.25), h3.PathScore())
}

func TestSharedAncestors(t *testing.T) {
	// Two lanes branching from the same ancestor at step 2.
	start := NewStart(0)
	common := New(start, 5, 0, -0.1)
	left := New(common, 6, 0, -0.3)
	right := New(common, 7, 0, -0.4)
	beam := Beam{left, right}

	assert.Equal(t, Words{6, 7}, beam.Words())
	assert.Equal(t, Words{5, 6}, left.TracebackWords())
	assert.Equal(t, Words{5, 7}, right.TracebackWords())
	assert.Same(t, left.Prev(), right.Prev())

	// Traceback results are independent copies.
	words := left.TracebackWords()
	words[0] = 99
	assert.Equal(t, Words{5, 6}, left.TracebackWords())
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "[1 2 3]", Words{1, 2, 3}.String())
	assert.Equal(t, "[]", Words{}.String())
	h := New(NewStart(0), 3, 1, -2)
	assert.Equal(t, "Hypothesis{word=3, prevIndex=1, pathScore=-2, length=1}", h.String())
}
