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

// Histories holds one History per line of a batch.
type Histories []*History

// NewHistories creates one empty History per line id, all sharing the same penalties.
func NewHistories(lineIDs []int, alpha, wordPenalty float32) Histories {
	hs := make(Histories, len(lineIDs))
	for ii, lineID := range lineIDs {
		hs[ii] = New(lineID, alpha, wordPenalty)
	}
	return hs
}

// Sizes returns the number of time steps recorded by each History.
func (hs Histories) Sizes() []int {
	sizes := make([]int, len(hs))
	for ii, h := range hs {
		sizes[ii] = h.Size()
	}
	return sizes
}

// Remove drops the last count time steps of every History.
func (hs Histories) Remove(count int) {
	for _, h := range hs {
		h.Remove(count)
	}
}
