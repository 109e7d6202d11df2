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

import "github.com/pkg/errors"

var (
	// ErrEmptyState is returned when an operation needs at least one recorded beam or
	// finished hypothesis and there is none.
	ErrEmptyState = errors.New("empty history state")

	// ErrInvalidArgument is returned for arguments the History cannot honor, e.g. an
	// empty beam or a finished hypothesis at time step 0, where the length penalty is 0.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInconsistentIndex is returned if a finished hypothesis points outside the search
	// grid. Remove prunes such entries, so this signals a broken invariant.
	ErrInconsistentIndex = errors.New("inconsistent search grid index")
)
