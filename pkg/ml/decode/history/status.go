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

// Status tells how a finished hypothesis terminated.
type Status int

//go:generate go tool enumer -type=Status -trimprefix=Status -transform=snake -output=status_enumer.go

const (
	// StatusFinished marks a hypothesis that emitted the end-of-sequence word.
	StatusFinished Status = iota

	// StatusCutoff marks a hypothesis forced to terminate, e.g. at the maximum length.
	StatusCutoff
)
