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
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// TensorToFloat32Slice extracts tensor data as a flat float32 slice.
// Handles conversion from Float32, Float64 and Float16.
func TensorToFloat32Slice(t *tensors.Tensor) ([]float32, error) {
	shape := t.Shape()

	switch shape.DType {
	case dtypes.Float32:
		return tensors.CopyFlatData[float32](t), nil
	case dtypes.Float64:
		data := tensors.CopyFlatData[float64](t)
		result := make([]float32, len(data))
		for i, v := range data {
			result[i] = float32(v)
		}
		return result, nil
	case dtypes.Float16:
		data := tensors.CopyFlatData[float16.Float16](t)
		result := make([]float32, len(data))
		for i, v := range data {
			result[i] = v.Float32()
		}
		return result, nil
	default:
		return nil, errors.Errorf("unsupported dtype for logits: %s", shape.DType)
	}
}

// CreateFloat32Tensor creates a tensor from float32 data with the given shape.
func CreateFloat32Tensor(data []float32, dims ...int) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(data, dims...)
}

// CreateFloat16Tensor creates a Float16 tensor from float32 data with the given shape.
func CreateFloat16Tensor(data []float32, dims ...int) *tensors.Tensor {
	halfs := make([]float16.Float16, len(data))
	for i, v := range data {
		halfs[i] = float16.Fromfloat32(v)
	}
	return tensors.FromFlatDataAndDimensions(halfs, dims...)
}
