// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/segments/backends"
	"github.com/gomlx/segments/pkg/core/shapes"
	"github.com/gomlx/segments/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// TensorJSON is the JSON representation of a tensor: the values are given flat, in row-major order.
//
// Floating point values can also be given as the strings "NaN", "Inf", "+Inf" and "-Inf", and non-finite
// values in responses are encoded that way.
type TensorJSON struct {
	DType      string          `json:"dtype"`
	Dimensions []int           `json:"dimensions"`
	Values     json.RawMessage `json:"values"`
}

// dtypeName used in the JSON representation, e.g. "float32" or "bfloat16".
func dtypeName(dtype dtypes.DType) string {
	return strings.ToLower(dtype.String())
}

// dtypesByName maps the JSON dtype names to the dtypes supported by the backend.
func dtypesByName(caps backends.Capabilities) map[string]dtypes.DType {
	names := make(map[string]dtypes.DType, len(caps.DTypes))
	for dtype, supported := range caps.DTypes {
		if supported {
			names[dtypeName(dtype)] = dtype
		}
	}
	return names
}

// jsonFloat accepts a JSON number or one of the strings "NaN", "Inf", "+Inf" or "-Inf".
type jsonFloat float64

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	text := string(data)
	if unquoted, err := strconv.Unquote(text); err == nil {
		switch strings.ToLower(unquoted) {
		case "nan", "inf", "+inf", "-inf":
			text = unquoted
		default:
			return errors.Errorf("invalid floating point value %q", unquoted)
		}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid floating point value %s", data)
	}
	*f = jsonFloat(v)
	return nil
}

// decodeTensor converts the JSON representation to a tensor. Unknown dtypes return an error wrapping
// backends.ErrNotImplemented, malformed values an error wrapping backends.ErrInvalidArgument.
func decodeTensor(name string, tj TensorJSON, dtypeNames map[string]dtypes.DType) (*tensors.Tensor, error) {
	dtype, found := dtypeNames[strings.ToLower(tj.DType)]
	if !found {
		return nil, errors.Wrapf(backends.ErrNotImplemented, "%s: dtype %q is not supported", name, tj.DType)
	}
	for _, dim := range tj.Dimensions {
		if dim < 0 {
			return nil, backends.InvalidArgumentf("%s: negative dimension in %v", name, tj.Dimensions)
		}
	}
	if len(tj.Values) == 0 {
		return nil, backends.InvalidArgumentf("%s: missing values", name)
	}
	flat, err := decodeFlat(dtype, tj.Values)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", name)
	}
	t, err := tensors.FromShapeAndFlatData(shapes.Make(dtype, tj.Dimensions...), flat)
	if err != nil {
		return nil, backends.InvalidArgument(errors.WithMessagef(err, "%s", name))
	}
	return t, nil
}

// decodeFlat parses a JSON array into a slice of the Go type of dtype.
func decodeFlat(dtype dtypes.DType, values json.RawMessage) (any, error) {
	switch dtype {
	case dtypes.Complex64, dtypes.Complex128:
		return nil, errors.Wrapf(backends.ErrNotImplemented, "dtype %s can only be used with .npy files", dtype)
	case dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64:
		var floats []jsonFloat
		if err := json.Unmarshal(values, &floats); err != nil {
			return nil, backends.InvalidArgument(errors.Wrapf(err, "parsing %s values", dtype))
		}
		switch dtype {
		case dtypes.Float16:
			return convertFloats(floats, func(v float64) float16.Float16 { return float16.Fromfloat32(float32(v)) }), nil
		case dtypes.BFloat16:
			return convertFloats(floats, func(v float64) bfloat16.BFloat16 { return bfloat16.FromFloat32(float32(v)) }), nil
		case dtypes.Float32:
			return convertFloats(floats, func(v float64) float32 { return float32(v) }), nil
		default:
			return convertFloats(floats, func(v float64) float64 { return v }), nil
		}
	case dtypes.Uint8:
		// encoding/json reads []uint8 as a base64 string.
		var wide []uint16
		if err := json.Unmarshal(values, &wide); err != nil {
			return nil, backends.InvalidArgument(errors.Wrapf(err, "parsing %s values", dtype))
		}
		flat := make([]uint8, len(wide))
		for i, v := range wide {
			if v > math.MaxUint8 {
				return nil, backends.InvalidArgumentf("value %d at position %d overflows %s", v, i, dtype)
			}
			flat[i] = uint8(v)
		}
		return flat, nil
	}

	flatPtr := reflect.New(reflect.SliceOf(dtype.GoType()))
	if err := json.Unmarshal(values, flatPtr.Interface()); err != nil {
		return nil, backends.InvalidArgument(errors.Wrapf(err, "parsing %s values", dtype))
	}
	return flatPtr.Elem().Interface(), nil
}

func convertFloats[T any](floats []jsonFloat, convert func(float64) T) []T {
	flat := make([]T, len(floats))
	for i, v := range floats {
		flat[i] = convert(float64(v))
	}
	return flat
}

// encodeTensor converts a tensor to its JSON representation.
func encodeTensor(t *tensors.Tensor) (tj TensorJSON, err error) {
	shape := t.Shape()
	tj.DType = dtypeName(shape.DType)
	tj.Dimensions = shape.Dimensions
	if tj.Dimensions == nil {
		tj.Dimensions = []int{}
	}
	t.ConstFlatData(func(flat any) {
		tj.Values, err = encodeFlat(flat)
	})
	return
}

// encodeFlat writes a flat slice as a JSON array.
func encodeFlat(flat any) ([]byte, error) {
	switch values := flat.(type) {
	case []float16.Float16:
		return appendFloats(values, func(v float16.Float16) float64 { return float64(v.Float32()) }, 32), nil
	case []bfloat16.BFloat16:
		return appendFloats(values, func(v bfloat16.BFloat16) float64 { return float64(v.Float32()) }, 32), nil
	case []float32:
		return appendFloats(values, func(v float32) float64 { return float64(v) }, 32), nil
	case []float64:
		return appendFloats(values, func(v float64) float64 { return v }, 64), nil
	}

	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("can't encode %T as JSON values", flat)
	}
	buf := []byte{'['}
	for i := range flatV.Len() {
		if i > 0 {
			buf = append(buf, ',')
		}
		elem := flatV.Index(i)
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			buf = strconv.AppendInt(buf, elem.Int(), 10)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			buf = strconv.AppendUint(buf, elem.Uint(), 10)
		default:
			return nil, errors.Errorf("can't encode values of type %s as JSON", elem.Type())
		}
	}
	return append(buf, ']'), nil
}

func appendFloats[T any](values []T, toFloat64 func(T) float64, bitSize int) []byte {
	buf := make([]byte, 0, 2+8*len(values))
	buf = append(buf, '[')
	for i, v := range values {
		if i > 0 {
			buf = append(buf, ',')
		}
		f := toFloat64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf = strconv.AppendQuote(buf, strconv.FormatFloat(f, 'g', -1, bitSize))
			continue
		}
		buf = strconv.AppendFloat(buf, f, 'g', -1, bitSize)
	}
	return append(buf, ']')
}
