// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/segments/pkg/support/xslices"
	"github.com/x448/float16"
)

var (
	typeFloat16  = reflect.TypeOf(float16.Float16(0))
	typeBFloat16 = reflect.TypeOf(bfloat16.BFloat16(0))
)

// MaxRowElements is the number of elements of a row (and the number of rows of an axis) above which
// Summary abbreviates the output with an ellipsis.
var MaxRowElements = 6

// String converts to string, if not too large. It uses t.Summary(precision=4)
func (t *Tensor) String() string {
	if !t.Ok() {
		return "<invalid tensor>"
	}
	return t.Summary(4)
}

// Summary returns a multi-line summary of the Tensor's content.
// Inspired by numpy output.
func (t *Tensor) Summary(precision int) string {
	if t.Shape().IsZeroSize() {
		return t.Shape().String()
	}

	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }

	// Print value with appropriate formatting:
	wValue := func(v reflect.Value) {
		switch v.Type() {
		case typeFloat16:
			w("%.*g", precision, v.Interface().(float16.Float16).Float32())
			return
		case typeBFloat16:
			w("%.*g", precision, v.Interface().(bfloat16.BFloat16).Float32())
			return
		}
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			w("%d", v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			w("%d", v.Uint())
		case reflect.Complex64, reflect.Complex128:
			c := v.Complex()
			w("(%.*g+%.*gi)", precision, real(c), precision, imag(c))
		case reflect.Bool:
			w("%v", v.Bool())
		default:
			w("%.*g", precision, v.Interface())
		}
	}

	dims := t.Shape().Dimensions
	t.ConstFlatData(func(flat any) {
		values := reflect.ValueOf(flat)

		// Print Go type equivalent
		for _, dim := range dims {
			w("[%d]", dim)
		}
		w("%s", values.Type().Elem())
		if len(dims) == 0 {
			w("(")
			wValue(values.Index(0))
			w(")")
			return
		}

		// Recursive function to print elements, starting at flat position index.
		var printElements func(index, indent int, currentDims []int)
		printElements = func(index, indent int, currentDims []int) {
			if len(currentDims) == 1 {
				w("{")
				for i := 0; i < currentDims[0]; i++ {
					if currentDims[0] > MaxRowElements && i == 3 {
						w(", ...")
						i = currentDims[0] - 3
					}
					if i > 0 {
						w(", ")
					}
					wValue(values.Index(index + i))
				}
				w("}")
				return
			}

			stride := 1
			for _, dim := range currentDims[1:] {
				stride *= dim
			}
			indentStr := strings.Repeat(" ", indent+1)
			w("{")
			if indent == 0 {
				w("\n%s", indentStr)
			}
			for ii := 0; ii < currentDims[0]; ii++ {
				if currentDims[0] > MaxRowElements && ii == 3 {
					w(",\n%s...", indentStr)
					ii = currentDims[0] - 3
				}
				if ii > 0 {
					w(",\n%s", indentStr)
				}
				printElements(index+ii*stride, indent+1, currentDims[1:])
			}
			w("}")
		}
		printElements(0, 0, dims)
	})
	return buf.String()
}

// GoStr converts to string, using a Go-syntax representation that can be copied&pasted back to code.
func (t *Tensor) GoStr() string {
	t.AssertValid()
	if t.Shape().IsZeroSize() {
		// For zero-dimensioned tensors (for some axis), we simply return the shape.
		return t.shape.String()
	}
	value := t.Value()
	if t.IsScalar() {
		return fmt.Sprintf("%s(%v)", t.shape.DType.GoType(), value)
	}
	return fmt.Sprintf("%s: %s", t.shape, xslices.SliceToGoStr(value))
}
