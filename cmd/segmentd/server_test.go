// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gomlx/segments/backends"
	"github.com/gomlx/segments/pkg/core/tensors"
	"github.com/gomlx/segments/pkg/core/tensors/numpy"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var testBackend backends.Backend

func TestMain(m *testing.M) {
	klog.InitFlags(nil)
	flag.Parse()
	gin.SetMode(gin.TestMode)
	testBackend = must.M1(backends.NewWithConfig("go:parallelism=2"))
	code := m.Run()
	testBackend.Finalize()
	os.Exit(code)
}

func newTestServer(maxUploadBytes, maxOutputBytes int64) http.Handler {
	return NewServer(testBackend, maxUploadBytes, maxOutputBytes).GenerateRoutes()
}

func doRequest(t *testing.T, handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return doRequest(t, handler, req)
}

func TestHealth(t *testing.T) {
	handler := newTestServer(0, 0)
	w := doRequest(t, handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, testBackend.Description(), body["backend"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	// Given request ids are echoed.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "my-request")
	w = doRequest(t, handler, req)
	assert.Equal(t, "my-request", w.Header().Get(RequestIDHeader))
}

func TestReduceJSON(t *testing.T) {
	handler := newTestServer(0, 0)

	t.Run("sum", func(t *testing.T) {
		w := postJSON(t, handler, "/v1/segments/sum", `{
			"data": {"dtype": "float32", "dimensions": [4, 2], "values": [1, 2, 3, 4, 5, 6, 7, 8]},
			"segment_ids": {"dtype": "int32", "dimensions": [4], "values": [1, 0, 1, -1]},
			"num_segments": 3
		}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp ReduceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, w.Header().Get(RequestIDHeader), resp.RequestID)
		assert.Equal(t, "float32", resp.Output.DType)
		assert.Equal(t, []int{3, 2}, resp.Output.Dimensions)
		assert.JSONEq(t, `[6, 8, 3, 4, 0, 0]`, string(resp.Output.Values))
	})

	t.Run("max with non-finite values", func(t *testing.T) {
		w := postJSON(t, handler, "/v1/segments/max", `{
			"data": {"dtype": "float64", "dimensions": [3], "values": ["-Inf", "NaN", 2.5]},
			"segment_ids": {"dtype": "int64", "dimensions": [3], "values": [0, 1, 1]}
		}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp ReduceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, []int{2}, resp.Output.Dimensions)
		var values []jsonFloat
		require.NoError(t, json.Unmarshal(resp.Output.Values, &values))
		require.Len(t, values, 2)
		assert.True(t, math.IsInf(float64(values[0]), -1))
		assert.True(t, math.IsNaN(float64(values[1])))
	})

	t.Run("sorted mean", func(t *testing.T) {
		w := postJSON(t, handler, "/v1/segments/mean", `{
			"data": {"dtype": "float32", "dimensions": [4], "values": [1, 2, 3, 5]},
			"segment_ids": {"dtype": "uint8", "dimensions": [4], "values": [0, 0, 2, 2]},
			"sorted": true
		}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp ReduceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.JSONEq(t, `[1.5, 0, 4]`, string(resp.Output.Values))
	})

	t.Run("int product", func(t *testing.T) {
		w := postJSON(t, handler, "/v1/segments/prod", `{
			"data": {"dtype": "int16", "dimensions": [2, 2], "values": [2, 3, 4, 5]},
			"segment_ids": {"dtype": "int32", "dimensions": [], "values": [0]},
			"num_segments": 2
		}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp ReduceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "int16", resp.Output.DType)
		assert.Equal(t, []int{2, 2, 2}, resp.Output.Dimensions)
		assert.JSONEq(t, `[2, 3, 4, 5, 1, 1, 1, 1]`, string(resp.Output.Values))
	})
}

func TestReduceJSONErrors(t *testing.T) {
	handler := newTestServer(1024, 1<<20)
	for _, tc := range []struct {
		name, path, body string
		status           int
	}{
		{"empty body", "/v1/segments/sum", ``, http.StatusBadRequest},
		{"malformed", "/v1/segments/sum", `{"data": `, http.StatusBadRequest},
		{"unknown op", "/v1/segments/median", `{
			"data": {"dtype": "float32", "dimensions": [1], "values": [1]},
			"segment_ids": {"dtype": "int32", "dimensions": [1], "values": [0]}}`, http.StatusUnsupportedMediaType},
		{"unknown dtype", "/v1/segments/sum", `{
			"data": {"dtype": "float8", "dimensions": [1], "values": [1]},
			"segment_ids": {"dtype": "int32", "dimensions": [1], "values": [0]}}`, http.StatusUnsupportedMediaType},
		{"complex in json", "/v1/segments/sum", `{
			"data": {"dtype": "complex64", "dimensions": [1], "values": [1]},
			"segment_ids": {"dtype": "int32", "dimensions": [1], "values": [0]}}`, http.StatusUnsupportedMediaType},
		{"wrong number of values", "/v1/segments/sum", `{
			"data": {"dtype": "float32", "dimensions": [2], "values": [1]},
			"segment_ids": {"dtype": "int32", "dimensions": [1], "values": [0]}}`, http.StatusBadRequest},
		{"shape mismatch", "/v1/segments/sum", `{
			"data": {"dtype": "float32", "dimensions": [2], "values": [1, 2]},
			"segment_ids": {"dtype": "int32", "dimensions": [3], "values": [0, 0, 0]}}`, http.StatusBadRequest},
		{"float ids", "/v1/segments/sum", `{
			"data": {"dtype": "float32", "dimensions": [1], "values": [1]},
			"segment_ids": {"dtype": "float32", "dimensions": [1], "values": [0]}}`, http.StatusBadRequest},
		{"unsorted ids", "/v1/segments/sum", `{
			"data": {"dtype": "float32", "dimensions": [2], "values": [1, 2]},
			"segment_ids": {"dtype": "int32", "dimensions": [2], "values": [1, 0]},
			"sorted": true}`, http.StatusBadRequest},
		{"uint8 overflow", "/v1/segments/sum", `{
			"data": {"dtype": "float32", "dimensions": [1], "values": [1]},
			"segment_ids": {"dtype": "uint8", "dimensions": [1], "values": [256]}}`, http.StatusBadRequest},
		{"bad float", "/v1/segments/sum", `{
			"data": {"dtype": "float32", "dimensions": [1], "values": ["one"]},
			"segment_ids": {"dtype": "int32", "dimensions": [1], "values": [0]}}`, http.StatusBadRequest},
		{"too large", "/v1/segments/sum", `{"data": {"dtype": "float32", "dimensions": [1], "values": [` +
			strings.Repeat("0,", 1024) + `0]}}`, http.StatusRequestEntityTooLarge},
		{"output too large", "/v1/segments/sum", `{
			"data": {"dtype": "float32", "dimensions": [1], "values": [1]},
			"segment_ids": {"dtype": "int32", "dimensions": [1], "values": [0]},
			"num_segments": 4000000000}`, http.StatusRequestEntityTooLarge},
		{"output size overflow", "/v1/segments/sum", `{
			"data": {"dtype": "float32", "dimensions": [1, 4], "values": [1, 2, 3, 4]},
			"segment_ids": {"dtype": "int32", "dimensions": [1], "values": [-1]},
			"num_segments": 4611686018427387904}`, http.StatusBadRequest},
		{"data size overflow", "/v1/segments/sum", `{
			"data": {"dtype": "float32", "dimensions": [4611686018427387904, 4], "values": []},
			"segment_ids": {"dtype": "int32", "dimensions": [], "values": [0]}}`, http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, handler, tc.path, tc.body)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, w.Header().Get(RequestIDHeader), body["request_id"])
		})
	}
}

// npyHeaderOnly returns a .npy file with the given header dict and no data.
func npyHeaderOnly(header string) []byte {
	header += "\n"
	var buf bytes.Buffer
	buf.WriteString(numpy.Magic)
	buf.Write([]byte{1, 0, byte(len(header)), byte(len(header) >> 8)})
	buf.WriteString(header)
	return buf.Bytes()
}

func npyBytes(t *testing.T, tensor *tensors.Tensor) []byte {
	var buf bytes.Buffer
	require.NoError(t, numpy.ToNpyWriter(tensor, &buf))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path string, files map[string][]byte, fields map[string]string) *http.Request {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, contents := range files {
		fw, err := mw.CreateFormFile(name, name+".npy")
		require.NoError(t, err)
		_, err = fw.Write(contents)
		require.NoError(t, err)
	}
	for name, value := range fields {
		require.NoError(t, mw.WriteField(name, value))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestReduceNpy(t *testing.T) {
	handler := newTestServer(0, 0)
	data := tensors.FromValue([][]complex64{{1, 2i}, {3, 4}, {5i, 6}})
	ids := tensors.FromValue([]int32{2, 0, 2})

	req := multipartRequest(t, "/v1/segments/sum/npy",
		map[string][]byte{"data": npyBytes(t, data), "segment_ids": npyBytes(t, ids)},
		map[string]string{"num_segments": "4"})
	w := doRequest(t, handler, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, NpyContentType, w.Header().Get("Content-Type"))
	output, err := numpy.FromNpyReader(w.Body)
	require.NoError(t, err)
	assert.Equal(t, [][]complex64{{3, 4}, {0, 0}, {1 + 5i, 6 + 2i}, {0, 0}}, output.Value())

	t.Run("derived num_segments", func(t *testing.T) {
		req := multipartRequest(t, "/v1/segments/min/npy",
			map[string][]byte{"data": npyBytes(t, tensors.FromValue([]int64{5, 3, 7})),
				"segment_ids": npyBytes(t, tensors.FromValue([]int64{0, 0, 1}))},
			map[string]string{"sorted": "true"})
		w := doRequest(t, handler, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		output, err := numpy.FromNpyReader(w.Body)
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 7}, output.Value())
	})

	t.Run("output too large", func(t *testing.T) {
		handler := newTestServer(1<<20, 1<<20)
		req := multipartRequest(t, "/v1/segments/sum/npy",
			map[string][]byte{"data": npyBytes(t, data), "segment_ids": npyBytes(t, ids)},
			map[string]string{"num_segments": "4000000000"})
		w := doRequest(t, handler, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "output too large")
	})

	for name, req := range map[string]*http.Request{
		"huge shape in header": multipartRequest(t, "/v1/segments/sum/npy",
			map[string][]byte{
				"data":        npyHeaderOnly("{'descr': '<f4', 'fortran_order': False, 'shape': (4000000000,), }"),
				"segment_ids": npyBytes(t, ids)}, nil),
		"missing ids": multipartRequest(t, "/v1/segments/sum/npy",
			map[string][]byte{"data": npyBytes(t, data)}, nil),
		"not npy": multipartRequest(t, "/v1/segments/sum/npy",
			map[string][]byte{"data": []byte("hello"), "segment_ids": npyBytes(t, ids)}, nil),
		"bad num_segments": multipartRequest(t, "/v1/segments/sum/npy",
			map[string][]byte{"data": npyBytes(t, data), "segment_ids": npyBytes(t, ids)},
			map[string]string{"num_segments": "four"}),
		"not multipart": httptest.NewRequest(http.MethodPost, "/v1/segments/sum/npy", strings.NewReader("{}")),
	} {
		t.Run(name, func(t *testing.T) {
			w := doRequest(t, handler, req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestCodec(t *testing.T) {
	names := dtypesByName(testBackend.Capabilities())
	for _, name := range []string{"float16", "bfloat16", "float32", "float64", "int8", "uint64"} {
		tensor, err := decodeTensor(name, TensorJSON{DType: name, Dimensions: []int{3}, Values: json.RawMessage(`[1, 2, 3]`)}, names)
		require.NoError(t, err, name)
		encoded, err := encodeTensor(tensor)
		require.NoError(t, err, name)
		assert.Equal(t, name, encoded.DType)
		assert.JSONEq(t, `[1, 2, 3]`, string(encoded.Values), name)
	}

	_, err := decodeTensor("x", TensorJSON{DType: "int8", Dimensions: []int{1}, Values: json.RawMessage(`[300]`)}, names)
	require.ErrorIs(t, err, backends.ErrInvalidArgument)
	_, err = decodeTensor("x", TensorJSON{DType: "int8", Dimensions: []int{-1}, Values: json.RawMessage(`[]`)}, names)
	require.ErrorIs(t, err, backends.ErrInvalidArgument)
	_, err = decodeTensor("x", TensorJSON{DType: "bool", Dimensions: []int{1}, Values: json.RawMessage(`[true]`)}, names)
	require.ErrorIs(t, err, backends.ErrNotImplemented)
}

func TestUploadForm(t *testing.T) {
	handler := newTestServer(1<<20, 1<<20)
	w := doRequest(t, handler, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	page := w.Body.String()
	assert.Contains(t, page, `action="/upload"`)
	assert.Contains(t, page, `<option value="prod">prod</option>`)
	assert.Contains(t, page, testBackend.Description())
	assert.Contains(t, page, "1.0 MiB")

	data := tensors.FromValue([]float32{1, 2, 3, 4})
	ids := tensors.FromValue([]int32{1, 1, 0, 1})
	req := multipartRequest(t, "/upload",
		map[string][]byte{"data": npyBytes(t, data), "segment_ids": npyBytes(t, ids)},
		map[string]string{"op": "max", "num_segments": ""})
	w = doRequest(t, handler, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), UploadOutputFilename)
	output, err := numpy.FromNpyReader(w.Body)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, output.Value())

	// The reduction comes from the form, so it's required.
	req = multipartRequest(t, "/upload",
		map[string][]byte{"data": npyBytes(t, data), "segment_ids": npyBytes(t, ids)}, nil)
	w = doRequest(t, handler, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code, w.Body.String())
}
