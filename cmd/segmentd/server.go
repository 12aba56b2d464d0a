// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/segments/backends"
	"github.com/gomlx/segments/backends/shapeinference"
	"github.com/gomlx/segments/pkg/core/segments"
	"github.com/gomlx/segments/pkg/core/tensors"
	"github.com/gomlx/segments/pkg/core/tensors/numpy"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// RequestIDHeader is read from requests, or generated if missing, and always set in responses.
	RequestIDHeader = "X-Request-Id"

	requestIDKey = "request_id"

	// NpyContentType of the responses of the .npy endpoints.
	NpyContentType = "application/octet-stream"

	// UploadOutputFilename is the name of the file attachment returned by POST /upload.
	UploadOutputFilename = "output.npy"

	uploadTemplate = "upload.html"
)

// ErrOutputTooLarge is returned when a reduction would produce an output larger than the server's limit.
var ErrOutputTooLarge = errors.New("output too large")

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// Server exposes the segment reductions of a backend over HTTP.
type Server struct {
	backend        backends.Backend
	maxUploadBytes int64
	maxOutputBytes int64
	dtypeNames     map[string]dtypes.DType
}

// NewServer creates a Server for the backend. Request bodies larger than maxUploadBytes and
// outputs larger than maxOutputBytes are rejected. A limit <= 0 means no limit.
func NewServer(backend backends.Backend, maxUploadBytes, maxOutputBytes int64) *Server {
	return &Server{
		backend:        backend,
		maxUploadBytes: maxUploadBytes,
		maxOutputBytes: maxOutputBytes,
		dtypeNames:     dtypesByName(backend.Capabilities()),
	}
}

// ReduceRequest is the body of POST /v1/segments/:op.
type ReduceRequest struct {
	Data       TensorJSON `json:"data"`
	SegmentIDs TensorJSON `json:"segment_ids"`

	// NumSegments defaults to the largest segment id plus one.
	NumSegments *int `json:"num_segments"`
	Sorted      bool `json:"sorted"`
}

// ReduceResponse is the body of a successful POST /v1/segments/:op.
type ReduceResponse struct {
	RequestID string     `json:"request_id"`
	Output    TensorJSON `json:"output"`
}

// GenerateRoutes creates the HTTP router.
func (s *Server) GenerateRoutes() http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	if s.maxUploadBytes > 0 {
		r.MaxMultipartMemory = s.maxUploadBytes
	}
	r.SetHTMLTemplate(templates)
	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		s.bodyLimitMiddleware(),
	)

	r.GET("/health", s.HealthHandler)
	r.POST("/v1/segments/:op", s.ReduceHandler)
	r.POST("/v1/segments/:op/npy", s.ReduceNpyHandler)
	r.GET("/", s.UploadFormHandler)
	r.POST("/upload", s.UploadHandler)
	return r
}

// requestIDMiddleware tags each request with an id, and logs it once it's done.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			klog.Errorf("[%s] %s %s -> %d (%s): %v", requestID, c.Request.Method, c.Request.URL.Path, status,
				time.Since(start), c.Errors.Last())
			return
		}
		klog.V(1).Infof("[%s] %s %s -> %d (%s, %s in, %s out)", requestID, c.Request.Method, c.Request.URL.Path,
			status, time.Since(start), humanize.Bytes(uint64(max(c.Request.ContentLength, 0))),
			humanize.Bytes(uint64(max(c.Writer.Size(), 0))))
	}
}

func (s *Server) bodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.maxUploadBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
		}
		c.Next()
	}
}

// statusFor maps errors to HTTP status codes.
func statusFor(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr), errors.Is(err, ErrOutputTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, backends.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, backends.ErrNotImplemented):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError responds with the error and the request id, with the status given by statusFor.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), gin.H{
		"error":      err.Error(),
		"request_id": c.GetString(requestIDKey),
	})
}

// HealthHandler reports the service is up, and the backend it uses.
func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": s.backend.Description()})
}

// reduce runs the reduction opName.
// A negative numSegments is replaced by the largest segment id plus one.
func (s *Server) reduce(c *gin.Context, opName string, data, segmentIDs *tensors.Tensor, numSegments int, sorted bool) (*tensors.Tensor, error) {
	opType, err := segments.ParseOp(opName)
	if err != nil {
		return nil, err
	}
	if numSegments < 0 {
		numSegments, err = segments.NumSegmentsFor(segmentIDs)
		if err != nil {
			return nil, err
		}
	}
	outputShape, err := shapeinference.SegmentReduceOp(opType, data.Shape(), segmentIDs.Shape(), numSegments)
	if err != nil {
		return nil, backends.InvalidArgument(err)
	}
	if s.maxOutputBytes > 0 && uint64(outputShape.Memory()) > uint64(s.maxOutputBytes) {
		return nil, pkgerrors.Wrapf(ErrOutputTooLarge, "%s with num_segments=%d requires %s for output %s, the limit is %s",
			opType, numSegments, humanize.IBytes(uint64(outputShape.Memory())), outputShape,
			humanize.IBytes(uint64(s.maxOutputBytes)))
	}
	klog.V(2).Infof("[%s] %s(data=%s, segment_ids=%s, num_segments=%d, sorted=%v)", c.GetString(requestIDKey),
		opType, data.Shape(), segmentIDs.Shape(), numSegments, sorted)
	return segments.Reduce(s.backend, opType, data, segmentIDs, numSegments, sorted)
}

// ReduceHandler handles POST /v1/segments/:op with a JSON ReduceRequest.
func (s *Server) ReduceHandler(c *gin.Context) {
	var req ReduceRequest
	err := c.ShouldBindJSON(&req)
	switch {
	case errors.Is(err, io.EOF):
		abortWithError(c, backends.InvalidArgumentf("missing request body"))
		return
	case err != nil:
		if statusFor(err) == http.StatusInternalServerError {
			err = backends.InvalidArgument(err)
		}
		abortWithError(c, err)
		return
	}

	data, err := decodeTensor("data", req.Data, s.dtypeNames)
	if err != nil {
		abortWithError(c, err)
		return
	}
	segmentIDs, err := decodeTensor("segment_ids", req.SegmentIDs, s.dtypeNames)
	if err != nil {
		abortWithError(c, err)
		return
	}
	numSegments := -1
	if req.NumSegments != nil {
		numSegments = *req.NumSegments
	}

	output, err := s.reduce(c, c.Param("op"), data, segmentIDs, numSegments, req.Sorted)
	if err != nil {
		abortWithError(c, err)
		return
	}
	outputJSON, err := encodeTensor(output)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReduceResponse{RequestID: c.GetString(requestIDKey), Output: outputJSON})
}

// ReduceNpyHandler handles POST /v1/segments/:op/npy: a multipart form with the .npy files "data" and
// "segment_ids", and the optional fields "num_segments" and "sorted". It responds with the .npy output.
func (s *Server) ReduceNpyHandler(c *gin.Context) {
	output, err := s.reduceNpyForm(c, c.Param("op"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, NpyContentType, output)
}

// UploadFormHandler handles GET /: an HTML form posting to /upload.
func (s *Server) UploadFormHandler(c *gin.Context) {
	var maxUpload string
	if s.maxUploadBytes > 0 {
		maxUpload = humanize.IBytes(uint64(s.maxUploadBytes))
	}
	c.HTML(http.StatusOK, uploadTemplate, gin.H{
		"Backend":   s.backend.Description(),
		"Ops":       []string{"sum", "max", "min", "prod", "mean"},
		"MaxUpload": maxUpload,
	})
}

// UploadHandler handles POST /upload, the submission of the form: like ReduceNpyHandler, but with the
// reduction in the "op" form field, and the output sent as a file attachment.
func (s *Server) UploadHandler(c *gin.Context) {
	output, err := s.reduceNpyForm(c, "")
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", UploadOutputFilename))
	c.Data(http.StatusOK, NpyContentType, output)
}

// reduceNpyForm parses the multipart form of the .npy endpoints, runs the reduction and returns the
// output encoded as .npy. If opName is empty, it's taken from the "op" form field.
func (s *Server) reduceNpyForm(c *gin.Context, opName string) ([]byte, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			err = backends.InvalidArgument(pkgerrors.Wrap(err, "parsing multipart form"))
		}
		return nil, err
	}
	if opName == "" {
		opName = c.PostForm("op")
	}

	data, err := readNpyFormFile(form, "data")
	if err != nil {
		return nil, err
	}
	segmentIDs, err := readNpyFormFile(form, "segment_ids")
	if err != nil {
		return nil, err
	}
	numSegments := -1
	if value := c.PostForm("num_segments"); value != "" {
		numSegments, err = strconv.Atoi(value)
		if err != nil {
			return nil, backends.InvalidArgument(pkgerrors.Wrapf(err, "invalid num_segments %q", value))
		}
	}
	var sorted bool
	if value := c.PostForm("sorted"); value != "" {
		sorted, err = strconv.ParseBool(value)
		if err != nil {
			return nil, backends.InvalidArgument(pkgerrors.Wrapf(err, "invalid sorted %q", value))
		}
	}

	output, err := s.reduce(c, opName, data, segmentIDs, numSegments, sorted)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err = numpy.ToNpyWriter(output, &buf); err != nil {
		// Writing to memory only fails for dtypes without a .npy representation.
		return nil, pkgerrors.Wrapf(backends.ErrNotImplemented, "encoding output as .npy: %v", err)
	}
	return buf.Bytes(), nil
}

func readNpyFormFile(form *multipart.Form, name string) (*tensors.Tensor, error) {
	files := form.File[name]
	if len(files) != 1 {
		return nil, backends.InvalidArgumentf("expected one file %q in the form, got %d", name, len(files))
	}
	f, err := files[0].Open()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "opening uploaded %q", name)
	}
	defer func() { _ = f.Close() }()
	t, err := numpy.FromNpyReader(f)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			err = backends.InvalidArgument(err)
		}
		return nil, pkgerrors.WithMessagef(err, "reading %q", name)
	}
	return t, nil
}
