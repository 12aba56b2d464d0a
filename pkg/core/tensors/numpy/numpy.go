// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package numpy allows one to read/write tensors to Python's NumPy npy and npz file formats.
//
// Only little-endian data is supported. Arrays stored in Fortran order are converted to row-major
// order when read; arrays are always written in row-major (C) order.
package numpy

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/segments/pkg/core/shapes"
	"github.com/gomlx/segments/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Magic is the prefix of every .npy file.
const Magic = "\x93NUMPY"

// maxInitialBufferSize caps the buffer pre-allocated for the data of an array, before reading it.
const maxInitialBufferSize = 1 << 20

// headerAlignment is the alignment of the preamble+header, as required by the .npy format.
const headerAlignment = 64

// FromNpyFile reads a .npy file and returns a tensors.Tensor.
func FromNpyFile(filePath string) (*tensors.Tensor, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npy file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	tensor, err := FromNpyReader(file)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return tensor, nil
}

// FromNpyReader reads a .npy file from an io.Reader and returns a tensors.Tensor.
func FromNpyReader(r io.Reader) (*tensors.Tensor, error) {
	preamble := make([]byte, len(Magic)+2)
	if _, err := io.ReadFull(r, preamble); err != nil {
		return nil, errors.Wrapf(err, "failed to read .npy magic string and version")
	}
	if string(preamble[:len(Magic)]) != Magic {
		return nil, errors.Errorf("invalid .npy file format: magic string mismatch")
	}
	major, minor := preamble[len(Magic)], preamble[len(Magic)+1]

	// Header length: uint16 for version 1.x, uint32 for versions 2.x and 3.x.
	var headerLen int
	switch major {
	case 1:
		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v1.0)")
		}
		headerLen = int(binary.LittleEndian.Uint16(lenBytes))
	case 2, 3:
		lenBytes := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v%d.%d)", major, minor)
		}
		headerLen = int(binary.LittleEndian.Uint32(lenBytes))
	default:
		return nil, errors.Errorf("unsupported .npy version: %d.%d", major, minor)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrapf(err, "failed to read header")
	}
	dtypeStr, dims, fortranOrder, err := parseNpyHeader(string(headerBytes))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse .npy header")
	}
	if strings.HasPrefix(dtypeStr, ">") {
		return nil, errors.Errorf("big-endian .npy files (dtype %q) are not supported", dtypeStr)
	}
	dtype, err := npyDTypeToDType(dtypeStr)
	if err != nil {
		return nil, err
	}
	for _, dim := range dims {
		if dim < 0 {
			return nil, errors.Errorf("invalid negative dimension in .npy shape %v", dims)
		}
	}
	shape := shapes.Make(dtype, dims...)
	if err := shape.CheckSize(); err != nil {
		return nil, errors.WithMessagef(err, "invalid .npy shape %v", dims)
	}
	klog.V(2).Infof("numpy: reading array %s (descr=%q, fortran_order=%v)", shape, dtypeStr, fortranOrder)

	// Grow the buffer with the data actually read, not with the shape in the header.
	expected := int64(shape.Memory())
	var buf bytes.Buffer
	buf.Grow(int(min(expected, maxInitialBufferSize)))
	if n, err := io.CopyN(&buf, r, expected); err != nil {
		if err == io.EOF {
			return nil, errors.Errorf("truncated tensor data: got %d bytes, shape %s requires %d bytes", n, shape, expected)
		}
		return nil, errors.Wrapf(err, "failed to read tensor data (expected %d bytes)", expected)
	}
	data := buf.Bytes()
	if fortranOrder && shape.Rank() > 1 {
		cData := make([]byte, len(data))
		if err := FortranToCLayout(dtype.Size(), shape.Dimensions, data, cData); err != nil {
			return nil, err
		}
		data = cData
	}
	return tensors.FromRaw(shape, data)
}

// FortranToCLayout converts the raw bytes of an array stored in column-major (Fortran) order to row-major (C) order.
func FortranToCLayout(dtypeSize int, dims []int, fortranData []byte, cData []byte) error {
	if dtypeSize <= 0 {
		return errors.Errorf("dtypeSize must be positive, got %d", dtypeSize)
	}
	shape := shapes.Make(dtypes.Uint8, dims...)
	expectedBytes := shape.Size() * dtypeSize
	if len(fortranData) != expectedBytes || len(cData) != expectedBytes {
		return errors.Errorf("FortranToCLayout: got %d bytes of input and %d bytes of output, but shape %v with %d bytes per element requires %d bytes",
			len(fortranData), len(cData), dims, dtypeSize, expectedBytes)
	}

	// Fortran strides: first axis changes fastest.
	fortranStrides := make([]int, len(dims))
	stride := 1
	for axis, dim := range dims {
		fortranStrides[axis] = stride
		stride *= dim
	}
	for cIdx, indices := range shape.Iter() {
		fortranIdx := 0
		for axis, axisIdx := range indices {
			fortranIdx += axisIdx * fortranStrides[axis]
		}
		dst := cIdx * dtypeSize
		src := fortranIdx * dtypeSize
		copy(cData[dst:dst+dtypeSize], fortranData[src:src+dtypeSize])
	}
	return nil
}

var (
	reDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	reShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// parseNpyHeader extracts dtype, shape, and fortran_order from the .npy header string, a Python dict literal like
// "{'descr': '<f4', 'fortran_order': False, 'shape': (1, 2, 3), }".
func parseNpyHeader(header string) (dtype string, dims []int, fortranOrder bool, err error) {
	mDescr := reDescr.FindStringSubmatch(header)
	if len(mDescr) < 2 {
		err = errors.Errorf("could not find 'descr' in header: %q", header)
		return
	}
	dtype = mDescr[1]

	mFortran := reFortran.FindStringSubmatch(header)
	if len(mFortran) < 2 {
		err = errors.Errorf("could not find 'fortran_order' in header: %q", header)
		return
	}
	fortranOrder = mFortran[1] == "True"

	mShape := reShape.FindStringSubmatch(header)
	if len(mShape) < 2 {
		err = errors.Errorf("could not find 'shape' in header: %q", header)
		return
	}
	dims = []int{}
	for _, p := range strings.Split(mShape[1], ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			// Trailing comma as in "(10,)", or a scalar "()".
			continue
		}
		// Python 2 pickles may write longs as "10L".
		val, pErr := strconv.Atoi(strings.TrimSuffix(p, "L"))
		if pErr != nil {
			err = errors.Wrapf(pErr, "invalid shape value %q in header", p)
			return
		}
		dims = append(dims, val)
	}
	return
}

// npyDTypeToDType converts a NumPy dtype string to a dtypes.DType.
func npyDTypeToDType(npyType string) (dtypes.DType, error) {
	switch strings.TrimLeft(npyType, "<>=|") {
	case "b1", "?":
		return dtypes.Bool, nil
	case "i1":
		return dtypes.Int8, nil
	case "u1":
		return dtypes.Uint8, nil
	case "i2":
		return dtypes.Int16, nil
	case "u2":
		return dtypes.Uint16, nil
	case "i4":
		return dtypes.Int32, nil
	case "u4":
		return dtypes.Uint32, nil
	case "i8":
		return dtypes.Int64, nil
	case "u8":
		return dtypes.Uint64, nil
	case "f2":
		return dtypes.Float16, nil
	case "f4":
		return dtypes.F32, nil
	case "f8":
		return dtypes.F64, nil
	case "c8":
		return dtypes.C64, nil
	case "c16":
		return dtypes.C128, nil
	default:
		return dtypes.InvalidDType, errors.Errorf("unsupported NumPy dtype: %q", npyType)
	}
}

// dtypeToNpy converts a dtypes.DType to a NumPy dtype string.
// It assumes little-endian ('<') for multi-byte types.
func dtypeToNpy(dtype dtypes.DType) (string, error) {
	switch dtype {
	case dtypes.Bool:
		return "|b1", nil
	case dtypes.Int8:
		return "|i1", nil
	case dtypes.Uint8:
		return "|u1", nil
	case dtypes.Int16:
		return "<i2", nil
	case dtypes.Uint16:
		return "<u2", nil
	case dtypes.Int32:
		return "<i4", nil
	case dtypes.Uint32:
		return "<u4", nil
	case dtypes.Int64:
		return "<i8", nil
	case dtypes.Uint64:
		return "<u8", nil
	case dtypes.Float16:
		return "<f2", nil
	case dtypes.F32:
		return "<f4", nil
	case dtypes.F64:
		return "<f8", nil
	case dtypes.C64:
		return "<c8", nil
	case dtypes.C128:
		return "<c16", nil
	case dtypes.BFloat16:
		return "", errors.Errorf("NumPy has no standard dtype for %s", dtype)
	default:
		return "", errors.Errorf("unsupported DType for .npy: %s", dtype)
	}
}

// FromNpzFile reads a .npz file and returns a map of tensor names to tensors.Tensor.
func FromNpzFile(filePath string) (map[string]*tensors.Tensor, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npz file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat .npz file %q", filePath)
	}
	return FromNpzReader(file, info.Size())
}

// FromNpzReader reads a .npz archive (a zip file of .npy files) from an io.ReaderAt and size,
// returning a map of tensor names to tensors.Tensor.
func FromNpzReader(r io.ReaderAt, size int64) (map[string]*tensors.Tensor, error) {
	zipReader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create zip reader for .npz")
	}

	results := make(map[string]*tensors.Tensor)
	for _, f := range zipReader.File {
		cleanPath := path.Clean(f.Name)
		if path.IsAbs(cleanPath) || strings.HasPrefix(cleanPath, "..") {
			return nil, errors.Errorf("invalid path in .npz archive: %q (normalized to %q)", f.Name, cleanPath)
		}
		if !strings.HasSuffix(f.Name, ".npy") {
			klog.V(1).Infof("numpy: skipping non-.npy entry %q in .npz archive", f.Name)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q within .npz", f.Name)
		}
		tensor, err := FromNpyReader(rc)
		_ = rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read tensor %q from .npz", f.Name)
		}
		results[strings.TrimSuffix(f.Name, ".npy")] = tensor
	}
	return results, nil
}

// npyHeader returns the preamble and header of a .npy (version 1.0) file for the given shape.
func npyHeader(shape shapes.Shape) ([]byte, error) {
	descr, err := dtypeToNpy(shape.DType)
	if err != nil {
		return nil, err
	}

	// Python tuple: "()" for scalars, "(N,)" for rank 1.
	var shapeTuple string
	switch shape.Rank() {
	case 0:
		shapeTuple = "()"
	case 1:
		shapeTuple = fmt.Sprintf("(%d,)", shape.Dimensions[0])
	default:
		dimsStr := make([]string, shape.Rank())
		for i, dim := range shape.Dimensions {
			dimsStr[i] = strconv.Itoa(dim)
		}
		shapeTuple = fmt.Sprintf("(%s)", strings.Join(dimsStr, ", "))
	}

	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{1, 0})
	buf.Write([]byte{0, 0}) // Header length, filled below.
	preambleLen := buf.Len()
	_, _ = fmt.Fprintf(&buf, "{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeTuple)
	for (buf.Len()+1)%headerAlignment != 0 {
		buf.WriteByte(' ')
	}
	buf.WriteByte('\n')
	header := buf.Bytes()
	headerLen := len(header) - preambleLen
	if headerLen > 0xFFFF {
		return nil, errors.Errorf("header for shape %s too long (%d bytes)", shape, headerLen)
	}
	binary.LittleEndian.PutUint16(header[preambleLen-2:preambleLen], uint16(headerLen))
	return header, nil
}

// ToNpyWriter serializes a tensors.Tensor to an io.Writer in .npy format.
func ToNpyWriter(tensor *tensors.Tensor, w io.Writer) error {
	if err := tensor.CheckValid(); err != nil {
		return err
	}
	header, err := npyHeader(tensor.Shape())
	if err != nil {
		return err
	}
	if _, err = w.Write(header); err != nil {
		return errors.Wrapf(err, "failed to write .npy header")
	}
	tensor.ConstBytes(func(data []byte) {
		_, err = w.Write(data)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write tensor data")
	}
	return nil
}

// ToNpyFile serializes a tensors.Tensor to a .npy file.
func ToNpyFile(tensor *tensors.Tensor, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npy file %q", filePath)
	}
	if err = ToNpyWriter(tensor, file); err != nil {
		_ = file.Close()
		return errors.WithMessagef(err, "writing %q", filePath)
	}
	if err = file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close .npy file %q", filePath)
	}
	return nil
}

// ToNpzWriter serializes a map of tensors to an io.Writer as a .npz archive.
// Entries are written in sorted order of their names.
func ToNpzWriter(tensorsMap map[string]*tensors.Tensor, w io.Writer) error {
	names := make([]string, 0, len(tensorsMap))
	for name := range tensorsMap {
		names = append(names, name)
	}
	slices.Sort(names)

	zipWriter := zip.NewWriter(w)
	for _, name := range names {
		npyName := name + ".npy"
		fileWriter, err := zipWriter.Create(npyName)
		if err != nil {
			return errors.Wrapf(err, "failed to create %q in .npz archive", npyName)
		}
		if err := ToNpyWriter(tensorsMap[name], fileWriter); err != nil {
			return errors.WithMessagef(err, "failed to write tensor %q to .npz archive", name)
		}
	}
	if err := zipWriter.Close(); err != nil {
		return errors.Wrapf(err, "failed to close .npz archive")
	}
	return nil
}

// ToNpzFile serializes a map of tensors to a .npz file.
func ToNpzFile(tensorsMap map[string]*tensors.Tensor, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npz file %q", filePath)
	}
	if err = ToNpzWriter(tensorsMap, file); err != nil {
		_ = file.Close()
		return errors.WithMessagef(err, "writing %q", filePath)
	}
	if err = file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close .npz file %q", filePath)
	}
	return nil
}
