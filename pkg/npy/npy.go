// Package npy reads and writes NumPy .npy files holding C-ordered numeric
// arrays. Paths ending in ".zst" are zstd compressed transparently.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"ctcharacterization/pkg/ndarray"
)

// ErrUnsupported reports a valid .npy file this package cannot represent.
var ErrUnsupported = errors.New("unsupported npy file")

// ErrFormat reports a malformed .npy stream.
var ErrFormat = errors.New("malformed npy file")

var magic = []byte("\x93NUMPY")

const headerAlign = 64

// readChunk bounds the elements preallocated before any data is read.
const readChunk = 1 << 16

// dtype describes the element encoding named by a descr string.
type dtype struct {
	order binary.ByteOrder
	kind  byte
	size  int
}

func parseDescr(descr string) (dtype, error) {
	if len(descr) < 3 {
		return dtype{}, fmt.Errorf("%w: descr %q", ErrFormat, descr)
	}
	var dt dtype
	switch descr[0] {
	case '<', '|', '=':
		dt.order = binary.LittleEndian
	case '>':
		dt.order = binary.BigEndian
	default:
		return dtype{}, fmt.Errorf("%w: byte order of %q", ErrUnsupported, descr)
	}
	dt.kind = descr[1]
	size, err := strconv.Atoi(descr[2:])
	if err != nil {
		return dtype{}, fmt.Errorf("%w: descr %q", ErrFormat, descr)
	}
	dt.size = size

	switch {
	case dt.kind == 'f' && (size == 4 || size == 8):
	case (dt.kind == 'i' || dt.kind == 'u') && (size == 1 || size == 2 || size == 4 || size == 8):
	default:
		return dtype{}, fmt.Errorf("%w: dtype %q", ErrUnsupported, descr)
	}
	return dt, nil
}

func (dt dtype) decode(b []byte) float64 {
	switch dt.kind {
	case 'f':
		if dt.size == 4 {
			return float64(math.Float32frombits(dt.order.Uint32(b)))
		}
		return math.Float64frombits(dt.order.Uint64(b))
	case 'i':
		switch dt.size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(dt.order.Uint16(b)))
		case 4:
			return float64(int32(dt.order.Uint32(b)))
		}
		return float64(int64(dt.order.Uint64(b)))
	}
	switch dt.size {
	case 1:
		return float64(b[0])
	case 2:
		return float64(dt.order.Uint16(b))
	case 4:
		return float64(dt.order.Uint32(b))
	}
	return float64(dt.order.Uint64(b))
}

// header is the parsed dictionary of a .npy file.
type header struct {
	descr        string
	fortranOrder bool
	shape        []int
}

// parseHeader reads the Python literal dict written by numpy, e.g.
// {'descr': '<f8', 'fortran_order': False, 'shape': (3, 4), }
func parseHeader(s string) (header, error) {
	var h header
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return h, fmt.Errorf("%w: header %q", ErrFormat, s)
	}
	body := s[1 : len(s)-1]

	descr, err := field(body, "descr")
	if err != nil {
		return h, err
	}
	h.descr = strings.Trim(descr, `'"`)

	fortran, err := field(body, "fortran_order")
	if err != nil {
		return h, err
	}
	switch fortran {
	case "True":
		h.fortranOrder = true
	case "False":
	default:
		return h, fmt.Errorf("%w: fortran_order %q", ErrFormat, fortran)
	}

	shape, err := field(body, "shape")
	if err != nil {
		return h, err
	}
	shape = strings.TrimSpace(shape)
	if !strings.HasPrefix(shape, "(") || !strings.HasSuffix(shape, ")") {
		return h, fmt.Errorf("%w: shape %q", ErrFormat, shape)
	}
	for _, part := range strings.Split(shape[1:len(shape)-1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		part = strings.TrimSuffix(part, "L")
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return h, fmt.Errorf("%w: shape %q", ErrFormat, shape)
		}
		h.shape = append(h.shape, n)
	}
	return h, nil
}

// field returns the raw value text of key inside the dict body.
func field(body, key string) (string, error) {
	var idx int
	for _, quote := range []string{"'", `"`} {
		if idx = strings.Index(body, quote+key+quote); idx >= 0 {
			idx += len(key) + 2
			break
		}
	}
	if idx < 0 {
		return "", fmt.Errorf("%w: header has no %q", ErrFormat, key)
	}
	rest := strings.TrimSpace(body[idx:])
	if !strings.HasPrefix(rest, ":") {
		return "", fmt.Errorf("%w: header key %q", ErrFormat, key)
	}
	rest = strings.TrimSpace(rest[1:])
	if strings.HasPrefix(rest, "(") {
		end := strings.Index(rest, ")")
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated %q", ErrFormat, key)
		}
		return rest[:end+1], nil
	}
	if end := strings.Index(rest, ","); end >= 0 {
		return strings.TrimSpace(rest[:end]), nil
	}
	return strings.TrimSpace(rest), nil
}

// Read decodes one .npy stream into a float64 array.
func Read(r io.Reader) (*ndarray.Array, error) {
	br := bufio.NewReader(r)
	pre := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(br, pre); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if !bytes.Equal(pre[:len(magic)], magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrFormat)
	}

	var hlen int
	switch major := pre[len(magic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		hlen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		hlen = int(n)
	default:
		return nil, fmt.Errorf("%w: version %d", ErrUnsupported, major)
	}

	raw := make([]byte, hlen)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	h, err := parseHeader(string(raw))
	if err != nil {
		return nil, err
	}
	if h.fortranOrder {
		return nil, fmt.Errorf("%w: fortran order", ErrUnsupported)
	}
	if len(h.shape) == 0 {
		return nil, fmt.Errorf("%w: zero-dimensional array", ErrUnsupported)
	}
	dt, err := parseDescr(h.descr)
	if err != nil {
		return nil, err
	}

	size, err := ndarray.Size(h.shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if size > math.MaxInt/dt.size {
		return nil, fmt.Errorf("%w: shape %v needs more bytes than a stream can hold", ErrFormat, h.shape)
	}

	// Storage grows with the bytes actually read, so a header claiming more
	// elements than the stream carries fails before a large allocation.
	data := make([]float64, 0, min(size, readChunk))
	buf := make([]byte, dt.size)
	for i := 0; i < size; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("%w: element %d of %d: %v", ErrFormat, i, size, err)
		}
		data = append(data, dt.decode(buf))
	}
	return ndarray.FromSlice(data, h.shape...)
}

// Write encodes a as a version 1.0 .npy stream of little-endian float64.
func Write(w io.Writer, a *ndarray.Array) error {
	dims := make([]string, a.NDim())
	for i, d := range a.Shape() {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	dict := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%s), }", shape)

	// Pad with spaces so that the data starts on an aligned offset.
	total := len(magic) + 2 + 2 + len(dict) + 1
	if rem := total % headerAlign; rem != 0 {
		dict += strings.Repeat(" ", headerAlign-rem)
	}
	dict += "\n"
	if len(dict) > math.MaxUint16 {
		return fmt.Errorf("%w: header of %d bytes", ErrUnsupported, len(dict))
	}

	bw := bufio.NewWriter(w)
	bw.Write(magic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(dict)))
	bw.WriteString(dict)
	var buf [8]byte
	for _, v := range a.Data() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load reads the array stored at path.
func Load(path string) (*ndarray.Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening array file: %w", err)
	}
	defer f.Close()

	if !compressed(path) {
		return Read(f)
	}
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("error creating zstd reader: %w", err)
	}
	defer dec.Close()
	return Read(dec)
}

// Save writes a to path, creating or truncating the file.
func Save(path string, a *ndarray.Array) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating array file: %w", err)
	}

	if compressed(path) {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderConcurrency(1))
		if err != nil {
			f.Close()
			return fmt.Errorf("error creating zstd writer: %w", err)
		}
		if err := Write(enc, a); err != nil {
			enc.Close()
			f.Close()
			return err
		}
		if err := enc.Close(); err != nil {
			f.Close()
			return err
		}
	} else if err := Write(f, a); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func compressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}
