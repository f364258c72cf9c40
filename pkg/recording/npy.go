package recording

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// .npy format: magic, version, header length, then a Python dict literal
// describing dtype, memory order and shape, padded so the data starts on a
// 64 byte boundary.
const (
	npyMagic     = "\x93NUMPY"
	npyAlignment = 64
	maxNPYHeader = 1 << 20
	maxNPYString = 1 << 20
)

// npyHeader describes one array member.
type npyHeader struct {
	Descr        string
	FortranOrder bool
	Shape        []int

	// offset is the number of bytes before the data.
	offset int64
}

// count is the number of elements the shape holds, or -1 if the product
// does not fit an int.
func (h npyHeader) count() int {
	n := 1
	for _, d := range h.Shape {
		if d < 0 || (d > 0 && n > math.MaxInt/d) {
			return -1
		}
		n *= d
	}
	return n
}

// dataLen is the number of data bytes the header declares.
func (h npyHeader) dataLen() (int64, error) {
	dt, err := parseDescr(h.Descr)
	if err != nil {
		return 0, err
	}
	item := dt.size
	if dt.kind == 'U' {
		if item > math.MaxInt/4 {
			return 0, fmt.Errorf("dtype %q too wide", h.Descr)
		}
		item *= 4
	}
	n := h.count()
	if n < 0 || (n > 0 && item > math.MaxInt64/n) {
		return 0, fmt.Errorf("shape %v too large", h.Shape)
	}
	return int64(n) * int64(item), nil
}

func (h npyHeader) String() string {
	return fmt.Sprintf("%s%v", h.Descr, h.Shape)
}

func formatShape(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// writeNPY writes a version 1.0 array with C memory order.
func writeNPY(w io.Writer, descr string, shape []int, data []byte) error {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, formatShape(shape))
	// magic(6) + version(2) + length(2) + dict + padding + '\n'
	total := len(npyMagic) + 4 + len(dict) + 1
	pad := (npyAlignment - total%npyAlignment) % npyAlignment
	header := dict + strings.Repeat(" ", pad) + "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy header too long: %d bytes", len(header))
	}

	var pre [len(npyMagic) + 4]byte
	copy(pre[:], npyMagic)
	pre[6], pre[7] = 1, 0
	binary.LittleEndian.PutUint16(pre[8:], uint16(len(header)))
	if _, err := w.Write(pre[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func float64Bytes(vals []float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

func int64Bytes(v int64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(v))
	return out
}

// unicodeBytes encodes s as a numpy '<U' scalar: UTF-32LE code points.
func unicodeBytes(s string) (string, []byte) {
	runes := []rune(s)
	out := make([]byte, 4*len(runes))
	for i, r := range runes {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(r))
	}
	n := len(runes)
	if n == 0 {
		n = 1
		out = make([]byte, 4)
	}
	return "<U" + strconv.Itoa(n), out
}

// readNPYHeader consumes the header of an .npy stream.
func readNPYHeader(r io.Reader) (npyHeader, error) {
	var pre [len(npyMagic) + 2]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return npyHeader{}, fmt.Errorf("read npy preamble: %w", err)
	}
	if string(pre[:len(npyMagic)]) != npyMagic {
		return npyHeader{}, fmt.Errorf("not an npy array")
	}

	var headerLen, lenBytes int
	switch major := pre[6]; major {
	case 1:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return npyHeader{}, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen, lenBytes = int(binary.LittleEndian.Uint16(b[:])), 2
	case 2, 3:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return npyHeader{}, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen, lenBytes = int(binary.LittleEndian.Uint32(b[:])), 4
	default:
		return npyHeader{}, fmt.Errorf("unsupported npy version %d.%d", major, pre[7])
	}
	if headerLen > maxNPYHeader {
		return npyHeader{}, fmt.Errorf("npy header too long: %d bytes", headerLen)
	}

	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return npyHeader{}, fmt.Errorf("read npy header: %w", err)
	}
	if !utf8.Valid(buf) {
		return npyHeader{}, fmt.Errorf("npy header is not valid text")
	}
	h, err := parseNPYDict(string(buf))
	if err != nil {
		return h, err
	}
	h.offset = int64(len(pre) + lenBytes + headerLen)
	return h, nil
}

// parseNPYDict parses the fixed dict literal numpy writes, for example
// {'descr': '<f8', 'fortran_order': False, 'shape': (5, 6), }
func parseNPYDict(s string) (npyHeader, error) {
	var h npyHeader
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return h, fmt.Errorf("malformed npy header %q", s)
	}

	descr, ok := dictValue(s, "descr")
	if !ok {
		return h, fmt.Errorf("npy header has no descr")
	}
	h.Descr = strings.Trim(descr, `'"`)

	order, ok := dictValue(s, "fortran_order")
	if !ok {
		return h, fmt.Errorf("npy header has no fortran_order")
	}
	h.FortranOrder = order == "True"

	shape, ok := dictValue(s, "shape")
	if !ok || !strings.HasPrefix(shape, "(") || !strings.HasSuffix(shape, ")") {
		return h, fmt.Errorf("npy header has no shape")
	}
	h.Shape = []int{}
	for _, part := range strings.Split(strings.Trim(shape, "()"), ",") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), "L"))
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 {
			return h, fmt.Errorf("bad npy shape %s", shape)
		}
		h.Shape = append(h.Shape, d)
	}
	return h, nil
}

// dictValue returns the literal following 'key': up to the next top level comma.
func dictValue(s, key string) (string, bool) {
	idx := strings.Index(s, "'"+key+"'")
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimSpace(s[idx+len(key)+2:])
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	rest = strings.TrimSpace(rest[1:])
	depth := 0
	for i, c := range rest {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return rest[:i+1], true
			}
		case ',', '}':
			if depth == 0 {
				return strings.TrimSpace(rest[:i]), true
			}
		}
	}
	return "", false
}

// dtype is a parsed numpy type string such as '<f8'.
type dtype struct {
	order binary.ByteOrder
	kind  byte
	size  int
}

func parseDescr(descr string) (dtype, error) {
	if len(descr) < 3 {
		return dtype{}, fmt.Errorf("unsupported dtype %q", descr)
	}
	var dt dtype
	switch descr[0] {
	case '<', '|', '=':
		dt.order = binary.LittleEndian
	case '>':
		dt.order = binary.BigEndian
	default:
		return dtype{}, fmt.Errorf("unsupported dtype %q", descr)
	}
	dt.kind = descr[1]
	size, err := strconv.Atoi(descr[2:])
	if err != nil || size <= 0 {
		return dtype{}, fmt.Errorf("unsupported dtype %q", descr)
	}
	dt.size = size
	return dt, nil
}

// readFloat64s decodes a numeric array of any supported dtype into float64s.
func readFloat64s(h npyHeader, r io.Reader) ([]float64, error) {
	dt, err := parseDescr(h.Descr)
	if err != nil {
		return nil, err
	}
	if h.FortranOrder && len(h.Shape) > 1 {
		return nil, fmt.Errorf("fortran ordered arrays are not supported")
	}
	var conv func([]byte) float64
	switch {
	case dt.kind == 'f' && dt.size == 8:
		conv = func(b []byte) float64 { return math.Float64frombits(dt.order.Uint64(b)) }
	case dt.kind == 'f' && dt.size == 4:
		conv = func(b []byte) float64 { return float64(math.Float32frombits(dt.order.Uint32(b))) }
	case dt.kind == 'i' && dt.size == 8:
		conv = func(b []byte) float64 { return float64(int64(dt.order.Uint64(b))) }
	case dt.kind == 'i' && dt.size == 4:
		conv = func(b []byte) float64 { return float64(int32(dt.order.Uint32(b))) }
	case dt.kind == 'u' && dt.size == 1:
		conv = func(b []byte) float64 { return float64(b[0]) }
	default:
		return nil, fmt.Errorf("unsupported numeric dtype %q", h.Descr)
	}

	n := h.count()
	if n < 0 || (n > 0 && dt.size > math.MaxInt/n) {
		return nil, fmt.Errorf("shape %v too large", h.Shape)
	}
	raw := make([]byte, n*dt.size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read %s data: %w", h, err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = conv(raw[i*dt.size : (i+1)*dt.size])
	}
	return out, nil
}

// readUint8s reads a '|u1' array.
func readUint8s(h npyHeader, r io.Reader) ([]byte, error) {
	if h.Descr != "|u1" && h.Descr != "<u1" {
		return nil, fmt.Errorf("image data must be uint8, got %q", h.Descr)
	}
	n := h.count()
	if n < 0 {
		return nil, fmt.Errorf("shape %v too large", h.Shape)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read %s data: %w", h, err)
	}
	return raw, nil
}

// readString decodes a scalar '<U' (UTF-32) or '|S' (bytes) array.
func readString(h npyHeader, r io.Reader) (string, error) {
	if h.count() != 1 {
		return "", fmt.Errorf("expected a scalar string, got shape %v", h.Shape)
	}
	dt, err := parseDescr(h.Descr)
	if err != nil {
		return "", err
	}
	if dt.size > maxNPYString {
		return "", fmt.Errorf("string dtype %q too wide", h.Descr)
	}
	switch dt.kind {
	case 'U':
		raw := make([]byte, 4*dt.size)
		if _, err := io.ReadFull(r, raw); err != nil {
			return "", fmt.Errorf("read string: %w", err)
		}
		var sb strings.Builder
		for i := 0; i < dt.size; i++ {
			c := rune(dt.order.Uint32(raw[4*i:]))
			if c == 0 {
				break
			}
			sb.WriteRune(c)
		}
		return sb.String(), nil
	case 'S':
		raw := make([]byte, dt.size)
		if _, err := io.ReadFull(r, raw); err != nil {
			return "", fmt.Errorf("read string: %w", err)
		}
		return string(bytes.TrimRight(raw, "\x00")), nil
	}
	return "", fmt.Errorf("unsupported string dtype %q", h.Descr)
}

// readInt decodes a scalar integer array.
func readInt(h npyHeader, r io.Reader) (int64, error) {
	if h.count() != 1 {
		return 0, fmt.Errorf("expected a scalar integer, got shape %v", h.Shape)
	}
	vals, err := readFloat64s(h, r)
	if err != nil {
		return 0, err
	}
	if vals[0] != math.Trunc(vals[0]) {
		return 0, fmt.Errorf("expected an integer, got %v", vals[0])
	}
	return int64(vals[0]), nil
}
