package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const npyMagic = "\x93NUMPY"

var npyShapeRE = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)

// writeNPY encodes a C-ordered float64 array in NumPy .npy format v1.0
func writeNPY(w io.Writer, shape []int, data []float64) error {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}

	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%s), }", shapeStr)
	// magic, version and length take 10 bytes; the whole preamble is
	// padded to a multiple of 64 and ends with a newline
	total := 10 + len(header) + 1
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy header too long")
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(npyMagic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	bw.WriteString(header)

	var buf [8]byte
	for _, v := range data {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// npyChunk bounds the up-front allocation; larger arrays grow as their
// data actually arrives
const npyChunk = 1 << 20

// readNPY decodes a little endian float64 C-ordered .npy array. A non-nil
// want is the shape the caller expects; any other shape is rejected before
// the data is read.
func readNPY(r io.Reader, want []int) ([]int, []float64, error) {
	br := bufio.NewReader(r)

	var pre [8]byte
	if _, err := io.ReadFull(br, pre[:]); err != nil {
		return nil, nil, fmt.Errorf("npy: reading magic: %w", err)
	}
	if string(pre[:6]) != npyMagic {
		return nil, nil, fmt.Errorf("npy: bad magic")
	}

	var headerLen int
	switch pre[6] {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, nil, fmt.Errorf("npy: reading header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, nil, fmt.Errorf("npy: reading header length: %w", err)
		}
		headerLen = int(n)
	default:
		return nil, nil, fmt.Errorf("npy: unsupported version %d.%d", pre[6], pre[7])
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, nil, fmt.Errorf("npy: reading header: %w", err)
	}
	h := string(header)
	if !strings.Contains(h, "'descr': '<f8'") {
		return nil, nil, fmt.Errorf("npy: unsupported dtype in header %q", strings.TrimSpace(h))
	}
	if !strings.Contains(h, "'fortran_order': False") {
		return nil, nil, fmt.Errorf("npy: fortran order arrays are not supported")
	}

	m := npyShapeRE.FindStringSubmatch(h)
	if m == nil {
		return nil, nil, fmt.Errorf("npy: no shape in header")
	}
	var shape []int
	count := 1
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 {
			return nil, nil, fmt.Errorf("npy: bad dimension %q", part)
		}
		if d > 0 && count > math.MaxInt/8/d {
			return nil, nil, fmt.Errorf("npy: shape (%s) is too large", strings.TrimSpace(m[1]))
		}
		shape = append(shape, d)
		count *= d
	}
	if want != nil && !slices.Equal(shape, want) {
		return nil, nil, fmt.Errorf("npy: shape %v, expected %v", shape, want)
	}

	data := make([]float64, 0, min(count, npyChunk))
	var buf [8]byte
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, nil, fmt.Errorf("npy: reading element %d of %d: %w", i, count, err)
		}
		data = append(data, math.Float64frombits(binary.LittleEndian.Uint64(buf[:])))
	}
	return shape, data, nil
}
