package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/dshills/coderag/pkg/types"
)

// vectors.bin layout, all little-endian:
//
//	magic   [4]byte "CRVX"
//	version uint32
//	dim     uint32
//	count   uint64
//	data    count*dim float32, row-major
const (
	vectorMagic      = "CRVX"
	vectorVersion    = uint32(1)
	vectorHeaderSize = 4 + 4 + 4 + 8
)

var errShortVectorFile = errors.New("truncated vector data")

// Vectors is a flat row-major matrix of embeddings
type Vectors struct {
	Dim  int
	Data []float32
}

// Len returns the number of rows
func (v *Vectors) Len() int {
	if v == nil || v.Dim == 0 {
		return 0
	}
	return len(v.Data) / v.Dim
}

// Row returns row i without copying
func (v *Vectors) Row(i int) []float32 {
	return v.Data[i*v.Dim : (i+1)*v.Dim]
}

// Append returns a new matrix with rows added; the receiver is not modified
func (v *Vectors) Append(rows [][]float32) (*Vectors, error) {
	out := &Vectors{Dim: v.Dim}
	out.Data = make([]float32, len(v.Data), len(v.Data)+len(rows)*v.Dim)
	copy(out.Data, v.Data)
	for i, r := range rows {
		if len(r) != v.Dim {
			return nil, fmt.Errorf("row %d has dimension %d, expected %d", i, len(r), v.Dim)
		}
		out.Data = append(out.Data, r...)
	}
	return out, nil
}

// NewVectors packs rows into a flat matrix
func NewVectors(dim int, rows [][]float32) (*Vectors, error) {
	return (&Vectors{Dim: dim}).Append(rows)
}

// WriteVectors encodes v to w
func WriteVectors(w io.Writer, v *Vectors) error {
	bw := bufio.NewWriter(w)

	header := make([]byte, vectorHeaderSize)
	copy(header, vectorMagic)
	binary.LittleEndian.PutUint32(header[4:], vectorVersion)
	binary.LittleEndian.PutUint32(header[8:], uint32(v.Dim))
	binary.LittleEndian.PutUint64(header[12:], uint64(v.Len()))
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if _, err := bw.Write(serializeVector(v.Data)); err != nil {
		return err
	}
	return bw.Flush()
}

// VectorHeader is the fixed prefix of a vectors file
type VectorHeader struct {
	Version uint32
	Dim     int
	Count   int
}

func readHeader(r io.Reader) (VectorHeader, error) {
	header := make([]byte, vectorHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return VectorHeader{}, errShortVectorFile
	}
	if string(header[:4]) != vectorMagic {
		return VectorHeader{}, errors.New("bad magic")
	}
	h := VectorHeader{
		Version: binary.LittleEndian.Uint32(header[4:]),
		Dim:     int(binary.LittleEndian.Uint32(header[8:])),
		Count:   int(binary.LittleEndian.Uint64(header[12:])),
	}
	if h.Version != vectorVersion {
		return VectorHeader{}, fmt.Errorf("unsupported version %d", h.Version)
	}
	if h.Count > 0 && h.Dim == 0 {
		return VectorHeader{}, errors.New("zero dimension with non-empty data")
	}
	return h, nil
}

// ReadVectors decodes a matrix written by WriteVectors. Trailing bytes are an error.
func ReadVectors(r io.Reader) (*Vectors, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	blob := make([]byte, h.Count*h.Dim*4)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, errShortVectorFile
	}
	if n, _ := r.Read(make([]byte, 1)); n > 0 {
		return nil, errors.New("trailing data after vectors")
	}
	return &Vectors{Dim: h.Dim, Data: deserializeVector(blob)}, nil
}

// WriteVectorFile writes v to path
func WriteVectorFile(path string, v *Vectors) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteVectors(f, v); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write vectors: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadVectorFile loads path. Missing files surface the os error; malformed
// contents surface a *types.CorruptionError.
func ReadVectorFile(path string) (*Vectors, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	h, err := readHeader(f)
	if err != nil {
		return nil, &types.CorruptionError{Path: path, Reason: err.Error()}
	}
	if want := int64(vectorHeaderSize) + int64(h.Count)*int64(h.Dim)*4; info.Size() != want {
		return nil, &types.CorruptionError{
			Path:   path,
			Reason: fmt.Sprintf("size %d does not match header (%d vectors of dimension %d)", info.Size(), h.Count, h.Dim),
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	v, err := ReadVectors(bufio.NewReader(f))
	if err != nil {
		return nil, &types.CorruptionError{Path: path, Reason: err.Error()}
	}
	return v, nil
}

// ReadVectorHeader reads only the header of path
func ReadVectorHeader(path string) (VectorHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return VectorHeader{}, err
	}
	defer func() { _ = f.Close() }()
	h, err := readHeader(f)
	if err != nil {
		return VectorHeader{}, &types.CorruptionError{Path: path, Reason: err.Error()}
	}
	return h, nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// SquaredL2 returns the squared euclidean distance between equal-length vectors
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
