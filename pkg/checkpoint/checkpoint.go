// Package checkpoint reads and writes model parameters stored in the
// safetensors format.
//
// Safetensors layout:
//
//	[8 bytes: header length (uint64, little-endian)]
//	[N bytes: JSON header]
//	[remaining: tensor data]
//
// Trainers often wrap the weights of a model inside a larger record
// (optimizer state, epoch counters, ...). When such a record is flattened
// into safetensors the parameter names carry the wrapper key as a prefix, for
// example "generator_state_dict.enc1.0.weight". Unwrap strips the first
// recognized prefix.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/docker/go-units"
)

// maxHeaderSize guards against corrupt length prefixes
const maxHeaderSize = 100 * 1024 * 1024

// WrapperKeys are the recognized wrapper record keys in priority order
var WrapperKeys = []string{"generator_state_dict", "model_state_dict", "state_dict"}

// Param is one named tensor
type Param struct {
	Shape []int64
	Data  []float32
}

// NumElements returns the product of the shape
func (p Param) NumElements() int64 {
	n := int64(1)
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// StateDict maps parameter names to tensors
type StateDict map[string]Param

// Checkpoint is a parsed safetensors file
type Checkpoint struct {
	Metadata map[string]string
	Tensors  StateDict
	// Size is the file size in bytes, zero for checkpoints built in memory
	Size int64
}

type tensorInfo struct {
	Dtype       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Unwrap returns the entries stored under the first key in keys that has any
// "key."-prefixed entry, with the prefix removed, together with that key.
// When no key matches the whole state dict is returned with an empty key.
func Unwrap(sd StateDict, keys []string) (StateDict, string) {
	for _, key := range keys {
		prefix := key + "."
		inner := StateDict{}
		for name, p := range sd {
			if strings.HasPrefix(name, prefix) {
				inner[strings.TrimPrefix(name, prefix)] = p
			}
		}
		if len(inner) > 0 {
			return inner, key
		}
	}
	return sd, ""
}

// Has reports whether name exists
func (sd StateDict) Has(name string) bool {
	_, ok := sd[name]
	return ok
}

// Get returns the data of name after checking its shape
func (sd StateDict) Get(name string, shape ...int64) ([]float32, error) {
	p, ok := sd[name]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", name)
	}
	if !equalShape(p.Shape, shape) {
		return nil, fmt.Errorf("parameter %q has shape %v, want %v", name, p.Shape, shape)
	}
	return p.Data, nil
}

// Parameters sums the element counts of all tensors
func (sd StateDict) Parameters() int64 {
	var total int64
	for _, p := range sd {
		total += p.NumElements()
	}
	return total
}

// Names returns the sorted parameter names
func (sd StateDict) Names() []string {
	names := make([]string, 0, len(sd))
	for name := range sd {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary describes the checkpoint for logs, e.g. "54.41 M params, 217.6MB"
func (c *Checkpoint) Summary() string {
	params := units.CustomSize("%.2f%s", float64(c.Tensors.Parameters()), 1000.0, []string{"", " K", " M", " B", " T"})
	if c.Size <= 0 {
		return params + " params"
	}
	return fmt.Sprintf("%s params, %s", params, units.HumanSizeWithPrecision(float64(c.Size), 4))
}

// Load reads a safetensors file
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	ckpt, err := Read(f)
	if err != nil {
		return nil, err
	}
	if info, err := f.Stat(); err == nil {
		ckpt.Size = info.Size()
	}
	return ckpt, nil
}

// Read parses a safetensors stream
func Read(r io.Reader) (*Checkpoint, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("header length too large: %d bytes", headerLen)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("parse JSON header: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tensor data: %w", err)
	}

	ckpt := &Checkpoint{Tensors: StateDict{}}
	for name, value := range raw {
		if name == "__metadata__" {
			if err := json.Unmarshal(value, &ckpt.Metadata); err != nil {
				return nil, fmt.Errorf("parse metadata: %w", err)
			}
			continue
		}

		var info tensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, fmt.Errorf("parse tensor %q: %w", name, err)
		}
		p, err := decode(name, info, data)
		if err != nil {
			return nil, err
		}
		ckpt.Tensors[name] = p
	}
	return ckpt, nil
}

// Save writes the checkpoint as float32 safetensors
func Save(path string, ckpt *Checkpoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	if err := Write(f, ckpt); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write serializes the checkpoint as float32 safetensors. Tensors are laid out in name order.
func Write(w io.Writer, ckpt *Checkpoint) error {
	header := map[string]interface{}{}
	if len(ckpt.Metadata) > 0 {
		header["__metadata__"] = ckpt.Metadata
	}

	names := ckpt.Tensors.Names()
	var offset int64
	for _, name := range names {
		p := ckpt.Tensors[name]
		if int64(len(p.Data)) != p.NumElements() {
			return fmt.Errorf("tensor %q has %d values for shape %v", name, len(p.Data), p.Shape)
		}
		size := int64(len(p.Data)) * 4
		shape := p.Shape
		if shape == nil {
			shape = []int64{}
		}
		header[name] = tensorInfo{Dtype: "F32", Shape: shape, DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	for len(headerJSON)%8 != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	buf := make([]byte, 4)
	for _, name := range names {
		for _, v := range ckpt.Tensors[name].Data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("write tensor %q: %w", name, err)
			}
		}
	}
	return nil
}

func decode(name string, info tensorInfo, data []byte) (Param, error) {
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > int64(len(data)) {
		return Param{}, fmt.Errorf("tensor %q: data offsets %v out of range (%d bytes)", name, info.DataOffsets, len(data))
	}
	raw := data[start:end]

	p := Param{Shape: info.Shape}
	n := p.NumElements()
	width, ok := dtypeWidth[info.Dtype]
	if !ok {
		return Param{}, fmt.Errorf("tensor %q: unsupported dtype %q", name, info.Dtype)
	}
	if int64(len(raw)) != n*width {
		return Param{}, fmt.Errorf("tensor %q: %d bytes for %d %s values", name, len(raw), n, info.Dtype)
	}

	p.Data = make([]float32, n)
	le := binary.LittleEndian
	for i := range p.Data {
		b := raw[int64(i)*width:]
		switch info.Dtype {
		case "F32":
			p.Data[i] = math.Float32frombits(le.Uint32(b))
		case "F64":
			p.Data[i] = float32(math.Float64frombits(le.Uint64(b)))
		case "F16":
			p.Data[i] = halfToFloat32(le.Uint16(b))
		case "BF16":
			p.Data[i] = math.Float32frombits(uint32(le.Uint16(b)) << 16)
		case "I64":
			p.Data[i] = float32(int64(le.Uint64(b)))
		case "I32":
			p.Data[i] = float32(int32(le.Uint32(b)))
		}
	}
	return p, nil
}

var dtypeWidth = map[string]int64{
	"F32":  4,
	"F64":  8,
	"F16":  2,
	"BF16": 2,
	"I64":  8,
	"I32":  4,
}

func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	switch exp {
	case 0:
		// zero or subnormal: mant * 2^-24
		v := float32(mant) / (1 << 24)
		return math.Float32frombits(math.Float32bits(v) | sign)
	case 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
	}
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
