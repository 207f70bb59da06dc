// Package persistence implements the durability layer: a checksummed
// write-ahead log, full-state snapshots with atomic replacement, and the
// engine that orchestrates recovery and checkpointing.
package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fletchdb/fletch/pkg/metadata"
	"github.com/fletchdb/fletch/pkg/vectortypes"
)

// OpKind identifies the mutation carried by a WAL record.
type OpKind byte

const (
	// OpInsert records an insert-or-overwrite.
	OpInsert OpKind = 1
	// OpDelete records a delete, including deletes of absent IDs.
	OpDelete OpKind = 2
)

// ErrCorruptPayload is returned when a WAL or snapshot payload cannot be
// decoded. Distinct from a torn tail, which recovery truncates silently.
var ErrCorruptPayload = errors.New("corrupt payload")

// Record is one logical mutation. The same binary encoding serves both the
// WAL and snapshot records.
type Record struct {
	Op     OpKind
	ID     string
	Vector vectortypes.F32
	Meta   metadata.Document
}

// maxIDLen bounds decoded lengths so a corrupt length prefix cannot drive
// huge allocations.
const (
	maxIDLen     = 1 << 20
	maxDimension = 1 << 24
	maxMetaCount = 1 << 20
)

// EncodeRecord serializes a mutation record.
//
// Layout (little-endian):
//
//	[op u8][idLen u32][id]                      (delete ends here)
//	[dim u32][dim * f32][metaCount u32]
//	per entry: [keyLen u32][key][kind u8][value]
func EncodeRecord(r Record) []byte {
	size := 1 + 4 + len(r.ID)
	if r.Op == OpInsert {
		size += 4 + 4*len(r.Vector) + 4
		for k, v := range r.Meta {
			size += 4 + len(k) + 1
			switch v.Kind {
			case metadata.KindString:
				size += 4 + len(v.S)
			case metadata.KindInt, metadata.KindFloat:
				size += 8
			case metadata.KindBool:
				size++
			}
		}
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(r.Op))
	buf = appendString(buf, r.ID)

	if r.Op != OpInsert {
		return buf
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Vector)))
	for _, f := range r.Vector {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Meta)))
	for k, v := range r.Meta {
		buf = appendString(buf, k)
		buf = append(buf, byte(v.Kind))
		switch v.Kind {
		case metadata.KindString:
			buf = appendString(buf, v.S)
		case metadata.KindInt:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v.I64))
		case metadata.KindFloat:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F64))
		case metadata.KindBool:
			if v.B {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	}

	return buf
}

// DecodeRecord deserializes a mutation record.
func DecodeRecord(data []byte) (Record, error) {
	d := decoder{buf: data}

	op := d.byte()
	id := d.string(maxIDLen)

	rec := Record{Op: OpKind(op), ID: id}

	switch rec.Op {
	case OpDelete:
		if d.err != nil || !d.done() {
			return Record{}, fmt.Errorf("%w: malformed delete record", ErrCorruptPayload)
		}
		return rec, nil

	case OpInsert:
		dim := d.uint32(maxDimension)
		if d.err != nil || int(dim)*4 > len(d.buf)-d.off {
			return Record{}, fmt.Errorf("%w: vector overruns payload", ErrCorruptPayload)
		}
		vec := make(vectortypes.F32, dim)
		for i := range vec {
			vec[i] = math.Float32frombits(d.uint32(math.MaxUint32))
		}
		rec.Vector = vec

		count := d.uint32(maxMetaCount)
		if count > 0 {
			rec.Meta = make(metadata.Document, count)
		}
		for i := uint32(0); i < count; i++ {
			key := d.string(maxIDLen)
			kind := metadata.Kind(d.byte())
			var v metadata.Value
			switch kind {
			case metadata.KindString:
				v = metadata.String(d.string(maxIDLen))
			case metadata.KindInt:
				v = metadata.Int(int64(d.uint64()))
			case metadata.KindFloat:
				v = metadata.Float(math.Float64frombits(d.uint64()))
			case metadata.KindBool:
				v = metadata.Bool(d.byte() != 0)
			default:
				return Record{}, fmt.Errorf("%w: unknown metadata kind %d", ErrCorruptPayload, kind)
			}
			if d.err == nil {
				rec.Meta[key] = v
			}
		}

		if d.err != nil || !d.done() {
			return Record{}, fmt.Errorf("%w: malformed insert record", ErrCorruptPayload)
		}
		return rec, nil

	default:
		return Record{}, fmt.Errorf("%w: unknown op %d", ErrCorruptPayload, op)
	}
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// decoder is a cursor over a payload that records the first error instead
// of returning one per read.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = ErrCorruptPayload
	}
}

func (d *decoder) done() bool { return d.off == len(d.buf) }

func (d *decoder) byte() byte {
	if d.err != nil || d.off+1 > len(d.buf) {
		d.fail()
		return 0
	}
	b := d.buf[d.off]
	d.off++
	return b
}

func (d *decoder) uint32(max uint32) uint32 {
	if d.err != nil || d.off+4 > len(d.buf) {
		d.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	if v > max {
		d.fail()
		return 0
	}
	return v
}

func (d *decoder) uint64() uint64 {
	if d.err != nil || d.off+8 > len(d.buf) {
		d.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) string(max uint32) string {
	n := d.uint32(max)
	if d.err != nil || d.off+int(n) > len(d.buf) {
		d.fail()
		return ""
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n)
	return s
}
