package generation

import (
	"fmt"
	"time"
)

// State is a generation's position in its lifecycle. Idle and Accumulating
// describe the open window; the rest describe a finalized one.
type State uint8

const (
	StateIdle State = iota
	StateAccumulating
	StateFinalized
	StateWriting
	StateInvoking
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFinalized:
		return "finalized"
	case StateWriting:
		return "writing"
	case StateInvoking:
		return "invoking"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Record is one key/message pair read from the input topic. Key and Message
// hold the original untransformed bytes; KeyView and MessageView hold the
// decoded typed values.
type Record struct {
	Key     []byte
	Message []byte

	KeyView     any
	MessageView any

	Partition int32
	Offset    int64
}

// OffsetRange is the inclusive span of offsets one partition contributed to
// a generation.
type OffsetRange struct {
	First int64 `yaml:"first"`
	Last  int64 `yaml:"last"`
}

// Generation identifies one discrete window. Immutable once finalized.
type Generation struct {
	ID          int64
	WindowStart time.Time
	WindowEnd   time.Time
	Offsets     map[int32]OffsetRange
}

// Dataset accumulates the records of one open generation. Records are
// grouped into blocks at the block interval; the grouping is a write
// granularity knob, not a correctness boundary.
type Dataset struct {
	Generation Generation

	sealed [][]Record
	open   []Record
	count  int
}

// NewDataset opens an empty dataset for one window.
func NewDataset(id int64, start, end time.Time) *Dataset {
	return &Dataset{
		Generation: Generation{
			ID:          id,
			WindowStart: start,
			WindowEnd:   end,
			Offsets:     make(map[int32]OffsetRange),
		},
	}
}

// Append adds one record to the open block and extends the per-partition
// offset range.
func (d *Dataset) Append(rec Record) {
	d.open = append(d.open, rec)
	d.count++

	r, ok := d.Generation.Offsets[rec.Partition]
	if !ok {
		r = OffsetRange{First: rec.Offset, Last: rec.Offset}
	} else {
		if rec.Offset < r.First {
			r.First = rec.Offset
		}
		if rec.Offset > r.Last {
			r.Last = rec.Offset
		}
	}
	d.Generation.Offsets[rec.Partition] = r
}

func (d *Dataset) sealBlock() {
	if len(d.open) == 0 {
		return
	}
	d.sealed = append(d.sealed, d.open)
	d.open = nil
}

func (d *Dataset) finalize() {
	d.sealBlock()
}

func (d *Dataset) Len() int { return d.count }

func (d *Dataset) Empty() bool { return d.count == 0 }

// Blocks returns the sealed record blocks in arrival order.
func (d *Dataset) Blocks() [][]Record { return d.sealed }

// Records flattens the dataset into one ordered slice.
func (d *Dataset) Records() []Record {
	out := make([]Record, 0, d.count)
	for _, b := range d.sealed {
		out = append(out, b...)
	}
	out = append(out, d.open...)
	return out
}
