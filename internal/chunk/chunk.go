// Package chunk partitions a file into the byte ranges moved by independent workers.
package chunk

import (
	"fmt"

	"hermeshub/internal/errors"
)

// Descriptor is one inclusive byte range of a file. A descriptor whose End is
// before its Start is zero-length; transferring it is a no-op.
type Descriptor struct {
	Index int
	Start int64
	End   int64
}

// Len returns the number of bytes covered by the range
func (d Descriptor) Len() int64 {
	if d.End < d.Start {
		return 0
	}
	return d.End - d.Start + 1
}

// Empty reports whether the range covers no bytes
func (d Descriptor) Empty() bool {
	return d.Len() == 0
}

func (d Descriptor) String() string {
	return fmt.Sprintf("chunk %d [%d-%d]", d.Index, d.Start, d.End)
}

// Plan splits fileSize bytes into chunkCount contiguous ranges. Every chunk but
// the last has fileSize/chunkCount bytes; the last absorbs the remainder. When
// fileSize < chunkCount all chunks except the last are zero-length.
func Plan(fileSize int64, chunkCount int) ([]Descriptor, error) {
	if fileSize < 0 {
		return nil, errors.NewValidationError("file_size", fileSize, "must not be negative")
	}
	if chunkCount < 1 {
		return nil, errors.NewValidationError("chunk_count", chunkCount, "must be at least 1")
	}

	base := fileSize / int64(chunkCount)
	plan := make([]Descriptor, chunkCount)
	for i := range plan {
		start := int64(i) * base
		end := start + base - 1
		if i == chunkCount-1 {
			end = fileSize - 1
		}
		plan[i] = Descriptor{Index: i, Start: start, End: end}
	}
	return plan, nil
}

// Verify checks that plan covers [0, fileSize-1] exactly once, in index order.
func Verify(plan []Descriptor, fileSize int64) error {
	if len(plan) == 0 {
		return errors.NewValidationError("plan", 0, "no chunks")
	}

	var next int64
	for i, d := range plan {
		if d.Index != i {
			return errors.NewValidationError("plan", d.String(), fmt.Sprintf("expected index %d", i))
		}
		if d.Empty() {
			continue
		}
		if d.Start != next {
			return errors.NewValidationError("plan", d.String(), fmt.Sprintf("expected start %d", next))
		}
		next = d.End + 1
	}

	if next != fileSize {
		return errors.NewValidationError("plan", next, fmt.Sprintf("covers %d of %d bytes", next, fileSize))
	}
	return nil
}

// TotalBytes sums the lengths of all ranges in plan
func TotalBytes(plan []Descriptor) int64 {
	var total int64
	for _, d := range plan {
		total += d.Len()
	}
	return total
}
