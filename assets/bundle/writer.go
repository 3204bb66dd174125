package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Writer collects records and writes them as a bundle. Records are written
// ordered by uuid, so the output only depends on the set of records.
type Writer struct {
	Compress bool

	records []Record
}

func (w *Writer) Add(rec Record) {
	w.records = append(w.records, rec)
}

func (w *Writer) Len() int {
	return len(w.records)
}

// Summary describes a written bundle.
type Summary struct {
	Count  int
	Size   int64
	Digest string
}

func (w *Writer) WriteTo(out io.Writer) (*Summary, error) {
	records := slices.Clone(w.records)
	slices.SortFunc(records, func(a, b Record) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})

	for i := 1; i < len(records); i++ {
		if records[i].ID == records[i-1].ID {
			return nil, fmt.Errorf("%w: asset %s added twice", ErrBadBundle, records[i].ID)
		}
	}

	table := make([]byte, len(records)*entrySize)
	payloads := make([][]byte, len(records))

	offset := uint64(headerSize + len(table))

	for i, rec := range records {
		e := entry{id: rec.ID, rawLen: uint32(len(rec.Data))}

		data := rec.Data
		if w.Compress {
			if c, ok := compress(data); ok {
				data = c
				e.flags |= flagLZ4
			}
		}

		if offset+recordHeaderSize+uint64(len(data)) > math.MaxUint32 {
			return nil, fmt.Errorf("bundle exceeds %d bytes", uint32(math.MaxUint32))
		}

		e.offset = uint32(offset)
		e.marshal(table[i*entrySize:])

		payloads[i] = data
		offset += recordHeaderSize + uint64(len(data))
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	cw := &countingWriter{w: io.MultiWriter(out, h)}

	cw.Write(header(len(records)))
	cw.Write(table)

	rh := make([]byte, recordHeaderSize)
	for i, rec := range records {
		copy(rh[0:16], rec.ID[:])
		copy(rh[16:32], rec.Type[:])
		binary.LittleEndian.PutUint32(rh[32:], uint32(len(payloads[i])))

		cw.Write(rh)
		cw.Write(payloads[i])
	}

	if cw.err != nil {
		return nil, cw.err
	}

	return &Summary{
		Count:  len(records),
		Size:   cw.n,
		Digest: base58.Encode(h.Sum(nil)),
	}, nil
}

// countingWriter remembers the first error so writes can be issued
// without checking each one.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(b []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}

	n, err := c.w.Write(b)
	c.n += int64(n)
	c.err = err

	return n, err
}
