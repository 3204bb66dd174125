package bundle

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"miren.dev/studio/assets"
)

// Reader reads records from a bundle through its offset table. It is an
// asset source.
type Reader struct {
	r       io.ReaderAt
	size    int64
	closer  io.Closer
	entries map[uuid.UUID]entry
	order   []uuid.UUID
}

var _ assets.Source = (*Reader)(nil)

func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	if size < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrBadBundle, size)
	}

	hdr := make([]byte, headerSize)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, err
	}

	count, err := parseHeader(hdr)
	if err != nil {
		return nil, err
	}

	if int64(count) > (size-headerSize)/(entrySize+recordHeaderSize) {
		return nil, fmt.Errorf("%w: %d records do not fit in %d bytes", ErrBadBundle, count, size)
	}

	table := make([]byte, count*entrySize)
	if _, err := r.ReadAt(table, headerSize); err != nil {
		return nil, err
	}

	br := &Reader{
		r:       r,
		size:    size,
		entries: make(map[uuid.UUID]entry, count),
		order:   make([]uuid.UUID, 0, count),
	}

	for i := 0; i < count; i++ {
		var e entry
		e.unmarshal(table[i*entrySize:])

		if int64(e.offset)+recordHeaderSize > size {
			return nil, fmt.Errorf("%w: record %s starts past the end", ErrBadBundle, e.id)
		}

		if _, dup := br.entries[e.id]; dup {
			return nil, fmt.Errorf("%w: asset %s appears twice", ErrBadBundle, e.id)
		}

		br.entries[e.id] = e
		br.order = append(br.order, e.id)
	}

	return br, nil
}

// Open opens a bundle file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	r, err := NewReader(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading bundle %s: %w", path, err)
	}

	r.closer = f
	return r, nil
}

func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// IDs lists the assets in the bundle in file order.
func (r *Reader) IDs() []uuid.UUID {
	return append([]uuid.UUID(nil), r.order...)
}

func (r *Reader) Has(id uuid.UUID) bool {
	_, ok := r.entries[id]
	return ok
}

// Record reads one record and expands its payload.
func (r *Reader) Record(id uuid.UUID) (*Record, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, nil
	}

	rh := make([]byte, recordHeaderSize)
	if _, err := r.r.ReadAt(rh, int64(e.offset)); err != nil {
		return nil, err
	}

	if uuid.UUID(rh[0:16]) != id {
		return nil, fmt.Errorf("%w: table entry for %s points at %s", ErrBadBundle, id, uuid.UUID(rh[0:16]))
	}

	length := int64(binary.LittleEndian.Uint32(rh[32:]))
	if int64(e.offset)+recordHeaderSize+length > r.size {
		return nil, fmt.Errorf("%w: record %s runs past the end", ErrBadBundle, id)
	}

	data := make([]byte, length)
	if _, err := r.r.ReadAt(data, int64(e.offset)+recordHeaderSize); err != nil {
		return nil, err
	}

	if e.flags&flagLZ4 != 0 {
		var err error
		data, err = decompress(data, e.rawLen)
		if err != nil {
			return nil, err
		}
	} else if uint32(len(data)) != e.rawLen {
		return nil, fmt.Errorf("%w: record %s has %d bytes, want %d", ErrBadBundle, id, len(data), e.rawLen)
	}

	return &Record{
		ID:   id,
		Type: uuid.UUID(rh[16:32]),
		Data: data,
	}, nil
}

func (r *Reader) Fetch(ctx context.Context, id uuid.UUID) (*assets.Blob, error) {
	rec, err := r.Record(id)
	if err != nil || rec == nil {
		return nil, err
	}

	return &assets.Blob{TypeUUID: rec.Type, Data: rec.Data}, nil
}

// Scan reads the records of a bundle in sequence. Compressed payloads are
// returned as stored, since their expanded size is only kept in the table.
func Scan(r io.Reader, fn func(rec Record, compressed bool) error) error {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return fmt.Errorf("%w: %w", ErrBadBundle, err)
	}

	count, err := parseHeader(hdr)
	if err != nil {
		return err
	}

	// count is unchecked until the table has been read, so nothing is
	// sized from it up front.
	flags := make(map[uuid.UUID]uint8)

	table := make([]byte, entrySize)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, table); err != nil {
			return fmt.Errorf("%w: %w", ErrBadBundle, err)
		}

		var e entry
		e.unmarshal(table)
		flags[e.id] = e.flags
	}

	rh := make([]byte, recordHeaderSize)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, rh); err != nil {
			return fmt.Errorf("%w: %w", ErrBadBundle, err)
		}

		rec := Record{
			ID:   uuid.UUID(rh[0:16]),
			Type: uuid.UUID(rh[16:32]),
		}

		var buf bytes.Buffer
		length := int64(binary.LittleEndian.Uint32(rh[32:]))
		if n, err := io.CopyN(&buf, r, length); err != nil {
			return fmt.Errorf("%w: record %s truncated at %d of %d bytes", ErrBadBundle, rec.ID, n, length)
		}
		rec.Data = buf.Bytes()

		if err := fn(rec, flags[rec.ID]&flagLZ4 != 0); err != nil {
			return err
		}
	}

	return nil
}
