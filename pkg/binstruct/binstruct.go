// Package binstruct converts values described by a structure.Node to and
// from a compact little endian binary form.
//
// Object fields are written in ascending name id order without names or
// markers. Strings, byte buffers and variable arrays carry a length prefix
// that is a uint32 unless CompactLengths is set, in which case a leading
// header byte selects a uint8, uint16 or uint32 prefix for each of the three
// length classes. Enums are written as their option index, UUIDs as their
// 16 raw bytes, and asset references as a tag byte (0 none, 1 uuid, 2
// embedded) followed by the uuid or the inline value.
package binstruct

import (
	"errors"
	"fmt"
	"slices"

	"miren.dev/studio/pkg/structure"
)

var (
	ErrTruncatedData = errors.New("truncated data")
	ErrMalformedData = errors.New("malformed data")
)

const (
	refNone     = 0
	refUUID     = 1
	refEmbedded = 2
)

// length classes
const (
	lenString = iota
	lenBytes
	lenArray
)

var widthBytes = [...]int{1, 2, 4}

// widths holds the width code of each length class.
type widths [3]uint8

func defaultWidths() widths {
	return widths{2, 2, 2}
}

func (w widths) header() byte {
	return w[lenString] | w[lenBytes]<<2 | w[lenArray]<<4
}

func parseHeader(b byte) (widths, error) {
	w := widths{b & 3, (b >> 2) & 3, (b >> 4) & 3}

	if b>>6 != 0 {
		return w, fmt.Errorf("%w: reserved header bits set", ErrMalformedData)
	}

	for _, c := range w {
		if c > 2 {
			return w, fmt.Errorf("%w: invalid length width %d", ErrMalformedData, c)
		}
	}

	return w, nil
}

func widthFor(n int) uint8 {
	switch {
	case n <= 0xff:
		return 0
	case n <= 0xffff:
		return 1
	default:
		return 2
	}
}

// fieldOrder returns object fields in wire order, honouring name id
// overrides. Results are memoized per node for the duration of one call.
type fieldOrder struct {
	overrides map[string]uint16
	cache     map[*structure.Node][]orderedField
}

type orderedField struct {
	*structure.Field
	id uint16
}

func newFieldOrder(overrides map[string]uint16) *fieldOrder {
	return &fieldOrder{
		overrides: overrides,
		cache:     make(map[*structure.Node][]orderedField),
	}
}

func (o *fieldOrder) fields(n *structure.Node) ([]orderedField, error) {
	n = n.Resolve()

	if fs, ok := o.cache[n]; ok {
		return fs, nil
	}

	var fs []orderedField
	for _, f := range n.Fields() {
		id := f.NameID()
		if ov, ok := o.overrides[f.Name()]; ok {
			id = ov
		}
		fs = append(fs, orderedField{Field: f, id: id})
	}

	if len(o.overrides) > 0 {
		slices.SortStableFunc(fs, func(a, b orderedField) int {
			return int(a.id) - int(b.id)
		})

		for i := 1; i < len(fs); i++ {
			if fs[i].id == fs[i-1].id {
				return nil, fmt.Errorf("%w: name id %d assigned to both %s and %s",
					structure.ErrInvalidOptions, fs[i].id, fs[i-1].Name(), fs[i].Name())
			}
		}
	}

	o.cache[n] = fs

	return fs, nil
}

func enumWide(n *structure.Node) bool {
	return len(n.Options()) > 256
}
