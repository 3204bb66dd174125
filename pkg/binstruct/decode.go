package binstruct

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
	"miren.dev/studio/pkg/structure"
)

// maxEmptyElems bounds arrays whose elements occupy no bytes at all, which
// the remaining input cannot otherwise bound.
const maxEmptyElems = 1 << 20

type DecodeOptions struct {
	// CompactLengths expects the header byte written by the encoder option
	// of the same name.
	CompactLengths bool

	// NameIDs must match the overrides the data was encoded with.
	NameIDs map[string]uint16

	// OnAssetReference receives every decoded asset reference (nil, a
	// uuid.UUID or a *structure.Embedded whose value is already decoded)
	// and returns the value stored in its place.
	OnAssetReference structure.Hook
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.off < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrTruncatedData, n, r.off, len(r.data)-r.off)
	}

	b := r.data[r.off : r.off+n]
	r.off += n

	return b, nil
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) length(w uint8) (int, error) {
	switch widthBytes[w] {
	case 1:
		v, err := r.u8()
		return int(v), err
	case 2:
		v, err := r.u16()
		return int(v), err
	default:
		v, err := r.u32()
		return int(v), err
	}
}

type decoder struct {
	r     reader
	w     widths
	order *fieldOrder
	hook  structure.Hook
	sizes map[*structure.Node]int
}

// Decode reads a value of n from data. The whole input must be consumed.
// Recursive shapes are decoded with an explicit work stack, so nesting depth
// is bounded by memory rather than the goroutine stack.
func Decode(data []byte, n *structure.Node, opts DecodeOptions) (any, error) {
	d := &decoder{
		r:     reader{data: data},
		w:     defaultWidths(),
		order: newFieldOrder(opts.NameIDs),
		hook:  opts.OnAssetReference,
		sizes: make(map[*structure.Node]int),
	}

	if opts.CompactLengths {
		h, err := d.r.u8()
		if err != nil {
			return nil, err
		}

		d.w, err = parseHeader(h)
		if err != nil {
			return nil, err
		}
	}

	v, err := d.decode(n)
	if err != nil {
		return nil, err
	}

	if d.r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedData, d.r.remaining())
	}

	return v, nil
}

type frame struct {
	node   *structure.Node
	set    func(any)
	finish func() error
}

func (d *decoder) decode(n *structure.Node) (any, error) {
	var out any

	stack := []frame{{node: n, set: func(x any) { out = x }}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.finish != nil {
			if err := f.finish(); err != nil {
				return nil, err
			}
			continue
		}

		node := f.node.Resolve()

		switch node.Kind() {
		case structure.Object:
			fields, err := d.order.fields(node)
			if err != nil {
				return nil, err
			}

			res := make(map[string]any, len(fields))
			f.set(res)

			for i := len(fields) - 1; i >= 0; i-- {
				name := fields[i].Name()
				stack = append(stack, frame{
					node: fields[i].Node(),
					set:  func(x any) { res[name] = x },
				})
			}

		case structure.Array:
			count := node.Len()
			if count == 0 {
				var err error
				count, err = d.r.length(d.w[lenArray])
				if err != nil {
					return nil, err
				}

				if err := d.checkCount(node.Elem(), count); err != nil {
					return nil, err
				}
			}

			res := make([]any, count)
			f.set(res)

			for i := count - 1; i >= 0; i-- {
				stack = append(stack, frame{
					node: node.Elem(),
					set:  func(x any) { res[i] = x },
				})
			}

		case structure.AssetRef:
			tag, err := d.r.u8()
			if err != nil {
				return nil, err
			}

			switch tag {
			case refNone, refUUID:
				var ref any
				if tag == refUUID {
					b, err := d.r.take(16)
					if err != nil {
						return nil, err
					}
					if id := uuid.UUID(b); id != uuid.Nil {
						ref = id
					}
				}

				if d.hook != nil {
					ref, err = d.hook(ref, node)
					if err != nil {
						return nil, err
					}
				}
				f.set(ref)

			case refEmbedded:
				if node.Embedded() == nil {
					return nil, fmt.Errorf("%w: embedded asset in a reference that does not allow one", ErrMalformedData)
				}

				emb := &structure.Embedded{Type: node.EmbeddedType()}

				stack = append(stack, frame{
					finish: func() error {
						var res any = emb
						if d.hook != nil {
							var err error
							res, err = d.hook(emb, node)
							if err != nil {
								return err
							}
						}
						f.set(res)
						return nil
					},
				}, frame{
					node: node.Embedded(),
					set:  func(x any) { emb.Value = x },
				})

			default:
				return nil, fmt.Errorf("%w: unknown asset reference tag %d", ErrMalformedData, tag)
			}

		default:
			v, err := d.scalar(node)
			if err != nil {
				return nil, err
			}
			f.set(v)
		}
	}

	return out, nil
}

func (d *decoder) checkCount(elem *structure.Node, count int) error {
	size := d.minSize(elem, map[*structure.Node]bool{})

	if size == 0 {
		if count > maxEmptyElems {
			return fmt.Errorf("%w: %d empty elements", ErrMalformedData, count)
		}
		return nil
	}

	if count > d.r.remaining()/size {
		return fmt.Errorf("%w: %d elements of at least %d bytes, %d bytes left",
			ErrTruncatedData, count, size, d.r.remaining())
	}

	return nil
}

// minSize is the fewest bytes any value of n can be encoded in.
func (d *decoder) minSize(n *structure.Node, visiting map[*structure.Node]bool) int {
	n = n.Resolve()

	if s, ok := d.sizes[n]; ok {
		return s
	}

	if visiting[n] {
		return 0
	}
	visiting[n] = true

	var size int

	switch k := n.Kind(); k {
	case structure.String:
		size = widthBytes[d.w[lenString]]
	case structure.Bytes:
		size = widthBytes[d.w[lenBytes]]
	case structure.Enum:
		size = 1
		if enumWide(n) {
			size = 2
		}
	case structure.AssetRef:
		size = 1
	case structure.Array:
		if n.Len() == 0 {
			size = widthBytes[d.w[lenArray]]
		} else {
			size = n.Len() * d.minSize(n.Elem(), visiting)
		}
	case structure.Object:
		for _, f := range n.Fields() {
			size += d.minSize(f.Node(), visiting)
		}
	default:
		size = k.Size()
	}

	delete(visiting, n)
	d.sizes[n] = size

	return size
}

func (d *decoder) scalar(n *structure.Node) (any, error) {
	switch n.Kind() {
	case structure.Bool:
		b, err := d.r.u8()
		if err != nil {
			return nil, err
		}
		if b > 1 {
			return nil, fmt.Errorf("%w: invalid bool byte %d", ErrMalformedData, b)
		}
		return b == 1, nil
	case structure.Int8:
		v, err := d.r.u8()
		return int8(v), err
	case structure.Int16:
		v, err := d.r.u16()
		return int16(v), err
	case structure.Int32:
		v, err := d.r.u32()
		return int32(v), err
	case structure.Int64:
		v, err := d.r.u64()
		return int64(v), err
	case structure.Uint8:
		return d.r.u8()
	case structure.Uint16:
		return d.r.u16()
	case structure.Uint32:
		return d.r.u32()
	case structure.Uint64:
		return d.r.u64()
	case structure.Float32:
		v, err := d.r.u32()
		return math.Float32frombits(v), err
	case structure.Float64:
		v, err := d.r.u64()
		return math.Float64frombits(v), err
	case structure.String:
		l, err := d.r.length(d.w[lenString])
		if err != nil {
			return nil, err
		}
		b, err := d.r.take(l)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case structure.Bytes:
		l, err := d.r.length(d.w[lenBytes])
		if err != nil {
			return nil, err
		}
		b, err := d.r.take(l)
		if err != nil {
			return nil, err
		}
		return append([]byte{}, b...), nil
	case structure.UUID:
		b, err := d.r.take(16)
		if err != nil {
			return nil, err
		}
		return uuid.UUID(b), nil
	case structure.Enum:
		var (
			idx int
			err error
		)

		if enumWide(n) {
			var v uint16
			v, err = d.r.u16()
			idx = int(v)
		} else {
			var v uint8
			v, err = d.r.u8()
			idx = int(v)
		}
		if err != nil {
			return nil, err
		}

		opts := n.Options()
		if idx >= len(opts) {
			return nil, fmt.Errorf("%w: enum index %d of %d options", ErrMalformedData, idx, len(opts))
		}
		return opts[idx], nil
	default:
		return nil, fmt.Errorf("%w: cannot decode kind %s", ErrMalformedData, n.Kind())
	}
}
