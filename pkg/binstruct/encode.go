package binstruct

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
	"miren.dev/studio/pkg/structure"
)

type EncodeOptions struct {
	// CompactLengths writes a header byte and sizes length prefixes to the
	// largest length present in the value.
	CompactLengths bool

	// NameIDs overrides the name id of fields by field name.
	NameIDs map[string]uint16

	// OnAssetReference receives the raw value of every asset reference
	// before it is written and returns nil, a uuid or *structure.Embedded.
	OnAssetReference structure.Hook

	// StripDefaultValues is only meaningful for disk output and is
	// rejected here; the binary form has no field presence markers.
	StripDefaultValues bool
}

// Encode writes v in the binary form of n. The output is deterministic for
// a given value, node and options.
func Encode(v any, n *structure.Node, opts EncodeOptions) ([]byte, error) {
	if opts.StripDefaultValues {
		return nil, fmt.Errorf("%w: default stripping is not supported for binary output", structure.ErrInvalidOptions)
	}

	canon, err := structure.Normalize(v, n, structure.NormalizeOptions{
		Substitute: opts.OnAssetReference,
	})
	if err != nil {
		return nil, err
	}

	e := &encoder{
		order: newFieldOrder(opts.NameIDs),
		w:     defaultWidths(),
	}

	if opts.CompactLengths {
		e.w, err = measure(canon, n)
		if err != nil {
			return nil, err
		}
		e.buf = append(e.buf, e.w.header())
	}

	if err := e.encode(canon, n); err != nil {
		return nil, err
	}

	return e.buf, nil
}

func measure(v any, n *structure.Node) (widths, error) {
	var longest [3]int

	err := structure.Walk(v, n, func(v any, n *structure.Node) error {
		switch n.Kind() {
		case structure.String:
			longest[lenString] = bigger(longest[lenString], len(v.(string)))
		case structure.Bytes:
			longest[lenBytes] = bigger(longest[lenBytes], len(v.([]byte)))
		case structure.Array:
			if n.Len() == 0 {
				longest[lenArray] = bigger(longest[lenArray], len(v.([]any)))
			}
		}
		return nil
	})

	return widths{widthFor(longest[0]), widthFor(longest[1]), widthFor(longest[2])}, err
}

func bigger(a, b int) int {
	if b > a {
		return b
	}
	return a
}

type encoder struct {
	buf   []byte
	order *fieldOrder
	w     widths
}

func (e *encoder) length(class int, n int) error {
	if uint64(n) > math.MaxUint32 {
		return fmt.Errorf("%w: length %d exceeds uint32", structure.ErrSchemaMismatch, n)
	}

	switch widthBytes[e.w[class]] {
	case 1:
		e.buf = append(e.buf, byte(n))
	case 2:
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(n))
	default:
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(n))
	}

	return nil
}

func (e *encoder) encode(v any, n *structure.Node) error {
	type item struct {
		node *structure.Node
		v    any
	}

	stack := []item{{node: n, v: v}}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := it.node.Resolve()

		switch node.Kind() {
		case structure.Object:
			fields, err := e.order.fields(node)
			if err != nil {
				return err
			}

			m := it.v.(map[string]any)
			for i := len(fields) - 1; i >= 0; i-- {
				stack = append(stack, item{node: fields[i].Node(), v: m[fields[i].Name()]})
			}

		case structure.Array:
			elems := it.v.([]any)
			if node.Len() == 0 {
				if err := e.length(lenArray, len(elems)); err != nil {
					return err
				}
			}

			for i := len(elems) - 1; i >= 0; i-- {
				stack = append(stack, item{node: node.Elem(), v: elems[i]})
			}

		case structure.AssetRef:
			switch ref := it.v.(type) {
			case nil:
				e.buf = append(e.buf, refNone)
			case uuid.UUID:
				e.buf = append(e.buf, refUUID)
				e.buf = append(e.buf, ref[:]...)
			case *structure.Embedded:
				e.buf = append(e.buf, refEmbedded)
				stack = append(stack, item{node: node.Embedded(), v: ref.Value})
			default:
				return fmt.Errorf("%w: unexpected asset reference %T", structure.ErrSchemaMismatch, ref)
			}

		default:
			if err := e.scalar(it.v, node); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *encoder) scalar(v any, n *structure.Node) error {
	le := binary.LittleEndian

	switch n.Kind() {
	case structure.Bool:
		if v.(bool) {
			e.buf = append(e.buf, 1)
		} else {
			e.buf = append(e.buf, 0)
		}
	case structure.Int8:
		e.buf = append(e.buf, byte(v.(int8)))
	case structure.Int16:
		e.buf = le.AppendUint16(e.buf, uint16(v.(int16)))
	case structure.Int32:
		e.buf = le.AppendUint32(e.buf, uint32(v.(int32)))
	case structure.Int64:
		e.buf = le.AppendUint64(e.buf, uint64(v.(int64)))
	case structure.Uint8:
		e.buf = append(e.buf, v.(uint8))
	case structure.Uint16:
		e.buf = le.AppendUint16(e.buf, v.(uint16))
	case structure.Uint32:
		e.buf = le.AppendUint32(e.buf, v.(uint32))
	case structure.Uint64:
		e.buf = le.AppendUint64(e.buf, v.(uint64))
	case structure.Float32:
		e.buf = le.AppendUint32(e.buf, math.Float32bits(v.(float32)))
	case structure.Float64:
		e.buf = le.AppendUint64(e.buf, math.Float64bits(v.(float64)))
	case structure.String:
		s := v.(string)
		if err := e.length(lenString, len(s)); err != nil {
			return err
		}
		e.buf = append(e.buf, s...)
	case structure.Bytes:
		b := v.([]byte)
		if err := e.length(lenBytes, len(b)); err != nil {
			return err
		}
		e.buf = append(e.buf, b...)
	case structure.UUID:
		id := v.(uuid.UUID)
		e.buf = append(e.buf, id[:]...)
	case structure.Enum:
		idx, ok := n.OptionIndex(v.(string))
		if !ok {
			return fmt.Errorf("%w: unknown enum option %q", structure.ErrSchemaMismatch, v)
		}
		if enumWide(n) {
			e.buf = le.AppendUint16(e.buf, uint16(idx))
		} else {
			e.buf = append(e.buf, byte(idx))
		}
	default:
		return fmt.Errorf("%w: cannot encode kind %s", structure.ErrSchemaMismatch, n.Kind())
	}

	return nil
}

// ReferencedUUIDs lists the ids of every asset a value refers to, including
// references nested in embedded assets, in encoding order without repeats.
func ReferencedUUIDs(v any, n *structure.Node, substitute structure.Hook) ([]uuid.UUID, error) {
	var (
		ids  []uuid.UUID
		seen = make(map[uuid.UUID]struct{})
	)

	_, err := Encode(v, n, EncodeOptions{
		OnAssetReference: func(v any, rn *structure.Node) (any, error) {
			if substitute != nil {
				var err error
				v, err = substitute(v, rn)
				if err != nil {
					return nil, err
				}
			}

			if _, isMap := v.(map[string]any); !isMap {
				if id, ok := structure.ParseUUID(v); ok && id != uuid.Nil {
					if _, dup := seen[id]; !dup {
						seen[id] = struct{}{}
						ids = append(ids, id)
					}
				}
			}

			return v, nil
		},
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}
