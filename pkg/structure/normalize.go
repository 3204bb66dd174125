package structure

import (
	"reflect"

	"github.com/google/uuid"
)

// Hook intercepts asset reference values during a walk. The returned value
// replaces v.
type Hook func(v any, n *Node) (any, error)

type NormalizeOptions struct {
	// Substitute sees the raw value of every asset reference before it is
	// checked, and typically turns a live asset into its id or inline data.
	Substitute Hook

	// Resolve sees every checked asset reference (nil, uuid.UUID or
	// *Embedded) once any inline value has itself been normalized.
	Resolve Hook
}

type task struct {
	node *Node
	in   any
	p    *path
	set  func(any)

	finish func() error
}

// Normalize converts v into the canonical in-memory form of n:
//
//	bool, int8..int64, uint8..uint64, float32, float64, string, []byte,
//	uuid.UUID, enum option names as string, []any for arrays,
//	map[string]any for objects, and nil, uuid.UUID or *Embedded for asset
//	references.
//
// Absent fields take their default. It accepts the disk form produced by
// ToDisk as well, so decoded JSON and CBOR trees normalize directly.
func Normalize(v any, n *Node, opts NormalizeOptions) (any, error) {
	var out any

	stack := []task{{
		node: n,
		in:   v,
		set:  func(x any) { out = x },
	}}

	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if t.finish != nil {
			if err := t.finish(); err != nil {
				return nil, err
			}
			continue
		}

		node := t.node.Resolve()

		switch node.kind {
		case Array:
			elems, ok := sequence(t.in)
			if !ok {
				return nil, mismatch(t.p, Array, "got %T", t.in)
			}

			if node.length > 0 && len(elems) != node.length {
				return nil, mismatch(t.p, Array, "length %d, want %d", len(elems), node.length)
			}

			res := make([]any, len(elems))
			t.set(res)

			for i := len(elems) - 1; i >= 0; i-- {
				stack = append(stack, task{
					node: node.elem,
					in:   elems[i],
					p:    t.p.elem(i),
					set:  func(x any) { res[i] = x },
				})
			}

		case Object:
			fields, ok := members(t.in)
			if !ok {
				return nil, mismatch(t.p, Object, "got %T", t.in)
			}

			for name := range fields {
				if _, known := node.byName[name]; !known {
					return nil, mismatch(t.p, Object, "unknown field %q", name)
				}
			}

			res := make(map[string]any, len(node.fields))
			t.set(res)

			for i := len(node.fields) - 1; i >= 0; i-- {
				f := node.fields[i]

				fv, present := fields[f.name]
				if !present {
					if f.required {
						return nil, mismatch(t.p.field(f.name), f.node.Kind(), "required field is missing")
					}
					res[f.name] = f.Default()
					continue
				}

				stack = append(stack, task{
					node: f.node,
					in:   fv,
					p:    t.p.field(f.name),
					set:  func(x any) { res[f.name] = x },
				})
			}

		case AssetRef:
			raw := t.in

			if opts.Substitute != nil {
				var err error
				raw, err = opts.Substitute(raw, node)
				if err != nil {
					return nil, err
				}
			}

			ref, inner, isEmbedded, err := assetRef(node, raw, t.p)
			if err != nil {
				return nil, err
			}

			if !isEmbedded {
				if opts.Resolve != nil {
					ref, err = opts.Resolve(ref, node)
					if err != nil {
						return nil, err
					}
				}
				t.set(ref)
				continue
			}

			emb := ref.(*Embedded)

			stack = append(stack, task{
				finish: func() error {
					var res any = emb
					if opts.Resolve != nil {
						var err error
						res, err = opts.Resolve(emb, node)
						if err != nil {
							return err
						}
					}
					t.set(res)
					return nil
				},
			}, task{
				node: node.embedded,
				in:   inner,
				p:    t.p,
				set:  func(x any) { emb.Value = x },
			})

		default:
			res, err := coerceScalar(node, t.in, t.p)
			if err != nil {
				return nil, err
			}
			t.set(res)
		}
	}

	return out, nil
}

// assetRef checks a raw asset reference. Embedded references return a
// fresh *Embedded along with the inline value still to be normalized.
func assetRef(n *Node, raw any, p *path) (any, any, bool, error) {
	switch x := raw.(type) {
	case nil:
		return nil, nil, false, nil
	case *Embedded:
		if x == nil {
			return nil, nil, false, nil
		}
		return embedded(n, x.Type, x.Value, p)
	case Embedded:
		return embedded(n, x.Type, x.Value, p)
	case map[string]any:
		return embedded(n, "", x, p)
	}

	if id, ok := ParseUUID(raw); ok {
		if id == uuid.Nil {
			return nil, nil, false, nil
		}
		return id, nil, false, nil
	}

	return nil, nil, false, mismatch(p, AssetRef, "unsupported reference %T", raw)
}

func embedded(n *Node, typ string, v any, p *path) (any, any, bool, error) {
	if n.embedded == nil {
		return nil, nil, false, mismatch(p, AssetRef, "reference does not allow embedded assets")
	}

	if typ == "" {
		typ = n.embeddedType
	}

	return &Embedded{Type: typ}, v, true, nil
}

func sequence(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case nil:
		return nil, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}

func members(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case nil:
		return nil, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}

	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}

	return out, true
}
