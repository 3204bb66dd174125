package structure

import (
	"reflect"

	"github.com/google/uuid"
)

type DiskOptions struct {
	// StripDefaultValues omits object fields equal to their default.
	StripDefaultValues bool

	// Substitute is passed through to Normalize.
	Substitute Hook
}

// ToDisk converts v into a tree of maps, slices, strings, numbers and byte
// slices suitable for JSON or CBOR. UUIDs become their textual form and
// embedded references become the inline object. Normalize reverses it.
func ToDisk(v any, n *Node, opts DiskOptions) (any, error) {
	v, err := Normalize(v, n, NormalizeOptions{Substitute: opts.Substitute})
	if err != nil {
		return nil, err
	}

	type item struct {
		node *Node
		v    any
		set  func(any)
	}

	var out any

	stack := []item{{node: n, v: v, set: func(x any) { out = x }}}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := it.node.Resolve()

		switch node.kind {
		case Array:
			elems := it.v.([]any)
			res := make([]any, len(elems))
			it.set(res)

			for i, e := range elems {
				stack = append(stack, item{node: node.elem, v: e, set: func(x any) { res[i] = x }})
			}

		case Object:
			fields := it.v.(map[string]any)
			res := make(map[string]any, len(fields))
			it.set(res)

			for _, f := range node.fields {
				fv := fields[f.name]

				if opts.StripDefaultValues && reflect.DeepEqual(fv, f.Default()) {
					continue
				}

				stack = append(stack, item{node: f.node, v: fv, set: func(x any) { res[f.name] = x }})
			}

		case AssetRef:
			switch ref := it.v.(type) {
			case uuid.UUID:
				it.set(ref.String())
			case *Embedded:
				stack = append(stack, item{node: node.embedded, v: ref.Value, set: it.set})
			default:
				it.set(nil)
			}

		case UUID:
			it.set(it.v.(uuid.UUID).String())

		default:
			it.set(it.v)
		}
	}

	return out, nil
}

// Equal reports whether a and b normalize to the same value under n.
func Equal(n *Node, a, b any) bool {
	na, err := Normalize(a, n, NormalizeOptions{})
	if err != nil {
		return false
	}

	nb, err := Normalize(b, n, NormalizeOptions{})
	if err != nil {
		return false
	}

	return reflect.DeepEqual(na, nb)
}

// Walk visits every value of a normalized tree in pre-order, descending
// into embedded references with their inline node. Returning SkipChildren
// from fn stops the descent below the current value.
func Walk(v any, n *Node, fn func(v any, n *Node) error) error {
	type item struct {
		node *Node
		v    any
	}

	stack := []item{{node: n, v: v}}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := it.node.Resolve()

		err := fn(it.v, node)
		if err == SkipChildren {
			continue
		}
		if err != nil {
			return err
		}

		switch node.kind {
		case Array:
			elems, _ := it.v.([]any)
			for i := len(elems) - 1; i >= 0; i-- {
				stack = append(stack, item{node: node.elem, v: elems[i]})
			}
		case Object:
			fields, _ := it.v.(map[string]any)
			for i := len(node.fields) - 1; i >= 0; i-- {
				f := node.fields[i]
				stack = append(stack, item{node: f.node, v: fields[f.name]})
			}
		case AssetRef:
			if emb, ok := it.v.(*Embedded); ok && node.embedded != nil {
				stack = append(stack, item{node: node.embedded, v: emb.Value})
			}
		}
	}

	return nil
}
