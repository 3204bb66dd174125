package structure

import (
	"fmt"
	"slices"
)

// ObjectBuilder collects the fields of an object node. Mistakes in a
// schema are configuration errors and panic.
type ObjectBuilder struct {
	node *Node
	ids  map[uint16]string
}

type fieldBuilder struct {
	doc      string
	required bool
	def      any
	hasDef   bool
}

type FieldOption func(*fieldBuilder)

func Doc(doc string) FieldOption {
	return func(b *fieldBuilder) {
		b.doc = doc
	}
}

// Required makes encoding fail when the field is absent from a value.
func Required(b *fieldBuilder) {
	b.required = true
}

func Default(v any) FieldOption {
	return func(b *fieldBuilder) {
		b.def = v
		b.hasDef = true
	}
}

// NewObject builds an object node. The builder's Self node can be used
// inside fn to describe recursive shapes such as trees.
func NewObject(fn func(b *ObjectBuilder)) *Node {
	n := &Node{
		kind:   Object,
		byName: make(map[string]*Field),
	}

	b := &ObjectBuilder{
		node: n,
		ids:  make(map[uint16]string),
	}

	fn(b)

	slices.SortFunc(n.fields, func(a, b *Field) int {
		return int(a.id) - int(b.id)
	})

	for _, f := range n.fields {
		if !f.hasDef {
			continue
		}

		v, err := Normalize(f.def, f.node, NormalizeOptions{})
		if err != nil {
			panic(fmt.Sprintf("invalid default for field %s: %s", f.name, err))
		}

		f.def = v
	}

	return n
}

// Self returns a node standing for the object being built.
func (b *ObjectBuilder) Self() *Node {
	return &Node{kind: Self, target: b.node}
}

// fixedSelf reports whether n reaches a self reference through fixed
// arrays only. Such a field can never be absent, so its default would
// never end.
func fixedSelf(n *Node) bool {
	for n.kind == Array && n.length > 0 {
		n = n.elem
	}

	return n.kind == Self
}

func (b *ObjectBuilder) Field(name string, id uint16, node *Node, opts ...FieldOption) *Field {
	if name == "" {
		panic("field name is empty")
	}

	if id == 0 {
		panic("name id 0 is reserved: " + name)
	}

	if node == nil {
		panic("field node is nil: " + name)
	}

	if node.kind == Self {
		panic("self reference must be nested in an array or asset reference: " + name)
	}

	if fixedSelf(node) {
		panic("self reference cannot be a fixed array element: " + name)
	}

	if _, exists := b.node.byName[name]; exists {
		panic("field already exists: " + name)
	}

	if other, exists := b.ids[id]; exists {
		panic(fmt.Sprintf("name id %d of %s already used by %s", id, name, other))
	}

	var fb fieldBuilder

	for _, opt := range opts {
		opt(&fb)
	}

	f := &Field{
		name:     name,
		id:       id,
		node:     node,
		doc:      fb.doc,
		required: fb.required,
		def:      fb.def,
		hasDef:   fb.hasDef,
	}

	b.ids[id] = name
	b.node.byName[name] = f
	b.node.fields = append(b.node.fields, f)

	return f
}

func (b *ObjectBuilder) Bool(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewBool(), opts...)
}

func (b *ObjectBuilder) Int32(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewInt32(), opts...)
}

func (b *ObjectBuilder) Int64(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewInt64(), opts...)
}

func (b *ObjectBuilder) Uint8(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewUint8(), opts...)
}

func (b *ObjectBuilder) Uint16(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewUint16(), opts...)
}

func (b *ObjectBuilder) Uint32(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewUint32(), opts...)
}

func (b *ObjectBuilder) Float32(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewFloat32(), opts...)
}

func (b *ObjectBuilder) Float64(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewFloat64(), opts...)
}

func (b *ObjectBuilder) String(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewString(), opts...)
}

func (b *ObjectBuilder) Bytes(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewBytes(), opts...)
}

func (b *ObjectBuilder) UUID(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewUUID(), opts...)
}

func (b *ObjectBuilder) Enum(name string, id uint16, options []string, opts ...FieldOption) *Field {
	return b.Field(name, id, NewEnum(options...), opts...)
}

func (b *ObjectBuilder) Vec3(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, Vec3(), opts...)
}

func (b *ObjectBuilder) Vec4(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, Vec4(), opts...)
}

func (b *ObjectBuilder) Ref(name string, id uint16, opts ...FieldOption) *Field {
	return b.Field(name, id, NewAssetRef(), opts...)
}
