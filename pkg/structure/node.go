package structure

import (
	"fmt"
	"slices"
	"strconv"
)

type Kind int

const (
	Invalid Kind = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
	Bytes
	UUID
	Enum
	Array
	Object
	AssetRef
	Self
)

var kindNames = [...]string{
	Invalid:  "invalid",
	Bool:     "bool",
	Int8:     "int8",
	Int16:    "int16",
	Int32:    "int32",
	Int64:    "int64",
	Uint8:    "uint8",
	Uint16:   "uint16",
	Uint32:   "uint32",
	Uint64:   "uint64",
	Float32:  "float32",
	Float64:  "float64",
	String:   "string",
	Bytes:    "bytes",
	UUID:     "uuid",
	Enum:     "enum",
	Array:    "array",
	Object:   "object",
	AssetRef: "asset-ref",
	Self:     "self",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}

	return kindNames[k]
}

// Numeric reports whether values of the kind are fixed width numbers.
func (k Kind) Numeric() bool {
	return k >= Int8 && k <= Float64
}

// Size returns the encoded width in bytes of fixed width kinds, or 0.
func (k Kind) Size() int {
	switch k {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	case UUID:
		return 16
	default:
		return 0
	}
}

// Node describes the shape of a value. Nodes are immutable once built and
// may be shared freely between goroutines.
type Node struct {
	kind Kind

	// Array
	elem   *Node
	length int

	// Object
	fields []*Field
	byName map[string]*Field

	// Enum
	options []string
	index   map[string]int

	// AssetRef
	embedded     *Node
	embeddedType string

	// Self
	target *Node

	zero any
}

// Field is a named member of an object node.
type Field struct {
	name     string
	id       uint16
	node     *Node
	doc      string
	required bool

	def    any
	hasDef bool
}

func (f *Field) Name() string   { return f.name }
func (f *Field) NameID() uint16 { return f.id }
func (f *Field) Node() *Node    { return f.node }
func (f *Field) Doc() string    { return f.doc }
func (f *Field) Required() bool { return f.required }

// Default returns a fresh copy of the value used when the field is absent.
func (f *Field) Default() any {
	if f.hasDef {
		return clone(f.def)
	}

	return f.node.Default()
}

// HasDefault reports whether the field declared an explicit default.
func (f *Field) HasDefault() bool {
	return f.hasDef
}

func scalar(k Kind) *Node {
	n := &Node{kind: k}
	n.zero = zeroOf(n)
	return n
}

func NewBool() *Node    { return scalar(Bool) }
func NewInt8() *Node    { return scalar(Int8) }
func NewInt16() *Node   { return scalar(Int16) }
func NewInt32() *Node   { return scalar(Int32) }
func NewInt64() *Node   { return scalar(Int64) }
func NewUint8() *Node   { return scalar(Uint8) }
func NewUint16() *Node  { return scalar(Uint16) }
func NewUint32() *Node  { return scalar(Uint32) }
func NewUint64() *Node  { return scalar(Uint64) }
func NewFloat32() *Node { return scalar(Float32) }
func NewFloat64() *Node { return scalar(Float64) }
func NewString() *Node  { return scalar(String) }
func NewBytes() *Node   { return scalar(Bytes) }
func NewUUID() *Node    { return scalar(UUID) }

// NewEnum builds an enum node. Values are held as their option name in
// memory and as the option index on the wire.
func NewEnum(options ...string) *Node {
	if len(options) == 0 {
		panic("enum requires at least one option")
	}

	if len(options) > 1<<16 {
		panic("enum has too many options")
	}

	n := &Node{
		kind:    Enum,
		options: slices.Clone(options),
		index:   make(map[string]int, len(options)),
	}

	for i, o := range options {
		if _, dup := n.index[o]; dup {
			panic("duplicate enum option: " + o)
		}
		n.index[o] = i
	}

	n.zero = n.options[0]

	return n
}

type ArrayOption func(*Node)

// FixedLen declares an array of exactly n elements. Fixed arrays carry no
// length prefix in the binary form.
func FixedLen(n int) ArrayOption {
	return func(a *Node) {
		if n <= 0 {
			panic("fixed array length must be positive")
		}
		a.length = n
	}
}

func NewArray(elem *Node, opts ...ArrayOption) *Node {
	if elem == nil {
		panic("array element node is nil")
	}

	n := &Node{kind: Array, elem: elem}

	for _, o := range opts {
		o(n)
	}

	return n
}

// Vec3 is a fixed array of three float32 values.
func Vec3() *Node {
	return NewArray(NewFloat32(), FixedLen(3))
}

// Vec4 is a fixed array of four float32 values.
func Vec4() *Node {
	return NewArray(NewFloat32(), FixedLen(4))
}

type RefOption func(*Node)

// Embeddable allows the reference to carry the referenced asset inline,
// encoded with node and persisted as the asset type typeID.
func Embeddable(typeID string, node *Node) RefOption {
	return func(r *Node) {
		if node == nil {
			panic("embedded node is nil")
		}
		r.embedded = node
		r.embeddedType = typeID
	}
}

func NewAssetRef(opts ...RefOption) *Node {
	n := &Node{kind: AssetRef}

	for _, o := range opts {
		o(n)
	}

	return n
}

func (n *Node) Kind() Kind {
	return n.Resolve().kind
}

// Resolve follows self references to the node they stand for.
func (n *Node) Resolve() *Node {
	if n != nil && n.kind == Self {
		return n.target
	}

	return n
}

// Elem returns the element node of an array.
func (n *Node) Elem() *Node {
	return n.Resolve().elem
}

// Len returns the fixed length of an array, or 0 when the length is variable.
func (n *Node) Len() int {
	return n.Resolve().length
}

// Fields returns the fields of an object ordered by ascending name id.
func (n *Node) Fields() []*Field {
	return n.Resolve().fields
}

func (n *Node) Field(name string) (*Field, bool) {
	f, ok := n.Resolve().byName[name]
	return f, ok
}

func (n *Node) NameID(name string) (uint16, bool) {
	f, ok := n.Field(name)
	if !ok {
		return 0, false
	}

	return f.id, true
}

func (n *Node) Options() []string {
	return n.Resolve().options
}

// OptionIndex returns the wire index of an enum option.
func (n *Node) OptionIndex(opt string) (int, bool) {
	i, ok := n.Resolve().index[opt]
	return i, ok
}

// Embedded returns the inline node of an embeddable asset reference.
func (n *Node) Embedded() *Node {
	return n.Resolve().embedded
}

// EmbeddedType returns the asset type id recorded for embedded references.
func (n *Node) EmbeddedType() string {
	return n.Resolve().embeddedType
}

// Default returns a fresh copy of the value the node takes when nothing
// else is specified.
func (n *Node) Default() any {
	n = n.Resolve()

	switch n.kind {
	case Array:
		if n.length == 0 {
			return []any{}
		}
		out := make([]any, n.length)
		for i := range out {
			out[i] = n.elem.Default()
		}
		return out
	case Object:
		out := make(map[string]any, len(n.fields))
		for _, f := range n.fields {
			out[f.name] = f.Default()
		}
		return out
	case Bytes:
		return []byte{}
	default:
		return n.zero
	}
}

func (n *Node) String() string {
	n = n.Resolve()

	switch n.kind {
	case Array:
		if n.length > 0 {
			return fmt.Sprintf("array<%s,%d>", n.elem.Kind(), n.length)
		}
		return fmt.Sprintf("array<%s>", n.elem.Kind())
	case Object:
		return fmt.Sprintf("object(%d fields)", len(n.fields))
	default:
		return n.kind.String()
	}
}

func zeroOf(n *Node) any {
	switch n.kind {
	case Bool:
		return false
	case Int8:
		return int8(0)
	case Int16:
		return int16(0)
	case Int32:
		return int32(0)
	case Int64:
		return int64(0)
	case Uint8:
		return uint8(0)
	case Uint16:
		return uint16(0)
	case Uint32:
		return uint32(0)
	case Uint64:
		return uint64(0)
	case Float32:
		return float32(0)
	case Float64:
		return float64(0)
	case String:
		return ""
	case Bytes:
		return []byte{}
	case UUID:
		return zeroUUID
	case Enum:
		return n.options[0]
	default:
		return nil
	}
}
