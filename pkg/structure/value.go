package structure

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrSchemaMismatch = errors.New("value does not match structure")
	ErrInvalidOptions = errors.New("invalid structure options")

	// SkipChildren is returned from a Walk callback to skip a subtree.
	SkipChildren = errors.New("skip children")
)

var zeroUUID = uuid.Nil

// Embedded is an asset reference that carries its asset inline instead of
// pointing at an independently stored asset.
type Embedded struct {
	// Type is the asset type id the inline value is persisted as.
	Type  string
	Value any
}

// MismatchError describes where a value disagreed with its node.
type MismatchError struct {
	Path   string
	Kind   Kind
	Reason string
}

func (e *MismatchError) Error() string {
	path := e.Path
	if path == "" {
		path = "<root>"
	}

	return fmt.Sprintf("%s: %s expected %s: %s", ErrSchemaMismatch, path, e.Kind, e.Reason)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// path is a linked list of segments, rendered only when an error is reported.
type path struct {
	parent *path
	name   string
	index  int
}

func (p *path) field(name string) *path {
	return &path{parent: p, name: name, index: -1}
}

func (p *path) elem(i int) *path {
	return &path{parent: p, index: i}
}

func (p *path) String() string {
	var segs []string
	for cur := p; cur != nil; cur = cur.parent {
		if cur.index >= 0 {
			segs = append(segs, "["+strconv.Itoa(cur.index)+"]")
		} else if cur.name != "" {
			segs = append(segs, "."+cur.name)
		}
	}

	var sb strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		sb.WriteString(segs[i])
	}

	return strings.TrimPrefix(sb.String(), ".")
}

func mismatch(p *path, k Kind, format string, args ...any) error {
	return &MismatchError{
		Path:   p.String(),
		Kind:   k,
		Reason: fmt.Sprintf(format, args...),
	}
}

type numClass int

const (
	notNumber numClass = iota
	signedNum
	unsignedNum
	floatNum
)

func number(v any) (int64, uint64, float64, numClass) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, 0, 0, signedNum
		}
		if u, err := strconv.ParseUint(string(x), 10, 64); err == nil {
			return 0, u, 0, unsignedNum
		}
		if f, err := x.Float64(); err == nil {
			return 0, 0, f, floatNum
		}
		return 0, 0, 0, notNumber
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), 0, 0, signedNum
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return 0, rv.Uint(), 0, unsignedNum
	case reflect.Float32, reflect.Float64:
		return 0, 0, rv.Float(), floatNum
	default:
		return 0, 0, 0, notNumber
	}
}

var (
	signedMin = map[Kind]int64{Int8: math.MinInt8, Int16: math.MinInt16, Int32: math.MinInt32, Int64: math.MinInt64}
	signedMax = map[Kind]int64{Int8: math.MaxInt8, Int16: math.MaxInt16, Int32: math.MaxInt32, Int64: math.MaxInt64}
	unsignMax = map[Kind]uint64{Uint8: math.MaxUint8, Uint16: math.MaxUint16, Uint32: math.MaxUint32, Uint64: math.MaxUint64}
)

func coerceNumber(k Kind, v any, p *path) (any, error) {
	i, u, f, class := number(v)
	if class == notNumber {
		return nil, mismatch(p, k, "got %T", v)
	}

	switch k {
	case Float32:
		switch class {
		case signedNum:
			return float32(i), nil
		case unsignedNum:
			return float32(u), nil
		default:
			return float32(f), nil
		}
	case Float64:
		switch class {
		case signedNum:
			return float64(i), nil
		case unsignedNum:
			return float64(u), nil
		default:
			return f, nil
		}
	}

	if class == floatNum {
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, mismatch(p, k, "%v is not an integer", f)
		}

		if f < 0 {
			if f < math.MinInt64 {
				return nil, mismatch(p, k, "%v out of range", f)
			}
			i, class = int64(f), signedNum
		} else {
			if f >= math.MaxUint64 {
				return nil, mismatch(p, k, "%v out of range", f)
			}
			u, class = uint64(f), unsignedNum
		}
	}

	if limit, ok := unsignMax[k]; ok {
		if class == signedNum {
			if i < 0 {
				return nil, mismatch(p, k, "%d is negative", i)
			}
			u = uint64(i)
		}

		if u > limit {
			return nil, mismatch(p, k, "%d out of range", u)
		}

		switch k {
		case Uint8:
			return uint8(u), nil
		case Uint16:
			return uint16(u), nil
		case Uint32:
			return uint32(u), nil
		default:
			return u, nil
		}
	}

	if class == unsignedNum {
		if u > math.MaxInt64 {
			return nil, mismatch(p, k, "%d out of range", u)
		}
		i = int64(u)
	}

	if i < signedMin[k] || i > signedMax[k] {
		return nil, mismatch(p, k, "%d out of range", i)
	}

	switch k {
	case Int8:
		return int8(i), nil
	case Int16:
		return int16(i), nil
	case Int32:
		return int32(i), nil
	default:
		return i, nil
	}
}

// ParseUUID accepts the textual, 16 byte and uuid.UUID forms of an id.
func ParseUUID(v any) (uuid.UUID, bool) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, true
	case *uuid.UUID:
		if x == nil {
			return uuid.Nil, false
		}
		return *x, true
	case [16]byte:
		return uuid.UUID(x), true
	case []byte:
		id, err := uuid.FromBytes(x)
		return id, err == nil
	case string:
		id, err := uuid.Parse(x)
		return id, err == nil
	default:
		return uuid.Nil, false
	}
}

func coerceScalar(n *Node, v any, p *path) (any, error) {
	k := n.kind

	switch {
	case k.Numeric():
		return coerceNumber(k, v, p)
	case k == Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(p, k, "got %T", v)
		}
		return b, nil
	case k == String:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(p, k, "got %T", v)
		}
		return s, nil
	case k == Bytes:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			data, err := base64.StdEncoding.DecodeString(x)
			if err != nil {
				return nil, mismatch(p, k, "invalid base64: %s", err)
			}
			return data, nil
		case nil:
			return []byte{}, nil
		default:
			return nil, mismatch(p, k, "got %T", v)
		}
	case k == UUID:
		id, ok := ParseUUID(v)
		if !ok {
			return nil, mismatch(p, k, "invalid uuid %v", v)
		}
		return id, nil
	case k == Enum:
		if s, ok := v.(string); ok {
			if _, ok := n.index[s]; !ok {
				return nil, mismatch(p, k, "unknown option %q", s)
			}
			return s, nil
		}

		i, u, _, class := number(v)
		switch class {
		case signedNum:
			if i >= 0 && i < int64(len(n.options)) {
				return n.options[i], nil
			}
		case unsignedNum:
			if u < uint64(len(n.options)) {
				return n.options[u], nil
			}
		default:
			return nil, mismatch(p, k, "got %T", v)
		}

		return nil, mismatch(p, k, "option index %v out of range", v)
	}

	return nil, mismatch(p, k, "not a scalar kind")
}

func clone(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = clone(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = clone(e)
		}
		return out
	case []byte:
		return append([]byte{}, x...)
	case *Embedded:
		return &Embedded{Type: x.Type, Value: clone(x.Value)}
	default:
		return v
	}
}

// Clone returns a deep copy of a normalized value.
func Clone(v any) any {
	return clone(v)
}
