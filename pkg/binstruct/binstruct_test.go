package binstruct

import (
	"errors"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"miren.dev/studio/pkg/structure"
)

func positions() *structure.Node {
	return structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Uint32("count", 1)
		b.Field("positions", 2, structure.NewArray(structure.Vec3()))
	})
}

func TestEncodeLayout(t *testing.T) {
	data, err := Encode(map[string]any{
		"count":     2,
		"positions": [][3]float32{{0, 0, 0}, {1, 1, 1}},
	}, positions(), EncodeOptions{})
	require.NoError(t, err)

	assert.Equal(t, []byte{
		0x02, 0x00, 0x00, 0x00, // count
		0x02, 0x00, 0x00, 0x00, // positions length
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x80, 0x3f,
	}, data)

	again, err := Encode(map[string]any{
		"positions": []any{[]any{0, 0, 0}, []any{1.0, 1.0, 1.0}},
		"count":     uint32(2),
	}, positions(), EncodeOptions{})
	require.NoError(t, err)

	assert.Equal(t, data, again, "encoding must be deterministic")
}

func TestCompactLengths(t *testing.T) {
	n := structure.NewObject(func(b *structure.ObjectBuilder) {
		b.String("name", 1)
		b.Bytes("blob", 2)
		b.Field("list", 3, structure.NewArray(structure.NewUint8()))
	})

	v := map[string]any{
		"name": "abc",
		"blob": make([]byte, 300),
		"list": []any{1, 2},
	}

	data, err := Encode(v, n, EncodeOptions{CompactLengths: true})
	require.NoError(t, err)

	// name and list lengths fit a byte, the blob needs a uint16.
	assert.Equal(t, byte(0|1<<2|0<<4), data[0])
	assert.Len(t, data, 1+1+3+2+300+1+2)

	got, err := Decode(data, n, DecodeOptions{CompactLengths: true})
	require.NoError(t, err)

	want, err := structure.Normalize(v, n, structure.NormalizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Decode([]byte{0xff}, n, DecodeOptions{CompactLengths: true})
	assert.ErrorIs(t, err, ErrMalformedData)
}

func TestNameIDStability(t *testing.T) {
	renamed := structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Field("points", 2, structure.NewArray(structure.Vec3()))
		b.Uint32("total", 1)
	})

	a, err := Encode(map[string]any{"count": 7, "positions": [][3]float32{{1, 2, 3}}}, positions(), EncodeOptions{})
	require.NoError(t, err)

	b, err := Encode(map[string]any{"total": 7, "points": [][3]float32{{1, 2, 3}}}, renamed, EncodeOptions{})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestNameIDOverrides(t *testing.T) {
	n := structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Uint8("a", 1)
		b.Uint8("b", 2)
	})

	v := map[string]any{"a": 1, "b": 2}

	data, err := Encode(v, n, EncodeOptions{NameIDs: map[string]uint16{"a": 10}})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 1}, data)

	got, err := Decode(data, n, DecodeOptions{NameIDs: map[string]uint16{"a": 10}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": uint8(1), "b": uint8(2)}, got)

	_, err = Encode(v, n, EncodeOptions{NameIDs: map[string]uint16{"a": 2}})
	assert.ErrorIs(t, err, structure.ErrInvalidOptions)
}

func TestStripDefaultsRejected(t *testing.T) {
	_, err := Encode(map[string]any{}, positions(), EncodeOptions{StripDefaultValues: true})
	assert.ErrorIs(t, err, structure.ErrInvalidOptions)
}

func TestSchemaMismatch(t *testing.T) {
	_, err := Encode(map[string]any{"count": "two"}, positions(), EncodeOptions{})
	assert.ErrorIs(t, err, structure.ErrSchemaMismatch)
}

type sample struct {
	I8   int8
	I16  int16
	I32  int32
	I64  int64
	U8   uint8
	U16  uint16
	U32  uint32
	U64  uint64
	F32  float32
	F64  float64
	B    bool
	S    string
	Raw  []byte
	ID   [16]byte
	Mode uint8
	List []float32
	Tags []string
}

func sampleNode() *structure.Node {
	return structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Field("i8", 1, structure.NewInt8())
		b.Field("i16", 2, structure.NewInt16())
		b.Int32("i32", 3)
		b.Int64("i64", 4)
		b.Uint8("u8", 5)
		b.Uint16("u16", 6)
		b.Uint32("u32", 7)
		b.Field("u64", 8, structure.NewUint64())
		b.Float32("f32", 9)
		b.Float64("f64", 10)
		b.Bool("b", 11)
		b.String("s", 12)
		b.Bytes("raw", 13)
		b.UUID("id", 14)
		b.Enum("mode", 15, []string{"a", "b", "c"})
		b.Field("list", 16, structure.NewArray(structure.NewFloat32()))
		b.Field("nested", 17, structure.NewObject(func(b *structure.ObjectBuilder) {
			b.Field("tags", 1, structure.NewArray(structure.NewString()))
		}))
	})
}

func (s sample) value() map[string]any {
	return map[string]any{
		"i8": s.I8, "i16": s.I16, "i32": s.I32, "i64": s.I64,
		"u8": s.U8, "u16": s.U16, "u32": s.U32, "u64": s.U64,
		"f32": s.F32, "f64": s.F64, "b": s.B, "s": s.S, "raw": s.Raw,
		"id":     s.ID,
		"mode":   int(s.Mode % 3),
		"list":   s.List,
		"nested": map[string]any{"tags": s.Tags},
	}
}

func TestRoundTripFuzz(t *testing.T) {
	n := sampleNode()
	f := fuzz.NewWithSeed(42).NilChance(0).NumElements(0, 8)

	for i := 0; i < 200; i++ {
		var s sample
		f.Fuzz(&s)

		want, err := structure.Normalize(s.value(), n, structure.NormalizeOptions{})
		require.NoError(t, err)

		for _, compact := range []bool{false, true} {
			data, err := Encode(s.value(), n, EncodeOptions{CompactLengths: compact})
			require.NoError(t, err)

			got, err := Decode(data, n, DecodeOptions{CompactLengths: compact})
			require.NoError(t, err)

			assert.Equal(t, want, got)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	n := sampleNode()

	var s sample
	fuzz.NewWithSeed(7).NilChance(0).NumElements(1, 4).Fuzz(&s)

	data, err := Encode(s.value(), n, EncodeOptions{})
	require.NoError(t, err)

	for i := 0; i < len(data); i++ {
		_, err := Decode(data[:i], n, DecodeOptions{})
		require.ErrorIs(t, err, ErrTruncatedData, "prefix of %d bytes", i)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		node *structure.Node
		data []byte
	}{
		{
			name: "enum index out of range",
			node: structure.NewEnum("a", "b"),
			data: []byte{2},
		},
		{
			name: "bool out of range",
			node: structure.NewBool(),
			data: []byte{2},
		},
		{
			name: "unknown reference tag",
			node: structure.NewAssetRef(),
			data: []byte{3},
		},
		{
			name: "embedded without inline node",
			node: structure.NewAssetRef(),
			data: []byte{2},
		},
		{
			name: "trailing bytes",
			node: structure.NewUint8(),
			data: []byte{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, tt.node, DecodeOptions{})
			assert.ErrorIs(t, err, ErrMalformedData)
		})
	}
}

func TestDecodeHugeArrayLength(t *testing.T) {
	n := structure.NewArray(structure.NewUint32())

	_, err := Decode([]byte{0xff, 0xff, 0xff, 0x7f}, n, DecodeOptions{})
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func entityNode() *structure.Node {
	return structure.NewObject(func(b *structure.ObjectBuilder) {
		b.String("name", 1)
		b.Field("children", 3, structure.NewArray(b.Self()))
	})
}

func TestDeepTree(t *testing.T) {
	n := entityNode()

	root := map[string]any{"name": "root"}
	cur := root
	for i := 1; i < 1000; i++ {
		child := map[string]any{"name": "child"}
		cur["children"] = []any{child}
		cur = child
	}

	data, err := Encode(root, n, EncodeOptions{})
	require.NoError(t, err)

	got, err := Decode(data, n, DecodeOptions{})
	require.NoError(t, err)

	depth := 0
	node := got.(map[string]any)
	for {
		depth++
		children := node["children"].([]any)
		if len(children) == 0 {
			break
		}
		node = children[0].(map[string]any)
	}

	assert.Equal(t, 1000, depth)
}

func TestAssetReferences(t *testing.T) {
	inner := structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Ref("shader", 1)
		b.Uint8("order", 2)
	})

	n := structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Ref("mesh", 1)
		b.Ref("missing", 2)
		b.Field("pipeline", 3, structure.NewAssetRef(structure.Embeddable("test:pipeline", inner)))
	})

	mesh := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")
	shader := uuid.MustParse("9a1c7a0e-32a4-4d2e-9f52-52d0a0a2b9c1")

	v := map[string]any{
		"mesh":     mesh.String(),
		"pipeline": map[string]any{"shader": shader, "order": 3},
	}

	data, err := Encode(v, n, EncodeOptions{})
	require.NoError(t, err)

	want := append([]byte{refUUID}, mesh[:]...)
	want = append(want, refNone, refEmbedded, refUUID)
	want = append(want, shader[:]...)
	want = append(want, 3)
	assert.Equal(t, want, data)

	t.Run("decode without hook", func(t *testing.T) {
		got, err := Decode(data, n, DecodeOptions{})
		require.NoError(t, err)

		m := got.(map[string]any)
		assert.Equal(t, mesh, m["mesh"])
		assert.Nil(t, m["missing"])
		assert.Equal(t, &structure.Embedded{
			Type:  "test:pipeline",
			Value: map[string]any{"shader": shader, "order": uint8(3)},
		}, m["pipeline"])
	})

	t.Run("hook sees inner references first", func(t *testing.T) {
		var seen []any

		got, err := Decode(data, n, DecodeOptions{
			OnAssetReference: func(v any, _ *structure.Node) (any, error) {
				switch ref := v.(type) {
				case uuid.UUID:
					seen = append(seen, ref)
					return "live:" + ref.String(), nil
				case *structure.Embedded:
					seen = append(seen, "embedded")
					return ref.Value, nil
				default:
					return nil, nil
				}
			},
		})
		require.NoError(t, err)

		assert.Equal(t, []any{mesh, shader, "embedded"}, seen)

		m := got.(map[string]any)
		assert.Equal(t, "live:"+mesh.String(), m["mesh"])
		assert.Equal(t, map[string]any{"shader": "live:" + shader.String(), "order": uint8(3)}, m["pipeline"])
	})

	t.Run("hook errors abort decoding", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Decode(data, n, DecodeOptions{
			OnAssetReference: func(v any, _ *structure.Node) (any, error) {
				return nil, boom
			},
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("encode hook substitutes live values", func(t *testing.T) {
		type live struct{ id uuid.UUID }
		obj := &live{id: mesh}

		out, err := Encode(map[string]any{"mesh": obj}, n, EncodeOptions{
			OnAssetReference: func(v any, _ *structure.Node) (any, error) {
				if l, ok := v.(*live); ok {
					return l.id, nil
				}
				return v, nil
			},
		})
		require.NoError(t, err)
		assert.Equal(t, mesh[:], out[1:17])
	})

	t.Run("referenced uuids", func(t *testing.T) {
		ids, err := ReferencedUUIDs(v, n, nil)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{mesh, shader}, ids)
	})
}
