package assets_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"miren.dev/studio/assets"
	"miren.dev/studio/assets/assettest"
	"miren.dev/studio/pkg/binstruct"
	"miren.dev/studio/pkg/structure"
)

type shader struct {
	Source string
}

type material struct {
	Name   string
	Shader *shader
	Color  []any
}

type mesh struct {
	Name     string
	Material *material
	Next     *mesh
}

var (
	shaderType   = uuid.MustParse("2a3c1e4f-0000-4000-8000-000000000001")
	materialType = uuid.MustParse("2a3c1e4f-0000-4000-8000-000000000002")
	meshType     = uuid.MustParse("2a3c1e4f-0000-4000-8000-000000000003")
)

var materialNode = structure.NewObject(func(b *structure.ObjectBuilder) {
	b.String("name", 1)
	b.Ref("shader", 2)
	b.Vec4("color", 3, structure.Default([]any{1, 1, 1, 1}))
})

var meshNode = structure.NewObject(func(b *structure.ObjectBuilder) {
	b.String("name", 1)
	b.Field("material", 2, structure.NewAssetRef(structure.Embeddable("test:material", materialNode)))
	b.Ref("next", 3)
})

func liveOrNil[T any](v any) *T {
	p, _ := v.(*T)
	return p
}

func newRegistry(t *testing.T) *assets.Registry {
	reg := assets.NewRegistry()

	assets.MustRegister(reg, assets.Type[shader]{
		ID:      "test:shader",
		UUID:    shaderType,
		Storage: assets.StorageText,
		Load: func(ctx context.Context, in *assets.LoadInput) (*shader, error) {
			return &shader{Source: string(in.Data)}, nil
		},
		Save: func(ctx context.Context, in *assets.SaveInput, s *shader) (any, error) {
			return []byte(s.Source), nil
		},
	})

	assets.MustRegister(reg, assets.Type[material]{
		ID:        "test:material",
		UUID:      materialType,
		Structure: materialNode,
		Load: func(ctx context.Context, in *assets.LoadInput) (*material, error) {
			f := in.Fields()
			return &material{
				Name:   f["name"].(string),
				Shader: liveOrNil[shader](f["shader"]),
				Color:  f["color"].([]any),
			}, nil
		},
		Save: func(ctx context.Context, in *assets.SaveInput, m *material) (any, error) {
			v := map[string]any{"name": m.Name, "color": m.Color}
			if m.Shader != nil {
				v["shader"] = m.Shader
			}
			return v, nil
		},
	})

	assets.MustRegister(reg, assets.Type[mesh]{
		ID:        "test:mesh",
		UUID:      meshType,
		Structure: meshNode,
		Load: func(ctx context.Context, in *assets.LoadInput) (*mesh, error) {
			f := in.Fields()
			return &mesh{
				Name:     f["name"].(string),
				Material: liveOrNil[material](f["material"]),
				Next:     liveOrNil[mesh](f["next"]),
			}, nil
		},
		Save: func(ctx context.Context, in *assets.SaveInput, m *mesh) (any, error) {
			v := map[string]any{"name": m.Name}
			if m.Material != nil {
				v["material"] = m.Material
			}
			if m.Next != nil {
				v["next"] = m.Next
			}
			return v, nil
		},
	})

	return reg
}

type reported struct {
	mu   sync.Mutex
	errs map[uuid.UUID][]error
}

func (r *reported) report(id uuid.UUID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.errs == nil {
		r.errs = make(map[uuid.UUID][]error)
	}
	r.errs[id] = append(r.errs[id], err)
}

func (r *reported) get(id uuid.UUID) []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.errs[id]
}

func setup(t *testing.T) (*assets.Loader, *assettest.Source, *reported) {
	src := assettest.NewSource()
	rep := &reported{}

	l, err := assets.NewLoader(newRegistry(t),
		assets.WithSource(src),
		assets.WithErrorReporter(rep.report),
	)
	require.NoError(t, err)

	return l, src, rep
}

func TestLoaderResolvesReferences(t *testing.T) {
	ctx := context.Background()

	t.Run("uuid references round trip", func(t *testing.T) {
		r := require.New(t)
		l, src, _ := setup(t)

		shaderID, matID := uuid.New(), uuid.New()
		src.PutData(shaderID, shaderType, []byte("void main() {}"))
		src.Put(matID, "test:material", map[string]any{
			"name":   "stone",
			"shader": shaderID.String(),
		})

		mat, err := assets.GetAs[material](ctx, l, matID)
		r.NoError(err)
		r.NotNil(mat.Shader)
		r.Equal("void main() {}", mat.Shader.Source)
		r.Equal([]any{float32(1), float32(1), float32(1), float32(1)}, mat.Color)

		sh, err := assets.GetAs[shader](ctx, l, shaderID)
		r.NoError(err)
		r.Same(mat.Shader, sh, "references share the cached live asset")

		saved, err := l.ResolveForSave(ctx, mat.Shader)
		r.NoError(err)
		r.Equal(shaderID, saved)

		typ, data, err := l.Encode(ctx, mat)
		r.NoError(err)
		r.Equal("test:material", typ.ID())

		v, err := binstruct.Decode(data, materialNode, binstruct.DecodeOptions{})
		r.NoError(err)
		r.Equal(shaderID, v.(map[string]any)["shader"])
	})

	t.Run("binary payloads resolve the same way", func(t *testing.T) {
		r := require.New(t)
		l, src, _ := setup(t)

		shaderID, matID := uuid.New(), uuid.New()
		src.PutData(shaderID, shaderType, []byte("frag"))

		data, err := binstruct.Encode(map[string]any{
			"name":   "metal",
			"shader": shaderID,
		}, materialNode, binstruct.EncodeOptions{})
		r.NoError(err)
		src.PutData(matID, materialType, data)

		mat, err := assets.GetAs[material](ctx, l, matID)
		r.NoError(err)
		r.Equal("metal", mat.Name)
		r.Equal("frag", mat.Shader.Source)
	})

	t.Run("missing references become nil and are reported", func(t *testing.T) {
		r := require.New(t)
		l, src, rep := setup(t)

		missing, matID := uuid.New(), uuid.New()
		src.Put(matID, "test:material", map[string]any{
			"name":   "broken",
			"shader": missing.String(),
		})

		mat, err := assets.GetAs[material](ctx, l, matID)
		r.NoError(err)
		r.Nil(mat.Shader)

		errs := rep.get(missing)
		r.Len(errs, 1)
		r.ErrorIs(errs[0], assets.ErrAssetNotFound)

		var ae *assets.AssetError
		r.True(errors.As(errs[0], &ae))
		r.Equal("not-found", ae.ErrorCode())
	})

	t.Run("a missing asset is an error", func(t *testing.T) {
		l, _, _ := setup(t)

		_, err := l.Get(ctx, uuid.New())
		require.ErrorIs(t, err, assets.ErrAssetNotFound)
	})

	t.Run("wrong live type", func(t *testing.T) {
		l, src, _ := setup(t)

		id := uuid.New()
		src.PutData(id, shaderType, []byte("x"))

		_, err := assets.GetAs[material](ctx, l, id)
		require.ErrorIs(t, err, assets.ErrAssetTypeMismatch)
	})

	t.Run("unregistered type", func(t *testing.T) {
		l, src, _ := setup(t)

		id := uuid.New()
		src.Put(id, "test:unknown", map[string]any{})

		_, err := l.Get(ctx, id)
		require.ErrorIs(t, err, assets.ErrLoaderNotRegistered)
	})
}

func TestLoaderEmbeddedAssets(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)
	l, src, _ := setup(t)

	shaderID, meshID := uuid.New(), uuid.New()
	src.PutData(shaderID, shaderType, []byte("inline"))
	src.Put(meshID, "test:mesh", map[string]any{
		"name": "cube",
		"material": map[string]any{
			"name":   "embedded",
			"shader": shaderID.String(),
		},
	})

	m, err := assets.GetAs[mesh](ctx, l, meshID)
	r.NoError(err)
	r.NotNil(m.Material)
	r.Equal("embedded", m.Material.Name)
	r.Equal("inline", m.Material.Shader.Source)

	_, err = l.UUIDOf(m.Material)
	r.ErrorIs(err, assets.ErrEmbeddedAsset)

	id, err := l.UUIDOf(m)
	r.NoError(err)
	r.Equal(meshID, id)

	saved, err := l.ResolveForSave(ctx, m.Material)
	r.NoError(err)
	emb, ok := saved.(*structure.Embedded)
	r.True(ok)
	r.Equal("test:material", emb.Type)

	_, tree, err := l.SaveDisk(ctx, m)
	r.NoError(err)
	r.Equal(map[string]any{
		"name": "cube",
		"material": map[string]any{
			"name":   "embedded",
			"shader": shaderID.String(),
		},
	}, tree, "defaults are stripped and the embedded asset stays inline")

	live, err := l.ResolveForLoad(ctx, &structure.Embedded{
		Type:  "test:material",
		Value: map[string]any{"name": "fresh"},
	})
	r.NoError(err)
	r.Equal("fresh", live.(*material).Name)

	_, err = l.UUIDOf(&material{})
	r.ErrorIs(err, assets.ErrUnregisteredLiveAsset)
}

func TestLoaderCoalescesLoads(t *testing.T) {
	ctx := context.Background()
	l, src, _ := setup(t)

	id := uuid.New()
	src.PutData(id, shaderType, []byte("shared"))
	src.Gate = make(chan struct{})

	var (
		wg      sync.WaitGroup
		results [8]any
		errs    [8]error
	)

	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = l.Get(ctx, id)
		}()
	}

	require.Eventually(t, func() bool {
		return src.Fetches(id) == 1
	}, time.Second, time.Millisecond)

	close(src.Gate)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}

	assert.Equal(t, 1, src.Fetches(id))
}

func TestLoaderCancelledWaiter(t *testing.T) {
	l, src, _ := setup(t)

	id := uuid.New()
	src.PutData(id, shaderType, []byte("slow"))
	src.Gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := l.Get(ctx, id)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return src.Fetches(id) == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(src.Gate)

	sh, err := assets.GetAs[shader](context.Background(), l, id)
	require.NoError(t, err)
	assert.Equal(t, "slow", sh.Source)
}

func TestLoaderCycles(t *testing.T) {
	ctx := context.Background()

	t.Run("two assets", func(t *testing.T) {
		r := require.New(t)
		l, src, rep := setup(t)

		a, b := uuid.New(), uuid.New()
		src.Put(a, "test:mesh", map[string]any{"name": "a", "next": b.String()})
		src.Put(b, "test:mesh", map[string]any{"name": "b", "next": a.String()})

		ma, err := assets.GetAs[mesh](ctx, l, a)
		r.NoError(err)
		r.NotNil(ma.Next)
		r.Equal("b", ma.Next.Name)
		r.Nil(ma.Next.Next)

		errs := rep.get(a)
		r.Len(errs, 1)
		r.ErrorIs(errs[0], assets.ErrCyclicReference)
	})

	t.Run("self reference", func(t *testing.T) {
		r := require.New(t)
		l, src, rep := setup(t)

		a := uuid.New()
		src.Put(a, "test:mesh", map[string]any{"name": "a", "next": a.String()})

		ma, err := assets.GetAs[mesh](ctx, l, a)
		r.NoError(err)
		r.Nil(ma.Next)
		r.ErrorIs(rep.get(a)[0], assets.ErrCyclicReference)
	})

	t.Run("shared dependency is not a cycle", func(t *testing.T) {
		r := require.New(t)
		l, src, rep := setup(t)

		a, b, c := uuid.New(), uuid.New(), uuid.New()
		src.Put(c, "test:mesh", map[string]any{"name": "c"})
		src.Put(b, "test:mesh", map[string]any{"name": "b", "next": c.String()})
		src.Put(a, "test:mesh", map[string]any{"name": "a", "next": b.String()})

		ma, err := assets.GetAs[mesh](ctx, l, a)
		r.NoError(err)
		r.Equal("c", ma.Next.Next.Name)

		mc, err := assets.GetAs[mesh](ctx, l, c)
		r.NoError(err)
		r.Same(ma.Next.Next, mc)
		r.Empty(rep.get(a))
	})
}

func TestLoaderNewInstance(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)
	l, src, _ := setup(t)

	id := uuid.New()
	src.PutData(id, shaderType, []byte("x"))

	shared, err := l.Get(ctx, id)
	r.NoError(err)

	fresh, err := l.Get(ctx, id, assets.NewInstance)
	r.NoError(err)
	r.NotSame(shared, fresh)

	again, err := l.Get(ctx, id)
	r.NoError(err)
	r.Same(shared, again, "a new instance does not replace the cached one")

	freshID, err := l.UUIDOf(fresh)
	r.NoError(err)
	r.Equal(id, freshID)
}

func TestLoaderChanged(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)
	l, src, _ := setup(t)

	id := uuid.New()
	src.PutData(id, shaderType, []byte("v1"))

	first, err := assets.GetAs[shader](ctx, l, id)
	r.NoError(err)

	var notified []uuid.UUID
	cancel := l.Subscribe(id, func(id uuid.UUID) {
		notified = append(notified, id)
	})

	src.PutData(id, shaderType, []byte("v2"))
	l.Changed(id)

	r.Equal([]uuid.UUID{id}, notified)

	second, err := assets.GetAs[shader](ctx, l, id)
	r.NoError(err)
	r.NotSame(first, second)
	r.Equal("v2", second.Source)
	r.Equal(2, src.Fetches(id))

	cancel()
	l.Changed(id)
	r.Len(notified, 1)
}

func TestLoaderExport(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)
	l, src, _ := setup(t)

	shaderID, meshID, nextID := uuid.New(), uuid.New(), uuid.New()
	src.Put(meshID, "test:mesh", map[string]any{
		"name": "cube",
		"material": map[string]any{
			"name":   "inline",
			"shader": shaderID.String(),
		},
		"next": nextID.String(),
	})

	ex, err := l.Export(ctx, meshID)
	r.NoError(err)
	r.Equal("test:mesh", ex.Type.ID())
	r.Equal([]uuid.UUID{shaderID, nextID}, ex.Refs)

	v, err := binstruct.Decode(ex.Data, meshNode, binstruct.DecodeOptions{})
	r.NoError(err)
	r.Equal(nextID, v.(map[string]any)["next"])

	_, live := l.Cache().Peek(meshID)
	r.False(live, "exporting does not build live assets")
}

func TestLoaderCollectsUnusedAssets(t *testing.T) {
	ctx := context.Background()
	l, src, _ := setup(t)

	id := uuid.New()
	src.PutData(id, shaderType, []byte("temporary"))

	v, err := l.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, l.Cache().Len())
	runtime.KeepAlive(v)

	require.Eventually(t, func() bool {
		runtime.GC()
		return l.Cache().Len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	_, err = l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Fetches(id))
}
