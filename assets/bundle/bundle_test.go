package bundle_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"miren.dev/studio/assets"
	"miren.dev/studio/assets/assettest"
	"miren.dev/studio/assets/builtin"
	"miren.dev/studio/assets/bundle"
	"miren.dev/studio/scene"
)

func TestWriterReader(t *testing.T) {
	r := require.New(t)

	a := bundle.Record{ID: uuid.New(), Type: uuid.New(), Data: bytes.Repeat([]byte("abcd"), 256)}
	b := bundle.Record{ID: uuid.New(), Type: uuid.New(), Data: []byte{1, 2, 3}}
	c := bundle.Record{ID: uuid.New(), Type: uuid.New()}

	write := func(compress bool, recs ...bundle.Record) ([]byte, *bundle.Summary) {
		w := &bundle.Writer{Compress: compress}
		for _, rec := range recs {
			w.Add(rec)
		}

		var buf bytes.Buffer
		sum, err := w.WriteTo(&buf)
		r.NoError(err)

		return buf.Bytes(), sum
	}

	t.Run("round trip", func(t *testing.T) {
		for _, compress := range []bool{false, true} {
			data, sum := write(compress, a, b, c)

			r.Equal(3, sum.Count)
			r.Equal(int64(len(data)), sum.Size)
			r.Equal(bundle.Digest(data), sum.Digest)

			br, err := bundle.NewReader(bytes.NewReader(data), int64(len(data)))
			r.NoError(err)

			r.ElementsMatch([]uuid.UUID{a.ID, b.ID, c.ID}, br.IDs())

			for _, want := range []bundle.Record{a, b, c} {
				got, err := br.Record(want.ID)
				r.NoError(err)
				r.Equal(want.Type, got.Type)
				r.Equal(len(want.Data), len(got.Data))
				if len(want.Data) > 0 {
					r.Equal(want.Data, got.Data)
				}
			}

			blob, err := br.Fetch(context.Background(), uuid.New())
			r.NoError(err)
			r.Nil(blob)
		}
	})

	t.Run("compresses repetitive payloads", func(t *testing.T) {
		plain, _ := write(false, a)
		packed, _ := write(true, a)

		assert.Less(t, len(packed), len(plain))
	})

	t.Run("output does not depend on add order", func(t *testing.T) {
		_, first := write(true, a, b, c)
		_, second := write(true, c, a, b)

		assert.Equal(t, first.Digest, second.Digest)
	})

	t.Run("duplicate records", func(t *testing.T) {
		w := &bundle.Writer{}
		w.Add(b)
		w.Add(b)

		_, err := w.WriteTo(&bytes.Buffer{})
		r.ErrorIs(err, bundle.ErrBadBundle)
	})

	t.Run("scan", func(t *testing.T) {
		data, _ := write(false, a, b)

		var ids []uuid.UUID
		err := bundle.Scan(bytes.NewReader(data), func(rec bundle.Record, compressed bool) error {
			assert.False(t, compressed)
			ids = append(ids, rec.ID)
			return nil
		})
		r.NoError(err)
		r.ElementsMatch([]uuid.UUID{a.ID, b.ID}, ids)
	})
}

func TestReaderRejectsMalformedBundles(t *testing.T) {
	w := &bundle.Writer{}
	w.Add(bundle.Record{ID: uuid.New(), Type: uuid.New(), Data: []byte("payload")})

	var buf bytes.Buffer
	_, err := w.WriteTo(&buf)
	require.NoError(t, err)

	good := buf.Bytes()

	open := func(data []byte) error {
		_, err := bundle.NewReader(bytes.NewReader(data), int64(len(data)))
		return err
	}

	t.Run("short", func(t *testing.T) {
		assert.ErrorIs(t, open(good[:5]), bundle.ErrBadBundle)
	})

	t.Run("magic", func(t *testing.T) {
		data := bytes.Clone(good)
		data[0] = 'X'
		assert.ErrorIs(t, open(data), bundle.ErrBadBundle)
	})

	t.Run("version", func(t *testing.T) {
		data := bytes.Clone(good)
		data[4] = 9
		assert.ErrorIs(t, open(data), bundle.ErrBadBundle)
	})

	t.Run("count", func(t *testing.T) {
		data := bytes.Clone(good)
		data[8] = 0xff
		assert.ErrorIs(t, open(data), bundle.ErrBadBundle)
	})

	t.Run("scan count", func(t *testing.T) {
		hdr := bytes.Clone(good[:12])
		binary.LittleEndian.PutUint32(hdr[8:], 0xffffffff)

		err := bundle.Scan(bytes.NewReader(hdr), func(bundle.Record, bool) error {
			return nil
		})
		assert.ErrorIs(t, err, bundle.ErrBadBundle)
	})

	t.Run("scan short table", func(t *testing.T) {
		data := bytes.Clone(good[:20])
		data[8] = 0xff

		called := false
		err := bundle.Scan(bytes.NewReader(data), func(bundle.Record, bool) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, bundle.ErrBadBundle)
		assert.False(t, called)
	})

	t.Run("truncated payload", func(t *testing.T) {
		data := good[:len(good)-3]

		br, err := bundle.NewReader(bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)

		_, err = br.Record(br.IDs()[0])
		assert.ErrorIs(t, err, bundle.ErrBadBundle)
	})
}

type project struct {
	vs, fs, pipeline, material uuid.UUID
}

func setup(t *testing.T) (*assets.Loader, *assettest.Source, project) {
	reg, err := builtin.NewRegistry()
	require.NoError(t, err)

	_, err = bundle.RegisterConfig(reg)
	require.NoError(t, err)

	src := assettest.NewSource()

	l, err := assets.NewLoader(reg, assets.WithSource(src))
	require.NoError(t, err)

	p := project{
		vs:       uuid.New(),
		fs:       uuid.New(),
		pipeline: uuid.New(),
		material: uuid.New(),
	}

	src.PutData(p.vs, builtin.ShaderSourceUUID, []byte("vertex"))
	src.PutData(p.fs, builtin.ShaderSourceUUID, []byte("fragment"))

	src.Put(p.pipeline, builtin.PipelineConfigID, map[string]any{
		"vertexShader":   p.vs.String(),
		"fragmentShader": p.fs.String(),
	})

	src.Put(p.material, builtin.MaterialID, map[string]any{
		"materialMap": map[string]any{
			"pipelineConfig": p.pipeline.String(),
		},
	})

	return l, src, p
}

func TestBuilderCollect(t *testing.T) {
	ctx := context.Background()

	l, src, p := setup(t)
	b := bundle.NewBuilder(assettest.TestLogger(t), l)

	collect := func(cfg *bundle.Config) []uuid.UUID {
		exports, err := b.Collect(ctx, cfg)
		require.NoError(t, err)

		var ids []uuid.UUID
		for _, ex := range exports {
			ids = append(ids, ex.ID)
		}
		return ids
	}

	t.Run("children", func(t *testing.T) {
		ids := collect(&bundle.Config{
			Assets: []bundle.Include{{Asset: p.material, IncludeChildren: true}},
		})
		assert.Equal(t, []uuid.UUID{p.material, p.pipeline, p.vs, p.fs}, ids)
	})

	t.Run("without children", func(t *testing.T) {
		ids := collect(&bundle.Config{
			Assets: []bundle.Include{{Asset: p.material}},
		})
		assert.Equal(t, []uuid.UUID{p.material}, ids)
	})

	t.Run("exclude", func(t *testing.T) {
		ids := collect(&bundle.Config{
			Assets:  []bundle.Include{{Asset: p.material, IncludeChildren: true}},
			Exclude: []uuid.UUID{p.pipeline},
		})
		assert.Equal(t, []uuid.UUID{p.material, p.vs, p.fs}, ids)
	})

	t.Run("exclude recursive", func(t *testing.T) {
		ids := collect(&bundle.Config{
			Assets:           []bundle.Include{{Asset: p.material, IncludeChildren: true}},
			ExcludeRecursive: []uuid.UUID{p.pipeline},
		})
		assert.Equal(t, []uuid.UUID{p.material}, ids)
	})

	t.Run("listed twice", func(t *testing.T) {
		ids := collect(&bundle.Config{
			Assets: []bundle.Include{
				{Asset: p.vs},
				{Asset: p.pipeline, IncludeChildren: true},
			},
		})
		assert.Equal(t, []uuid.UUID{p.vs, p.pipeline, p.fs}, ids)
	})

	t.Run("missing reference", func(t *testing.T) {
		src.Delete(p.fs)
		defer src.PutData(p.fs, builtin.ShaderSourceUUID, []byte("fragment"))

		ids := collect(&bundle.Config{
			Assets: []bundle.Include{{Asset: p.pipeline, IncludeChildren: true}},
		})
		assert.Equal(t, []uuid.UUID{p.pipeline, p.vs}, ids)
	})

	t.Run("missing asset", func(t *testing.T) {
		_, err := b.Collect(ctx, &bundle.Config{
			Assets: []bundle.Include{{Asset: uuid.New()}},
		})
		assert.ErrorIs(t, err, assets.ErrAssetNotFound)
	})
}

func TestLoadFromBundle(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)

	l, _, p := setup(t)

	b := bundle.NewBuilder(assettest.TestLogger(t), l)
	b.Compress = true

	path := filepath.Join(t.TempDir(), "out", "game.bundle")

	sum, err := b.BuildFile(ctx, &bundle.Config{
		Assets: []bundle.Include{{Asset: p.material, IncludeChildren: true}},
	}, path)
	r.NoError(err)
	r.Equal(4, sum.Count)

	br, err := bundle.Open(path)
	r.NoError(err)
	defer br.Close()

	reg, err := builtin.NewRegistry()
	r.NoError(err)

	runtime, err := assets.NewLoader(reg, assets.WithSource(br))
	r.NoError(err)

	mat, err := assets.GetAs[scene.Material](ctx, runtime, p.material)
	r.NoError(err)
	r.NotNil(mat.Map)
	r.Equal("vertex", mat.Map.Pipeline.VertexShader.Source)
	r.Equal("fragment", mat.Map.Pipeline.FragmentShader.Source)
}

func TestConfigAsset(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)

	l, src, p := setup(t)

	id := uuid.New()
	src.Put(id, bundle.ConfigID, map[string]any{
		"outputLocation": "build/game.bundle",
		"assets": []any{
			map[string]any{"asset": p.material.String()},
			map[string]any{"asset": p.vs.String(), "includeChildren": false},
		},
		"excludeAssetsRecursive": []any{p.pipeline.String()},
	})

	cfg, err := assets.GetAs[bundle.Config](ctx, l, id)
	r.NoError(err)

	r.Equal("build/game.bundle", cfg.OutputLocation)
	r.Equal([]bundle.Include{
		{Asset: p.material, IncludeChildren: true},
		{Asset: p.vs},
	}, cfg.Assets)
	r.Empty(cfg.Exclude)
	r.Equal([]uuid.UUID{p.pipeline}, cfg.ExcludeRecursive)

	_, tree, err := l.SaveDisk(ctx, cfg)
	r.NoError(err)
	r.Equal(map[string]any{
		"outputLocation": "build/game.bundle",
		"assets": []any{
			map[string]any{"asset": p.material.String()},
			map[string]any{"asset": p.vs.String(), "includeChildren": false},
		},
		"excludeAssetsRecursive": []any{p.pipeline.String()},
	}, tree)
}
