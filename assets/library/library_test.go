package library_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"miren.dev/studio/assets"
	"miren.dev/studio/assets/assettest"
	"miren.dev/studio/assets/builtin"
	"miren.dev/studio/assets/bundle"
	"miren.dev/studio/assets/library"
	"miren.dev/studio/scene"
)

func openLibrary(t *testing.T) *library.Library {
	lib, err := library.Open(assettest.TestLogger(t), filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)

	t.Cleanup(func() { lib.Close() })

	return lib
}

func TestLibrary(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)

	lib := openLibrary(t)

	id := uuid.New()
	r.NoError(lib.Put(id, builtin.ShaderSourceUUID, []byte("source")))

	blob, err := lib.Fetch(ctx, id)
	r.NoError(err)
	r.Equal(builtin.ShaderSourceUUID, blob.TypeUUID)
	r.Equal([]byte("source"), blob.Data)

	blob, err = lib.Fetch(ctx, uuid.New())
	r.NoError(err)
	r.Nil(blob)

	items, err := lib.List()
	r.NoError(err)
	r.Equal([]library.Item{{ID: id, Type: builtin.ShaderSourceUUID, Size: 6}}, items)

	r.NoError(lib.Delete(id))

	items, err = lib.List()
	r.NoError(err)
	r.Empty(items)
}

func TestLibraryImportBundle(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)

	reg, err := builtin.NewRegistry()
	r.NoError(err)

	src := assettest.NewSource()
	shader, pipeline := uuid.New(), uuid.New()

	src.PutData(shader, builtin.ShaderSourceUUID, []byte("shared"))
	src.Put(pipeline, builtin.PipelineConfigID, map[string]any{
		"vertexShader":   shader.String(),
		"fragmentShader": shader.String(),
	})

	project, err := assets.NewLoader(reg, assets.WithSource(src))
	r.NoError(err)

	var buf bytes.Buffer
	sum, err := bundle.NewBuilder(assettest.TestLogger(t), project).Build(ctx, &bundle.Config{
		Assets: []bundle.Include{{Asset: pipeline, IncludeChildren: true}},
	}, &buf)
	r.NoError(err)

	br, err := bundle.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	r.NoError(err)

	lib := openLibrary(t)

	seen, err := lib.Imported(sum.Digest)
	r.NoError(err)
	r.False(seen)

	n, err := lib.ImportBundle(br, sum.Digest)
	r.NoError(err)
	r.Equal(2, n)

	seen, err = lib.Imported(sum.Digest)
	r.NoError(err)
	r.True(seen)

	l, err := assets.NewLoader(reg, assets.WithSource(lib))
	r.NoError(err)

	p, err := assets.GetAs[scene.PipelineConfig](ctx, l, pipeline)
	r.NoError(err)
	assert.Equal(t, "shared", p.VertexShader.Source)
	assert.Same(t, p.VertexShader, p.FragmentShader)
}
