package project_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"miren.dev/studio/assets"
	"miren.dev/studio/assets/assettest"
	"miren.dev/studio/assets/builtin"
	"miren.dev/studio/assets/project"
	"miren.dev/studio/scene"
)

func open(t *testing.T, dir string) (*project.Project, *assets.Loader) {
	p, err := project.Open(assettest.TestLogger(t), dir,
		project.WithExtension(".wgsl", builtin.ShaderSourceID),
		project.WithDebounce(20*time.Millisecond),
	)
	require.NoError(t, err)

	reg, err := builtin.NewRegistry()
	require.NoError(t, err)

	l, err := assets.NewLoader(reg, assets.WithSource(p), assets.WithLog(assettest.TestLogger(t)))
	require.NoError(t, err)

	return p, l
}

type ids struct {
	shader, pipeline, material uuid.UUID
}

func populate(t *testing.T, p *project.Project) ids {
	r := require.New(t)

	a := ids{shader: uuid.New(), pipeline: uuid.New(), material: uuid.New()}

	r.NoError(p.Put(a.shader, []string{"shaders", "basic.wgsl"}, builtin.ShaderSourceID, "@vertex fn main() {}"))

	r.NoError(p.Put(a.pipeline, []string{"pipelines", "basic.cbor"}, builtin.PipelineConfigID, map[string]any{
		"vertexShader":   a.shader.String(),
		"fragmentShader": a.shader.String(),
	}))

	r.NoError(p.Put(a.material, []string{"materials", "red.json"}, builtin.MaterialID, map[string]any{
		"materialMap": map[string]any{"pipelineConfig": a.pipeline.String()},
		"properties": []any{
			map[string]any{"name": "baseColor", "value": []any{1, 0, 0, 1}},
		},
	}))

	return a
}

func TestProjectLoad(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)

	dir := t.TempDir()

	p, _ := open(t, dir)
	a := populate(t, p)

	p, l := open(t, dir)
	r.ElementsMatch([]uuid.UUID{a.shader, a.pipeline, a.material}, p.Entries())

	mat, err := assets.GetAs[scene.Material](ctx, l, a.material)
	r.NoError(err)
	r.NotNil(mat.Map)
	r.Equal("@vertex fn main() {}", mat.Map.Pipeline.VertexShader.Source)
	r.Same(mat.Map.Pipeline.VertexShader, mat.Map.Pipeline.FragmentShader)

	color, ok := mat.Property("baseColor")
	r.True(ok)
	r.Equal([4]float32{1, 0, 0, 1}, color)

	id, ok := p.ByPath([]string{"materials", "red.json"})
	r.True(ok)
	r.Equal(a.material, id)

	var s struct {
		Assets map[string]map[string]any `json:"assets"`
	}

	data, err := os.ReadFile(filepath.Join(dir, "ProjectSettings", "assetSettings.json"))
	r.NoError(err)
	r.NoError(json.Unmarshal(data, &s))

	r.Equal(map[string]any{"path": []any{"shaders", "basic.wgsl"}}, s.Assets[a.shader.String()])
	r.Equal(map[string]any{"path": []any{"materials", "red.json"}}, s.Assets[a.material.String()])
}

func TestProjectSave(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)

	dir := t.TempDir()

	p, l := open(t, dir)
	a := populate(t, p)

	mat, err := assets.GetAs[scene.Material](ctx, l, a.material)
	r.NoError(err)

	mat.Properties[0].Value = [4]float32{0, 1, 0, 1}
	r.NoError(p.Save(ctx, l, a.material, mat))

	var file struct {
		AssetType string         `json:"assetType"`
		Asset     map[string]any `json:"asset"`
	}

	data, err := os.ReadFile(filepath.Join(dir, "materials", "red.json"))
	r.NoError(err)
	r.NoError(json.Unmarshal(data, &file))
	r.Equal(builtin.MaterialID, file.AssetType)
	r.Equal(map[string]any{"pipelineConfig": a.pipeline.String()}, file.Asset["materialMap"])

	_, l = open(t, dir)

	again, err := assets.GetAs[scene.Material](ctx, l, a.material)
	r.NoError(err)

	color, ok := again.Property("baseColor")
	r.True(ok)
	r.Equal([4]float32{0, 1, 0, 1}, color)

	t.Run("unknown asset", func(t *testing.T) {
		err := p.Save(ctx, l, uuid.New(), mat)
		assert.ErrorIs(t, err, assets.ErrAssetNotFound)
	})

	t.Run("create", func(t *testing.T) {
		id := uuid.New()
		r.NoError(p.Create(ctx, l, id, []string{"lights.json"}, &scene.ClusteredLightsConfig{
			ClusterCount:            scene.Vec3{16, 9, 24},
			MaxLightsPerClusterPass: 12,
		}))

		data, err := os.ReadFile(filepath.Join(dir, "lights.json"))
		r.NoError(err)
		r.JSONEq(`{"assetType": "studio:clusteredLightsConfig", "asset": {"maxLightsPerClusterPass": 12}}`, string(data))
	})
}

func TestProjectHandWrittenFiles(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)

	dir := t.TempDir()
	id := uuid.New()

	r.NoError(os.MkdirAll(filepath.Join(dir, "ProjectSettings"), 0755))
	r.NoError(os.WriteFile(filepath.Join(dir, "ProjectSettings", "assetSettings.json"), []byte(`{
		"assets": {
			"`+id.String()+`": {"path": ["lights.json"]},
			"`+uuid.NewString()+`": {"path": ["..", "outside.json"]}
		}
	}`), 0644))

	r.NoError(os.WriteFile(filepath.Join(dir, "lights.json"), []byte(`{
		"assetType": "studio:clusteredLightsConfig",
		"asset": {"clusterCount": [8, 8, 8], "maxLightsPerClusterPass": 4294967295}
	}`), 0644))

	p, l := open(t, dir)
	r.Equal([]uuid.UUID{id}, p.Entries())

	c, err := assets.GetAs[scene.ClusteredLightsConfig](ctx, l, id)
	r.NoError(err)
	r.Equal(scene.Vec3{8, 8, 8}, c.ClusterCount)
	r.Equal(uint32(4294967295), c.MaxLightsPerClusterPass)
}

func TestProjectPaths(t *testing.T) {
	p, _ := open(t, t.TempDir())

	err := p.Put(uuid.New(), []string{"..", "escape.json"}, builtin.MaterialID, map[string]any{})
	assert.ErrorIs(t, err, project.ErrBadPath)

	err = p.Put(uuid.New(), nil, builtin.MaterialID, map[string]any{})
	assert.ErrorIs(t, err, project.ErrBadPath)

	err = p.Put(uuid.New(), []string{"shader.wgsl"}, builtin.ShaderSourceID, map[string]any{})
	assert.Error(t, err)
}

func TestProjectRemove(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)

	dir := t.TempDir()

	p, l := open(t, dir)
	a := populate(t, p)

	r.NoError(p.Remove(a.shader))
	r.NoFileExists(filepath.Join(dir, "shaders", "basic.wgsl"))

	_, err := l.Get(ctx, a.shader)
	r.ErrorIs(err, assets.ErrAssetNotFound)

	p, _ = open(t, dir)
	r.ElementsMatch([]uuid.UUID{a.pipeline, a.material}, p.Entries())
}

func TestProjectWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := require.New(t)

	dir := t.TempDir()

	p, l := open(t, dir)
	a := populate(t, p)

	shader, err := assets.GetAs[scene.ShaderSource](ctx, l, a.shader)
	r.NoError(err)

	var changes atomic.Int32
	defer l.Subscribe(a.shader, func(uuid.UUID) {
		changes.Add(1)
	})()

	r.NoError(l.Watch(ctx))

	r.NoError(p.Put(a.shader, []string{"shaders", "basic.wgsl"}, builtin.ShaderSourceID, "@vertex fn main() {}"))

	time.Sleep(100 * time.Millisecond)
	r.Zero(changes.Load(), "own writes are not reported")

	r.NoError(os.WriteFile(filepath.Join(dir, "shaders", "basic.wgsl"), []byte("@fragment fn main() {}"), 0644))

	r.Eventually(func() bool {
		return changes.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)

	again, err := assets.GetAs[scene.ShaderSource](ctx, l, a.shader)
	r.NoError(err)
	r.NotSame(shader, again)
	r.Equal("@fragment fn main() {}", again.Source)
}
