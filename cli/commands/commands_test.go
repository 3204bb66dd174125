package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"miren.dev/studio/assets/assettest"
	"miren.dev/studio/assets/builtin"
	"miren.dev/studio/assets/bundle"
	"miren.dev/studio/assets/project"
)

type fixture struct {
	dir      string
	shader   uuid.UUID
	pipeline uuid.UUID
	material uuid.UUID
	config   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	r := require.New(t)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	f := &fixture{
		dir:      t.TempDir(),
		shader:   uuid.New(),
		pipeline: uuid.New(),
		material: uuid.New(),
		config:   uuid.New(),
	}

	p, err := project.Open(assettest.TestLogger(t), f.dir, project.WithExtension(".wgsl", builtin.ShaderSourceID))
	r.NoError(err)

	r.NoError(p.Put(f.shader, []string{"shaders", "basic.wgsl"}, builtin.ShaderSourceID, "@vertex fn main() {}"))

	r.NoError(p.Put(f.pipeline, []string{"pipelines", "basic.json"}, builtin.PipelineConfigID, map[string]any{
		"vertexShader":   f.shader.String(),
		"fragmentShader": f.shader.String(),
	}))

	r.NoError(p.Put(f.material, []string{"materials", "red.json"}, builtin.MaterialID, map[string]any{
		"materialMap": map[string]any{"pipelineConfig": f.pipeline.String()},
		"properties": []any{
			map[string]any{"name": "baseColor", "value": []any{1, 0, 0, 1}},
		},
	}))

	r.NoError(p.Put(f.config, []string{"bundles", "red.json"}, bundle.ConfigID, map[string]any{
		"assets": []any{
			map[string]any{"asset": f.material.String()},
		},
	}))

	return f
}

func (f *fixture) run(t *testing.T, cmd any, args ...string) *CommandOutput {
	out, err := RunCommand(cmd, append([]string{"--project", f.dir}, args...)...)
	require.NoError(t, err, "stderr: %s", out.Stderr.String())
	return out
}

func TestAssetCommands(t *testing.T) {
	f := newFixture(t)

	t.Run("list", func(t *testing.T) {
		r := require.New(t)

		out := f.run(t, AssetList)
		r.Contains(out.Stdout.String(), f.material.String())
		r.Contains(out.Stdout.String(), "materials/red.json")
		r.Contains(out.Stdout.String(), builtin.ShaderSourceID)

		out = f.run(t, AssetList, "--format", "json", "--type", builtin.MaterialID)

		var items []assetItem
		r.NoError(json.Unmarshal(out.Stdout.Bytes(), &items))
		r.Len(items, 1)
		r.Equal(f.material.String(), items[0].UUID)
	})

	t.Run("show by path", func(t *testing.T) {
		r := require.New(t)

		out := f.run(t, AssetShow, "pipelines/basic.json")

		var doc struct {
			AssetType string         `json:"assetType"`
			Asset     map[string]any `json:"asset"`
		}
		r.NoError(json.Unmarshal(out.Stdout.Bytes(), &doc))
		r.Equal(builtin.PipelineConfigID, doc.AssetType)
		r.Equal(f.shader.String(), doc.Asset["vertexShader"])
	})

	t.Run("show yaml", func(t *testing.T) {
		r := require.New(t)

		out := f.run(t, AssetShow, "--format", "yaml", f.material.String())
		r.Contains(out.Stdout.String(), "assetType: "+builtin.MaterialID)
		r.Contains(out.Stdout.String(), "baseColor")
	})

	t.Run("unknown asset", func(t *testing.T) {
		_, err := RunCommand(AssetShow, "--project", f.dir, "nothing/here.json")
		require.Error(t, err)
	})

	t.Run("refs", func(t *testing.T) {
		r := require.New(t)

		out := f.run(t, AssetRefs, f.material.String())
		r.Contains(out.Stdout.String(), f.pipeline.String())
		r.NotContains(out.Stdout.String(), f.shader.String())

		out = f.run(t, AssetRefs, "--recursive", "--format", "json", f.material.String())

		var root refNode
		r.NoError(json.Unmarshal(out.Stdout.Bytes(), &root))
		r.Equal(builtin.MaterialID, root.Type)
		r.Len(root.Refs, 1)
		r.Equal(f.pipeline.String(), root.Refs[0].UUID)
		r.Len(root.Refs[0].Refs, 1)
		r.Equal(f.shader.String(), root.Refs[0].Refs[0].UUID)
	})

	t.Run("load", func(t *testing.T) {
		r := require.New(t)

		out := f.run(t, AssetLoad, f.material.String())
		r.Contains(out.Stdout.String(), "*scene.Material")
		r.Contains(out.Stdout.String(), "CACHE EVENT")
	})

	t.Run("load with missing reference", func(t *testing.T) {
		r := require.New(t)

		p, err := project.Open(assettest.TestLogger(t), f.dir)
		r.NoError(err)

		broken, missing := uuid.New(), uuid.New()
		r.NoError(p.Put(broken, []string{"pipelines", "broken.json"}, builtin.PipelineConfigID, map[string]any{
			"vertexShader":   f.shader.String(),
			"fragmentShader": missing.String(),
		}))

		out, err := RunCommand(AssetLoad, "--project", f.dir, broken.String())
		r.ErrorIs(err, ErrExitCode(1))
		r.Contains(out.Stdout.String(), "*scene.PipelineConfig")
		r.Contains(out.Stdout.String(), "UNRESOLVED")
		r.Contains(out.Stdout.String(), missing.String())
		r.NotContains(out.Stdout.String(), f.shader.String())
	})

	t.Run("types", func(t *testing.T) {
		r := require.New(t)

		out := f.run(t, AssetTypes, "--schema")
		r.Contains(out.Stdout.String(), bundle.ConfigID)
		r.Contains(out.Stdout.String(), "includeChildren")
	})
}

func TestBundleAndLibraryCommands(t *testing.T) {
	r := require.New(t)

	f := newFixture(t)
	file := filepath.Join(t.TempDir(), "red.bundle")

	out := f.run(t, BundleBuild, "--output", file, f.config.String())
	r.Contains(out.Stdout.String(), "Wrote 3 assets")

	out = f.run(t, BundleList, "--format", "json", file)

	var info bundleInfo
	r.NoError(json.Unmarshal(out.Stdout.Bytes(), &info))
	r.Len(info.Records, 3)
	r.NotEmpty(info.Digest)

	types := map[string]bool{}
	for _, rec := range info.Records {
		types[rec.Type] = true
	}
	r.True(types[builtin.MaterialID])
	r.True(types[builtin.PipelineConfigID])
	r.True(types[builtin.ShaderSourceID])

	out = f.run(t, LibraryImport, file)
	r.Contains(out.Stdout.String(), "Imported 3 assets")

	out = f.run(t, LibraryImport, file)
	r.Contains(out.Stdout.String(), "already imported")

	out = f.run(t, LibraryList, "--format", "json")

	var items []libraryItem
	r.NoError(json.Unmarshal(out.Stdout.Bytes(), &items))
	r.Len(items, 3)
}

func TestOptionsFile(t *testing.T) {
	r := require.New(t)

	f := newFixture(t)

	opts := filepath.Join(t.TempDir(), "opts.toml")
	r.NoError(os.WriteFile(opts, []byte("format = \"json\"\ntype = \""+builtin.MaterialID+"\"\n"), 0644))

	out := f.run(t, AssetList, "--options", opts)

	var items []assetItem
	r.NoError(json.Unmarshal(out.Stdout.Bytes(), &items))
	r.Len(items, 1)
	r.Equal(f.material.String(), items[0].UUID)

	out = f.run(t, AssetList, "--options", opts, "--format", "yaml")
	r.Contains(out.Stdout.String(), "uuid: "+f.material.String())

	r.NoError(os.WriteFile(opts, []byte("format = 3\n"), 0644))

	_, err := RunCommand(AssetList, "--project", f.dir, "--options", opts)
	r.Error(err)
}

func TestConfigCommands(t *testing.T) {
	r := require.New(t)

	f := newFixture(t)

	out := f.run(t, ConfigShow)
	r.Contains(out.Stdout.String(), "[cache]")

	out = f.run(t, ConfigShow, "--sources")
	r.Contains(out.Stdout.String(), "project.path")
	r.Contains(out.Stdout.String(), "cli")

	out = f.run(t, ConfigInit)
	r.Contains(out.Stdout.String(), filepath.Join("ProjectSettings", "studio.toml"))

	_, err := RunCommand(ConfigInit, "--project", f.dir)
	r.Error(err)
}

func TestVersionCommand(t *testing.T) {
	r := require.New(t)

	newFixture(t)

	out, err := RunCommand(Version, "--format", "json")
	r.NoError(err)
	r.Contains(out.Stdout.String(), `"version"`)
}

func TestHelpOutput(t *testing.T) {
	r := require.New(t)

	cmd := Infer("asset refs", "Show the assets an asset refers to", AssetRefs)
	help := cmd.Help()

	r.Contains(help, "Usage: studio asset refs")
	r.Contains(help, "--recursive")
	r.Contains(help, "--project")
}
