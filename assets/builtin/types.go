// Package builtin registers the asset types every project can use.
package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"miren.dev/studio/assets"
	"miren.dev/studio/pkg/structure"
	"miren.dev/studio/scene"
)

const (
	ShaderSourceID          = "studio:shaderSource"
	MeshID                  = "studio:mesh"
	PipelineConfigID        = "studio:pipelineConfig"
	MaterialMapID           = "studio:materialMap"
	MaterialID              = "studio:material"
	ClusteredLightsConfigID = "studio:clusteredLightsConfig"
	EntityID                = "studio:entity"
)

var (
	ShaderSourceUUID          = uuid.MustParse("e7253ad6-8459-431f-ac16-609150538a24")
	MeshUUID                  = uuid.MustParse("f202aae6-673a-497d-806d-c2d4752bb146")
	PipelineConfigUUID        = uuid.MustParse("c850b2eb-ab27-4991-b30e-b60d70ff6a2d")
	MaterialMapUUID           = uuid.MustParse("dd28f2f7-254c-4447-9041-5d2ca3b2a3b6")
	MaterialUUID              = uuid.MustParse("430f47a8-82cc-4b4c-a664-2360794e80d6")
	ClusteredLightsConfigUUID = uuid.MustParse("13194e5c-01e8-4ecc-b645-86626b9d5e4c")
	EntityUUID                = uuid.MustParse("0654611f-c908-4ec0-8bbf-c109a33c0914")
)

func mat4Node() *structure.Node {
	return structure.NewArray(structure.NewFloat32(), structure.FixedLen(16))
}

var identity = func() []any {
	m := scene.Identity()
	out := make([]any, len(m))
	for i, f := range m {
		out[i] = f
	}
	return out
}()

var (
	MeshStructure = structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Uint32("vertexCount", 1)
		b.Enum("indexFormat", 2, []string{
			string(scene.IndexNone),
			string(scene.IndexUint16),
			string(scene.IndexUint32),
		})
		b.Bytes("indices", 3)
		b.Field("attributes", 4, structure.NewArray(structure.NewObject(func(b *structure.ObjectBuilder) {
			b.Enum("type", 1, []string{
				string(scene.AttributePosition),
				string(scene.AttributeNormal),
				string(scene.AttributeUV),
				string(scene.AttributeColor),
			})
			b.Uint8("componentCount", 2, structure.Default(3))
			b.Bytes("data", 3)
		})))
	})

	PipelineConfigStructure = structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Ref("vertexShader", 1)
		b.Ref("fragmentShader", 2)
	})

	MaterialMapStructure = structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Ref("pipelineConfig", 1)
	})

	MaterialStructure = structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Field("materialMap", 1, structure.NewAssetRef(
			structure.Embeddable(MaterialMapID, MaterialMapStructure),
		))
		b.Field("properties", 2, structure.NewArray(structure.NewObject(func(b *structure.ObjectBuilder) {
			b.String("name", 1, structure.Required)
			b.Vec4("value", 2)
		})))
	})

	ClusteredLightsConfigStructure = structure.NewObject(func(b *structure.ObjectBuilder) {
		b.Vec3("clusterCount", 1, structure.Default([]any{16, 9, 24}))
		b.Uint32("maxLightsPerClusterPass", 2, structure.Default(10))
	})

	// EntityStructure is a whole entity tree. Components keep their
	// property values as a payload in the component type's own structure.
	EntityStructure = structure.NewObject(func(b *structure.ObjectBuilder) {
		b.String("name", 1)
		b.Field("matrix", 2, mat4Node(), structure.Default(identity))
		b.Field("children", 3, structure.NewArray(b.Self()))
		b.Field("components", 4, structure.NewArray(structure.NewObject(func(b *structure.ObjectBuilder) {
			b.UUID("uuid", 5, structure.Required)
			b.Bytes("propertyValues", 6)
		})))
	})
)

// Register adds the built-in asset types to reg. Entities use comps to
// restore their components.
func Register(reg *assets.Registry, comps *Components) error {
	var errs []error

	add := func(_ *assets.AssetType, err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(assets.Register(reg, assets.Type[scene.ShaderSource]{
		ID:      ShaderSourceID,
		UUID:    ShaderSourceUUID,
		Storage: assets.StorageText,
		Load: func(ctx context.Context, in *assets.LoadInput) (*scene.ShaderSource, error) {
			return &scene.ShaderSource{Source: string(in.Data)}, nil
		},
		Save: func(ctx context.Context, in *assets.SaveInput, s *scene.ShaderSource) (any, error) {
			return s.Source, nil
		},
	}))

	add(assets.Register(reg, assets.Type[scene.Mesh]{
		ID:        MeshID,
		UUID:      MeshUUID,
		Structure: MeshStructure,
		Load:      loadMesh,
		Save:      saveMesh,
	}))

	add(assets.Register(reg, assets.Type[scene.PipelineConfig]{
		ID:        PipelineConfigID,
		UUID:      PipelineConfigUUID,
		Structure: PipelineConfigStructure,
		Load: func(ctx context.Context, in *assets.LoadInput) (*scene.PipelineConfig, error) {
			f := in.Fields()
			return &scene.PipelineConfig{
				VertexShader:   liveAs[scene.ShaderSource](f["vertexShader"]),
				FragmentShader: liveAs[scene.ShaderSource](f["fragmentShader"]),
			}, nil
		},
		Save: func(ctx context.Context, in *assets.SaveInput, p *scene.PipelineConfig) (any, error) {
			return map[string]any{
				"vertexShader":   liveOrNil(p.VertexShader),
				"fragmentShader": liveOrNil(p.FragmentShader),
			}, nil
		},
	}))

	add(assets.Register(reg, assets.Type[scene.MaterialMap]{
		ID:        MaterialMapID,
		UUID:      MaterialMapUUID,
		Structure: MaterialMapStructure,
		Load: func(ctx context.Context, in *assets.LoadInput) (*scene.MaterialMap, error) {
			return &scene.MaterialMap{
				Pipeline: liveAs[scene.PipelineConfig](in.Fields()["pipelineConfig"]),
			}, nil
		},
		Save: func(ctx context.Context, in *assets.SaveInput, m *scene.MaterialMap) (any, error) {
			return map[string]any{"pipelineConfig": liveOrNil(m.Pipeline)}, nil
		},
	}))

	add(assets.Register(reg, assets.Type[scene.Material]{
		ID:        MaterialID,
		UUID:      MaterialUUID,
		Structure: MaterialStructure,
		Load:      loadMaterial,
		Save:      saveMaterial,
	}))

	add(assets.Register(reg, assets.Type[scene.ClusteredLightsConfig]{
		ID:        ClusteredLightsConfigID,
		UUID:      ClusteredLightsConfigUUID,
		Structure: ClusteredLightsConfigStructure,
		Load: func(ctx context.Context, in *assets.LoadInput) (*scene.ClusteredLightsConfig, error) {
			f := in.Fields()
			c := &scene.ClusteredLightsConfig{
				MaxLightsPerClusterPass: f["maxLightsPerClusterPass"].(uint32),
			}
			fill(c.ClusterCount[:], f["clusterCount"])
			return c, nil
		},
		Save: func(ctx context.Context, in *assets.SaveInput, c *scene.ClusteredLightsConfig) (any, error) {
			return map[string]any{
				"clusterCount":            [3]float32(c.ClusterCount),
				"maxLightsPerClusterPass": c.MaxLightsPerClusterPass,
			}, nil
		},
	}))

	ent := &entities{comps: comps}

	add(assets.Register(reg, assets.Type[scene.Entity]{
		ID:         EntityID,
		UUID:       EntityUUID,
		Structure:  EntityStructure,
		Load:       ent.load,
		Save:       ent.save,
		References: ent.references,
	}))

	return errors.Join(errs...)
}

// NewRegistry returns a registry holding the built-in types.
func NewRegistry() (*assets.Registry, error) {
	reg := assets.NewRegistry()

	if err := Register(reg, DefaultComponents()); err != nil {
		return nil, err
	}

	return reg, nil
}

func liveAs[T any](v any) *T {
	p, _ := v.(*T)
	return p
}

// liveOrNil keeps a nil pointer from becoming a non-nil interface.
func liveOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return p
}

func fill(dst []float32, v any) {
	elems, _ := v.([]any)
	for i, e := range elems {
		if i < len(dst) {
			dst[i], _ = e.(float32)
		}
	}
}

func loadMesh(ctx context.Context, in *assets.LoadInput) (*scene.Mesh, error) {
	f := in.Fields()

	m := &scene.Mesh{
		VertexCount: f["vertexCount"].(uint32),
		IndexFormat: scene.IndexFormat(f["indexFormat"].(string)),
		Indices:     f["indices"].([]byte),
	}

	for _, a := range f["attributes"].([]any) {
		attr := a.(map[string]any)
		m.Attributes = append(m.Attributes, scene.MeshAttribute{
			Type:           scene.AttributeType(attr["type"].(string)),
			ComponentCount: attr["componentCount"].(uint8),
			Data:           attr["data"].([]byte),
		})
	}

	if err := checkMesh(m); err != nil {
		return nil, err
	}

	return m, nil
}

func checkMesh(m *scene.Mesh) error {
	for _, a := range m.Attributes {
		want := int(m.VertexCount) * int(a.ComponentCount) * 4
		if len(a.Data) != want {
			return fmt.Errorf("%w: %s attribute has %d bytes, want %d", structure.ErrSchemaMismatch, a.Type, len(a.Data), want)
		}
	}

	var size int
	switch m.IndexFormat {
	case scene.IndexUint16:
		size = 2
	case scene.IndexUint32:
		size = 4
	}

	if size > 0 && len(m.Indices)%size != 0 {
		return fmt.Errorf("%w: index data is not a multiple of %d bytes", structure.ErrSchemaMismatch, size)
	}

	return nil
}

func saveMesh(ctx context.Context, in *assets.SaveInput, m *scene.Mesh) (any, error) {
	attrs := make([]any, len(m.Attributes))
	for i, a := range m.Attributes {
		attrs[i] = map[string]any{
			"type":           string(a.Type),
			"componentCount": a.ComponentCount,
			"data":           a.Data,
		}
	}

	format := m.IndexFormat
	if format == "" {
		format = scene.IndexNone
	}

	return map[string]any{
		"vertexCount": m.VertexCount,
		"indexFormat": string(format),
		"indices":     m.Indices,
		"attributes":  attrs,
	}, nil
}

func loadMaterial(ctx context.Context, in *assets.LoadInput) (*scene.Material, error) {
	f := in.Fields()

	m := &scene.Material{
		Map: liveAs[scene.MaterialMap](f["materialMap"]),
	}

	for _, p := range f["properties"].([]any) {
		prop := p.(map[string]any)

		mp := scene.MaterialProperty{Name: prop["name"].(string)}
		fill(mp.Value[:], prop["value"])

		m.Properties = append(m.Properties, mp)
	}

	return m, nil
}

func saveMaterial(ctx context.Context, in *assets.SaveInput, m *scene.Material) (any, error) {
	props := make([]any, len(m.Properties))
	for i, p := range m.Properties {
		props[i] = map[string]any{
			"name":  p.Name,
			"value": p.Value,
		}
	}

	return map[string]any{
		"materialMap": liveOrNil(m.Map),
		"properties":  props,
	}, nil
}
