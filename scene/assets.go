package scene

import "github.com/google/uuid"

type ShaderSource struct {
	Source string
}

type IndexFormat string

const (
	IndexNone   IndexFormat = "none"
	IndexUint16 IndexFormat = "uint16"
	IndexUint32 IndexFormat = "uint32"
)

type AttributeType string

const (
	AttributePosition AttributeType = "position"
	AttributeNormal   AttributeType = "normal"
	AttributeUV       AttributeType = "uv"
	AttributeColor    AttributeType = "color"
)

type MeshAttribute struct {
	Type           AttributeType
	ComponentCount uint8
	Data           []byte
}

type Mesh struct {
	VertexCount uint32
	IndexFormat IndexFormat
	Indices     []byte
	Attributes  []MeshAttribute
}

// Attribute returns the attribute of the given type, if the mesh has one.
func (m *Mesh) Attribute(t AttributeType) (*MeshAttribute, bool) {
	for i := range m.Attributes {
		if m.Attributes[i].Type == t {
			return &m.Attributes[i], true
		}
	}
	return nil, false
}

type PipelineConfig struct {
	VertexShader   *ShaderSource
	FragmentShader *ShaderSource
}

// MaterialMap binds a material to the pipelines that render it. Materials
// usually carry theirs inline.
type MaterialMap struct {
	Pipeline *PipelineConfig
}

type MaterialProperty struct {
	Name  string
	Value [4]float32
}

type Material struct {
	Map        *MaterialMap
	Properties []MaterialProperty
}

// Property returns the value of a named property.
func (m *Material) Property(name string) ([4]float32, bool) {
	for _, p := range m.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return [4]float32{}, false
}

type ClusteredLightsConfig struct {
	ClusterCount            Vec3
	MaxLightsPerClusterPass uint32
}

// Component type ids.
var (
	MeshComponentType   = uuid.MustParse("c7fc3a04-fa51-49aa-8f04-864c0cebf49c")
	LightComponentType  = uuid.MustParse("b08e7f42-3919-47e4-ae3e-046e99362090")
	CameraComponentType = uuid.MustParse("1a78b3f2-7688-4776-b512-ed1ee2326d8a")
)

type MeshComponent struct {
	Mesh      *Mesh
	Materials []*Material
}

func (*MeshComponent) ComponentType() uuid.UUID { return MeshComponentType }

type LightType string

const (
	LightPoint       LightType = "point"
	LightDirectional LightType = "directional"
	LightSpot        LightType = "spot"
)

type LightComponent struct {
	Type  LightType
	Color Vec3
}

func (*LightComponent) ComponentType() uuid.UUID { return LightComponentType }

type CameraComponent struct {
	FOV      float32
	ClipNear float32
	ClipFar  float32
	Aspect   float32

	AutoUpdateProjection bool
	Projection           Mat4
}

func (*CameraComponent) ComponentType() uuid.UUID { return CameraComponentType }

// UpdateProjection recomputes Projection from the camera settings.
func (c *CameraComponent) UpdateProjection() {
	c.Projection = Perspective(c.FOV, c.Aspect, c.ClipNear, c.ClipFar)
}

// RawComponent keeps a component whose type is not known so that it
// survives a load and save.
type RawComponent struct {
	Type uuid.UUID
	Data []byte
}

func (c *RawComponent) ComponentType() uuid.UUID { return c.Type }
