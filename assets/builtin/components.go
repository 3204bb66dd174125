package builtin

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"miren.dev/studio/assets"
	"miren.dev/studio/pkg/structure"
	"miren.dev/studio/scene"
)

// ComponentType stores and restores one kind of entity component. The
// property values of a component are kept as a binary payload encoded with
// Structure, so component types can change without touching the entity
// format.
type ComponentType struct {
	UUID      uuid.UUID
	Name      string
	Structure *structure.Node

	// Load builds a component from its normalized property values, with
	// asset references already resolved.
	Load func(props map[string]any) (scene.Component, error)

	// Save returns the property values of a component, with asset
	// references given as live assets.
	Save func(c scene.Component) (map[string]any, error)
}

type Components struct {
	mu     sync.RWMutex
	byUUID map[uuid.UUID]*ComponentType
}

func NewComponents() *Components {
	return &Components{
		byUUID: make(map[uuid.UUID]*ComponentType),
	}
}

func (c *Components) Register(ct ComponentType) error {
	if ct.UUID == uuid.Nil || ct.Structure == nil || ct.Load == nil || ct.Save == nil {
		return errors.Wrapf(assets.ErrInvalidType, "component type %q is incomplete", ct.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if other, ok := c.byUUID[ct.UUID]; ok {
		return errors.Wrapf(assets.ErrDuplicateType, "component uuid %s of %s is used by %s", ct.UUID, ct.Name, other.Name)
	}

	c.byUUID[ct.UUID] = &ct
	return nil
}

func (c *Components) Get(id uuid.UUID) (*ComponentType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ct, ok := c.byUUID[id]
	return ct, ok
}

// DefaultComponents returns the mesh, light and camera component types.
func DefaultComponents() *Components {
	c := NewComponents()

	for _, ct := range []ComponentType{meshComponent(), lightComponent(), cameraComponent()} {
		if err := c.Register(ct); err != nil {
			panic(err)
		}
	}

	return c
}

func meshComponent() ComponentType {
	return ComponentType{
		UUID: scene.MeshComponentType,
		Name: "Mesh",
		Structure: structure.NewObject(func(b *structure.ObjectBuilder) {
			b.Ref("mesh", 1)
			b.Field("materials", 2, structure.NewArray(structure.NewAssetRef()))
		}),
		Load: func(props map[string]any) (scene.Component, error) {
			mc := &scene.MeshComponent{
				Mesh: liveAs[scene.Mesh](props["mesh"]),
			}
			for _, m := range props["materials"].([]any) {
				mc.Materials = append(mc.Materials, liveAs[scene.Material](m))
			}
			return mc, nil
		},
		Save: func(c scene.Component) (map[string]any, error) {
			mc, ok := c.(*scene.MeshComponent)
			if !ok {
				return nil, fmt.Errorf("%w: %T is not a mesh component", assets.ErrAssetTypeMismatch, c)
			}

			materials := make([]any, len(mc.Materials))
			for i, m := range mc.Materials {
				materials[i] = liveOrNil(m)
			}

			return map[string]any{
				"mesh":      liveOrNil(mc.Mesh),
				"materials": materials,
			}, nil
		},
	}
}

func lightComponent() ComponentType {
	return ComponentType{
		UUID: scene.LightComponentType,
		Name: "Light",
		Structure: structure.NewObject(func(b *structure.ObjectBuilder) {
			b.Enum("lightType", 1, []string{
				string(scene.LightPoint),
				string(scene.LightDirectional),
				string(scene.LightSpot),
			})
			b.Vec3("color", 2, structure.Default([]any{1, 1, 1}))
		}),
		Load: func(props map[string]any) (scene.Component, error) {
			lc := &scene.LightComponent{
				Type: scene.LightType(props["lightType"].(string)),
			}
			fill(lc.Color[:], props["color"])
			return lc, nil
		},
		Save: func(c scene.Component) (map[string]any, error) {
			lc, ok := c.(*scene.LightComponent)
			if !ok {
				return nil, fmt.Errorf("%w: %T is not a light component", assets.ErrAssetTypeMismatch, c)
			}

			return map[string]any{
				"lightType": string(lc.Type),
				"color":     [3]float32(lc.Color),
			}, nil
		},
	}
}

func cameraComponent() ComponentType {
	return ComponentType{
		UUID: scene.CameraComponentType,
		Name: "Camera",
		Structure: structure.NewObject(func(b *structure.ObjectBuilder) {
			b.Float32("fov", 1, structure.Default(70))
			b.Float32("clipNear", 2, structure.Default(0.01))
			b.Float32("clipFar", 3, structure.Default(1000))
			b.Float32("aspect", 4, structure.Default(1))
			b.Bool("autoUpdateProjectionMatrix", 5, structure.Default(true))
			b.Field("projectionMatrix", 6, mat4Node())
		}),
		Load: func(props map[string]any) (scene.Component, error) {
			cc := &scene.CameraComponent{
				FOV:                  props["fov"].(float32),
				ClipNear:             props["clipNear"].(float32),
				ClipFar:              props["clipFar"].(float32),
				Aspect:               props["aspect"].(float32),
				AutoUpdateProjection: props["autoUpdateProjectionMatrix"].(bool),
			}
			fill(cc.Projection[:], props["projectionMatrix"])
			if cc.AutoUpdateProjection {
				cc.UpdateProjection()
			}
			return cc, nil
		},
		Save: func(c scene.Component) (map[string]any, error) {
			cc, ok := c.(*scene.CameraComponent)
			if !ok {
				return nil, fmt.Errorf("%w: %T is not a camera component", assets.ErrAssetTypeMismatch, c)
			}

			return map[string]any{
				"fov":                        cc.FOV,
				"clipNear":                   cc.ClipNear,
				"clipFar":                    cc.ClipFar,
				"aspect":                     cc.Aspect,
				"autoUpdateProjectionMatrix": cc.AutoUpdateProjection,
				"projectionMatrix":           [16]float32(cc.Projection),
			}, nil
		},
	}
}
