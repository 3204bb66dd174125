package builtin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"miren.dev/studio/assets"
	"miren.dev/studio/pkg/binstruct"
	"miren.dev/studio/scene"
)

type entities struct {
	comps *Components
}

func (t *entities) load(ctx context.Context, in *assets.LoadInput) (*scene.Entity, error) {
	type item struct {
		v      map[string]any
		parent *scene.Entity
	}

	var root *scene.Entity

	stack := []item{{v: in.Fields()}}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		e := &scene.Entity{Name: it.v["name"].(string)}
		fill(e.Matrix[:], it.v["matrix"])

		if it.parent == nil {
			root = e
		} else {
			it.parent.Add(e)
		}

		for _, c := range it.v["components"].([]any) {
			cd := c.(map[string]any)

			comp, err := t.component(ctx, in.Loader, cd["uuid"].(uuid.UUID), cd["propertyValues"].([]byte))
			if err != nil {
				return nil, fmt.Errorf("entity %q: %w", e.Name, err)
			}

			e.AddComponent(comp)
		}

		children := it.v["children"].([]any)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{v: children[i].(map[string]any), parent: e})
		}
	}

	return root, nil
}

func (t *entities) component(ctx context.Context, l *assets.Loader, typ uuid.UUID, data []byte) (scene.Component, error) {
	ct, ok := t.comps.Get(typ)
	if !ok {
		l.Log().Warn("unknown component type, keeping raw property values", "component", typ)
		return &scene.RawComponent{Type: typ, Data: data}, nil
	}

	v, err := l.Decode(ctx, data, ct.Structure)
	if err != nil {
		return nil, fmt.Errorf("decoding %s component: %w", ct.Name, err)
	}

	return ct.Load(v.(map[string]any))
}

func (t *entities) save(ctx context.Context, in *assets.SaveInput, root *scene.Entity) (any, error) {
	type item struct {
		e   *scene.Entity
		set func(map[string]any)
	}

	var out map[string]any

	stack := []item{{e: root, set: func(m map[string]any) { out = m }}}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		comps := make([]any, 0, len(it.e.Components))
		for _, c := range it.e.Components {
			data, err := t.componentData(ctx, in.Loader, c)
			if err != nil {
				return nil, fmt.Errorf("entity %q: %w", it.e.Name, err)
			}

			comps = append(comps, map[string]any{
				"uuid":           c.ComponentType(),
				"propertyValues": data,
			})
		}

		children := make([]any, len(it.e.Children))

		it.set(map[string]any{
			"name":       it.e.Name,
			"matrix":     [16]float32(it.e.Matrix),
			"children":   children,
			"components": comps,
		})

		for i, child := range it.e.Children {
			stack = append(stack, item{e: child, set: func(m map[string]any) { children[i] = m }})
		}
	}

	return out, nil
}

func (t *entities) componentData(ctx context.Context, l *assets.Loader, c scene.Component) ([]byte, error) {
	if raw, ok := c.(*scene.RawComponent); ok {
		return raw.Data, nil
	}

	ct, ok := t.comps.Get(c.ComponentType())
	if !ok {
		return nil, fmt.Errorf("%w: component %T", assets.ErrLoaderNotRegistered, c)
	}

	props, err := ct.Save(c)
	if err != nil {
		return nil, err
	}

	return l.EncodeValue(ctx, props, ct.Structure)
}

// references lists the assets referenced from component property values,
// which the entity structure only sees as opaque payloads.
func (t *entities) references(v any) ([]uuid.UUID, error) {
	var refs []uuid.UUID

	stack := []map[string]any{v.(map[string]any)}

	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, c := range e["components"].([]any) {
			cd := c.(map[string]any)

			ct, ok := t.comps.Get(cd["uuid"].(uuid.UUID))
			if !ok {
				continue
			}

			props, err := binstruct.Decode(cd["propertyValues"].([]byte), ct.Structure, binstruct.DecodeOptions{})
			if err != nil {
				return nil, fmt.Errorf("decoding %s component: %w", ct.Name, err)
			}

			ids, err := binstruct.ReferencedUUIDs(props, ct.Structure, nil)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ids...)
		}

		for _, child := range e["children"].([]any) {
			stack = append(stack, child.(map[string]any))
		}
	}

	return refs, nil
}
