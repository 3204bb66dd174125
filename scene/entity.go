// Package scene holds the live objects that assets load into.
package scene

import (
	"github.com/google/uuid"
)

// Component is attached to an entity. ComponentType identifies the
// component type that stores and restores it.
type Component interface {
	ComponentType() uuid.UUID
}

// Entity is a node in a scene tree.
type Entity struct {
	Name   string
	Matrix Mat4

	Parent     *Entity
	Children   []*Entity
	Components []Component
}

func NewEntity(name string) *Entity {
	return &Entity{
		Name:   name,
		Matrix: Identity(),
	}
}

// Add makes child a child of e, detaching it from any previous parent.
func (e *Entity) Add(child *Entity) {
	if child.Parent != nil {
		child.Parent.Remove(child)
	}

	child.Parent = e
	e.Children = append(e.Children, child)
}

func (e *Entity) Remove(child *Entity) {
	for i, c := range e.Children {
		if c == child {
			e.Children = append(e.Children[:i], e.Children[i+1:]...)
			child.Parent = nil
			return
		}
	}
}

func (e *Entity) AddComponent(c Component) {
	e.Components = append(e.Components, c)
}

// Component returns the first component of the given type.
func (e *Entity) Component(typ uuid.UUID) (Component, bool) {
	for _, c := range e.Components {
		if c.ComponentType() == typ {
			return c, true
		}
	}
	return nil, false
}

// WorldMatrix combines the matrices from the root down to e.
func (e *Entity) WorldMatrix() Mat4 {
	m := e.Matrix
	for p := e.Parent; p != nil; p = p.Parent {
		m = p.Matrix.Mul(m)
	}
	return m
}

// Walk visits e and its descendants depth first, parents before children.
func (e *Entity) Walk(fn func(*Entity) error) error {
	stack := []*Entity{e}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := fn(cur); err != nil {
			return err
		}

		for i := len(cur.Children) - 1; i >= 0; i-- {
			stack = append(stack, cur.Children[i])
		}
	}

	return nil
}

// Find returns the first descendant, or e itself, with the given name.
func (e *Entity) Find(name string) *Entity {
	var found *Entity

	e.Walk(func(c *Entity) error {
		if found == nil && c.Name == name {
			found = c
		}
		return nil
	})

	return found
}
