package assets

import (
	"context"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync"
	"weak"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"miren.dev/studio/pkg/structure"
)

// Storage is how a project keeps an asset of a type on disk.
type Storage int

const (
	// StorageStructured assets are a structure value wrapped with their
	// type id, as JSON or CBOR.
	StorageStructured Storage = iota
	// StorageText assets are a raw text file.
	StorageText
	// StorageBinary assets are a raw binary file.
	StorageBinary
)

func (s Storage) String() string {
	switch s {
	case StorageStructured:
		return "structured"
	case StorageText:
		return "text"
	case StorageBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// LoadInput is handed to a type's Load function.
type LoadInput struct {
	Loader *Loader

	// UUID is the asset's id, or uuid.Nil for embedded assets.
	UUID uuid.UUID

	// Value is the normalized structure value of structured assets, with
	// asset references already replaced by live assets or nil.
	Value any

	// Data is the file content of text and binary assets.
	Data []byte
}

// Fields returns Value as an object.
func (in *LoadInput) Fields() map[string]any {
	m, _ := in.Value.(map[string]any)
	return m
}

type SaveInput struct {
	Loader *Loader
}

// Type describes an asset type whose live form is *T.
type Type[T any] struct {
	// ID is the namespaced type id, "namespace:identifier".
	ID   string
	UUID uuid.UUID

	Storage   Storage
	Structure *structure.Node

	// Load builds a live asset.
	Load func(ctx context.Context, in *LoadInput) (*T, error)

	// Save returns the structure value of a live asset, with asset
	// references given as live assets, or the raw content for text and
	// binary storage.
	Save func(ctx context.Context, in *SaveInput, live *T) (any, error)

	// References lists asset references kept where the structure cannot
	// see them, such as inside nested binary payloads. It receives the
	// normalized stored value.
	References func(v any) ([]uuid.UUID, error)
}

// handle is a weak reference to a live asset of any registered type.
type handle struct {
	// key compares equal for handles to the same live asset.
	key any

	// value returns the live asset, or nil once it has been collected.
	value func() any

	// onCollect arranges for fn to run after the asset is collected.
	onCollect func(fn func())
}

// AssetType is a registered asset type.
type AssetType struct {
	id        string
	uuid      uuid.UUID
	storage   Storage
	structure *structure.Node
	goType    reflect.Type

	load       func(ctx context.Context, in *LoadInput) (any, error)
	save       func(ctx context.Context, in *SaveInput, live any) (any, error)
	references func(v any) ([]uuid.UUID, error)
	handle     func(live any) (handle, bool)
}

func (t *AssetType) ID() string                 { return t.id }
func (t *AssetType) UUID() uuid.UUID            { return t.uuid }
func (t *AssetType) Storage() Storage           { return t.storage }
func (t *AssetType) Structure() *structure.Node { return t.structure }

// GoType is the pointer type of the type's live assets.
func (t *AssetType) GoType() reflect.Type { return t.goType }

func (t *AssetType) String() string {
	return t.id
}

type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*AssetType
	byUUID   map[uuid.UUID]*AssetType
	byGoType map[reflect.Type]*AssetType
}

func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*AssetType),
		byUUID:   make(map[uuid.UUID]*AssetType),
		byGoType: make(map[reflect.Type]*AssetType),
	}
}

// ValidTypeID reports whether id has the "namespace:identifier" form.
func ValidTypeID(id string) bool {
	ns, name, ok := strings.Cut(id, ":")
	if !ok || ns == "" || name == "" || strings.Contains(name, ":") {
		return false
	}

	return !strings.ContainsFunc(id, func(r rune) bool {
		return r <= ' ' || r == '/' || r == '\\'
	})
}

// Register adds an asset type. Duplicate and malformed registrations are
// configuration errors.
func Register[T any](r *Registry, t Type[T]) (*AssetType, error) {
	if !ValidTypeID(t.ID) {
		return nil, errors.Wrapf(ErrInvalidType, "type id %q is not of the form namespace:identifier", t.ID)
	}

	if t.UUID == uuid.Nil {
		return nil, errors.Wrapf(ErrInvalidType, "type %s has no uuid", t.ID)
	}

	if t.Load == nil {
		return nil, errors.Wrapf(ErrInvalidType, "type %s has no load function", t.ID)
	}

	if t.Storage == StorageStructured && t.Structure == nil {
		return nil, errors.Wrapf(ErrInvalidType, "structured type %s has no structure", t.ID)
	}

	at := &AssetType{
		id:        t.ID,
		uuid:      t.UUID,
		storage:   t.Storage,
		structure: t.Structure,
		goType:    reflect.TypeFor[*T](),
		load: func(ctx context.Context, in *LoadInput) (any, error) {
			live, err := t.Load(ctx, in)
			if err != nil {
				return nil, err
			}
			if live == nil {
				return nil, errors.Wrapf(ErrInvalidType, "type %s loaded a nil asset", t.ID)
			}
			return live, nil
		},
		references: t.References,
		handle:     makeHandle[T],
	}

	if t.Save != nil {
		at.save = func(ctx context.Context, in *SaveInput, live any) (any, error) {
			p, ok := live.(*T)
			if !ok {
				return nil, errors.Wrapf(ErrAssetTypeMismatch, "%T is not a %s asset", live, t.ID)
			}
			return t.Save(ctx, in, p)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[at.id]; exists {
		return nil, errors.Wrapf(ErrDuplicateType, "type id %s", at.id)
	}

	if other, exists := r.byUUID[at.uuid]; exists {
		return nil, errors.Wrapf(ErrDuplicateType, "type uuid %s of %s is used by %s", at.uuid, at.id, other.id)
	}

	if other, exists := r.byGoType[at.goType]; exists {
		return nil, errors.Wrapf(ErrDuplicateType, "live type %s of %s is used by %s", at.goType, at.id, other.id)
	}

	r.byID[at.id] = at
	r.byUUID[at.uuid] = at
	r.byGoType[at.goType] = at

	return at, nil
}

func MustRegister[T any](r *Registry, t Type[T]) *AssetType {
	at, err := Register(r, t)
	if err != nil {
		panic(err)
	}

	return at
}

func makeHandle[T any](live any) (handle, bool) {
	p, ok := live.(*T)
	if !ok || p == nil {
		return handle{}, false
	}

	wp := weak.Make(p)

	return handle{
		key: wp,
		value: func() any {
			if v := wp.Value(); v != nil {
				return v
			}
			return nil
		},
		onCollect: func(fn func()) {
			runtime.AddCleanup(p, func(fn func()) { fn() }, fn)
		},
	}, true
}

func (r *Registry) ByID(id string) (*AssetType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	at, ok := r.byID[id]
	if !ok {
		return nil, errors.Wrapf(ErrLoaderNotRegistered, "type id %s", id)
	}

	return at, nil
}

func (r *Registry) ByUUID(id uuid.UUID) (*AssetType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	at, ok := r.byUUID[id]
	if !ok {
		return nil, errors.Wrapf(ErrLoaderNotRegistered, "type uuid %s", id)
	}

	return at, nil
}

// TypeOf returns the type a live asset belongs to.
func (r *Registry) TypeOf(live any) (*AssetType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	at, ok := r.byGoType[reflect.TypeOf(live)]
	if !ok {
		return nil, errors.Wrapf(ErrLoaderNotRegistered, "live type %T", live)
	}

	return at, nil
}

// Types returns every registered type ordered by id.
func (r *Registry) Types() []*AssetType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AssetType, 0, len(r.byID))
	for _, at := range r.byID {
		out = append(out, at)
	}

	slices.SortFunc(out, func(a, b *AssetType) int {
		return strings.Compare(a.id, b.id)
	})

	return out
}
