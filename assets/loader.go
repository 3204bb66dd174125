package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"miren.dev/studio/pkg/binstruct"
	"miren.dev/studio/pkg/structure"
)

// Blob is a stored asset as a Source returns it.
type Blob struct {
	// TypeUUID or TypeID names the asset's type. Sources set whichever
	// their storage records.
	TypeUUID uuid.UUID
	TypeID   string

	// Data is the binary structure payload of structured assets, or the
	// content of text and binary assets.
	Data []byte

	// Value is the disk form of a structured asset, for sources that keep
	// assets as JSON or CBOR. It takes precedence over Data.
	Value any
}

// Source provides stored assets. Fetch returns nil, nil for ids it does
// not have.
type Source interface {
	Fetch(ctx context.Context, id uuid.UUID) (*Blob, error)
}

// Watcher is implemented by sources that can report changes to their
// assets. Watch returns once watching has started.
type Watcher interface {
	Watch(ctx context.Context, changed func(id uuid.UUID)) error
}

// ErrorReporter receives reference resolution failures that were replaced
// by nil. id is uuid.Nil for embedded assets.
type ErrorReporter func(id uuid.UUID, err error)

// Loader turns stored assets into live assets, resolving the asset
// references inside them.
type Loader struct {
	reg     *Registry
	cache   *Cache
	sources []Source
	log     *slog.Logger
	report  ErrorReporter
	limit   int

	subMu   sync.Mutex
	nextSub int
	subs    map[uuid.UUID]map[int]func(uuid.UUID)
}

type LoaderOption func(*Loader)

// WithSource appends a source. Sources are consulted in the order added.
func WithSource(s Source) LoaderOption {
	return func(l *Loader) {
		l.sources = append(l.sources, s)
	}
}

func WithCache(c *Cache) LoaderOption {
	return func(l *Loader) {
		l.cache = c
	}
}

func WithLog(log *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.log = log
	}
}

func WithErrorReporter(fn ErrorReporter) LoaderOption {
	return func(l *Loader) {
		l.report = fn
	}
}

// WithConcurrency bounds how many references of one asset are resolved at
// the same time.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.limit = n
		}
	}
}

func NewLoader(reg *Registry, opts ...LoaderOption) (*Loader, error) {
	l := &Loader{
		reg:   reg,
		log:   slog.Default(),
		limit: 8,
		subs:  make(map[uuid.UUID]map[int]func(uuid.UUID)),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.cache == nil {
		c, err := NewCache(reg, CacheLog(l.log))
		if err != nil {
			return nil, err
		}
		l.cache = c
	}

	return l, nil
}

func (l *Loader) Registry() *Registry { return l.reg }
func (l *Loader) Cache() *Cache       { return l.cache }
func (l *Loader) Log() *slog.Logger   { return l.log }

type getOptions struct {
	newInstance bool
}

type GetOption func(*getOptions)

// NewInstance loads a fresh live asset that is not shared through the
// cache.
func NewInstance(o *getOptions) {
	o.newInstance = true
}

// Get returns the live asset for id, loading it if no live instance is
// cached. References inside it that cannot be resolved become nil and are
// reported; failing to load id itself is an error.
func (l *Loader) Get(ctx context.Context, id uuid.UUID, opts ...GetOption) (any, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	load := func(ctx context.Context) (any, error) {
		return l.load(ctx, id)
	}

	if o.newInstance {
		return l.cache.ForceNewInstance(ctx, id, load)
	}

	return l.cache.GetOrLoad(ctx, id, load)
}

// GetAs is Get for callers that expect a particular live type.
func GetAs[T any](ctx context.Context, l *Loader, id uuid.UUID, opts ...GetOption) (*T, error) {
	v, err := l.Get(ctx, id, opts...)
	if err != nil {
		return nil, err
	}

	p, ok := v.(*T)
	if !ok {
		return nil, assetErr("load", id, fmt.Errorf("%w: got %T", ErrAssetTypeMismatch, v))
	}

	return p, nil
}

func (l *Loader) fetch(ctx context.Context, id uuid.UUID) (*Blob, *AssetType, error) {
	for _, s := range l.sources {
		blob, err := s.Fetch(ctx, id)
		if err != nil {
			return nil, nil, assetErr("fetch", id, err)
		}

		if blob == nil {
			continue
		}

		typ, err := l.typeOf(blob)
		if err != nil {
			return nil, nil, assetErr("fetch", id, err)
		}

		return blob, typ, nil
	}

	return nil, nil, assetErr("fetch", id, ErrAssetNotFound)
}

func (l *Loader) typeOf(blob *Blob) (*AssetType, error) {
	var (
		byID, byUUID *AssetType
		err          error
	)

	if blob.TypeID != "" {
		byID, err = l.reg.ByID(blob.TypeID)
		if err != nil {
			return nil, err
		}
	}

	if blob.TypeUUID != uuid.Nil {
		byUUID, err = l.reg.ByUUID(blob.TypeUUID)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case byID != nil && byUUID != nil && byID != byUUID:
		return nil, fmt.Errorf("%w: stored as %s and %s", ErrAssetTypeMismatch, byID.id, byUUID.id)
	case byID != nil:
		return byID, nil
	case byUUID != nil:
		return byUUID, nil
	default:
		return nil, fmt.Errorf("%w: stored asset names no type", ErrLoaderNotRegistered)
	}
}

func (l *Loader) load(ctx context.Context, id uuid.UUID) (any, error) {
	blob, typ, err := l.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	in := &LoadInput{Loader: l, UUID: id}

	if typ.storage == StorageStructured {
		if blob.Value != nil {
			in.Value, err = l.Resolve(ctx, blob.Value, typ.structure)
		} else {
			in.Value, err = l.Decode(ctx, blob.Data, typ.structure)
		}
		if err != nil {
			return nil, assetErr("load", id, err)
		}
	} else {
		in.Data = blob.Data
	}

	live, err := typ.load(ctx, in)
	if err != nil {
		return nil, assetErr("load", id, err)
	}

	l.log.Debug("loaded asset", "uuid", id, "type", typ.id)

	return live, nil
}

// Decode reads a binary structure payload and replaces every asset
// reference in it with its live asset.
func (l *Loader) Decode(ctx context.Context, data []byte, n *structure.Node) (any, error) {
	res := &resolution{l: l}

	v, err := binstruct.Decode(data, n, binstruct.DecodeOptions{
		OnAssetReference: res.hook,
	})
	if err != nil {
		return nil, err
	}

	return res.finish(ctx, v), nil
}

// Resolve normalizes a disk form value and replaces every asset reference
// in it with its live asset.
func (l *Loader) Resolve(ctx context.Context, v any, n *structure.Node) (any, error) {
	res := &resolution{l: l}

	v, err := structure.Normalize(v, n, structure.NormalizeOptions{
		Resolve: res.hook,
	})
	if err != nil {
		return nil, err
	}

	return res.finish(ctx, v), nil
}

func (l *Loader) reportErr(id uuid.UUID, err error) {
	l.log.Warn("failed to resolve asset reference", "uuid", id, "error", err)

	if l.report != nil {
		l.report(id, err)
	}
}

// pending stands in for an asset reference until it is resolved.
type pending struct {
	id   uuid.UUID
	emb  *structure.Embedded
	node *structure.Node
	live any
}

type resolution struct {
	l    *Loader
	refs []*pending
}

func (r *resolution) hook(v any, n *structure.Node) (any, error) {
	var p *pending

	switch ref := v.(type) {
	case uuid.UUID:
		p = &pending{id: ref, node: n}
	case *structure.Embedded:
		p = &pending{emb: ref, node: n}
	default:
		return nil, nil
	}

	r.refs = append(r.refs, p)

	return p, nil
}

// finish loads every referenced asset and swaps the placeholders in v for
// the live assets. Embedded assets are recorded after anything nested in
// them, so walking refs in order builds them innermost first.
func (r *resolution) finish(ctx context.Context, v any) any {
	if len(r.refs) == 0 {
		return v
	}

	var g errgroup.Group
	g.SetLimit(r.l.limit)

	for _, p := range r.refs {
		if p.emb != nil {
			continue
		}

		g.Go(func() error {
			live, err := r.l.Get(ctx, p.id)
			if err != nil {
				r.l.reportErr(p.id, err)
				return nil
			}
			p.live = live
			return nil
		})
	}

	g.Wait()

	for _, p := range r.refs {
		if p.emb == nil {
			continue
		}

		p.emb.Value = replacePending(p.emb.Value)

		live, err := r.l.loadEmbedded(ctx, p.emb)
		if err != nil {
			r.l.reportErr(uuid.Nil, err)
			continue
		}
		p.live = live
	}

	return replacePending(v)
}

func (l *Loader) loadEmbedded(ctx context.Context, emb *structure.Embedded) (any, error) {
	typ, err := l.reg.ByID(emb.Type)
	if err != nil {
		return nil, assetErr("load embedded", uuid.Nil, err)
	}

	live, err := typ.load(ctx, &LoadInput{Loader: l, Value: emb.Value})
	if err != nil {
		return nil, assetErr("load embedded", uuid.Nil, err)
	}

	if err := l.cache.MarkEmbedded(live); err != nil {
		return nil, assetErr("load embedded", uuid.Nil, err)
	}

	return live, nil
}

// replacePending swaps placeholders for their live assets without
// descending into them.
func replacePending(v any) any {
	if p, ok := v.(*pending); ok {
		return p.live
	}

	stack := []any{v}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch x := cur.(type) {
		case []any:
			for i, e := range x {
				if p, ok := e.(*pending); ok {
					x[i] = p.live
					continue
				}
				stack = append(stack, e)
			}
		case map[string]any:
			for k, e := range x {
				if p, ok := e.(*pending); ok {
					x[k] = p.live
					continue
				}
				stack = append(stack, e)
			}
		}
	}

	return v
}

// ResolveForLoad returns the live asset a stored reference names: nil for
// no reference, the shared live asset for a uuid, and a freshly built
// asset for an embedded value.
func (l *Loader) ResolveForLoad(ctx context.Context, ref any) (any, error) {
	switch x := ref.(type) {
	case nil:
		return nil, nil
	case *structure.Embedded:
		if x == nil {
			return nil, nil
		}
		typ, err := l.reg.ByID(x.Type)
		if err != nil {
			return nil, assetErr("load embedded", uuid.Nil, err)
		}
		v, err := l.Resolve(ctx, x.Value, typ.structure)
		if err != nil {
			return nil, assetErr("load embedded", uuid.Nil, err)
		}
		return l.loadEmbedded(ctx, &structure.Embedded{Type: x.Type, Value: v})
	}

	id, ok := structure.ParseUUID(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an asset reference", structure.ErrSchemaMismatch, ref)
	}

	if id == uuid.Nil {
		return nil, nil
	}

	return l.Get(ctx, id)
}

// ResolveForSave returns what a live asset is stored as inside another
// asset: its uuid, or for an embedded asset its type and saved value.
// Values that already are stored references pass through.
func (l *Loader) ResolveForSave(ctx context.Context, live any) (any, error) {
	switch live.(type) {
	case nil, uuid.UUID, string, *structure.Embedded, structure.Embedded, map[string]any:
		return live, nil
	}

	id, embedded, ok := l.cache.Lookup(live)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnregisteredLiveAsset, live)
	}

	if !embedded {
		return id, nil
	}

	typ, err := l.reg.TypeOf(live)
	if err != nil {
		return nil, err
	}

	v, err := l.save(ctx, typ, live)
	if err != nil {
		return nil, err
	}

	return &structure.Embedded{Type: typ.id, Value: v}, nil
}

// UUIDOf returns the uuid a live asset was loaded as.
func (l *Loader) UUIDOf(live any) (uuid.UUID, error) {
	id, embedded, ok := l.cache.Lookup(live)
	switch {
	case !ok:
		return uuid.Nil, fmt.Errorf("%w: %T", ErrUnregisteredLiveAsset, live)
	case embedded:
		return uuid.Nil, ErrEmbeddedAsset
	default:
		return id, nil
	}
}

func (l *Loader) save(ctx context.Context, typ *AssetType, live any) (any, error) {
	if typ.save == nil {
		return nil, fmt.Errorf("%w: type %s cannot be saved", ErrInvalidType, typ.id)
	}

	return typ.save(ctx, &SaveInput{Loader: l}, live)
}

func (l *Loader) substitute(ctx context.Context) structure.Hook {
	return func(v any, _ *structure.Node) (any, error) {
		return l.ResolveForSave(ctx, v)
	}
}

// Encode returns the stored form of a live asset: the binary structure
// payload for structured types, the raw content otherwise.
func (l *Loader) Encode(ctx context.Context, live any) (*AssetType, []byte, error) {
	typ, err := l.reg.TypeOf(live)
	if err != nil {
		return nil, nil, err
	}

	v, err := l.save(ctx, typ, live)
	if err != nil {
		return nil, nil, err
	}

	if typ.storage != StorageStructured {
		data, err := rawContent(v)
		if err != nil {
			return nil, nil, fmt.Errorf("saving %s: %w", typ.id, err)
		}
		return typ, data, nil
	}

	data, err := l.EncodeValue(ctx, v, typ.structure)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding %s: %w", typ.id, err)
	}

	return typ, data, nil
}

// EncodeValue writes v in the binary form of n, storing live assets found
// in its references by their uuid or inline.
func (l *Loader) EncodeValue(ctx context.Context, v any, n *structure.Node) ([]byte, error) {
	return binstruct.Encode(v, n, binstruct.EncodeOptions{
		OnAssetReference: l.substitute(ctx),
	})
}

// SaveDisk returns the disk form of a live structured asset with default
// values left out, or the raw content of text and binary assets.
func (l *Loader) SaveDisk(ctx context.Context, live any) (*AssetType, any, error) {
	typ, err := l.reg.TypeOf(live)
	if err != nil {
		return nil, nil, err
	}

	v, err := l.save(ctx, typ, live)
	if err != nil {
		return nil, nil, err
	}

	if typ.storage != StorageStructured {
		data, err := rawContent(v)
		if err != nil {
			return nil, nil, fmt.Errorf("saving %s: %w", typ.id, err)
		}
		return typ, data, nil
	}

	tree, err := structure.ToDisk(v, typ.structure, structure.DiskOptions{
		StripDefaultValues: true,
		Substitute:         l.substitute(ctx),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("saving %s: %w", typ.id, err)
	}

	return typ, tree, nil
}

func rawContent(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return nil, fmt.Errorf("%w: raw asset content is %T", structure.ErrSchemaMismatch, v)
	}
}

// Export is a stored asset in binary form along with the assets it refers
// to.
type Export struct {
	ID   uuid.UUID
	Type *AssetType
	Data []byte
	Refs []uuid.UUID
}

// Export reads a stored asset from the sources and converts it to binary
// form without building live assets.
func (l *Loader) Export(ctx context.Context, id uuid.UUID) (*Export, error) {
	blob, typ, err := l.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	ex := &Export{ID: id, Type: typ, Data: blob.Data}

	if typ.storage != StorageStructured {
		if ex.Data == nil {
			ex.Data, err = rawContent(blob.Value)
			if err != nil {
				return nil, assetErr("export", id, err)
			}
		}
		return ex, nil
	}

	var v any
	if blob.Value == nil {
		v, err = binstruct.Decode(blob.Data, typ.structure, binstruct.DecodeOptions{})
	} else {
		v, err = structure.Normalize(blob.Value, typ.structure, structure.NormalizeOptions{})
		if err == nil {
			ex.Data, err = binstruct.Encode(v, typ.structure, binstruct.EncodeOptions{})
		}
	}
	if err != nil {
		return nil, assetErr("export", id, err)
	}

	ex.Refs, err = binstruct.ReferencedUUIDs(v, typ.structure, nil)
	if err != nil {
		return nil, assetErr("export", id, err)
	}

	if typ.references != nil {
		more, err := typ.references(v)
		if err != nil {
			return nil, assetErr("export", id, err)
		}

		for _, ref := range more {
			if !slices.Contains(ex.Refs, ref) {
				ex.Refs = append(ex.Refs, ref)
			}
		}
	}

	return ex, nil
}

// Subscribe calls fn whenever id is reported changed. The returned
// function cancels the subscription.
func (l *Loader) Subscribe(id uuid.UUID, fn func(id uuid.UUID)) func() {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	l.nextSub++
	n := l.nextSub

	m, ok := l.subs[id]
	if !ok {
		m = make(map[int]func(uuid.UUID))
		l.subs[id] = m
	}
	m[n] = fn

	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()

		delete(l.subs[id], n)
		if len(l.subs[id]) == 0 {
			delete(l.subs, id)
		}
	}
}

// Changed drops the cached live asset for id and tells subscribers that
// they should reload it.
func (l *Loader) Changed(id uuid.UUID) {
	l.cache.Invalidate(id)

	l.subMu.Lock()
	fns := make([]func(uuid.UUID), 0, len(l.subs[id]))
	for _, fn := range l.subs[id] {
		fns = append(fns, fn)
	}
	l.subMu.Unlock()

	l.log.Debug("asset changed", "uuid", id, "subscribers", len(fns))

	for _, fn := range fns {
		fn(id)
	}
}

// Watch starts change reporting on every source that supports it.
func (l *Loader) Watch(ctx context.Context) error {
	var errs []error

	for _, s := range l.sources {
		w, ok := s.(Watcher)
		if !ok {
			continue
		}

		if err := w.Watch(ctx, l.Changed); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
