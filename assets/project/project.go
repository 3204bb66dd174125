// Package project stores assets as files in a project directory.
//
// ProjectSettings/assetSettings.json maps asset uuids to file paths.
// Structured assets are stored as JSON or CBOR files holding the asset
// type and the asset value. Any other file holds raw text or binary
// content and takes its type from the settings or its extension.
package project

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"miren.dev/studio/assets"
)

var SettingsPath = []string{"ProjectSettings", "assetSettings.json"}

var ErrBadPath = errors.New("asset path is outside the project")

// Entry records where an asset is stored.
type Entry struct {
	Path []string `json:"path"`

	// AssetType is only needed for files that do not name their type.
	AssetType string `json:"assetType,omitempty"`
}

type settings struct {
	Assets map[uuid.UUID]*Entry `json:"assets"`
}

// stored is the content of a JSON or CBOR asset file.
type stored struct {
	AssetType string `json:"assetType" cbor:"assetType"`
	Asset     any    `json:"asset" cbor:"asset"`
}

type Option func(*Project)

// WithExtension stores files ending in ext as assets of typeID when the
// settings do not name a type.
func WithExtension(ext, typeID string) Option {
	return func(p *Project) {
		p.exts[strings.ToLower(ext)] = typeID
	}
}

func WithDebounce(d time.Duration) Option {
	return func(p *Project) {
		p.debounce = d
	}
}

type Project struct {
	log *slog.Logger
	dir string

	exts     map[string]string
	debounce time.Duration

	cborDec cbor.DecMode
	cborEnc cbor.EncMode

	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	written map[string]fileStamp
}

var _ assets.Source = (*Project)(nil)

// Open reads the asset settings of the project in dir. A project without
// settings starts out empty.
func Open(log *slog.Logger, dir string, opts ...Option) (*Project, error) {
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, err
	}

	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}

	p := &Project{
		log:      log.With("module", "project", "dir", dir),
		dir:      dir,
		exts:     make(map[string]string),
		debounce: 100 * time.Millisecond,
		cborDec:  dec,
		cborEnc:  enc,
		entries:  make(map[uuid.UUID]*Entry),
		written:  make(map[string]fileStamp),
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := p.loadSettings(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Project) Dir() string {
	return p.dir
}

func (p *Project) loadSettings() error {
	data, err := os.ReadFile(p.file(SettingsPath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	var s settings
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("reading asset settings: %w", err)
	}

	entries := make(map[uuid.UUID]*Entry, len(s.Assets))
	for id, e := range s.Assets {
		if e == nil || !filepath.IsLocal(filepath.Join(e.Path...)) {
			p.log.Warn("ignoring asset with bad path", "uuid", id)
			continue
		}
		entries[id] = e
	}

	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()

	return nil
}

func (p *Project) saveSettingsLocked() error {
	data, err := json.MarshalIndent(settings{Assets: p.entries}, "", "\t")
	if err != nil {
		return err
	}

	return p.writeLocked(SettingsPath, data)
}

func (p *Project) file(path []string) string {
	return filepath.Join(append([]string{p.dir}, path...)...)
}

// Entries returns the uuids of all assets in the project.
func (p *Project) Entries() []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}

	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})

	return ids
}

func (p *Project) Lookup(id uuid.UUID) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[id]
	if !ok {
		return Entry{}, false
	}

	return Entry{Path: slices.Clone(e.Path), AssetType: e.AssetType}, true
}

// ByPath finds the asset stored at path.
func (p *Project) ByPath(path []string) (uuid.UUID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, e := range p.entries {
		if slices.Equal(e.Path, path) {
			return id, true
		}
	}

	return uuid.Nil, false
}

func isStructured(path []string) (isJSON, isCBOR bool) {
	switch strings.ToLower(filepath.Ext(path[len(path)-1])) {
	case ".json":
		return true, false
	case ".cbor":
		return false, true
	}
	return false, false
}

func (p *Project) Fetch(ctx context.Context, id uuid.UUID) (*assets.Blob, error) {
	e, ok := p.Lookup(id)
	if !ok {
		return nil, nil
	}

	data, err := os.ReadFile(p.file(e.Path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.log.Warn("asset file is missing", "uuid", id, "path", filepath.Join(e.Path...))
			return nil, nil
		}
		return nil, err
	}

	isJSON, isCBOR := isStructured(e.Path)

	var s stored

	switch {
	case isJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(&s)
	case isCBOR:
		err = p.cborDec.Unmarshal(data, &s)
	default:
		typ := e.AssetType
		if typ == "" {
			typ = p.exts[strings.ToLower(filepath.Ext(e.Path[len(e.Path)-1]))]
		}
		return &assets.Blob{TypeID: typ, Data: data}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Join(e.Path...), err)
	}

	typ := s.AssetType
	if typ == "" {
		typ = e.AssetType
	}

	value := s.Asset
	if value == nil {
		value = map[string]any{}
	}

	return &assets.Blob{TypeID: typ, Value: value}, nil
}

// Put stores v at path as an asset of typeID and records it in the
// settings. Structured values go to JSON or CBOR files, raw content to
// any other file.
func (p *Project) Put(id uuid.UUID, path []string, typeID string, v any) error {
	if len(path) == 0 || !filepath.IsLocal(filepath.Join(path...)) {
		return fmt.Errorf("%w: %q", ErrBadPath, path)
	}

	var (
		data []byte
		err  error
	)

	isJSON, isCBOR := isStructured(path)

	switch {
	case isJSON:
		data, err = json.MarshalIndent(stored{AssetType: typeID, Asset: v}, "", "\t")
	case isCBOR:
		data, err = p.cborEnc.Marshal(stored{AssetType: typeID, Asset: v})
	default:
		switch x := v.(type) {
		case []byte:
			data = x
		case string:
			data = []byte(x)
		default:
			err = fmt.Errorf("cannot store %T in %s", v, filepath.Join(path...))
		}
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.writeLocked(path, data); err != nil {
		return err
	}

	e := &Entry{Path: slices.Clone(path)}
	if !isJSON && !isCBOR && p.exts[strings.ToLower(filepath.Ext(path[len(path)-1]))] != typeID {
		e.AssetType = typeID
	}

	if old, ok := p.entries[id]; ok && reflect.DeepEqual(old, e) {
		return nil
	}

	p.entries[id] = e

	return p.saveSettingsLocked()
}

// Save writes a live asset to the file it was loaded from.
func (p *Project) Save(ctx context.Context, l *assets.Loader, id uuid.UUID, live any) error {
	e, ok := p.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s is not part of the project", assets.ErrAssetNotFound, id)
	}

	return p.Create(ctx, l, id, e.Path, live)
}

// Create writes a live asset to path under id.
func (p *Project) Create(ctx context.Context, l *assets.Loader, id uuid.UUID, path []string, live any) error {
	typ, v, err := l.SaveDisk(ctx, live)
	if err != nil {
		return err
	}

	if err := p.Put(id, path, typ.ID(), v); err != nil {
		return err
	}

	p.log.Debug("saved asset", "uuid", id, "type", typ.ID(), "path", filepath.Join(path...))

	return nil
}

// Remove deletes an asset and its file.
func (p *Project) Remove(id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return nil
	}

	if err := os.Remove(p.file(e.Path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	delete(p.entries, id)
	delete(p.written, p.file(e.Path))

	return p.saveSettingsLocked()
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

func (p *Project) writeLocked(path []string, data []byte) error {
	name := p.file(path)

	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return err
	}

	if err := os.WriteFile(name, data, 0644); err != nil {
		return err
	}

	if fi, err := os.Stat(name); err == nil {
		p.written[name] = fileStamp{size: fi.Size(), modTime: fi.ModTime()}
	}

	return nil
}
