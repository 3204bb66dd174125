package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"miren.dev/studio/assets"
)

// Include selects an asset for a bundle.
type Include struct {
	Asset uuid.UUID

	// IncludeChildren also adds every asset Asset refers to, directly or
	// through other assets.
	IncludeChildren bool
}

// Config describes the content of a bundle.
type Config struct {
	OutputLocation string

	Assets []Include

	// Exclude leaves out the listed assets but still follows their
	// references.
	Exclude []uuid.UUID

	// ExcludeRecursive leaves out the listed assets and does not follow
	// their references.
	ExcludeRecursive []uuid.UUID
}

// Builder collects stored assets through a loader and writes them into
// bundles.
type Builder struct {
	Log      *slog.Logger
	Loader   *assets.Loader
	Compress bool
}

func NewBuilder(log *slog.Logger, l *assets.Loader) *Builder {
	return &Builder{
		Log:    log.With("module", "bundle"),
		Loader: l,
	}
}

// Collect exports every asset cfg selects. A listed asset that cannot be
// found is an error, while a missing reference is skipped with a warning.
func (b *Builder) Collect(ctx context.Context, cfg *Config) ([]*assets.Export, error) {
	var (
		skip    = make(map[uuid.UUID]bool)
		drop    = make(map[uuid.UUID]bool)
		visited = make(map[uuid.UUID]bool)
		out     []*assets.Export
	)

	for _, id := range cfg.ExcludeRecursive {
		skip[id] = true
	}

	for _, id := range cfg.Exclude {
		drop[id] = true
	}

	type step struct {
		id   uuid.UUID
		root bool
		deep bool
	}

	var stack []step

	for i := len(cfg.Assets) - 1; i >= 0; i-- {
		inc := cfg.Assets[i]
		if inc.Asset == uuid.Nil {
			continue
		}
		stack = append(stack, step{id: inc.Asset, root: true, deep: inc.IncludeChildren})
	}

	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if skip[s.id] || visited[s.id] {
			continue
		}
		visited[s.id] = true

		ex, err := b.Loader.Export(ctx, s.id)
		if err != nil {
			if !s.root && errors.Is(err, assets.ErrAssetNotFound) {
				b.Log.Warn("skipping missing referenced asset", "uuid", s.id)
				continue
			}
			return nil, err
		}

		if !drop[s.id] {
			out = append(out, ex)
		}

		if !s.deep {
			continue
		}

		for i := len(ex.Refs) - 1; i >= 0; i-- {
			stack = append(stack, step{id: ex.Refs[i], deep: true})
		}
	}

	b.Log.Debug("collected bundle assets", "count", len(out))

	return out, nil
}

// Build writes the bundle described by cfg to w.
func (b *Builder) Build(ctx context.Context, cfg *Config, w io.Writer) (*Summary, error) {
	exports, err := b.Collect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bw := &Writer{Compress: b.Compress}
	for _, ex := range exports {
		bw.Add(Record{ID: ex.ID, Type: ex.Type.UUID(), Data: ex.Data})
	}

	return bw.WriteTo(w)
}

// BuildFile writes the bundle to path, replacing any previous bundle only
// once the new one is complete.
func (b *Builder) BuildFile(ctx context.Context, cfg *Config, path string) (*Summary, error) {
	if path == "" {
		return nil, fmt.Errorf("bundle has no output location")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	sum, err := b.Build(ctx, cfg, f)
	if err != nil {
		return nil, err
	}

	if err := f.Close(); err != nil {
		return nil, err
	}

	if err := os.Rename(f.Name(), path); err != nil {
		return nil, err
	}

	b.Log.Info("wrote asset bundle",
		"path", path,
		"assets", sum.Count,
		"size", sum.Size,
		"digest", sum.Digest)

	return sum, nil
}
