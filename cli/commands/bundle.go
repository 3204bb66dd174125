package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"miren.dev/studio/assets"
	"miren.dev/studio/assets/bundle"
	"miren.dev/studio/pkg/ui"
)

// outputPath resolves where the bundle for cfg is written. Relative
// locations are inside the project.
func (c *Context) outputPath(name string, cfg *bundle.Config) string {
	out := cfg.OutputLocation
	if out == "" {
		out = filepath.Join(c.Config.Config.Bundle.OutputDir, name+".bundle")
	}

	if !filepath.IsAbs(out) {
		out = filepath.Join(c.Config.Config.Project.Path, out)
	}

	return out
}

func BundleBuild(ctx *Context, opts struct {
	Config     string `position:"0" usage:"Bundle config asset, as uuid or project path" required:"true"`
	Output     string `short:"o" long:"output" description:"Write the bundle here instead of the configured location" type:"path"`
	NoCompress bool   `long:"no-compress" description:"Store records without compression"`
}) error {
	p, srcs, err := ctx.sources()
	if err != nil {
		return err
	}

	id, err := assetID(p, opts.Config)
	if err != nil {
		return err
	}

	l, err := ctx.Loader(srcs...)
	if err != nil {
		return err
	}

	cfg, err := assets.GetAs[bundle.Config](ctx, l, id)
	if err != nil {
		return err
	}

	out := opts.Output
	if out == "" {
		out = ctx.outputPath(id.String(), cfg)
	}

	b := bundle.NewBuilder(ctx.Log, l)
	b.Compress = ctx.Config.Config.Bundle.Compress && !opts.NoCompress

	sum, err := b.BuildFile(ctx, cfg, out)
	if err != nil {
		return err
	}

	ctx.Printf("Wrote %d assets to %s (%s)\n", sum.Count, out, ByteSize(sum.Size))
	ctx.Printf("Digest: %s\n", sum.Digest)
	return nil
}

type bundleRecord struct {
	UUID       string `json:"uuid" yaml:"uuid"`
	Type       string `json:"type" yaml:"type"`
	Size       int    `json:"size" yaml:"size"`
	Compressed bool   `json:"compressed" yaml:"compressed"`
}

type bundleInfo struct {
	Digest  string         `json:"digest" yaml:"digest"`
	Size    int64          `json:"size" yaml:"size"`
	Records []bundleRecord `json:"records" yaml:"records"`
}

func BundleList(ctx *Context, opts struct {
	File string `position:"0" usage:"Bundle file" required:"true"`
	FormatOptions
}) error {
	data, err := os.ReadFile(opts.File)
	if err != nil {
		return err
	}

	reg, err := ctx.Registry()
	if err != nil {
		return err
	}

	info := bundleInfo{
		Digest:  bundle.Digest(data),
		Size:    int64(len(data)),
		Records: []bundleRecord{},
	}

	err = bundle.Scan(bytes.NewReader(data), func(rec bundle.Record, compressed bool) error {
		typ := rec.Type.String()
		if t, err := reg.ByUUID(rec.Type); err == nil {
			typ = t.ID()
		}

		info.Records = append(info.Records, bundleRecord{
			UUID:       rec.ID.String(),
			Type:       typ,
			Size:       len(rec.Data),
			Compressed: compressed,
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("reading %s: %w", opts.File, err)
	}

	if !opts.IsText() {
		return opts.Emit(ctx.Stdout, info)
	}

	ctx.Printf("%s %s\n\n", ui.Faint(info.Digest), ByteSize(info.Size))

	tbl := ui.NewTable([]string{"UUID", "TYPE", "SIZE", "LZ4"})
	for _, r := range info.Records {
		lz := ""
		if r.Compressed {
			lz = "yes"
		}
		tbl.Add(r.UUID, r.Type, ByteSize(int64(r.Size)), lz)
	}

	if tbl.Len() == 0 {
		ctx.Printf("Bundle is empty\n")
		return nil
	}

	_, err = tbl.WriteTo(ctx.Stdout)
	return err
}
