package commands

import (
	"bytes"
	"os"

	"miren.dev/studio/assets/bundle"
	"miren.dev/studio/pkg/ui"
)

func LibraryImport(ctx *Context, opts struct {
	File  string `position:"0" usage:"Bundle file to import" required:"true"`
	Force bool   `short:"f" long:"force" description:"Import even if the bundle was imported before"`
}) error {
	data, err := os.ReadFile(opts.File)
	if err != nil {
		return err
	}

	digest := bundle.Digest(data)

	br, err := bundle.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	lib, err := ctx.OpenLibrary()
	if err != nil {
		return err
	}

	if !opts.Force {
		done, err := lib.Imported(digest)
		if err != nil {
			return err
		}

		if done {
			ctx.Printf("Bundle %s was already imported\n", digest)
			return nil
		}
	}

	n, err := lib.ImportBundle(br, digest)
	if err != nil {
		return err
	}

	ctx.Printf("Imported %d assets from %s\n", n, opts.File)
	return nil
}

type libraryItem struct {
	UUID string `json:"uuid" yaml:"uuid"`
	Type string `json:"type" yaml:"type"`
	Size int    `json:"size" yaml:"size"`
}

func LibraryList(ctx *Context, opts struct {
	FormatOptions
}) error {
	lib, err := ctx.OpenLibrary()
	if err != nil {
		return err
	}

	reg, err := ctx.Registry()
	if err != nil {
		return err
	}

	items, err := lib.List()
	if err != nil {
		return err
	}

	out := make([]libraryItem, 0, len(items))
	for _, it := range items {
		typ := it.Type.String()
		if t, err := reg.ByUUID(it.Type); err == nil {
			typ = t.ID()
		}

		out = append(out, libraryItem{UUID: it.ID.String(), Type: typ, Size: it.Size})
	}

	if !opts.IsText() {
		return opts.Emit(ctx.Stdout, out)
	}

	if len(out) == 0 {
		ctx.Printf("Library is empty\n")
		return nil
	}

	tbl := ui.NewTable([]string{"UUID", "TYPE", "SIZE"})
	for _, it := range out {
		tbl.Add(it.UUID, it.Type, ByteSize(int64(it.Size)))
	}

	_, err = tbl.WriteTo(ctx.Stdout)
	return err
}
