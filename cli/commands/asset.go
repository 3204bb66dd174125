package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"miren.dev/studio/assets"
	"miren.dev/studio/assets/project"
	"miren.dev/studio/pkg/binstruct"
	"miren.dev/studio/pkg/structure"
	"miren.dev/studio/pkg/ui"
)

// sources opens the project and, when it exists, the library behind it.
func (c *Context) sources() (*project.Project, []assets.Source, error) {
	p, err := c.OpenProject()
	if err != nil {
		return nil, nil, err
	}

	srcs := []assets.Source{p}

	if _, err := os.Stat(c.Config.Config.Library.Path); err == nil {
		lib, err := c.OpenLibrary()
		if err != nil {
			return nil, nil, err
		}
		srcs = append(srcs, lib)
	}

	return p, srcs, nil
}

// assetID accepts either a uuid or a path relative to the project root.
func assetID(p *project.Project, arg string) (uuid.UUID, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}

	path := strings.Split(filepath.ToSlash(filepath.Clean(arg)), "/")
	if id, ok := p.ByPath(path); ok {
		return id, nil
	}

	return uuid.Nil, fmt.Errorf("%w: %s", assets.ErrAssetNotFound, arg)
}

func typeName(reg *assets.Registry, blob *assets.Blob) string {
	if blob.TypeID != "" {
		if t, err := reg.ByID(blob.TypeID); err == nil {
			return t.ID()
		}
		return blob.TypeID
	}

	if t, err := reg.ByUUID(blob.TypeUUID); err == nil {
		return t.ID()
	}

	return blob.TypeUUID.String()
}

type assetItem struct {
	UUID string `json:"uuid" yaml:"uuid"`
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

func AssetList(ctx *Context, opts struct {
	Type string `short:"t" long:"type" description:"Only list assets of this type"`
	FormatOptions
}) error {
	p, err := ctx.OpenProject()
	if err != nil {
		return err
	}

	reg, err := ctx.Registry()
	if err != nil {
		return err
	}

	var items []assetItem

	for _, id := range p.Entries() {
		entry, _ := p.Lookup(id)

		item := assetItem{
			UUID: id.String(),
			Path: strings.Join(entry.Path, "/"),
		}

		blob, err := p.Fetch(ctx, id)
		switch {
		case err != nil:
			ctx.Log.Debug("unable to read asset", "uuid", id, "error", err)
			item.Type = "error"
		case blob == nil:
			item.Type = "missing"
		default:
			item.Type = typeName(reg, blob)
		}

		if opts.Type != "" && item.Type != opts.Type {
			continue
		}

		items = append(items, item)
	}

	if !opts.IsText() {
		if items == nil {
			items = []assetItem{}
		}
		return opts.Emit(ctx.Stdout, items)
	}

	if len(items) == 0 {
		ctx.Printf("No assets found\n")
		return nil
	}

	tbl := ui.NewTable([]string{"UUID", "TYPE", "PATH"})
	for _, item := range items {
		typ := item.Type
		if typ == "error" || typ == "missing" {
			typ = ui.Warn(typ)
		}
		tbl.Add(item.UUID, typ, item.Path)
	}

	_, err = tbl.WriteTo(ctx.Stdout)
	return err
}

func AssetShow(ctx *Context, opts struct {
	Asset string `position:"0" usage:"Asset uuid or project path" required:"true"`
	Hex   bool   `long:"hex" description:"Print the binary form as a hex dump"`
	FormatOptions
}) error {
	p, srcs, err := ctx.sources()
	if err != nil {
		return err
	}

	id, err := assetID(p, opts.Asset)
	if err != nil {
		return err
	}

	l, err := ctx.Loader(srcs...)
	if err != nil {
		return err
	}

	ex, err := l.Export(ctx, id)
	if err != nil {
		return err
	}

	if opts.Hex {
		ctx.Printf("%s", hex.Dump(ex.Data))
		return nil
	}

	doc := map[string]any{
		"assetType": ex.Type.ID(),
	}

	if ex.Type.Storage() == assets.StorageStructured {
		v, err := binstruct.Decode(ex.Data, ex.Type.Structure(), binstruct.DecodeOptions{})
		if err != nil {
			return err
		}

		disk, err := structure.ToDisk(v, ex.Type.Structure(), structure.DiskOptions{})
		if err != nil {
			return err
		}

		doc["asset"] = disk
	} else {
		doc["asset"] = string(ex.Data)
	}

	if opts.IsText() {
		return PrintJSON(ctx.Stdout, doc)
	}

	return opts.Emit(ctx.Stdout, doc)
}

type refNode struct {
	UUID    string     `json:"uuid" yaml:"uuid"`
	Type    string     `json:"type,omitempty" yaml:"type,omitempty"`
	Missing bool       `json:"missing,omitempty" yaml:"missing,omitempty"`
	Seen    bool       `json:"seen,omitempty" yaml:"seen,omitempty"`
	Refs    []*refNode `json:"refs,omitempty" yaml:"refs,omitempty"`
}

func AssetRefs(ctx *Context, opts struct {
	Asset     string `position:"0" usage:"Asset uuid or project path" required:"true"`
	Recursive bool   `short:"r" long:"recursive" description:"Follow references of referenced assets"`
	FormatOptions
}) error {
	p, srcs, err := ctx.sources()
	if err != nil {
		return err
	}

	id, err := assetID(p, opts.Asset)
	if err != nil {
		return err
	}

	l, err := ctx.Loader(srcs...)
	if err != nil {
		return err
	}

	seen := make(map[uuid.UUID]bool)

	var walk func(id uuid.UUID, depth int) (*refNode, error)
	walk = func(id uuid.UUID, depth int) (*refNode, error) {
		n := &refNode{UUID: id.String()}

		if seen[id] {
			n.Seen = true
			return n, nil
		}
		seen[id] = true

		ex, err := l.Export(ctx, id)
		if err != nil {
			if depth > 0 && errors.Is(err, assets.ErrAssetNotFound) {
				n.Missing = true
				return n, nil
			}
			return nil, err
		}

		n.Type = ex.Type.ID()

		if depth > 0 && !opts.Recursive {
			return n, nil
		}

		for _, ref := range ex.Refs {
			child, err := walk(ref, depth+1)
			if err != nil {
				return nil, err
			}
			n.Refs = append(n.Refs, child)
		}

		return n, nil
	}

	root, err := walk(id, 0)
	if err != nil {
		return err
	}

	if !opts.IsText() {
		return opts.Emit(ctx.Stdout, root)
	}

	var printNode func(n *refNode, indent string)
	printNode = func(n *refNode, indent string) {
		line := n.UUID
		switch {
		case n.Missing:
			line += " " + ui.Warn("missing")
		case n.Seen:
			line += " " + ui.Faint("(seen)")
		default:
			line += " " + n.Type
			if e, ok := p.Lookup(uuid.MustParse(n.UUID)); ok {
				line += " " + ui.Faint(strings.Join(e.Path, "/"))
			}
		}

		ctx.Printf("%s%s\n", indent, line)

		for _, c := range n.Refs {
			printNode(c, indent+"  ")
		}
	}

	printNode(root, "")
	return nil
}

func AssetLoad(ctx *Context, opts struct {
	Asset string `position:"0" usage:"Asset uuid or project path" required:"true"`
	Dump  bool   `long:"dump" description:"Print the loaded asset"`
	Depth int    `long:"depth" description:"Maximum depth printed by --dump" default:"4"`
}) error {
	p, srcs, err := ctx.sources()
	if err != nil {
		return err
	}

	id, err := assetID(p, opts.Asset)
	if err != nil {
		return err
	}

	l, err := ctx.Loader(srcs...)
	if err != nil {
		return err
	}

	start := time.Now()

	live, err := l.Get(ctx, id)
	if err != nil {
		return err
	}

	ctx.Printf("Loaded %s as %s in %s\n", id, reflect.TypeOf(live), time.Since(start).Round(time.Microsecond))

	if opts.Dump {
		d := dumper
		d.MaxDepth = opts.Depth
		d.Fdump(ctx.Stdout, live)
	}

	mfs, err := ctx.Metrics.Gather()
	if err != nil {
		return err
	}

	tbl := ui.NewTable([]string{"CACHE EVENT", "COUNT"})
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "event" {
					tbl.Add(lp.GetValue(), fmt.Sprintf("%.0f", m.GetCounter().GetValue()))
				}
			}
		}
	}

	ctx.Printf("\n")
	if _, err := tbl.WriteTo(ctx.Stdout); err != nil {
		return err
	}

	missing := ctx.Unresolved()
	if len(missing) == 0 {
		return nil
	}

	ids := slices.SortedFunc(maps.Keys(missing), func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})

	tbl = ui.NewTable([]string{"UNRESOLVED", "ERROR"})
	for _, ref := range ids {
		name := ref.String()
		if ref == uuid.Nil {
			name = "(embedded)"
		}
		tbl.Add(name, missing[ref].Error())
	}

	ctx.Printf("\n")
	if _, err := tbl.WriteTo(ctx.Stdout); err != nil {
		return err
	}

	ctx.SetExitCode(1)
	return nil
}

func AssetWatch(ctx *Context, opts struct{}) error {
	p, srcs, err := ctx.sources()
	if err != nil {
		return err
	}

	l, err := ctx.Loader(srcs...)
	if err != nil {
		return err
	}

	for _, id := range p.Entries() {
		l.Subscribe(id, func(id uuid.UUID) {
			path := "?"
			if e, ok := p.Lookup(id); ok {
				path = strings.Join(e.Path, "/")
			}
			ctx.Printf("%s changed %s %s\n", time.Now().Format(time.TimeOnly), id, path)
		})
	}

	if err := l.Watch(ctx); err != nil {
		return err
	}

	ctx.Log.Info("watching project for changes", "dir", p.Dir(), "assets", len(p.Entries()))

	<-ctx.Done()
	return nil
}

type typeItem struct {
	ID        string `json:"id" yaml:"id"`
	UUID      string `json:"uuid" yaml:"uuid"`
	Storage   string `json:"storage" yaml:"storage"`
	Structure string `json:"structure,omitempty" yaml:"structure,omitempty"`
}

func AssetTypes(ctx *Context, opts struct {
	Schema bool `long:"schema" description:"Include the structure of each type"`
	FormatOptions
}) error {
	reg, err := ctx.Registry()
	if err != nil {
		return err
	}

	var items []typeItem
	for _, t := range reg.Types() {
		item := typeItem{
			ID:      t.ID(),
			UUID:    t.UUID().String(),
			Storage: t.Storage().String(),
		}

		if opts.Schema && t.Structure() != nil {
			item.Structure = describe(t.Structure(), "", map[*structure.Node]bool{})
		}

		items = append(items, item)
	}

	if !opts.IsText() {
		return opts.Emit(ctx.Stdout, items)
	}

	tbl := ui.NewTable([]string{"TYPE", "UUID", "STORAGE"})
	for _, it := range items {
		tbl.Add(it.ID, it.UUID, it.Storage)
	}

	if _, err := tbl.WriteTo(ctx.Stdout); err != nil {
		return err
	}

	if opts.Schema {
		for _, it := range items {
			if it.Structure != "" {
				ctx.Printf("\n%s\n%s", it.ID, it.Structure)
			}
		}
	}

	return nil
}

// describe lists the fields of an object node, one per line, descending
// into nested objects once.
func describe(n *structure.Node, indent string, seen map[*structure.Node]bool) string {
	n = n.Resolve()
	if n.Kind() != structure.Object {
		return indent + "  " + n.String() + "\n"
	}

	if seen[n] {
		return ""
	}
	seen[n] = true
	defer delete(seen, n)

	var sb strings.Builder
	for _, f := range n.Fields() {
		fmt.Fprintf(&sb, "%s  %s #%d %s", indent, f.Name(), f.NameID(), f.Node())
		if f.Required() {
			sb.WriteString(" required")
		}
		sb.WriteString("\n")

		elem := f.Node().Resolve()
		for elem.Kind() == structure.Array {
			elem = elem.Elem().Resolve()
		}

		if elem.Kind() == structure.Object {
			sb.WriteString(describe(elem, indent+"  ", seen))
		}
	}

	return sb.String()
}
