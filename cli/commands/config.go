package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"miren.dev/studio/pkg/studioconfig"
	"miren.dev/studio/pkg/ui"
)

func ConfigShow(ctx *Context, opts struct {
	Sources bool `short:"s" long:"sources" description:"Show where each value came from"`
}) error {
	if opts.Sources {
		keys := make([]string, 0, len(ctx.Config.Sources))
		for k := range ctx.Config.Sources {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		tbl := ui.NewTable([]string{"KEY", "SOURCE"})
		for _, k := range keys {
			tbl.Add(k, string(ctx.Config.Sources[k]))
		}

		_, err := tbl.WriteTo(ctx.Stdout)
		return err
	}

	data, err := studioconfig.GenerateTOML(&ctx.Config.Config)
	if err != nil {
		return err
	}

	_, err = ctx.Stdout.Write(data)
	return err
}

func ConfigInit(ctx *Context, opts struct {
	Force bool `short:"f" long:"force" description:"Overwrite an existing config file"`
}) error {
	path := filepath.Join(ctx.Config.Config.Project.Path, "ProjectSettings", "studio.toml")

	if _, err := os.Stat(path); err == nil && !opts.Force {
		return fmt.Errorf("%s already exists, use --force to overwrite it", path)
	}

	data, err := studioconfig.GenerateTOML(studioconfig.DefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	ctx.Printf("Wrote %s\n", path)
	return nil
}
