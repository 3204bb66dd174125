package commands

import (
	"runtime/debug"

	"miren.dev/studio/version"
)

func Version(ctx *Context, opts struct {
	Deps bool `long:"deps" description:"Show dependencies"`
	FormatOptions
}) error {
	bi, ok := debug.ReadBuildInfo()
	if ok {
		for _, setting := range bi.Settings {
			ctx.Log.Debug("build setting", "key", setting.Key, "value", setting.Value)
		}

		if opts.Deps {
			for _, dep := range bi.Deps {
				ctx.Printf("%s (%s)\n", dep.Path, dep.Version)
			}

			return nil
		}
	}

	info := version.GetInfo()

	if !opts.IsText() {
		return opts.Emit(ctx.Stdout, info)
	}

	ctx.Printf("%s\n", info)
	return nil
}
