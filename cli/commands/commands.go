package commands

import (
	"github.com/mitchellh/cli"
)

func AllCommands() map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"version": func() (cli.Command, error) {
			return Infer("version", "Print the version", Version), nil
		},

		"asset": func() (cli.Command, error) {
			return Section("asset", "Inspect and load project assets"), nil
		},
		"asset list": func() (cli.Command, error) {
			return Infer("asset list", "List the assets of the project", AssetList), nil
		},
		"asset show": func() (cli.Command, error) {
			return Infer("asset show", "Print the stored form of an asset", AssetShow), nil
		},
		"asset refs": func() (cli.Command, error) {
			return Infer("asset refs", "Show the assets an asset refers to", AssetRefs), nil
		},
		"asset load": func() (cli.Command, error) {
			return Infer("asset load", "Load an asset and its references", AssetLoad), nil
		},
		"asset types": func() (cli.Command, error) {
			return Infer("asset types", "List the registered asset types", AssetTypes), nil
		},
		"asset watch": func() (cli.Command, error) {
			return Infer("asset watch", "Report project assets as they change on disk", AssetWatch), nil
		},

		"bundle": func() (cli.Command, error) {
			return Section("bundle", "Build and inspect asset bundles"), nil
		},
		"bundle build": func() (cli.Command, error) {
			return Infer("bundle build", "Build the bundle described by a bundle config asset", BundleBuild), nil
		},
		"bundle list": func() (cli.Command, error) {
			return Infer("bundle list", "List the records of a bundle file", BundleList), nil
		},

		"library": func() (cli.Command, error) {
			return Section("library", "Manage the local asset library"), nil
		},
		"library import": func() (cli.Command, error) {
			return Infer("library import", "Import a bundle into the library", LibraryImport), nil
		},
		"library list": func() (cli.Command, error) {
			return Infer("library list", "List the assets stored in the library", LibraryList), nil
		},

		"config": func() (cli.Command, error) {
			return Section("config", "Commands related to studio configuration"), nil
		},
		"config show": func() (cli.Command, error) {
			return Infer("config show", "Print the effective configuration", ConfigShow), nil
		},
		"config init": func() (cli.Command, error) {
			return Infer("config init", "Write a default config file into the project", ConfigInit), nil
		},
	}
}
