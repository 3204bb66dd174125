package bundle

import (
	"context"

	"github.com/google/uuid"
	"miren.dev/studio/assets"
	"miren.dev/studio/pkg/structure"
)

const ConfigID = "studio:assetBundle"

var ConfigUUID = uuid.MustParse("f5a6f81c-5404-4d0a-9c57-2a751699cc5c")

// ConfigStructure stores bundle configs. Assets are listed by uuid so that
// loading a config does not load its content.
var ConfigStructure = structure.NewObject(func(b *structure.ObjectBuilder) {
	b.String("outputLocation", 1)
	b.Field("assets", 2, structure.NewArray(structure.NewObject(func(b *structure.ObjectBuilder) {
		b.UUID("asset", 1)
		b.Bool("includeChildren", 2, structure.Default(true))
	})))
	b.Field("excludeAssets", 3, structure.NewArray(structure.NewUUID()))
	b.Field("excludeAssetsRecursive", 4, structure.NewArray(structure.NewUUID()))
})

// RegisterConfig adds the bundle config asset type to reg.
func RegisterConfig(reg *assets.Registry) (*assets.AssetType, error) {
	return assets.Register(reg, assets.Type[Config]{
		ID:        ConfigID,
		UUID:      ConfigUUID,
		Structure: ConfigStructure,
		Load:      loadConfig,
		Save:      saveConfig,
	})
}

func uuids(v any) []uuid.UUID {
	var out []uuid.UUID
	for _, e := range v.([]any) {
		if id, _ := e.(uuid.UUID); id != uuid.Nil {
			out = append(out, id)
		}
	}
	return out
}

func loadConfig(ctx context.Context, in *assets.LoadInput) (*Config, error) {
	f := in.Fields()

	cfg := &Config{
		OutputLocation:   f["outputLocation"].(string),
		Exclude:          uuids(f["excludeAssets"]),
		ExcludeRecursive: uuids(f["excludeAssetsRecursive"]),
	}

	for _, a := range f["assets"].([]any) {
		inc := a.(map[string]any)
		cfg.Assets = append(cfg.Assets, Include{
			Asset:           inc["asset"].(uuid.UUID),
			IncludeChildren: inc["includeChildren"].(bool),
		})
	}

	return cfg, nil
}

func saveConfig(ctx context.Context, in *assets.SaveInput, cfg *Config) (any, error) {
	list := func(ids []uuid.UUID) []any {
		out := make([]any, len(ids))
		for i, id := range ids {
			out[i] = id
		}
		return out
	}

	incs := make([]any, len(cfg.Assets))
	for i, inc := range cfg.Assets {
		incs[i] = map[string]any{
			"asset":           inc.Asset,
			"includeChildren": inc.IncludeChildren,
		}
	}

	return map[string]any{
		"outputLocation":         cfg.OutputLocation,
		"assets":                 incs,
		"excludeAssets":          list(cfg.Exclude),
		"excludeAssetsRecursive": list(cfg.ExcludeRecursive),
	}, nil
}
