package tms

import (
	"encoding/json"

	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// Register wires the tms drivers into the definition and factory
// registries. Called once from driver.RegisterAll.
func Register() {
	register := func(driver string, parse resource.DefinitionParser, factory generator.Factory) {
		gen := resource.GeneratorKind{Kind: resource.KindTms, Driver: driver}
		resource.RegisterDefinition(gen, parse)
		generator.RegisterFactory(gen, factory)
	}

	register("tms-raster",
		func(raw json.RawMessage) (resource.Definition, error) {
			d := &RasterDefinition{}
			if err := json.Unmarshal(raw, d); err != nil {
				return nil, err
			}
			return d, nil
		}, newRaster)

	register("tms-gdaldem",
		func(raw json.RawMessage) (resource.Definition, error) {
			d := &GdaldemDefinition{}
			if err := json.Unmarshal(raw, d); err != nil {
				return nil, err
			}
			return d, nil
		}, newGdaldem)

	register("tms-normal-map",
		func(raw json.RawMessage) (resource.Definition, error) {
			d := &NormalMapDefinition{}
			if err := json.Unmarshal(raw, d); err != nil {
				return nil, err
			}
			return d, nil
		}, newNormalMap)

	register("tms-specular-map",
		func(raw json.RawMessage) (resource.Definition, error) {
			d := &SpecularDefinition{}
			if err := json.Unmarshal(raw, d); err != nil {
				return nil, err
			}
			return d, nil
		}, newSpecular)
}
