package surface

import (
	"encoding/json"

	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// Register wires the surface drivers into the definition and factory
// registries. Called once from driver.RegisterAll.
func Register() {
	demKind := resource.GeneratorKind{Kind: resource.KindSurface, Driver: "surface-dem"}
	resource.RegisterDefinition(demKind, func(raw json.RawMessage) (resource.Definition, error) {
		d := &DemDefinition{}
		if err := json.Unmarshal(raw, d); err != nil {
			return nil, err
		}
		return d, nil
	})
	generator.RegisterFactory(demKind, newDem)

	sphKind := resource.GeneratorKind{Kind: resource.KindSurface, Driver: "surface-spheroid"}
	resource.RegisterDefinition(sphKind, func(raw json.RawMessage) (resource.Definition, error) {
		d := &SpheroidDefinition{}
		if err := json.Unmarshal(raw, d); err != nil {
			return nil, err
		}
		return d, nil
	})
	generator.RegisterFactory(sphKind, newSpheroid)
}
