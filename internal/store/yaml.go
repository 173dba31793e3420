package store

import (
	"os"

	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrYamlSource = errors.New("error in Yaml inventory")
)

// Inventory is the layout of a YAML inventory file.
type Inventory struct {
	Resources []*model.Resource `yaml:"resources"`
}

// LoadYAML reads the resources listed in a YAML inventory file.
func LoadYAML(yamlFile string) ([]*model.Resource, error) {
	byt, err := os.ReadFile(yamlFile)
	if err != nil {
		return nil, errors.Wrap(ErrYamlSource, err.Error())
	}

	return ParseYAML(byt)
}

// ParseYAML parses YAML inventory data.
func ParseYAML(byt []byte) ([]*model.Resource, error) {
	inv := &Inventory{}
	if err := yaml.Unmarshal(byt, inv); err != nil {
		return nil, errors.Wrap(ErrYamlSource, err.Error())
	}

	seen := map[uuid.UUID]bool{}

	for idx, res := range inv.Resources {
		if res == nil {
			return nil, errors.Wrapf(ErrYamlSource, "resource %d: empty entry", idx)
		}

		if res.ID == uuid.Nil {
			return nil, errors.Wrapf(ErrYamlSource, "resource %d (%s): id required", idx, res.Name)
		}

		if seen[res.ID] {
			return nil, errors.Wrapf(ErrYamlSource, "resource %d: duplicate id %s", idx, res.ID)
		}

		seen[res.ID] = true

		switch res.Kind {
		case model.ResourceKindVM, model.ResourceKindNetwork:
		default:
			return nil, errors.Wrapf(ErrYamlSource, "resource %s: invalid kind %q", res.ID, res.Kind)
		}

		if res.ConnectionName == "" {
			return nil, errors.Wrapf(ErrYamlSource, "resource %s: connection required", res.ID)
		}
	}

	return inv.Resources, nil
}

// NewYamlInventory returns a memory store seeded from a YAML inventory file.
func NewYamlInventory(yamlFile string) (*MemStore, error) {
	resources, err := LoadYAML(yamlFile)
	if err != nil {
		return nil, err
	}

	return NewMemStore(resources...)
}
