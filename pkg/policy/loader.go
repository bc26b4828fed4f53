package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// packsFile is the on-disk shape of a pack overrides file.
type packsFile struct {
	Packs []*Pack `yaml:"packs"`
}

// LoadOverrides reads a YAML file of custom packs and registers them,
// replacing built-ins with the same name. Missing file is not an error
// when the path is empty.
func (r *Registry) LoadOverrides(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load policy packs %q: %w", path, err)
	}
	var file packsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse policy packs %q: %w", path, err)
	}
	for _, p := range file.Packs {
		if err := r.Register(p); err != nil {
			return fmt.Errorf("register pack from %q: %w", path, err)
		}
	}
	return nil
}
