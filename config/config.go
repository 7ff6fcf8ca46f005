// Package config loads the optional .btfdump.yaml file that supplies
// defaults for the CLI (mode, pointer width, lenient mode, named filter
// presets) so repeated invocations don't have to repeat the same flags.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// FilterPreset is a named, reusable shorthand for the emitter's filter
// surface (§6.3), so a project can check in e.g. a "uapi" preset
// instead of typing --names on every invocation.
type FilterPreset struct {
	IDs   []uint32 `yaml:"ids,omitempty"`
	Names []string `yaml:"names,omitempty"`
	Kinds []string `yaml:"kinds,omitempty"`
}

// Config is the top-level shape of .btfdump.yaml.
type Config struct {
	Mode        string                  `yaml:"mode,omitempty"`
	PointerSize uint32                  `yaml:"pointer_size,omitempty"`
	Lenient     bool                    `yaml:"lenient,omitempty"`
	IncludeExt  bool                    `yaml:"include_ext,omitempty"`
	Filters     map[string]FilterPreset `yaml:"filters,omitempty"`
}

// Default returns the config used when no file is present: human mode,
// an 8-byte pointer (64-bit ABI), strict (non-lenient) decoding.
func Default() Config {
	return Config{
		Mode:        "dump",
		PointerSize: 8,
		Lenient:     false,
	}
}

// Load reads path and merges it over Default(). A missing file is not
// an error — it just means the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
