package hboxpack

import (
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Settings holds release defaults, usually read from a TOML file next to the
// firmware sources. Command line flags take precedence.
type Settings struct {
	Version      string   `toml:"version"`
	Slots        []string `toml:"slots"`
	ReleaseDir   string   `toml:"release_dir"`
	WebResources string   `toml:"webresources"`
	AdcMapping   string   `toml:"adc_mapping"`
	PackageType  string   `toml:"package_type"`
}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() Settings {
	return Settings{
		Version:     "1.0.0",
		Slots:       []string{"A"},
		ReleaseDir:  "releases",
		PackageType: "standard",
	}
}

// LoadSettings reads a TOML settings file over the defaults. Relative paths in
// the file are taken relative to the file itself.
func LoadSettings(fileName string) (Settings, error) {
	s := DefaultSettings()
	if _, err := toml.DecodeFile(fileName, &s); err != nil {
		return Settings{}, errors.Wrap(err, "loading settings")
	}

	if _, err := s.ParsedSlots(); err != nil {
		return Settings{}, err
	}

	abs, err := filepath.Abs(fileName)
	if err != nil {
		return Settings{}, errors.Wrap(err, "resolving settings path")
	}
	dir := filepath.Dir(abs)
	for _, p := range []*string{&s.ReleaseDir, &s.WebResources, &s.AdcMapping} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return s, nil
}

// ParsedSlots returns the configured slots.
func (s *Settings) ParsedSlots() ([]Slot, error) {
	var slots []Slot
	for _, name := range s.Slots {
		slot, err := ParseSlot(name)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}
