package hboxpack

import (
	"io/ioutil"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// CRCMode selects how the metadata CRC field is excluded from its own checksum.
type CRCMode string

const (
	// CRCZeroed computes the CRC over the full record with the CRC field set to zero.
	CRCZeroed CRCMode = "zeroed"
	// CRCSkip computes the CRC over the record with the CRC field left out,
	// which is what the bootloader does.
	CRCSkip CRCMode = "skip"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *CRCMode) UnmarshalText(text []byte) error {
	switch CRCMode(strings.ToLower(string(text))) {
	case CRCZeroed, "":
		*m = CRCZeroed
	case CRCSkip:
		*m = CRCSkip
	default:
		return errors.Errorf("unrecognised crc mode: %s", text)
	}
	return nil
}

// Config describes the target device and the metadata record format.
// Build it once with DefaultConfig or LoadProfile and pass it by value.
type Config struct {
	Magic                uint32         `yaml:"-"`
	VersionMajor         uint32         `yaml:"-"`
	VersionMinor         uint32         `yaml:"-"`
	DeviceModel          string         `yaml:"device_model"`
	HardwareVersion      uint32         `yaml:"hardware_version"`
	BootloaderMinVersion uint32         `yaml:"bootloader_min_version"`
	CRCMode              CRCMode        `yaml:"crc_mode"`
	Slots                SlotAddressMap `yaml:"-"`
}

// Compiled-in record constants.
const (
	FirmwareMagic        = 0x48424F58 // "HBOX"
	MetadataVersionMajor = 1
	MetadataVersionMinor = 0
	DefaultDeviceModel   = "STM32H750_HBOX"
	DefaultHWVersion     = 0x00010000
	DefaultBootloaderVer = 0x00010000
)

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() Config {
	return Config{
		Magic:                FirmwareMagic,
		VersionMajor:         MetadataVersionMajor,
		VersionMinor:         MetadataVersionMinor,
		DeviceModel:          DefaultDeviceModel,
		HardwareVersion:      DefaultHWVersion,
		BootloaderMinVersion: DefaultBootloaderVer,
		CRCMode:              CRCZeroed,
		Slots:                DefaultSlotMap(),
	}
}

// ParseProfile overlays a YAML device profile onto the default configuration.
// Fields missing from the profile keep their default values.
func ParseProfile(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parsing device profile")
	}
	if cfg.CRCMode == "" {
		cfg.CRCMode = CRCZeroed
	}
	if len(cfg.DeviceModel) >= metadataLayout.size("device_model") {
		pkgLog.Warnf("device model %q will be truncated in metadata", cfg.DeviceModel)
	}
	return cfg, nil
}

// LoadProfile reads a YAML device profile from a file.
func LoadProfile(fileName string) (Config, error) {
	data, err := ioutil.ReadFile(fileName)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading device profile")
	}
	return ParseProfile(data)
}
