package hboxpack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HexAddress is an address that serialises as a "0x%08X" string.
type HexAddress uint32

// MarshalText implements encoding.TextMarshaler.
func (a HexAddress) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("0x%08X", uint32(a))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *HexAddress) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), 16, 32)
	if err != nil {
		return fmt.Errorf("invalid address %q: %v", s, err)
	}
	*a = HexAddress(v)
	return nil
}

// ManifestComponent describes one binary file of a package.
type ManifestComponent struct {
	Name            string      `json:"name"`
	File            string      `json:"file"`
	Address         HexAddress  `json:"address"`
	Size            uint32      `json:"size"`
	SHA256          string      `json:"sha256"`
	Active          bool        `json:"active"`
	MemoryType      MemoryType  `json:"memory_type"`
	Description     string      `json:"description"`
	OriginalAddress *HexAddress `json:"original_address,omitempty"`
}

// RAMSegment records a segment that is loaded at run time and never flashed.
type RAMSegment struct {
	Name        string     `json:"name"`
	Address     HexAddress `json:"address"`
	Size        uint32     `json:"size"`
	MemoryType  MemoryType `json:"memory_type"`
	Description string     `json:"description"`
	Note        string     `json:"note,omitempty"`
}

// MetadataEntry describes the metadata record stored in a package.
type MetadataEntry struct {
	File    string     `json:"file"`
	Address HexAddress `json:"address"`
	Size    uint32     `json:"size"`
	SHA256  string     `json:"sha256"`
}

// HexInfo summarises how the application HEX file was split.
type HexInfo struct {
	HexSegments        int `json:"hex_segments"`
	FlashComponents    int `json:"flash_components"`
	RAMSegments        int `json:"ram_segments"`
	UnpackagedSegments int `json:"unpackaged_segments"`
}

// Manifest is the package level description of a release.
type Manifest struct {
	Version        string              `json:"version"`
	Slot           string              `json:"slot,omitempty"`
	BuildDate      string              `json:"build_date"`
	BuildTimestamp int64               `json:"build_timestamp,omitempty"`
	PackageType    string              `json:"package_type,omitempty"`
	Components     []ManifestComponent `json:"components"`
	RAMSegments    []RAMSegment        `json:"ram_segments"`
	Metadata       *MetadataEntry      `json:"metadata,omitempty"`
	HexInfo        *HexInfo            `json:"hex_info,omitempty"`
}

// BuildInfo returns the build identity recorded in the manifest.
func (m *Manifest) BuildInfo() (BuildInfo, error) {
	slot, err := ParseSlot(m.Slot)
	if err != nil {
		return BuildInfo{}, err
	}
	return BuildInfo{
		Version:   m.Version,
		Slot:      slot,
		BuildDate: m.BuildDate,
		Timestamp: time.Unix(m.BuildTimestamp, 0).UTC(),
	}, nil
}

// PackageComponent is a slot component ready to be packaged.
type PackageComponent struct {
	Kind        ComponentKind
	File        string
	Address     uint32
	Data        []byte
	SHA256      string
	Description string
}

// Name returns the component name.
func (c *PackageComponent) Name() string {
	return c.Kind.String()
}

func newPackageComponent(kind ComponentKind, file string, address uint32, data []byte, description string) PackageComponent {
	return PackageComponent{
		Kind:        kind,
		File:        file,
		Address:     address,
		Data:        data,
		SHA256:      sha256Hex(data),
		Description: description,
	}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BuildManifest aggregates packaged components into a manifest. It performs no I/O.
func BuildManifest(info BuildInfo, components []PackageComponent) *Manifest {
	m := &Manifest{
		Version:        info.Version,
		Slot:           info.Slot.String(),
		BuildDate:      info.BuildDate,
		BuildTimestamp: info.Timestamp.Unix(),
		Components:     make([]ManifestComponent, 0, len(components)),
		RAMSegments:    []RAMSegment{},
	}
	for _, c := range components {
		m.Components = append(m.Components, ManifestComponent{
			Name:        c.Name(),
			File:        c.File,
			Address:     HexAddress(c.Address),
			Size:        uint32(len(c.Data)),
			SHA256:      c.SHA256,
			Active:      true,
			MemoryType:  MemoryFlash,
			Description: c.Description,
		})
	}
	return m
}

// MetadataComponents converts manifest entries into metadata table entries.
func (m *Manifest) MetadataComponents() []MetadataComponent {
	var comps []MetadataComponent
	for _, c := range m.Components {
		comps = append(comps, MetadataComponent{
			Name:    c.Name,
			File:    c.File,
			Address: uint32(c.Address),
			Size:    c.Size,
			SHA256:  c.SHA256,
			Active:  c.Active,
		})
	}
	return comps
}
