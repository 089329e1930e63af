package hboxpack

import (
	"fmt"
	"hash/crc32"
	"time"

	"github.com/pkg/errors"
)

// BuildInfo identifies one slot build.
type BuildInfo struct {
	Version   string
	Slot      Slot
	BuildDate string
	Timestamp time.Time
}

// MetadataComponent is one entry of the metadata component table.
type MetadataComponent struct {
	Name    string
	File    string
	Address uint32
	Size    uint32
	SHA256  string
	Active  bool
}

// Metadata is the decoded form of the on-device firmware metadata record.
type Metadata struct {
	Magic                uint32
	VersionMajor         uint32
	VersionMinor         uint32
	Size                 uint32
	CRC32                uint32
	FirmwareVersion      string
	TargetSlot           Slot
	BuildDate            string
	BuildTimestamp       uint32
	DeviceModel          string
	HardwareVersion      uint32
	BootloaderMinVersion uint32
	ComponentCount       uint32
	Components           []MetadataComponent

	raw []byte
}

// MetadataEncoder serialises metadata records for one device configuration.
type MetadataEncoder struct {
	cfg    Config
	layout *recordLayout
	// Pad or truncate a mis-sized record instead of failing. Development use only.
	repair bool
}

// NewMetadataEncoder returns an encoder for cfg.
func NewMetadataEncoder(cfg Config) *MetadataEncoder {
	return &MetadataEncoder{cfg: cfg, layout: metadataLayout}
}

// SetRepairMode makes the encoder pad or truncate a record whose layout does
// not add up to MetadataSize. Never use it for released artifacts.
func (e *MetadataEncoder) SetRepairMode(repair bool) {
	e.repair = repair
}

// Encode builds the metadata record for a slot. Strings longer than their
// field are truncated. Unused component entries are left zero-filled.
func (e *MetadataEncoder) Encode(info BuildInfo, components []MetadataComponent) ([]byte, error) {
	if len(components) > MaxComponents {
		return nil, errors.Errorf("%d components given, the record holds at most %d", len(components), MaxComponents)
	}
	if info.Slot != SlotA && info.Slot != SlotB {
		return nil, &UnknownSlotError{Name: info.Slot.String()}
	}

	l := e.layout
	buf := make([]byte, l.total)

	l.putUint32(buf, "magic", e.cfg.Magic)
	l.putUint32(buf, "metadata_version_major", e.cfg.VersionMajor)
	l.putUint32(buf, "metadata_version_minor", e.cfg.VersionMinor)
	l.putUint32(buf, "metadata_size", MetadataSize)
	l.putUint32(buf, "metadata_crc32", 0)

	l.putString(buf, "firmware_version", info.Version)
	l.slice(buf, "target_slot")[0] = byte(info.Slot)
	l.putString(buf, "build_date", info.BuildDate)
	l.putUint32(buf, "build_timestamp", uint32(info.Timestamp.Unix()))

	l.putString(buf, "device_model", e.cfg.DeviceModel)
	l.putUint32(buf, "hardware_version", e.cfg.HardwareVersion)
	l.putUint32(buf, "bootloader_min_version", e.cfg.BootloaderMinVersion)

	l.putUint32(buf, "component_count", uint32(len(components)))
	table := l.slice(buf, "components")
	for i, c := range components {
		encodeComponent(table[i*ComponentSize:(i+1)*ComponentSize], c)
	}
	// firmware_hash, signature, signature_algorithm and reserved stay zero.

	if len(buf) != MetadataSize {
		sizeErr := &MetadataSizeError{Expected: MetadataSize, Actual: len(buf)}
		if !e.repair {
			return nil, sizeErr
		}
		pkgLog.Warnf("repairing metadata: %v", sizeErr)
		fixed := make([]byte, MetadataSize)
		copy(fixed, buf)
		buf = fixed
	}

	crc := metadataCRC(buf, e.cfg.CRCMode)
	l.putUint32(buf, "metadata_crc32", crc)

	pkgLog.Debugf("metadata: version=%s slot=%s components=%d crc=0x%08X", info.Version, info.Slot, len(components), crc)
	return buf, nil
}

func encodeComponent(dst []byte, c MetadataComponent) {
	l := componentLayout
	l.putString(dst, "name", c.Name)
	l.putString(dst, "file", c.File)
	l.putUint32(dst, "address", c.Address)
	l.putUint32(dst, "size", c.Size)
	l.putString(dst, "sha256", c.SHA256)
	if c.Active {
		l.slice(dst, "active")[0] = 1
	}
}

var zeroCRCField [4]byte

// metadataCRC computes the record checksum, excluding the CRC field as selected by mode.
func metadataCRC(buf []byte, mode CRCMode) uint32 {
	off := metadataLayout.offset("metadata_crc32")
	end := off + metadataLayout.size("metadata_crc32")

	crc := crc32.ChecksumIEEE(buf[:off])
	if mode != CRCSkip {
		crc = crc32.Update(crc, crc32.IEEETable, zeroCRCField[:])
	}
	return crc32.Update(crc, crc32.IEEETable, buf[end:])
}

// DecodeMetadata parses a metadata record. It does not validate it.
func DecodeMetadata(buf []byte) (*Metadata, error) {
	if len(buf) != MetadataSize {
		return nil, &MetadataSizeError{Expected: MetadataSize, Actual: len(buf)}
	}
	l := metadataLayout
	m := &Metadata{
		Magic:                l.uint32(buf, "magic"),
		VersionMajor:         l.uint32(buf, "metadata_version_major"),
		VersionMinor:         l.uint32(buf, "metadata_version_minor"),
		Size:                 l.uint32(buf, "metadata_size"),
		CRC32:                l.uint32(buf, "metadata_crc32"),
		FirmwareVersion:      l.string(buf, "firmware_version"),
		TargetSlot:           Slot(l.slice(buf, "target_slot")[0]),
		BuildDate:            l.string(buf, "build_date"),
		BuildTimestamp:       l.uint32(buf, "build_timestamp"),
		DeviceModel:          l.string(buf, "device_model"),
		HardwareVersion:      l.uint32(buf, "hardware_version"),
		BootloaderMinVersion: l.uint32(buf, "bootloader_min_version"),
		ComponentCount:       l.uint32(buf, "component_count"),
		raw:                  append([]byte(nil), buf...),
	}

	n := int(m.ComponentCount)
	if n > MaxComponents {
		n = MaxComponents
	}
	table := l.slice(buf, "components")
	for i := 0; i < n; i++ {
		src := table[i*ComponentSize : (i+1)*ComponentSize]
		cl := componentLayout
		m.Components = append(m.Components, MetadataComponent{
			Name:    cl.string(src, "name"),
			File:    cl.string(src, "file"),
			Address: cl.uint32(src, "address"),
			Size:    cl.uint32(src, "size"),
			SHA256:  cl.string(src, "sha256"),
			Active:  cl.slice(src, "active")[0] != 0,
		})
	}
	return m, nil
}

// ValidationResult mirrors the bootloader's metadata validation outcome.
type ValidationResult int

// Validation results.
const (
	Valid ValidationResult = iota
	InvalidMagic
	InvalidCRC
	InvalidVersion
	InvalidDevice
	Corrupted
)

func (r ValidationResult) String() string {
	switch r {
	case Valid:
		return "valid"
	case InvalidMagic:
		return "invalid magic"
	case InvalidCRC:
		return "invalid crc"
	case InvalidVersion:
		return "invalid version"
	case InvalidDevice:
		return "invalid device"
	case Corrupted:
		return "corrupted"
	}
	return "unknown"
}

// Validate checks the record the way the bootloader does, in the same order.
func (m *Metadata) Validate(cfg Config) error {
	invalid := func(r ValidationResult, format string, args ...interface{}) error {
		return &ValidationError{Result: r, Detail: fmt.Sprintf(format, args...)}
	}

	if m.Magic != cfg.Magic {
		return invalid(InvalidMagic, "magic 0x%08X, expected 0x%08X", m.Magic, cfg.Magic)
	}
	if m.VersionMajor != cfg.VersionMajor {
		return invalid(InvalidVersion, "record version %d.%d, expected major %d", m.VersionMajor, m.VersionMinor, cfg.VersionMajor)
	}
	if m.DeviceModel != cfg.DeviceModel {
		return invalid(InvalidDevice, "device model %q, expected %q", m.DeviceModel, cfg.DeviceModel)
	}
	if m.HardwareVersion > cfg.HardwareVersion {
		return invalid(InvalidDevice, "hardware version 0x%08X above 0x%08X", m.HardwareVersion, cfg.HardwareVersion)
	}
	if m.BootloaderMinVersion > cfg.BootloaderMinVersion {
		return invalid(InvalidVersion, "needs bootloader 0x%08X, have 0x%08X", m.BootloaderMinVersion, cfg.BootloaderMinVersion)
	}
	if m.Size != MetadataSize {
		return invalid(InvalidVersion, "size field %d, expected %d", m.Size, MetadataSize)
	}
	if crc := metadataCRC(m.raw, cfg.CRCMode); crc != m.CRC32 {
		return invalid(InvalidCRC, "crc 0x%08X, computed 0x%08X", m.CRC32, crc)
	}
	if m.ComponentCount > MaxComponents {
		return invalid(Corrupted, "%d components, at most %d allowed", m.ComponentCount, MaxComponents)
	}
	return nil
}

func (m *Metadata) String() string {
	s := ""
	s += fmt.Sprintf("Magic:             0x%08X\n", m.Magic)
	s += fmt.Sprintf("Record version:    %d.%d (%d bytes)\n", m.VersionMajor, m.VersionMinor, m.Size)
	s += fmt.Sprintf("CRC32:             0x%08X\n", m.CRC32)
	s += fmt.Sprintf("Firmware version:  %s\n", m.FirmwareVersion)
	s += fmt.Sprintf("Target slot:       %s\n", m.TargetSlot)
	s += fmt.Sprintf("Build date:        %s (%d)\n", m.BuildDate, m.BuildTimestamp)
	s += fmt.Sprintf("Device model:      %s\n", m.DeviceModel)
	s += fmt.Sprintf("Hardware version:  0x%08X\n", m.HardwareVersion)
	s += fmt.Sprintf("Bootloader min:    0x%08X\n", m.BootloaderMinVersion)
	s += fmt.Sprintf("Components:        %d", m.ComponentCount)
	for _, c := range m.Components {
		s += fmt.Sprintf("\n   %-12s 0x%08X %8d %s active=%v", c.Name, c.Address, c.Size, c.SHA256, c.Active)
	}
	return s
}
