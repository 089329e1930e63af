package hboxpack

import (
	"fmt"
)

// MemoryType says how a classified address range is backed.
type MemoryType int

// Memory types.
const (
	MemoryUnknown MemoryType = iota
	MemoryFlash
	MemoryRAM
)

func (t MemoryType) String() string {
	switch t {
	case MemoryFlash:
		return "flash"
	case MemoryRAM:
		return "ram"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t MemoryType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MemoryType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "flash":
		*t = MemoryFlash
	case "ram":
		*t = MemoryRAM
	case "unknown":
		*t = MemoryUnknown
	default:
		return fmt.Errorf("unrecognised memory type: %s", text)
	}
	return nil
}

type memoryRegion struct {
	name  string
	label string
	start uint32
	end   uint32
	typ   MemoryType
	// Set for the six slot sub-regions of external flash.
	slotted bool
	slot    Slot
	kind    ComponentKind
}

func (r *memoryRegion) contains(addr uint32) bool {
	return addr >= r.start && addr < r.end
}

// STM32H750 memory map, excluding external flash.
var onChipRegions = []memoryRegion{
	{name: "internal_flash", label: "Internal flash", start: 0x08000000, end: 0x08200000, typ: MemoryFlash},
	{name: "dtcm_ram", label: "DTCM RAM", start: 0x20000000, end: 0x20020000, typ: MemoryRAM},
	{name: "axi_sram", label: "AXI SRAM", start: 0x24000000, end: 0x24080000, typ: MemoryRAM},
	{name: "sram1_d2", label: "SRAM1 (D2)", start: 0x30000000, end: 0x30048000, typ: MemoryRAM},
	{name: "sram4_d3", label: "SRAM4 (D3)", start: 0x38000000, end: 0x38010000, typ: MemoryRAM},
	{name: "backup_sram", label: "Backup SRAM", start: 0x38800000, end: 0x38801000, typ: MemoryRAM},
}

// External flash regions shared by both slots.
var sharedRegions = []memoryRegion{
	{name: "user_config", label: "User config", start: UserConfigAddress, end: UserConfigAddress + UserConfigSize, typ: MemoryFlash},
	{name: "metadata", label: "Metadata", start: MetadataAddress, end: MetadataAddress + MetadataRegion, typ: MemoryFlash},
}

var componentLabels = [numComponentKinds]string{
	Application:  "Application",
	WebResources: "Web resources",
	AdcMapping:   "ADC mapping",
}

func slotRegions(m *SlotAddressMap) []memoryRegion {
	var regions []memoryRegion
	for _, slot := range slots {
		for _, kind := range componentKinds {
			r := m[slot][kind]
			name := kind.String()
			label := componentLabels[kind]
			if slot != SlotA {
				name += "_slot_" + lowerSlot(slot)
				label = fmt.Sprintf("Slot %s %s", slot, label)
			}
			regions = append(regions, memoryRegion{
				name:    name,
				label:   label,
				start:   r.Address,
				end:     r.End(),
				typ:     MemoryFlash,
				slotted: true,
				slot:    slot,
				kind:    kind,
			})
		}
	}
	return regions
}

func lowerSlot(s Slot) string {
	switch s {
	case SlotA:
		return "a"
	case SlotB:
		return "b"
	}
	return "?"
}

// Classification is the result of mapping an address range onto the memory map.
type Classification struct {
	Name          string
	TargetAddress uint32
	Description   string
	MemoryType    MemoryType
	SkipFlash     bool

	slotted bool
	slot    Slot
	kind    ComponentKind
}

// AddressClassifier maps address ranges to named memory regions.
type AddressClassifier struct {
	regions []memoryRegion
}

// NewAddressClassifier builds a classifier for the given slot table.
func NewAddressClassifier(m *SlotAddressMap) *AddressClassifier {
	c := &AddressClassifier{}
	c.regions = append(c.regions, onChipRegions...)
	c.regions = append(c.regions, slotRegions(m)...)
	c.regions = append(c.regions, sharedRegions...)
	return c
}

// Classify maps the range [start, end) to a memory region. The region is chosen
// by the start address. Ranges outside every known region, including the gaps
// between external flash regions, are classified as MemoryUnknown and still
// returned.
func (c *AddressClassifier) Classify(start, end uint32) Classification {
	span := fmt.Sprintf("0x%08X-0x%08X", start, end)

	for i := range c.regions {
		r := &c.regions[i]
		if !r.contains(start) {
			continue
		}
		if end > r.end {
			pkgLog.Warnf("segment %s runs past the end of %s (0x%08X)", span, r.name, r.end)
		}
		return Classification{
			Name:          r.name,
			TargetAddress: start,
			Description:   fmt.Sprintf("%s (%s)", r.label, span),
			MemoryType:    r.typ,
			SkipFlash:     r.typ == MemoryRAM,
			slotted:       r.slotted,
			slot:          r.slot,
			kind:          r.kind,
		}
	}

	return Classification{
		Name:          fmt.Sprintf("unknown_%08x", start),
		TargetAddress: start,
		Description:   fmt.Sprintf("Unknown segment (%s)", span),
		MemoryType:    MemoryUnknown,
	}
}
