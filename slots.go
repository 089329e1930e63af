package hboxpack

import (
	"strings"
)

// Slot identifies one of the two firmware image sets in external flash.
type Slot uint8

// Slot values as stored in the metadata target_slot field.
const (
	SlotA Slot = 0
	SlotB Slot = 1
)

// slots lists every slot in address order.
var slots = [...]Slot{SlotA, SlotB}

func (s Slot) String() string {
	switch s {
	case SlotA:
		return "A"
	case SlotB:
		return "B"
	default:
		return "?"
	}
}

// ParseSlot parses "A" or "B" (case-insensitive).
func ParseSlot(name string) (Slot, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "A":
		return SlotA, nil
	case "B":
		return SlotB, nil
	}
	return 0, &UnknownSlotError{Name: name}
}

// ComponentKind identifies a named sub-image within a slot.
type ComponentKind int

// Component kinds, in the order they are laid out within a slot.
const (
	Application ComponentKind = iota
	WebResources
	AdcMapping
	numComponentKinds
)

// componentKinds lists every slot component in layout order.
var componentKinds = [...]ComponentKind{Application, WebResources, AdcMapping}

var componentNames = [numComponentKinds]string{
	Application:  "application",
	WebResources: "webresources",
	AdcMapping:   "adc_mapping",
}

func (k ComponentKind) String() string {
	if k < 0 || k >= numComponentKinds {
		return "unknown"
	}
	return componentNames[k]
}

// ParseComponentKind maps a component name to its kind.
func ParseComponentKind(name string) (ComponentKind, error) {
	for i, n := range componentNames {
		if n == name {
			return ComponentKind(i), nil
		}
	}
	return 0, &UnknownComponentError{Name: name}
}

// Region is a base address and maximum size.
type Region struct {
	Address uint32 `yaml:"address"`
	Size    uint32 `yaml:"size"`
}

// End returns the first address past the region.
func (r Region) End() uint32 {
	return r.Address + r.Size
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Address && addr < r.End()
}

// External flash layout.
const (
	ExternalFlashBase = 0x90000000
	SlotStride        = 0x2B0000

	UserConfigAddress = 0x90560000
	UserConfigSize    = 0x10000
	MetadataAddress   = 0x90570000
	MetadataRegion    = 0x10000
)

// SlotAddressMap holds the per-slot, per-component region table.
type SlotAddressMap [2][numComponentKinds]Region

// Slot B is slot A shifted by SlotStride.
var defaultSlotMap = SlotAddressMap{
	SlotA: {
		Application:  {Address: 0x90000000, Size: 0x100000},
		WebResources: {Address: 0x90100000, Size: 0x180000},
		AdcMapping:   {Address: 0x90280000, Size: 0x20000},
	},
	SlotB: {
		Application:  {Address: 0x902B0000, Size: 0x100000},
		WebResources: {Address: 0x903B0000, Size: 0x180000},
		AdcMapping:   {Address: 0x90530000, Size: 0x20000},
	},
}

// DefaultSlotMap returns a copy of the compiled-in slot table.
func DefaultSlotMap() SlotAddressMap {
	return defaultSlotMap
}

// Region returns the region of a component in a slot.
func (m *SlotAddressMap) Region(kind ComponentKind, slot Slot) (Region, error) {
	if slot != SlotA && slot != SlotB {
		return Region{}, &UnknownSlotError{Name: slot.String()}
	}
	if kind < 0 || kind >= numComponentKinds {
		return Region{}, &UnknownComponentError{Name: kind.String()}
	}
	return m[slot][kind], nil
}

// AddressOf returns the base address of a named component in a slot.
func (m *SlotAddressMap) AddressOf(name string, slot Slot) (uint32, error) {
	kind, err := ParseComponentKind(name)
	if err != nil {
		return 0, err
	}
	r, err := m.Region(kind, slot)
	if err != nil {
		return 0, err
	}
	return r.Address, nil
}

// MaxSizeOf returns the maximum size of a named component. Sizes are the same in both slots.
func (m *SlotAddressMap) MaxSizeOf(name string) (uint32, error) {
	kind, err := ParseComponentKind(name)
	if err != nil {
		return 0, err
	}
	return m[SlotA][kind].Size, nil
}

// SlotOf returns the slot and component whose region contains addr.
func (m *SlotAddressMap) SlotOf(addr uint32) (Slot, ComponentKind, bool) {
	for _, slot := range slots {
		for _, kind := range componentKinds {
			if m[slot][kind].Contains(addr) {
				return slot, kind, true
			}
		}
	}
	return 0, 0, false
}
