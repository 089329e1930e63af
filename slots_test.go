package hboxpack

import (
	"errors"
	"testing"
)

func TestSlotStride(t *testing.T) {
	for _, kind := range componentKinds {
		a, err := defaultSlotMap.Region(kind, SlotA)
		if err != nil {
			t.Fatal(err)
		}
		b, err := defaultSlotMap.Region(kind, SlotB)
		if err != nil {
			t.Fatal(err)
		}
		if b.Address-a.Address != SlotStride {
			t.Errorf("%s: slot B at 0x%08X, slot A at 0x%08X", kind, b.Address, a.Address)
		}
		if a.Size != b.Size {
			t.Errorf("%s: sizes differ, %d and %d", kind, a.Size, b.Size)
		}
	}

	// The slots and the trailing config/metadata regions never overlap.
	endA := defaultSlotMap[SlotA][AdcMapping].End()
	if endA > defaultSlotMap[SlotB][Application].Address {
		t.Errorf("slot A ends at 0x%08X, past slot B", endA)
	}
	if end := defaultSlotMap[SlotB][AdcMapping].End(); end > UserConfigAddress {
		t.Errorf("slot B ends at 0x%08X, past user config", end)
	}
	if UserConfigAddress+UserConfigSize > MetadataAddress {
		t.Error("user config overlaps metadata")
	}
}

func TestAddressOf(t *testing.T) {
	tests := []struct {
		name string
		slot Slot
		addr uint32
		size uint32
	}{
		{"application", SlotA, 0x90000000, 0x100000},
		{"webresources", SlotA, 0x90100000, 0x180000},
		{"adc_mapping", SlotA, 0x90280000, 0x20000},
		{"application", SlotB, 0x902B0000, 0x100000},
		{"webresources", SlotB, 0x903B0000, 0x180000},
		{"adc_mapping", SlotB, 0x90530000, 0x20000},
	}
	for _, tt := range tests {
		addr, err := defaultSlotMap.AddressOf(tt.name, tt.slot)
		if err != nil {
			t.Fatal(err)
		}
		size, err := defaultSlotMap.MaxSizeOf(tt.name)
		if err != nil {
			t.Fatal(err)
		}
		if addr != tt.addr || size != tt.size {
			t.Errorf("%s slot %s: got 0x%08X/0x%X, want 0x%08X/0x%X", tt.name, tt.slot, addr, size, tt.addr, tt.size)
		}
	}
}

func TestAddressOfErrors(t *testing.T) {
	_, err := defaultSlotMap.AddressOf("bootloader", SlotA)
	var compErr *UnknownComponentError
	if !errors.As(err, &compErr) || compErr.Name != "bootloader" {
		t.Errorf("got %v, want UnknownComponentError", err)
	}

	_, err = defaultSlotMap.AddressOf("application", Slot(7))
	var slotErr *UnknownSlotError
	if !errors.As(err, &slotErr) {
		t.Errorf("got %v, want UnknownSlotError", err)
	}

	if _, err := ParseSlot("C"); !errors.As(err, &slotErr) {
		t.Errorf("got %v, want UnknownSlotError", err)
	}
	if slot, err := ParseSlot(" b "); err != nil || slot != SlotB {
		t.Errorf("got %s, %v", slot, err)
	}
}

func TestSlotOf(t *testing.T) {
	slot, kind, ok := defaultSlotMap.SlotOf(0x903B0010)
	if !ok || slot != SlotB || kind != WebResources {
		t.Errorf("got %s %s %v", slot, kind, ok)
	}
	if _, _, ok := defaultSlotMap.SlotOf(MetadataAddress); ok {
		t.Error("metadata region reported as a slot component")
	}
}

func TestDefaultSlotMapCopy(t *testing.T) {
	m := DefaultSlotMap()
	m[SlotA][Application].Address = 0
	if DefaultSlotMap()[SlotA][Application].Address != 0x90000000 {
		t.Error("changing a returned table changed the default")
	}
}
