package hboxpack

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func testBuild(t *testing.T, slot Slot) SlotBuild {
	return SlotBuild{
		Info: testInfo(slot),
		Hex: makeHex(t, map[uint32][]byte{
			0x24000000: pattern(64, 9),
			0x90000000: pattern(4096, 1),
		}),
		WebResources: pattern(2048, 2),
		AdcMapping:   pattern(512, 3),
		PackageType:  "test",
	}
}

func TestBuildPackage(t *testing.T) {
	pkg, err := NewPackager(DefaultConfig()).Build(testBuild(t, SlotA))
	if err != nil {
		t.Fatal(err)
	}
	m := pkg.Manifest

	want := []struct {
		name, file string
		addr, size uint32
	}{
		{"application", "application_slot_a.bin", 0x90000000, 4096},
		{"webresources", "webresources.bin", 0x90100000, 2048},
		{"adc_mapping", "adc_mapping.bin", 0x90280000, 512},
	}
	if len(m.Components) != len(want) {
		t.Fatalf("got %d components", len(m.Components))
	}
	for i, w := range want {
		c := m.Components[i]
		if c.Name != w.name || c.File != w.file || uint32(c.Address) != w.addr || c.Size != w.size {
			t.Errorf("component %d: got %s %s 0x%08X %d", i, c.Name, c.File, uint32(c.Address), c.Size)
		}
		if c.SHA256 != sha256Hex(pkg.Files[c.File]) {
			t.Errorf("%s: digest does not match file", c.Name)
		}
		if c.OriginalAddress != nil {
			t.Errorf("%s: unexpected original address", c.Name)
		}
	}
	if len(m.RAMSegments) != 1 || m.RAMSegments[0].Name != "axi_sram" {
		t.Errorf("ram segments %+v", m.RAMSegments)
	}
	if m.Metadata == nil || uint32(m.Metadata.Address) != MetadataAddress || m.Metadata.Size != MetadataSize {
		t.Errorf("metadata entry %+v", m.Metadata)
	}
	if *m.HexInfo != (HexInfo{HexSegments: 2, FlashComponents: 1, RAMSegments: 1}) {
		t.Errorf("hex info %+v", *m.HexInfo)
	}
	if m.Slot != "A" || m.PackageType != "test" || m.Version != "1.2.3" {
		t.Errorf("manifest header %+v", m)
	}

	md, err := DecodeMetadata(pkg.Metadata)
	if err != nil {
		t.Fatal(err)
	}
	if err := md.Validate(DefaultConfig()); err != nil {
		t.Error(err)
	}
	if md.ComponentCount != 3 {
		t.Errorf("component count %d", md.ComponentCount)
	}
}

func TestBuildSlotIndependence(t *testing.T) {
	p := NewPackager(DefaultConfig())
	a, err := p.Build(testBuild(t, SlotA))
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Build(testBuild(t, SlotB))
	if err != nil {
		t.Fatal(err)
	}

	ma, err := DecodeMetadata(a.Metadata)
	if err != nil {
		t.Fatal(err)
	}
	mb, err := DecodeMetadata(b.Metadata)
	if err != nil {
		t.Fatal(err)
	}
	if ma.TargetSlot != SlotA || mb.TargetSlot != SlotB {
		t.Errorf("target slots %s and %s", ma.TargetSlot, mb.TargetSlot)
	}
	if ma.FirmwareVersion != mb.FirmwareVersion || ma.ComponentCount != mb.ComponentCount {
		t.Errorf("records differ: %s/%d and %s/%d", ma.FirmwareVersion, ma.ComponentCount, mb.FirmwareVersion, mb.ComponentCount)
	}
	for i := range ma.Components {
		if d := mb.Components[i].Address - ma.Components[i].Address; d != SlotStride {
			t.Errorf("%s: addresses differ by 0x%X", ma.Components[i].Name, d)
		}
	}

	// The application was linked for slot A, so slot B records where it came from.
	orig := b.Manifest.Components[0].OriginalAddress
	if orig == nil || uint32(*orig) != 0x90000000 {
		t.Errorf("original address %v", orig)
	}
	if !bytes.Equal(a.Files["application_slot_a.bin"], b.Files["application_slot_b.bin"]) {
		t.Error("relocated application differs")
	}
}

func TestBuildApplicationTooLarge(t *testing.T) {
	b := testBuild(t, SlotA)
	// Starts 16 bytes into the region and runs 16 bytes past its end.
	b.Hex = makeHex(t, map[uint32][]byte{0x90000010: pattern(0x100000, 0)})

	_, err := NewPackager(DefaultConfig()).Build(b)
	var sizeErr *ComponentSizeExceededError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("got %v, want ComponentSizeExceededError", err)
	}
	if sizeErr.Component != Application || sizeErr.MaxSize != 0x100000 || sizeErr.Size != 0x100010 {
		t.Errorf("got %+v", sizeErr)
	}
}

func TestBuildTruncatesResources(t *testing.T) {
	b := testBuild(t, SlotB)
	b.AdcMapping = pattern(0x20000+100, 5)

	pkg, err := NewPackager(DefaultConfig()).Build(b)
	if err != nil {
		t.Fatal(err)
	}
	adc := pkg.Manifest.Components[2]
	if adc.Name != "adc_mapping" || adc.Size != 0x20000 || uint32(adc.Address) != 0x90530000 {
		t.Errorf("adc component %+v", adc)
	}
	if len(pkg.Files["adc_mapping.bin"]) != 0x20000 {
		t.Errorf("adc file is %d bytes", len(pkg.Files["adc_mapping.bin"]))
	}
}

func TestBuildResourcesFromHex(t *testing.T) {
	b := testBuild(t, SlotA)
	b.WebResources, b.AdcMapping = nil, nil
	b.Hex = makeHex(t, map[uint32][]byte{
		0x90000000: pattern(256, 1),
		0x90100000: pattern(128, 2),
	})

	pkg, err := NewPackager(DefaultConfig()).Build(b)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(pkg.Manifest.Components); n != 2 {
		t.Fatalf("got %d components, want application and webresources", n)
	}
	web := pkg.Manifest.Components[1]
	if web.Name != "webresources" || uint32(web.Address) != 0x90100000 || web.Size != 128 {
		t.Errorf("webresources %+v", web)
	}
}

func TestBuildHexInfoCounts(t *testing.T) {
	b := testBuild(t, SlotA)
	b.WebResources = nil
	b.Hex = makeHex(t, map[uint32][]byte{
		0x24000000: pattern(64, 1),
		0x90000000: pattern(256, 2),
		0x90001000: pattern(128, 3),
		0x90100000: pattern(128, 4),
		0x902B0000: pattern(32, 5),
		0xA0000000: pattern(16, 6),
	})

	pkg, err := NewPackager(DefaultConfig()).Build(b)
	if err != nil {
		t.Fatal(err)
	}
	want := HexInfo{HexSegments: 6, FlashComponents: 3, RAMSegments: 1, UnpackagedSegments: 2}
	if *pkg.Manifest.HexInfo != want {
		t.Errorf("hex info %+v, want %+v", *pkg.Manifest.HexInfo, want)
	}
}

func TestBuildMissingApplication(t *testing.T) {
	b := testBuild(t, SlotA)
	b.Hex = makeHex(t, map[uint32][]byte{
		0x08000000: pattern(256, 1),
		0x24000000: pattern(64, 2),
	})
	_, err := NewPackager(DefaultConfig()).Build(b)
	var missing *MissingComponentError
	if !errors.As(err, &missing) || missing.Component != Application {
		t.Fatalf("got %v, want MissingComponentError", err)
	}
}

func TestBuildSlots(t *testing.T) {
	dir := t.TempDir()
	var stages int32
	p := NewPackager(DefaultConfig())
	p.SetProgress(func(Slot, string) { atomic.AddInt32(&stages, 1) })

	a, b := testBuild(t, SlotA), testBuild(t, SlotB)
	a.OutputDir = filepath.Join(dir, "a")
	b.OutputDir = filepath.Join(dir, "b")
	bad := testBuild(t, SlotA)
	bad.Hex = []byte("garbage")
	bad.OutputDir = filepath.Join(dir, "bad")

	results := p.BuildSlots([]SlotBuild{a, b, bad})
	for i, r := range results[:2] {
		if r.Err != nil {
			t.Fatalf("build %d: %v", i, r.Err)
		}
		if _, err := os.Stat(r.Path); err != nil {
			t.Error(err)
		}
		if _, err := VerifyPackage(r.Path); err != nil {
			t.Error(err)
		}
	}
	if results[0].Slot != SlotA || results[1].Slot != SlotB {
		t.Errorf("results out of order")
	}
	if filepath.Base(results[1].Path) != "hbox_firmware_1.2.3_b_20250314_092653.zip" {
		t.Errorf("package name %s", filepath.Base(results[1].Path))
	}

	var hexErr *MalformedHexError
	if !errors.As(results[2].Err, &hexErr) {
		t.Errorf("got %v, want MalformedHexError", results[2].Err)
	}
	if _, err := os.Stat(bad.OutputDir); !os.IsNotExist(err) {
		t.Error("failed build created its output directory")
	}
	if got := atomic.LoadInt32(&stages); got != 2*NumStages {
		t.Errorf("%d stages reported, want %d", got, 2*NumStages)
	}
}
