package hboxpack

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

type write struct {
	name    string
	address uint32
	size    int
}

type memFlasher struct {
	writes  []write
	mem     map[uint32][]byte
	corrupt bool
	fail    string
}

func newMemFlasher() *memFlasher {
	return &memFlasher{mem: make(map[uint32][]byte)}
}

func (f *memFlasher) WriteImage(ctx context.Context, name string, address uint32, data []byte) error {
	if name == f.fail {
		return errors.New("link lost")
	}
	f.writes = append(f.writes, write{name, address, len(data)})
	f.mem[address] = append([]byte(nil), data...)
	return nil
}

func (f *memFlasher) ReadImage(ctx context.Context, address uint32, size uint32) ([]byte, error) {
	data := append([]byte(nil), f.mem[address]...)
	if f.corrupt && len(data) > 0 {
		data[0] ^= 0xFF
	}
	return data, nil
}

func testArchive(t *testing.T, slot Slot) *Archive {
	t.Helper()
	pkg, err := NewPackager(DefaultConfig()).Build(testBuild(t, slot))
	if err != nil {
		t.Fatal(err)
	}
	buf := new(bytes.Buffer)
	if err := WriteArchive(buf, pkg.Manifest, pkg.Files); err != nil {
		t.Fatal(err)
	}
	a, err := ReadArchive(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestFlashPackage(t *testing.T) {
	a := testArchive(t, SlotA)
	f := newMemFlasher()
	if err := FlashPackage(context.Background(), DefaultConfig(), f, a, SlotA); err != nil {
		t.Fatal(err)
	}

	want := []write{
		{"application", 0x90000000, 4096},
		{"webresources", 0x90100000, 2048},
		{"adc_mapping", 0x90280000, 512},
		{"metadata", MetadataAddress, MetadataSize},
	}
	if len(f.writes) != len(want) {
		t.Fatalf("got %d writes", len(f.writes))
	}
	for i, w := range want {
		if f.writes[i] != w {
			t.Errorf("write %d: got %+v, want %+v", i, f.writes[i], w)
		}
	}

	archived, err := a.ReadFile(MetadataFile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f.mem[MetadataAddress], archived) {
		t.Error("metadata written for the package's own slot differs from the archived record")
	}
}

func TestFlashPackageOtherSlot(t *testing.T) {
	a := testArchive(t, SlotA)
	plan, err := PlanFlash(DefaultConfig(), a, SlotB)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range a.Manifest.Components {
		if plan[i].Address != uint32(c.Address)+SlotStride {
			t.Errorf("%s: planned at 0x%08X", c.Name, plan[i].Address)
		}
	}

	md, err := DecodeMetadata(plan[len(plan)-1].Data)
	if err != nil {
		t.Fatal(err)
	}
	if err := md.Validate(DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	if md.TargetSlot != SlotB || md.Components[0].Address != 0x902B0000 {
		t.Errorf("metadata for slot %s, application at 0x%08X", md.TargetSlot, md.Components[0].Address)
	}
}

func TestFlashPackageErrors(t *testing.T) {
	a := testArchive(t, SlotA)

	f := newMemFlasher()
	f.corrupt = true
	err := FlashPackage(context.Background(), DefaultConfig(), f, a, SlotA)
	var fe *flashError
	if !errors.As(err, &fe) || fe.Name != "application" {
		t.Errorf("got %v, want read back mismatch on application", err)
	}

	f = newMemFlasher()
	f.fail = "webresources"
	err = FlashPackage(context.Background(), DefaultConfig(), f, a, SlotA)
	if !errors.As(err, &fe) || fe.Name != "webresources" || fe.Address != 0x90100000 {
		t.Errorf("got %v", err)
	}
	for _, w := range f.writes {
		if w.name == "metadata" {
			t.Error("metadata written after a failed component")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := FlashPackage(ctx, DefaultConfig(), newMemFlasher(), a, SlotA); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestPlanFlashComponentOutsideRegion(t *testing.T) {
	pkg, err := NewPackager(DefaultConfig()).Build(testBuild(t, SlotA))
	if err != nil {
		t.Fatal(err)
	}
	for _, addr := range []uint32{0x90000000, 0x902A0000} {
		pkg.Manifest.Components[1].Address = HexAddress(addr)
		buf := new(bytes.Buffer)
		if err := WriteArchive(buf, pkg.Manifest, pkg.Files); err != nil {
			t.Fatal(err)
		}
		a, err := ReadArchive(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := PlanFlash(DefaultConfig(), a, SlotB); err == nil {
			t.Errorf("webresources at 0x%08X: expected error", addr)
		}
	}
}
