package hboxpack

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Flasher writes images to device flash, typically by driving a debug probe.
type Flasher interface {
	WriteImage(ctx context.Context, name string, address uint32, data []byte) error
}

// FlashReader is implemented by flashers that can read flash back. When
// available, FlashPackage verifies every image after writing it.
type FlashReader interface {
	ReadImage(ctx context.Context, address uint32, size uint32) ([]byte, error)
}

type flashError struct {
	Name    string
	Address uint32
	Err     error
}

func (e *flashError) Error() string {
	return fmt.Sprintf("flashing %s at 0x%08X: %v", e.Name, e.Address, e.Err)
}

func (e *flashError) Unwrap() error { return e.Err }

// FlashImage is one write of a flash plan.
type FlashImage struct {
	Name    string
	Address uint32
	Data    []byte
}

// PlanFlash returns the writes needed to install a verified package into slot.
// Component addresses are re-resolved for slot, and a metadata record for slot
// is encoded last.
func PlanFlash(cfg Config, a *Archive, slot Slot) ([]FlashImage, error) {
	m := a.Manifest
	if err := Verify(m, a); err != nil {
		return nil, err
	}
	info, err := m.BuildInfo()
	if err != nil {
		return nil, err
	}

	var plan []FlashImage
	var comps []MetadataComponent
	for _, c := range m.Components {
		kind, err := ParseComponentKind(c.Name)
		if err != nil {
			return nil, err
		}
		data, err := a.ReadFile(c.File)
		if err != nil {
			return nil, err
		}
		from, linked, ok := cfg.Slots.SlotOf(uint32(c.Address))
		if !ok || linked != kind {
			return nil, errors.Errorf("%s at 0x%08X lies outside its slot regions", c.Name, uint32(c.Address))
		}
		src := cfg.Slots[from][kind]
		dst, err := cfg.Slots.Region(kind, slot)
		if err != nil {
			return nil, err
		}
		addr := dst.Address + (uint32(c.Address) - src.Address)
		if addr != uint32(c.Address) {
			pkgLog.Warnf("%s built for slot %s, writing to slot %s at 0x%08X", c.Name, from, slot, addr)
		}
		plan = append(plan, FlashImage{Name: c.Name, Address: addr, Data: data})

		mc := MetadataComponent{
			Name:    c.Name,
			File:    c.File,
			Address: addr,
			Size:    c.Size,
			SHA256:  c.SHA256,
			Active:  c.Active,
		}
		comps = append(comps, mc)
	}

	info.Slot = slot
	metadata, err := NewMetadataEncoder(cfg).Encode(info, comps)
	if err != nil {
		return nil, err
	}
	plan = append(plan, FlashImage{Name: "metadata", Address: MetadataAddress, Data: metadata})
	return plan, nil
}

// FlashPackage writes a package into slot, metadata last, so an interrupted
// transfer leaves the previous record in place.
func FlashPackage(ctx context.Context, cfg Config, f Flasher, a *Archive, slot Slot) error {
	plan, err := PlanFlash(cfg, a, slot)
	if err != nil {
		return err
	}
	reader, verify := f.(FlashReader)

	for _, img := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkgLog.Infof("writing %s (%d bytes) at 0x%08X", img.Name, len(img.Data), img.Address)
		if err := f.WriteImage(ctx, img.Name, img.Address, img.Data); err != nil {
			return &flashError{Name: img.Name, Address: img.Address, Err: err}
		}
		if !verify {
			continue
		}
		read, err := reader.ReadImage(ctx, img.Address, uint32(len(img.Data)))
		if err != nil {
			return &flashError{Name: img.Name, Address: img.Address, Err: errors.Wrap(err, "reading back")}
		}
		if !bytes.Equal(read, img.Data) {
			return &flashError{Name: img.Name, Address: img.Address, Err: verifyMismatch(img.Data, read)}
		}
	}
	return nil
}

func verifyMismatch(expected, read []byte) error {
	if len(read) != len(expected) {
		return errors.Errorf("read back %d bytes, expected %d", len(read), len(expected))
	}
	for i := range read {
		if read[i] != expected[i] {
			return errors.Errorf("mismatch at offset 0x%X, expected %02X read %02X", i, expected[i], read[i])
		}
	}
	return nil
}
