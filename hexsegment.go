package hboxpack

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// Segment is a maximal contiguous byte range of an Intel HEX file.
type Segment struct {
	Start uint32
	End   uint32 // exclusive
	Data  []byte
}

// Component is a classified segment.
type Component struct {
	Name          string
	StartAddress  uint32
	TargetAddress uint32
	Size          uint32
	Data          []byte
	MemoryType    MemoryType
	SkipFlash     bool
	Description   string

	slotted bool
	slot    Slot
	kind    ComponentKind
}

// SlotComponent reports which slot region the component was linked into, if any.
func (c *Component) SlotComponent() (Slot, ComponentKind, bool) {
	return c.slot, c.kind, c.slotted
}

// HexSegmenter splits Intel HEX files into classified components.
type HexSegmenter struct {
	classifier *AddressClassifier
}

// NewHexSegmenter creates a segmenter for the memory map of cfg.
func NewHexSegmenter(cfg Config) *HexSegmenter {
	return &HexSegmenter{classifier: NewAddressClassifier(&cfg.Slots)}
}

func loadHex(data io.Reader) (*gohex.Memory, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(data); err != nil {
		return nil, &MalformedHexError{Err: err}
	}
	return mem, nil
}

// Parse decodes Intel HEX and returns its contiguous segments in ascending address order.
func (h *HexSegmenter) Parse(data io.Reader) ([]Segment, error) {
	mem, err := loadHex(data)
	if err != nil {
		return nil, err
	}

	var segments []Segment
	for _, s := range mem.GetDataSegments() {
		if len(s.Data) == 0 {
			continue
		}
		segments = append(segments, Segment{
			Start: s.Address,
			End:   s.Address + uint32(len(s.Data)),
			Data:  s.Data,
		})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
	pkgLog.Debugf("found %d segments", len(segments))
	return segments, nil
}

// Classify maps each segment onto the memory map.
func (h *HexSegmenter) Classify(segments []Segment) []Component {
	components := make([]Component, 0, len(segments))
	for _, s := range segments {
		c := h.classifier.Classify(s.Start, s.End)
		if c.MemoryType == MemoryUnknown {
			pkgLog.Warnf("%v", &UnclassifiedRegionError{Start: s.Start, End: s.End})
		}
		components = append(components, Component{
			Name:          c.Name,
			StartAddress:  s.Start,
			TargetAddress: c.TargetAddress,
			Size:          uint32(len(s.Data)),
			Data:          s.Data,
			MemoryType:    c.MemoryType,
			SkipFlash:     c.SkipFlash,
			Description:   c.Description,
			slotted:       c.slotted,
			slot:          c.slot,
			kind:          c.kind,
		})
		pkgLog.Debugf("segment 0x%08X-0x%08X (%d bytes) -> %s", s.Start, s.End, len(s.Data), c.Name)
	}
	return components
}

// Load parses and classifies in one step.
func (h *HexSegmenter) Load(data io.Reader) ([]Component, error) {
	segments, err := h.Parse(data)
	if err != nil {
		return nil, err
	}
	return h.Classify(segments), nil
}

// HexManifestFile is the name of the manifest written by Save.
const HexManifestFile = "hex_manifest.json"

// Save writes one binary file per flashable component into dir, together with
// a manifest. RAM components are only listed in the manifest. Components
// sharing a region name get their start address appended to the file name.
func (h *HexSegmenter) Save(components []Component, dir string, info BuildInfo) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating output directory")
	}

	names := make(map[string]int)
	for _, c := range components {
		names[c.Name]++
	}

	m := &Manifest{
		Version:        info.Version,
		BuildDate:      info.BuildDate,
		BuildTimestamp: info.Timestamp.Unix(),
		Components:     []ManifestComponent{},
		RAMSegments:    []RAMSegment{},
	}

	for _, c := range components {
		if c.SkipFlash || c.MemoryType == MemoryRAM {
			pkgLog.Infof("skipping RAM segment %s (%d bytes) at 0x%08X", c.Name, c.Size, c.StartAddress)
			m.RAMSegments = append(m.RAMSegments, ramSegmentOf(c))
			continue
		}

		file := c.Name + ".bin"
		if names[c.Name] > 1 {
			file = fmt.Sprintf("%s_%08x.bin", c.Name, c.StartAddress)
		}
		if err := ioutil.WriteFile(filepath.Join(dir, file), c.Data, 0644); err != nil {
			return nil, errors.Wrapf(err, "writing %s", file)
		}
		original := HexAddress(c.StartAddress)
		m.Components = append(m.Components, ManifestComponent{
			Name:            c.Name,
			File:            file,
			Address:         HexAddress(c.TargetAddress),
			Size:            c.Size,
			SHA256:          sha256Hex(c.Data),
			Active:          true,
			MemoryType:      c.MemoryType,
			Description:     c.Description,
			OriginalAddress: &original,
		})
		pkgLog.Infof("saved %s -> %s (%d bytes)", c.Name, file, c.Size)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := ioutil.WriteFile(filepath.Join(dir, HexManifestFile), data, 0644); err != nil {
		return nil, errors.Wrap(err, "writing hex manifest")
	}
	pkgLog.Infof("%d flash components, %d RAM segments", len(m.Components), len(m.RAMSegments))
	return m, nil
}

func ramSegmentOf(c Component) RAMSegment {
	return RAMSegment{
		Name:        c.Name,
		Address:     HexAddress(c.StartAddress),
		Size:        c.Size,
		MemoryType:  c.MemoryType,
		Description: c.Description,
		Note:        "runtime (VMA) address, not flashed",
	}
}

// WriteHex encodes components back into Intel HEX at their start addresses.
func WriteHex(w io.Writer, components []Component) error {
	mem := gohex.NewMemory()
	for _, c := range components {
		if err := mem.AddBinary(c.StartAddress, c.Data); err != nil {
			return errors.Wrapf(err, "adding %s", c.Name)
		}
	}
	return mem.DumpIntelHex(w, 16)
}

// flatten joins components into one image spanning the first start address to
// the last end address. Gaps are filled with the erased flash value.
func flatten(components []Component) (uint32, []byte, error) {
	if len(components) == 1 {
		return components[0].StartAddress, components[0].Data, nil
	}
	mem := gohex.NewMemory()
	start, end := components[0].StartAddress, components[0].StartAddress
	for _, c := range components {
		if err := mem.AddBinary(c.StartAddress, c.Data); err != nil {
			return 0, nil, errors.Wrapf(err, "adding %s", c.Name)
		}
		if c.StartAddress < start {
			start = c.StartAddress
		}
		if e := c.StartAddress + c.Size; e > end {
			end = e
		}
	}
	return start, mem.ToBinary(start, end-start, 0xFF), nil
}
