package hboxpack

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// BuildDateFormat is the layout of the build_date strings.
const BuildDateFormat = "2006-01-02 15:04:05"

// SlotBuild is the input of one slot build.
type SlotBuild struct {
	Info BuildInfo
	// Intel HEX of the application.
	Hex []byte
	// Resource images. When nil the matching segments of Hex are used, if any.
	WebResources []byte
	AdcMapping   []byte
	PackageType  string
	// Release directory, used by BuildSlots.
	OutputDir string
}

// Package is a fully built slot package held in memory.
type Package struct {
	Info       BuildInfo
	Manifest   *Manifest
	Components []PackageComponent
	Metadata   []byte
	// Archive member contents, by file name.
	Files map[string][]byte
}

// Build stages reported to the progress callback.
const (
	StageParse    = "parse"
	StageClassify = "classify"
	StageResolve  = "resolve"
	StageEncode   = "encode"
	StageManifest = "manifest"
	StageArchive  = "archive"
)

// NumStages is the number of stages a successful Build and WritePackage report.
const NumStages = 6

// Packager runs the packaging pipeline for one device configuration.
// It holds no per-build state and may be used from several goroutines.
type Packager struct {
	cfg       Config
	segmenter *HexSegmenter
	encoder   *MetadataEncoder
	progress  func(slot Slot, stage string)
}

// NewPackager creates a packager for cfg.
func NewPackager(cfg Config) *Packager {
	return &Packager{
		cfg:       cfg,
		segmenter: NewHexSegmenter(cfg),
		encoder:   NewMetadataEncoder(cfg),
	}
}

// SetProgress installs a callback invoked after each completed stage. It may be
// called concurrently by BuildSlots.
func (p *Packager) SetProgress(f func(slot Slot, stage string)) {
	p.progress = f
}

func (p *Packager) stage(slot Slot, name string) {
	pkgLog.Debugf("slot %s: %s done", slot, name)
	if p.progress != nil {
		p.progress(slot, name)
	}
}

// Build runs parse, classify, address resolution, metadata encoding and
// manifest aggregation for one slot. Nothing is written to disk.
func (p *Packager) Build(b SlotBuild) (*Package, error) {
	info := b.Info
	if info.Slot != SlotA && info.Slot != SlotB {
		return nil, &UnknownSlotError{Name: info.Slot.String()}
	}
	if info.Timestamp.IsZero() {
		info.Timestamp = time.Now()
	}
	info.Timestamp = info.Timestamp.UTC().Truncate(time.Second)
	if info.BuildDate == "" {
		info.BuildDate = info.Timestamp.Format(BuildDateFormat)
	}

	segments, err := p.segmenter.Parse(bytes.NewReader(b.Hex))
	if err != nil {
		return nil, err
	}
	p.stage(info.Slot, StageParse)

	classified := p.segmenter.Classify(segments)
	p.stage(info.Slot, StageClassify)

	r := &resolver{cfg: &p.cfg, slot: info.Slot}
	if err := r.resolve(classified, b); err != nil {
		return nil, err
	}
	p.stage(info.Slot, StageResolve)

	m := BuildManifest(info, r.components)
	m.PackageType = b.PackageType
	m.RAMSegments = r.ram
	m.HexInfo = &HexInfo{
		HexSegments:        len(segments),
		FlashComponents:    r.placed,
		RAMSegments:        len(r.ram),
		UnpackagedSegments: r.unpackaged,
	}
	if r.appOriginal != r.components[0].Address {
		orig := HexAddress(r.appOriginal)
		m.Components[0].OriginalAddress = &orig
	}

	metadata, err := p.encoder.Encode(info, m.MetadataComponents())
	if err != nil {
		return nil, err
	}
	p.stage(info.Slot, StageEncode)

	m.Metadata = &MetadataEntry{
		File:    MetadataFile,
		Address: MetadataAddress,
		Size:    uint32(len(metadata)),
		SHA256:  sha256Hex(metadata),
	}

	files := make(map[string][]byte, len(r.components)+1)
	for _, c := range r.components {
		files[c.File] = c.Data
	}
	files[MetadataFile] = metadata
	p.stage(info.Slot, StageManifest)

	return &Package{
		Info:       info,
		Manifest:   m,
		Components: r.components,
		Metadata:   metadata,
		Files:      files,
	}, nil
}

// resolver picks the slot components out of the classified segments and
// places them at their addresses in the target slot.
type resolver struct {
	cfg  *Config
	slot Slot

	components  []PackageComponent
	ram         []RAMSegment
	placed      int
	unpackaged  int
	appOriginal uint32
}

func (r *resolver) resolve(classified []Component, b SlotBuild) error {
	var bySlotKind [2][numComponentKinds][]Component
	r.ram = []RAMSegment{}
	for _, c := range classified {
		if c.SkipFlash {
			r.ram = append(r.ram, ramSegmentOf(c))
			continue
		}
		slot, kind, ok := c.SlotComponent()
		if !ok {
			pkgLog.Warnf("segment %s at 0x%08X is not part of any slot and will not be packaged", c.Name, c.StartAddress)
			r.unpackaged++
			continue
		}
		bySlotKind[slot][kind] = append(bySlotKind[slot][kind], c)
	}

	// The application may have been linked for either slot. Prefer the target.
	src := r.slot
	if len(bySlotKind[src][Application]) == 0 {
		src = otherSlot(r.slot)
	}
	apps := bySlotKind[src][Application]
	if len(apps) == 0 {
		return &MissingComponentError{Component: Application}
	}
	if other := bySlotKind[otherSlot(src)][Application]; src == r.slot && len(other) > 0 {
		pkgLog.Warnf("ignoring %d application segments linked for slot %s", len(other), otherSlot(src))
		r.unpackaged += len(other)
	}
	if src != r.slot {
		pkgLog.Warnf("application linked for slot %s, relocating to slot %s", src, r.slot)
	}

	app, err := r.place(Application, src, apps, false)
	if err != nil {
		return err
	}
	r.appOriginal = apps[0].StartAddress
	r.components = append(r.components, *app)

	resources := []struct {
		kind ComponentKind
		data []byte
	}{
		{WebResources, b.WebResources},
		{AdcMapping, b.AdcMapping},
	}
	for _, res := range resources {
		var c *PackageComponent
		switch {
		case res.data != nil:
			region := r.cfg.Slots[r.slot][res.kind]
			data := truncateResource(res.kind, res.data, region.Size)
			pc := newPackageComponent(res.kind, res.kind.String()+".bin", region.Address, data, describe(res.kind, r.slot))
			c = &pc
			if n := len(bySlotKind[r.slot][res.kind]); n > 0 {
				pkgLog.Warnf("%d %s segments in hex replaced by the supplied image", n, res.kind)
				r.unpackaged += n
			}
		case len(bySlotKind[src][res.kind]) > 0:
			if c, err = r.place(res.kind, src, bySlotKind[src][res.kind], true); err != nil {
				return err
			}
		default:
			pkgLog.Warnf("no %s image for slot %s, component omitted", res.kind, r.slot)
			continue
		}
		r.components = append(r.components, *c)
	}
	return nil
}

// place flattens the segments of one component linked for slot src and moves
// them into the target slot, keeping their offset from the region base.
func (r *resolver) place(kind ComponentKind, src Slot, segs []Component, truncate bool) (*PackageComponent, error) {
	start, data, err := flatten(segs)
	if err != nil {
		return nil, err
	}
	r.placed += len(segs)
	from := r.cfg.Slots[src][kind]
	to := r.cfg.Slots[r.slot][kind]
	offset := start - from.Address

	if room := to.Size - offset; uint32(len(data)) > room {
		if !truncate {
			return nil, &ComponentSizeExceededError{Component: kind, Size: offset + uint32(len(data)), MaxSize: to.Size}
		}
		data = truncateResource(kind, data, room)
	}

	file := kind.String() + ".bin"
	if kind == Application {
		file = fmt.Sprintf("application_slot_%s.bin", lowerSlot(r.slot))
	}
	pc := newPackageComponent(kind, file, to.Address+offset, data, describe(kind, r.slot))
	return &pc, nil
}

func truncateResource(kind ComponentKind, data []byte, max uint32) []byte {
	if uint32(len(data)) <= max {
		return data
	}
	pkgLog.Warnf("%v, truncating", &ComponentSizeExceededError{Component: kind, Size: uint32(len(data)), MaxSize: max})
	return data[:max]
}

func describe(kind ComponentKind, slot Slot) string {
	return fmt.Sprintf("%s (slot %s)", componentLabels[kind], slot)
}

func otherSlot(s Slot) Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// WritePackage writes the package archive into dir and returns its path. The
// archive only appears under its final name once it is complete.
func (p *Packager) WritePackage(pkg *Package, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "creating output directory")
	}
	path := filepath.Join(dir, PackageName(pkg.Info))
	err := writeFileAtomic(path, func(w io.Writer) error {
		return WriteArchive(w, pkg.Manifest, pkg.Files)
	})
	if err != nil {
		return "", errors.Wrapf(err, "writing %s", path)
	}
	p.stage(pkg.Info.Slot, StageArchive)
	pkgLog.Infof("slot %s: wrote %s", pkg.Info.Slot, path)
	return path, nil
}

// SlotResult is the outcome of one build started by BuildSlots.
type SlotResult struct {
	Slot    Slot
	Path    string
	Package *Package
	Err     error
}

// BuildSlots builds and writes each slot in its own goroutine. Results are
// returned in input order. Builds sharing an output directory must differ in
// slot or timestamp, or their archives overwrite each other.
func (p *Packager) BuildSlots(builds []SlotBuild) []SlotResult {
	results := make([]SlotResult, len(builds))
	var wg sync.WaitGroup
	for i := range builds {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := builds[i]
			res := &results[i]
			res.Slot = b.Info.Slot
			res.Package, res.Err = p.Build(b)
			if res.Err != nil {
				res.Err = errors.Wrapf(res.Err, "slot %s", b.Info.Slot)
				return
			}
			res.Path, res.Err = p.WritePackage(res.Package, b.OutputDir)
		}(i)
	}
	wg.Wait()
	return results
}
