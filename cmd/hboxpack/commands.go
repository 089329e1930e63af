package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/hboxfw/hboxpack"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func stringOr(ctx *cli.Context, name, fallback string) string {
	if ctx.IsSet(name) {
		return ctx.String(name)
	}
	return fallback
}

func buildInfo(ctx *cli.Context, slot hboxpack.Slot, now time.Time) hboxpack.BuildInfo {
	return hboxpack.BuildInfo{
		Version:   stringOr(ctx, "fw-version", settings.Version),
		Slot:      slot,
		BuildDate: now.Format(hboxpack.BuildDateFormat),
		Timestamp: now,
	}
}

func readOptional(fileName string) ([]byte, error) {
	if fileName == "" {
		return nil, nil
	}
	data, err := ioutil.ReadFile(fileName)
	return data, errors.Wrapf(err, "reading %s", fileName)
}

func splitAction(ctx *cli.Context) error {
	hexFile, err := requireArg(ctx, "HEX_FILE")
	if err != nil {
		return err
	}
	f, err := os.Open(hexFile)
	if err != nil {
		return err
	}
	defer f.Close()

	seg := hboxpack.NewHexSegmenter(cfg)
	components, err := seg.Load(f)
	if err != nil {
		return err
	}
	m, err := seg.Save(components, ctx.String("out"), buildInfo(ctx, hboxpack.SlotA, time.Now().UTC()))
	if err != nil {
		return err
	}
	for _, c := range m.Components {
		fmt.Printf("%-28s 0x%08X %8d %s\n", c.Name, uint32(c.Address), c.Size, c.MemoryType)
	}
	for _, r := range m.RAMSegments {
		fmt.Printf("%-28s 0x%08X %8d %s (not flashed)\n", r.Name, uint32(r.Address), r.Size, r.MemoryType)
	}
	return nil
}

func parseSlots(s string) ([]hboxpack.Slot, error) {
	var slots []hboxpack.Slot
	for _, r := range strings.ToUpper(s) {
		slot, err := hboxpack.ParseSlot(string(r))
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if len(slots) == 0 {
		return nil, errors.New("no slot given")
	}
	return slots, nil
}

func packageAction(ctx *cli.Context) error {
	hexFile, err := requireArg(ctx, "HEX_FILE")
	if err != nil {
		return err
	}
	hex, err := ioutil.ReadFile(hexFile)
	if err != nil {
		return err
	}

	var slots []hboxpack.Slot
	if ctx.IsSet("slot") {
		slots, err = parseSlots(ctx.String("slot"))
	} else {
		slots, err = settings.ParsedSlots()
	}
	if err != nil {
		return err
	}

	web, err := readOptional(stringOr(ctx, "webresources", settings.WebResources))
	if err != nil {
		return err
	}
	adc, err := readOptional(stringOr(ctx, "adc-mapping", settings.AdcMapping))
	if err != nil {
		return err
	}
	outDir := stringOr(ctx, "out", settings.ReleaseDir)
	packageType := stringOr(ctx, "package-type", settings.PackageType)

	now := time.Now().UTC()
	var builds []hboxpack.SlotBuild
	for _, slot := range slots {
		builds = append(builds, hboxpack.SlotBuild{
			Info:         buildInfo(ctx, slot, now),
			Hex:          hex,
			WebResources: web,
			AdcMapping:   adc,
			PackageType:  packageType,
			// Package names carry the slot, so slots can share a directory.
			OutputDir: outDir,
		})
	}

	packager := hboxpack.NewPackager(cfg)
	bar := pb.StartNew(hboxpack.NumStages * len(builds))
	packager.SetProgress(func(hboxpack.Slot, string) { bar.Increment() })
	results := packager.BuildSlots(builds)
	bar.Finish()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			log.Errorf("%v", r.Err)
			failed++
			continue
		}
		log.Infof("slot %s: %s", r.Slot, r.Path)
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d slot builds failed", failed, len(results)), 1)
	}
	return nil
}

func verifyAction(ctx *cli.Context) error {
	pkgFile, err := requireArg(ctx, "PACKAGE")
	if err != nil {
		return err
	}
	m, err := hboxpack.VerifyPackage(pkgFile)
	if err != nil {
		return err
	}
	fmt.Printf("%s: version %s slot %s, %d components ok\n", filepath.Base(pkgFile), m.Version, m.Slot, len(m.Components))
	return nil
}

func openPackage(ctx *cli.Context) (*hboxpack.Archive, hboxpack.Slot, error) {
	pkgFile, err := requireArg(ctx, "PACKAGE")
	if err != nil {
		return nil, 0, err
	}
	a, err := hboxpack.OpenArchive(pkgFile)
	if err != nil {
		return nil, 0, err
	}
	slot, err := hboxpack.ParseSlot(stringOr(ctx, "slot", a.Manifest.Slot))
	if err != nil {
		a.Close()
		return nil, 0, err
	}
	return a, slot, nil
}

func metadataAction(ctx *cli.Context) error {
	a, slot, err := openPackage(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := hboxpack.PlanFlash(cfg, a, slot)
	if err != nil {
		return err
	}
	metadata := plan[len(plan)-1].Data

	out := stringOr(ctx, "out", fmt.Sprintf("metadata_slot_%s.bin", strings.ToLower(slot.String())))
	if err := ioutil.WriteFile(out, metadata, 0644); err != nil {
		return err
	}
	log.Infof("wrote %d byte metadata record for slot %s to %s", len(metadata), slot, out)
	return nil
}

func planAction(ctx *cli.Context) error {
	a, slot, err := openPackage(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := hboxpack.PlanFlash(cfg, a, slot)
	if err != nil {
		return err
	}
	for _, img := range plan {
		fmt.Printf("%-14s 0x%08X %8d\n", img.Name, img.Address, len(img.Data))
	}
	return nil
}

func inspectAction(ctx *cli.Context) error {
	file, err := requireArg(ctx, "METADATA_BIN")
	if err != nil {
		return err
	}
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return err
	}
	m, err := hboxpack.DecodeMetadata(data)
	if err != nil {
		return err
	}
	fmt.Println(m)
	if err := m.Validate(cfg); err != nil {
		return err
	}
	fmt.Println("record valid")
	return nil
}

func adcmapAction(ctx *cli.Context) error {
	file, err := requireArg(ctx, "FILE")
	if err != nil {
		return err
	}
	layout, err := hboxpack.ADCLayoutForButtons(ctx.Int("buttons"))
	if err != nil {
		return err
	}
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return err
	}
	store, err := hboxpack.ParseADCMappingStore(data, layout)
	if err != nil {
		return err
	}
	if !ctx.Bool("json") {
		fmt.Println(store)
		return nil
	}
	out, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func listAction(ctx *cli.Context) error {
	dir := settings.ReleaseDir
	if ctx.Args().Len() > 0 {
		dir = ctx.Args().First()
	}
	pkgs, err := hboxpack.ListPackages(dir)
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		log.Infof("no packages in %s", dir)
		return nil
	}
	for i, p := range pkgs {
		fmt.Printf("%2d. %-60s %10d  %s\n", i+1, filepath.Base(p.Path), p.Size, p.ModTime.Format(hboxpack.BuildDateFormat))
	}
	return nil
}
