package hboxpack

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ADCLayout selects the calibration store format. Firmware builds differ in the
// number of calibrated buttons, and the store carries no field saying which one
// it uses, so the caller must pick.
type ADCLayout struct {
	Version int
	Buttons int
}

// Known calibration store layouts.
var (
	ADCLayoutV1 = ADCLayout{Version: 1, Buttons: 17}
	ADCLayoutV2 = ADCLayout{Version: 2, Buttons: 18}
)

// ADCLayoutForButtons returns the layout with the given button count.
func ADCLayoutForButtons(buttons int) (ADCLayout, error) {
	for _, l := range []ADCLayout{ADCLayoutV1, ADCLayoutV2} {
		if l.Buttons == buttons {
			return l, nil
		}
	}
	return ADCLayout{}, errors.Errorf("no adc mapping layout with %d buttons", buttons)
}

// Calibration store limits.
const (
	MaxADCMappings    = 8
	MaxADCValuesCount = 40
)

var adcStoreHeader = newLayout(
	field{"version", 4},
	field{"num", 1},
	field{"pad", 3},
	field{"default_id", 16},
)

func (l ADCLayout) mappingLayout() *recordLayout {
	return newLayout(
		field{"id", 16},
		field{"name", 16},
		field{"length", 4},
		field{"step", 4},
		field{"sampling_noise", 2},
		field{"sampling_frequency", 2},
		field{"original_values", MaxADCValuesCount * 4},
		field{"auto_calibration", l.Buttons * 4},
		field{"manual_calibration", l.Buttons * 4},
	)
}

// MappingSize returns the size of one mapping entry, rounded up to 4 bytes.
func (l ADCLayout) MappingSize() int {
	return (l.mappingLayout().total + 3) &^ 3
}

// ADCCalibration is the pressed/released reading of one button.
type ADCCalibration struct {
	Top    uint16 `json:"top"`
	Bottom uint16 `json:"bottom"`
}

// ADCMapping is one named travel-to-value mapping.
type ADCMapping struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Length            uint32           `json:"length"`
	Step              float32          `json:"step"`
	SamplingNoise     uint16           `json:"sampling_noise"`
	SamplingFrequency uint16           `json:"sampling_frequency"`
	OriginalValues    []uint32         `json:"original_values"`
	AutoCalibration   []ADCCalibration `json:"auto_calibration"`
	ManualCalibration []ADCCalibration `json:"manual_calibration"`
}

// ADCMappingStore is the decoded calibration store.
type ADCMappingStore struct {
	Version   uint32       `json:"version"`
	DefaultID string       `json:"default_id"`
	Mappings  []ADCMapping `json:"mappings"`
}

// ParseADCMappingStore decodes a calibration store dumped from flash. Mappings
// that do not fit in data are dropped with a warning.
func ParseADCMappingStore(data []byte, layout ADCLayout) (*ADCMappingStore, error) {
	h := adcStoreHeader
	if len(data) < h.total {
		return nil, errors.Errorf("adc mapping store is %d bytes, header needs %d", len(data), h.total)
	}

	store := &ADCMappingStore{
		Version:   h.uint32(data, "version"),
		DefaultID: h.string(data, "default_id"),
		Mappings:  []ADCMapping{},
	}
	num := int(h.slice(data, "num")[0])
	if num > MaxADCMappings {
		pkgLog.Warnf("adc mapping count %d exceeds %d", num, MaxADCMappings)
		num = MaxADCMappings
	}

	ml := layout.mappingLayout()
	size := layout.MappingSize()
	offset := h.total
	for i := 0; i < num; i++ {
		if offset+size > len(data) {
			pkgLog.Warnf("adc mapping %d truncated, %d of %d bytes present", i+1, len(data)-offset, size)
			break
		}
		store.Mappings = append(store.Mappings, parseADCMapping(data[offset:offset+size], ml, layout.Buttons))
		offset += size
	}
	pkgLog.Debugf("adc store version 0x%08X: %d mappings, default %q", store.Version, len(store.Mappings), store.DefaultID)
	return store, nil
}

func parseADCMapping(buf []byte, l *recordLayout, buttons int) ADCMapping {
	m := ADCMapping{
		ID:                l.string(buf, "id"),
		Name:              l.string(buf, "name"),
		Length:            l.uint32(buf, "length"),
		Step:              math.Float32frombits(l.uint32(buf, "step")),
		SamplingNoise:     l.uint16(buf, "sampling_noise"),
		SamplingFrequency: l.uint16(buf, "sampling_frequency"),
	}
	if m.Length > MaxADCValuesCount {
		pkgLog.Warnf("adc mapping %q length %d exceeds %d", m.Name, m.Length, MaxADCValuesCount)
		m.Length = MaxADCValuesCount
	}

	values := l.slice(buf, "original_values")
	m.OriginalValues = make([]uint32, MaxADCValuesCount)
	for i := range m.OriginalValues {
		m.OriginalValues[i] = binary.LittleEndian.Uint32(values[i*4:])
	}
	m.AutoCalibration = parseCalibration(l.slice(buf, "auto_calibration"), buttons)
	m.ManualCalibration = parseCalibration(l.slice(buf, "manual_calibration"), buttons)
	return m
}

func parseCalibration(buf []byte, buttons int) []ADCCalibration {
	cal := make([]ADCCalibration, buttons)
	for i := range cal {
		cal[i].Top = binary.LittleEndian.Uint16(buf[i*4:])
		cal[i].Bottom = binary.LittleEndian.Uint16(buf[i*4+2:])
	}
	return cal
}

func (s *ADCMappingStore) String() string {
	str := fmt.Sprintf("Version: 0x%08X\nDefault: %s\nMappings: %d", s.Version, s.DefaultID, len(s.Mappings))
	for i, m := range s.Mappings {
		str += fmt.Sprintf("\n  %d. %-16s id=%-16s length=%d step=%.3f noise=%d freq=%d",
			i+1, m.Name, m.ID, m.Length, m.Step, m.SamplingNoise, m.SamplingFrequency)
	}
	return str
}
