package hboxpack

import (
	"encoding/binary"
	"math"
	"testing"
)

func encodeADCStore(layout ADCLayout, num byte, mappings int) []byte {
	size := layout.MappingSize()
	buf := make([]byte, 24+mappings*size)
	binary.LittleEndian.PutUint32(buf[0:], 0x00010002)
	buf[4] = num
	copy(buf[8:], "default")

	for i := 0; i < mappings; i++ {
		m := buf[24+i*size:]
		copy(m[0:], "id-"+string(rune('0'+i)))
		copy(m[16:], "mapping")
		binary.LittleEndian.PutUint32(m[32:], 20)
		binary.LittleEndian.PutUint32(m[36:], math.Float32bits(0.25))
		binary.LittleEndian.PutUint16(m[40:], 12)
		binary.LittleEndian.PutUint16(m[42:], 1000)
		for v := 0; v < MaxADCValuesCount; v++ {
			binary.LittleEndian.PutUint32(m[44+v*4:], uint32(v*100))
		}
		auto := m[44+MaxADCValuesCount*4:]
		manual := auto[layout.Buttons*4:]
		for b := 0; b < layout.Buttons; b++ {
			binary.LittleEndian.PutUint16(auto[b*4:], uint16(3000+b))
			binary.LittleEndian.PutUint16(auto[b*4+2:], uint16(500+b))
			binary.LittleEndian.PutUint16(manual[b*4:], uint16(4000+b))
		}
	}
	return buf
}

func TestADCMappingSize(t *testing.T) {
	if got := ADCLayoutV1.MappingSize(); got != 340 {
		t.Errorf("v1 mapping is %d bytes", got)
	}
	if got := ADCLayoutV2.MappingSize(); got != 348 {
		t.Errorf("v2 mapping is %d bytes", got)
	}
}

func TestParseADCMappingStore(t *testing.T) {
	for _, layout := range []ADCLayout{ADCLayoutV1, ADCLayoutV2} {
		store, err := ParseADCMappingStore(encodeADCStore(layout, 2, 2), layout)
		if err != nil {
			t.Fatal(err)
		}
		if store.Version != 0x00010002 || store.DefaultID != "default" || len(store.Mappings) != 2 {
			t.Fatalf("buttons %d: store %+v", layout.Buttons, store)
		}
		m := store.Mappings[1]
		if m.ID != "id-1" || m.Name != "mapping" || m.Length != 20 || m.Step != 0.25 ||
			m.SamplingNoise != 12 || m.SamplingFrequency != 1000 {
			t.Errorf("buttons %d: mapping %+v", layout.Buttons, m)
		}
		if m.OriginalValues[39] != 3900 {
			t.Errorf("original value %d", m.OriginalValues[39])
		}
		last := layout.Buttons - 1
		if len(m.AutoCalibration) != layout.Buttons ||
			m.AutoCalibration[last] != (ADCCalibration{Top: uint16(3000 + last), Bottom: uint16(500 + last)}) ||
			m.ManualCalibration[last].Top != uint16(4000+last) {
			t.Errorf("buttons %d: calibration %+v %+v", layout.Buttons, m.AutoCalibration[last], m.ManualCalibration[last])
		}
	}
}

func TestParseADCMappingStoreLimits(t *testing.T) {
	// Count claims more mappings than are present.
	store, err := ParseADCMappingStore(encodeADCStore(ADCLayoutV1, 20, 3), ADCLayoutV1)
	if err != nil {
		t.Fatal(err)
	}
	if len(store.Mappings) != 3 {
		t.Errorf("got %d mappings", len(store.Mappings))
	}

	data := encodeADCStore(ADCLayoutV1, 1, 1)
	binary.LittleEndian.PutUint32(data[24+32:], 400)
	store, err = ParseADCMappingStore(data, ADCLayoutV1)
	if err != nil {
		t.Fatal(err)
	}
	if store.Mappings[0].Length != MaxADCValuesCount {
		t.Errorf("length %d", store.Mappings[0].Length)
	}

	if _, err := ParseADCMappingStore(make([]byte, 10), ADCLayoutV1); err == nil {
		t.Error("expected error for short store")
	}
	if _, err := ADCLayoutForButtons(16); err == nil {
		t.Error("expected error for 16 buttons")
	}
}
