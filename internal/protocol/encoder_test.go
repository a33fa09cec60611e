package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/resident-x/go-v2blocks/internal/codec"
	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/resident-x/go-v2blocks/internal/parser"
	"github.com/resident-x/go-v2blocks/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Load()
	require.NoError(t, err)
	return reg
}

// sampleValue returns an in-range value for a scalar field. i varies the
// value between fields and elements.
func sampleValue(f *schema.FieldSpec, i int) any {
	switch f.Kind {
	case schema.KindUint, schema.KindInt:
		raw := int64(i%20 + 1)
		if f.Kind == schema.KindInt {
			raw = -raw
		}
		if f.AbsentIfZero && i%3 == 0 {
			return domain.Absent{}
		}
		t := f.Transform()
		if t.IsIdentity() {
			return raw
		}
		return t.Apply(raw)
	case schema.KindASCII:
		s := fmt.Sprintf("F%d", i)
		if len(s) > f.Width {
			s = s[:f.Width]
		}
		return s
	case schema.KindBytes:
		b := make([]byte, f.Width)
		for j := range b {
			b[j] = byte(i + j)
		}
		return b
	case schema.KindEnableFlags:
		flags := make([]bool, f.Slots())
		for j := range flags {
			flags[j] = (i+j)%2 == 0
		}
		return flags
	case schema.KindEnableCodes:
		codes := make(domain.EnableCodes, f.Slots())
		for j := range codes {
			codes[j] = uint8((i + j) % 4)
		}
		return codes
	case schema.KindCellWord:
		return domain.CellReading{Millivolts: uint16(3300 + i), Status: uint8(i % 4)}
	case schema.KindWeekdays:
		return []time.Weekday{time.Monday, time.Weekday(i%2 + 4)}
	}
	panic("unhandled kind " + string(f.Kind))
}

// sampleRecord builds a record that satisfies every constraint of layout.
func sampleRecord(blockID uint16, layout *schema.FieldLayout) *domain.Record {
	rec := domain.NewRecord(blockID, layout.MinVersion)
	for i := range layout.Fields {
		f := &layout.Fields[i]
		if f.Kind != schema.KindGroup {
			rec.Fields[f.Name] = sampleValue(f, i)
			continue
		}

		g := f.Group
		count := g.Count
		if g.CountField != "" {
			count = 2
			rec.Fields[g.CountField] = int64(count)
		}
		elems := make([]domain.Fields, count)
		for e := range elems {
			elems[e] = make(domain.Fields)
			for j := range g.Fields {
				elems[e][g.Fields[j].Name] = sampleValue(&g.Fields[j], e*len(g.Fields)+j)
			}
		}
		for a := range g.Arrays {
			arr := &g.Arrays[a]
			total := 0
			for e := range elems {
				n := e + a + 1
				elems[e][arr.CountField] = int64(n)
				total += n
			}
			values := make([]any, total)
			for k := range values {
				values[k] = sampleValue(&arr.Element, k+1)
			}
			rec.Fields[arr.Name] = values
		}
		rec.Fields[f.Name] = elems
	}
	return rec
}

func TestRoundTripEveryLayout(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)
	dec := parser.NewParser(reg)

	for _, id := range reg.Blocks() {
		sel, ok := reg.Selector(id)
		require.True(t, ok)
		for _, version := range sel.Versions() {
			t.Run(fmt.Sprintf("%d/v%d", id, version), func(t *testing.T) {
				layout, err := reg.Lookup(id, version)
				require.NoError(t, err)
				rec := sampleRecord(id, layout)

				payload, err := enc.Encode(id, version, rec)
				require.NoError(t, err)

				decoded, err := dec.Decode(id, version, payload)
				require.NoError(t, err)
				assert.Equal(t, rec, decoded)
			})
		}
	}
}

func TestReencodeIsByteIdentical(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)
	dec := parser.NewParser(reg)

	b := binary.BigEndian.AppendUint16(nil, 2)
	b = append(b, 1, 0, 1, 2, 0x02, 0x0b, 90, 99)
	b = append(b, 2, 0, 2, 0, 0x00, 0x00, 0, 0)
	b = append(b, 0x4e, 0x20, 0x0d, 0x05, 0xcc, 0xe6)
	b = append(b, 65, 0)

	rec, err := dec.Decode(6100, 2000, b)
	require.NoError(t, err)
	out, err := enc.Encode(6100, 2000, rec)
	require.NoError(t, err)
	assert.Equal(t, b, out)
}

func TestEncodeTimers(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)
	dec := parser.NewParser(reg)

	slots, err := enc.TimerSlots(2004)
	require.NoError(t, err)
	assert.Equal(t, 4, slots)
	slots, err = enc.TimerSlots(2005)
	require.NoError(t, err)
	assert.Equal(t, 8, slots)

	tasks := []domain.TimerTask{
		{
			Slot: 0, Enabled: true, StartHour: 22, StartMinute: 30, EndHour: 6,
			Days:  []time.Weekday{time.Saturday, time.Sunday},
			Mode:  domain.TimerModeCharge, PowerWatts: 2000, SOCLimit: 95, EnergyLimitWh: 10000,
		},
		{Slot: 2, Enabled: true, EnableCode: 3, StartHour: 17, EndHour: 21, Mode: domain.TimerModeDischarge, PowerWatts: 800},
		{Slot: 3, Enabled: false, StartHour: 12, EndHour: 13, Mode: domain.TimerModeSelfUse},
	}

	payload, err := enc.EncodeTimers(2000, tasks)
	require.NoError(t, err)
	assert.Len(t, payload, 2+4*40)
	assert.Equal(t, byte(0x31), payload[0]) // codes 1, 0, 3, 0

	rec, err := dec.Decode(domain.BlockTimerSchedule, 2000, payload)
	require.NoError(t, err)
	got, err := domain.TimerTasksFromRecord(rec)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.True(t, got[0].Enabled)
	assert.Equal(t, 22, got[0].StartHour)
	assert.Equal(t, []time.Weekday{time.Sunday, time.Saturday}, got[0].Days)
	assert.Equal(t, int64(10000), got[0].EnergyLimitWh)
	assert.False(t, got[1].Enabled)
	assert.Equal(t, 0, got[1].StartHour)
	assert.Equal(t, uint8(3), got[2].EnableCode)
	assert.Equal(t, domain.TimerModeDischarge, got[2].Mode)
	assert.False(t, got[3].Enabled)
	assert.Equal(t, domain.TimerModeSelfUse, got[3].Mode)

	// A v2005 schedule holds eight slots.
	_, err = enc.EncodeTimers(2005, []domain.TimerTask{{Slot: 7, Enabled: true}})
	require.NoError(t, err)
	_, err = enc.EncodeTimers(2000, []domain.TimerTask{{Slot: 7, Enabled: true}})
	assert.True(t, errors.Is(err, codec.ErrInvalidRecord))
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)

	_, err := enc.EncodeTimers(2000, []domain.TimerTask{{Slot: 0, Enabled: true, StartHour: 24}})
	var ov *codec.ValueOverflowError
	require.True(t, errors.As(err, &ov))
	assert.Equal(t, "start_hour", ov.Field)
	assert.Equal(t, int64(24), ov.Value)

	_, err = enc.EncodeTimers(2000, []domain.TimerTask{{Slot: 0, SOCLimit: 101}})
	assert.True(t, errors.Is(err, codec.ErrValueOverflow))

	layout, err := reg.Lookup(6100, 2000)
	require.NoError(t, err)
	rec := sampleRecord(6100, layout)
	cells := rec.Fields["cells"].([]any)
	cells[0] = domain.CellReading{Millivolts: 16384}
	_, err = enc.Encode(6100, 2000, rec)
	assert.True(t, errors.Is(err, codec.ErrValueOverflow))
}

func TestEncodeInvalidRecords(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)
	layout, err := reg.Lookup(6100, 2000)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*domain.Record)
	}{
		{"missing field", func(r *domain.Record) { delete(r.Fields, "pack_count") }},
		{"wrong type", func(r *domain.Record) { r.Fields["pack_count"] = "two" }},
		{"count mismatch", func(r *domain.Record) { r.Fields["pack_count"] = int64(3) }},
		{"array length mismatch", func(r *domain.Record) { r.Fields["ntcs"] = []any{} }},
		{"missing element field", func(r *domain.Record) {
			delete(r.Fields["packs"].([]domain.Fields)[1], "soh")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord(6100, layout)
			tt.mutate(rec)
			out, err := enc.Encode(6100, 2000, rec)
			assert.Nil(t, out)
			assert.True(t, errors.Is(err, codec.ErrInvalidRecord), "got %v", err)
		})
	}

	_, err = enc.Encode(6100, 2000, nil)
	assert.True(t, errors.Is(err, codec.ErrInvalidRecord))

	_, err = enc.Encode(6100, 2000, domain.NewRecord(100, 2000))
	assert.True(t, errors.Is(err, codec.ErrInvalidRecord))

	_, err = enc.Encode(9, 2000, domain.NewRecord(9, 2000))
	assert.True(t, errors.Is(err, codec.ErrUnknownBlock))
}

func TestEncodeRejectsValuesBetweenSteps(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)
	dec := parser.NewParser(reg)

	settings, err := reg.Lookup(12002, 2000)
	require.NoError(t, err)
	rec := sampleRecord(12002, settings)
	rec.Fields["soc_low_limit"] = 10.6
	out, err := enc.Encode(12002, 2000, rec)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, codec.ErrInvalidRecord), "got %v", err)
	assert.ErrorContains(t, err, "soc_low_limit")

	// A whole float is accepted and reads back unchanged.
	rec.Fields["soc_low_limit"] = 11.0
	payload, err := enc.Encode(12002, 2000, rec)
	require.NoError(t, err)
	decoded, err := dec.Decode(12002, 2000, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(11), decoded.Fields["soc_low_limit"])

	pack, err := reg.Lookup(6000, 2000)
	require.NoError(t, err)
	tests := []struct {
		field string
		value any
	}{
		{"pack_voltage", 52.34},
		{"pack_current", -1.55},
		{"min_temperature", 25.5},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			rec := sampleRecord(6000, pack)
			rec.Fields[tt.field] = tt.value
			_, err := enc.Encode(6000, 2000, rec)
			assert.True(t, errors.Is(err, codec.ErrInvalidRecord), "got %v", err)
		})
	}

	rec = sampleRecord(6000, pack)
	rec.Fields["pack_voltage"] = 52.3
	_, err = enc.Encode(6000, 2000, rec)
	assert.NoError(t, err)
}

func TestEncodeRejectsTrailingASCIIPad(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)

	layout, err := reg.Lookup(12002, 2000)
	require.NoError(t, err)
	for _, name := range []string{"Garage ", "Garage\x00"} {
		rec := sampleRecord(12002, layout)
		rec.Fields["display_name"] = name
		_, err := enc.Encode(12002, 2000, rec)
		assert.True(t, errors.Is(err, codec.ErrInvalidRecord), "%q: got %v", name, err)
	}

	rec := sampleRecord(12002, layout)
	rec.Fields["display_name"] = "My Garage"
	_, err = enc.Encode(12002, 2000, rec)
	assert.NoError(t, err)
}

func TestEncodeAbsentTemperature(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)
	dec := parser.NewParser(reg)

	layout, err := reg.Lookup(6000, 2000)
	require.NoError(t, err)
	rec := sampleRecord(6000, layout)
	rec.Fields["max_temperature"] = domain.Absent{}
	rec.Fields["min_temperature"] = 25.0

	payload, err := enc.Encode(6000, 2000, rec)
	require.NoError(t, err)
	assert.Equal(t, byte(0), payload[12])
	assert.Equal(t, byte(65), payload[13])

	decoded, err := dec.Decode(6000, 2000, payload)
	require.NoError(t, err)
	assert.True(t, decoded.Fields.IsAbsent("max_temperature"))

	// -40 C encodes to the sentinel and is refused.
	rec.Fields["min_temperature"] = -40.0
	_, err = enc.Encode(6000, 2000, rec)
	assert.True(t, errors.Is(err, codec.ErrValueOverflow))
}
