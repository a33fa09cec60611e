package validation

import (
	"testing"
	"time"

	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationLevel_String(t *testing.T) {
	tests := []struct {
		level    ValidationLevel
		expected string
	}{
		{ValidationLevelBasic, "basic"},
		{ValidationLevelStandard, "standard"},
		{ValidationLevelStrict, "strict"},
		{ValidationLevelParanoid, "paranoid"},
		{ValidationLevel(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	for _, want := range []ValidationLevel{ValidationLevelBasic, ValidationLevelStandard, ValidationLevelStrict, ValidationLevelParanoid} {
		got, err := ParseLevel(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := ParseLevel(" STRICT ")
	require.NoError(t, err)
	assert.Equal(t, ValidationLevelStrict, got)

	got, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, ValidationLevelStandard, got)

	_, err = ParseLevel("lenient")
	assert.Error(t, err)
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Type:     "data_integrity",
		Severity: "critical",
		Message:  "test error",
		Field:    "test_field",
		Value:    "test_value",
		Context:  map[string]interface{}{"key": "value"},
	}

	assert.Equal(t, "critical validation error in test_field: test error", err.Error())
}

func TestValidationResult(t *testing.T) {
	t.Run("HasCriticalErrors", func(t *testing.T) {
		result := &ValidationResult{
			Errors: []*ValidationError{
				{Severity: "minor"},
				{Severity: "critical"},
			},
		}
		assert.True(t, result.HasCriticalErrors())

		result.Errors = []*ValidationError{{Severity: "minor"}}
		assert.False(t, result.HasCriticalErrors())
	})

	t.Run("HasWarnings", func(t *testing.T) {
		result := &ValidationResult{
			Warnings: []*ValidationError{{Severity: "warning"}},
		}
		assert.True(t, result.HasWarnings())

		result.Warnings = nil
		assert.False(t, result.HasWarnings())
	})

	t.Run("Summary", func(t *testing.T) {
		result := &ValidationResult{
			Valid:      true,
			Confidence: 0.95,
		}
		assert.Equal(t, "Valid (confidence: 0.95)", result.Summary())

		result = &ValidationResult{
			Valid:      false,
			Errors:     []*ValidationError{{}, {}},
			Warnings:   []*ValidationError{{}},
			Confidence: 0.5,
		}
		assert.Equal(t, "2 errors, 1 warnings (confidence: 0.50)", result.Summary())
		assert.Len(t, result.Findings(), 3)
	})
}

func TestAdvancedValidator_Creation(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	validator := NewAdvancedValidator(ValidationLevelStandard, logger)

	assert.NotNil(t, validator)
	assert.Equal(t, ValidationLevelStandard, validator.Level())
	assert.NotEmpty(t, validator.payloadRules)
	assert.NotEmpty(t, validator.recordRules)
}

func homeRecord() *domain.Record {
	rec := domain.NewRecord(domain.BlockHomeData, 2005)
	rec.Fields["device_model"] = "HP2500"
	rec.Fields["serial_number"] = "AB123456"
	rec.Fields["soc"] = int64(76)
	rec.Fields["grid_power"] = int64(-1200)
	rec.Fields["inverter_temperature"] = 31.0
	rec.Fields["pv_power"] = int64(900)
	return rec
}

func TestAdvancedValidator_ValidateRecord(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	validator := NewAdvancedValidator(ValidationLevelStrict, logger)

	t.Run("Plausible Home Data", func(t *testing.T) {
		result := validator.ValidateRecord(homeRecord())
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
		assert.Empty(t, result.Warnings)
		assert.Equal(t, 1.0, result.Confidence)
	})

	t.Run("Nil Record", func(t *testing.T) {
		result := validator.ValidateRecord(nil)
		assert.True(t, result.Valid)
	})

	t.Run("Serial Number Characters", func(t *testing.T) {
		rec := homeRecord()
		rec.Fields["serial_number"] = "AB 12#45"
		result := validator.ValidateRecord(rec)
		assert.True(t, result.Valid)
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "serial_number", result.Warnings[0].Field)
		assert.InDelta(t, 0.95, result.Confidence, 1e-9)
	})

	t.Run("Power Too High", func(t *testing.T) {
		rec := homeRecord()
		rec.Fields["grid_power"] = int64(-250000)
		result := validator.ValidateRecord(rec)
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "grid_power", result.Warnings[0].Field)
	})

	t.Run("Absent Temperature Is Skipped", func(t *testing.T) {
		rec := homeRecord()
		rec.Fields["inverter_temperature"] = domain.Absent{}
		result := validator.ValidateRecord(rec)
		assert.Empty(t, result.Warnings)
	})

	t.Run("Hot Inverter", func(t *testing.T) {
		rec := homeRecord()
		rec.Fields["inverter_temperature"] = 95.0
		result := validator.ValidateRecord(rec)
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, 95.0, result.Warnings[0].Value)
	})
}

func TestAdvancedValidator_PackRules(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	validator := NewAdvancedValidator(ValidationLevelStandard, logger)

	rec := domain.NewRecord(domain.BlockPackItemInfo, 2000)
	rec.Fields["pack_count"] = int64(2)
	rec.Fields["packs"] = []domain.Fields{
		{"soc": int64(80), "soh": int64(99)},
		{"soc": int64(180), "soh": int64(97)},
	}
	rec.Fields["cells"] = []any{
		domain.CellReading{Millivolts: 3301},
		domain.CellReading{Millivolts: 1200, Status: 2},
	}
	rec.Fields["ntcs"] = []any{25.0, domain.Absent{}, -35.0}

	result := validator.ValidateRecord(rec)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "soc", result.Errors[0].Field)
	assert.Equal(t, int64(180), result.Errors[0].Value)

	require.Len(t, result.Warnings, 2)
	assert.Equal(t, "cells", result.Warnings[0].Field)
	assert.Equal(t, 1, result.Warnings[0].Context["index"])
	assert.Equal(t, "ntcs", result.Warnings[1].Field)
	assert.Equal(t, 2, result.Warnings[1].Context["index"])

	summary := domain.NewRecord(domain.BlockPackMainInfo, 2000)
	summary.Fields["min_cell_mv"] = int64(3400)
	summary.Fields["max_cell_mv"] = int64(3300)
	result = validator.ValidateRecord(summary)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "min_cell_mv", result.Errors[0].Field)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestAdvancedValidator_SOCLimits(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	validator := NewAdvancedValidator(ValidationLevelBasic, logger)

	rec := domain.NewRecord(domain.BlockControlSettings, 2000)
	rec.Fields["soc_low_limit"] = int64(90)
	rec.Fields["soc_high_limit"] = int64(20)
	result := validator.ValidateRecord(rec)
	assert.True(t, result.HasCriticalErrors())

	rec.Fields["soc_low_limit"] = int64(10)
	assert.True(t, validator.ValidateRecord(rec).Valid)
}

func TestAdvancedValidator_TimerRules(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	validator := NewAdvancedValidator(ValidationLevelStandard, logger)

	rec, err := domain.TimerScheduleRecord(2000, 4, []domain.TimerTask{
		{Slot: 0, Enabled: true, StartHour: 8, EndHour: 8, Days: []time.Weekday{time.Monday}},
		{Slot: 1, Enabled: true, StartHour: 9, EndHour: 10},
		{Slot: 2, Enabled: false, StartHour: 9, EndHour: 9},
	})
	require.NoError(t, err)

	// Timer rules only run from strict upward.
	assert.Empty(t, validator.ValidateRecord(rec).Findings())

	validator.SetValidationLevel(ValidationLevelStrict)
	result := validator.ValidateRecord(rec)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, 0, result.Warnings[0].Context["slot"])
	require.Len(t, result.Errors, 1)
	assert.Equal(t, SeverityMinor, result.Errors[0].Severity)
	assert.Equal(t, 1, result.Errors[0].Context["slot"])
	assert.False(t, result.HasCriticalErrors())
}

func TestAdvancedValidator_ValidatePayload(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	validator := NewAdvancedValidator(ValidationLevelStandard, logger)

	t.Run("Empty Payload", func(t *testing.T) {
		result := validator.ValidatePayload(100, nil)
		assert.False(t, result.Valid)
		assert.True(t, result.HasCriticalErrors())
		assert.InDelta(t, 0.1, result.Confidence, 1e-9)
	})

	t.Run("Large Payload", func(t *testing.T) {
		result := validator.ValidatePayload(100, make([]byte, 5000))
		assert.True(t, result.Valid)
		assert.Len(t, result.Warnings, 1)
	})

	t.Run("Pattern Checks Need Paranoid", func(t *testing.T) {
		data := make([]byte, 32)
		assert.Empty(t, validator.ValidatePayload(6100, data).Warnings)

		validator.SetValidationLevel(ValidationLevelParanoid)
		defer validator.SetValidationLevel(ValidationLevelStandard)
		result := validator.ValidatePayload(6100, data)
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "data_pattern", result.Warnings[0].Field)
	})
}

func TestAdvancedValidator_CustomRules(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	validator := NewAdvancedValidator(ValidationLevelBasic, logger)

	validator.AddRecordRule(&RecordRule{
		Name:  "device_type_known",
		Block: domain.BlockProtocolInfo,
		Level: ValidationLevelBasic,
		Check: func(rec *domain.Record) []*ValidationError {
			if v, _ := rec.Fields.Int("device_type"); v > 10 {
				return []*ValidationError{{Severity: SeverityWarning, Field: "device_type", Message: "unknown device type"}}
			}
			return nil
		},
	})
	validator.AddPayloadRule(&PayloadRule{
		Name:  "protocol_info_length",
		Block: domain.BlockProtocolInfo,
		Level: ValidationLevelBasic,
		Check: func(data []byte) *ValidationError {
			if len(data) != 4 {
				return &ValidationError{Severity: SeverityError, Field: "payload_size", Message: "protocol info is 4 bytes"}
			}
			return nil
		},
	})

	rec := domain.NewRecord(domain.BlockProtocolInfo, 0)
	rec.Fields["device_type"] = int64(42)
	assert.Len(t, validator.ValidateRecord(rec).Warnings, 1)

	assert.False(t, validator.ValidatePayload(domain.BlockProtocolInfo, []byte{1, 2, 3}).Valid)
	assert.True(t, validator.ValidatePayload(domain.BlockHomeData, []byte{1, 2, 3}).Valid)
}

func TestAdvancedValidator_Statistics(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	validator := NewAdvancedValidator(ValidationLevelStandard, logger)

	validator.ValidatePayload(100, nil)
	rec := homeRecord()
	rec.Fields["soc"] = int64(120)
	rec.Fields["serial_number"] = "x"
	validator.ValidateRecord(rec)

	stats := validator.GetStatistics()
	assert.Equal(t, int64(2), stats["validations_performed"])
	assert.Equal(t, int64(2), stats["errors_found"])
	assert.Equal(t, int64(1), stats["warnings_found"])
	assert.Equal(t, int64(1), stats["corruptions_detected"])
	assert.Equal(t, "standard", stats["validation_level"])
}

func TestHasRepeatedPattern(t *testing.T) {
	t.Run("With Repeated Pattern", func(t *testing.T) {
		data := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xAA, 0xBB, 0xCC, 0xDD, 0xAA, 0xBB, 0xCC, 0xDD, 0xAA, 0xBB, 0xCC, 0xDD}
		assert.True(t, hasRepeatedPattern(data, 16))
	})

	t.Run("Without Repeated Pattern", func(t *testing.T) {
		data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10}
		assert.False(t, hasRepeatedPattern(data, 16))
	})

	t.Run("Data Too Short", func(t *testing.T) {
		assert.False(t, hasRepeatedPattern([]byte{0x01, 0x02}, 16))
	})
}

func TestHasUniformPattern(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = 0xFF
	}
	assert.True(t, hasUniformPattern(data))
	assert.False(t, hasUniformPattern([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10}))
	assert.False(t, hasUniformPattern([]byte{0xFF, 0xFF, 0xFF}))
}

func BenchmarkValidateRecord(b *testing.B) {
	logger := zerolog.New(zerolog.NewTestWriter(b))
	validator := NewAdvancedValidator(ValidationLevelStrict, logger)
	rec := homeRecord()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		validator.ValidateRecord(rec)
	}
}
