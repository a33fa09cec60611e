// Package validation provides plausibility checks for decoded V2 block records.
// Findings never reject a record; they are reported alongside it.
package validation

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/rs/zerolog"
)

// ValidationLevel defines the strictness of validation rules.
type ValidationLevel int

const (
	ValidationLevelBasic ValidationLevel = iota
	ValidationLevelStandard
	ValidationLevelStrict
	ValidationLevelParanoid
)

// String returns the string representation of the validation level.
func (vl ValidationLevel) String() string {
	switch vl {
	case ValidationLevelBasic:
		return "basic"
	case ValidationLevelStandard:
		return "standard"
	case ValidationLevelStrict:
		return "strict"
	case ValidationLevelParanoid:
		return "paranoid"
	default:
		return "unknown"
	}
}

// ParseLevel parses a validation level name.
func ParseLevel(s string) (ValidationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return ValidationLevelBasic, nil
	case "", "standard":
		return ValidationLevelStandard, nil
	case "strict":
		return ValidationLevelStrict, nil
	case "paranoid":
		return ValidationLevelParanoid, nil
	default:
		return ValidationLevelStandard, fmt.Errorf("unknown validation level %q", s)
	}
}

// Severities.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
	SeverityMinor    = "minor"
)

// ValidationError represents a validation finding with severity and context.
type ValidationError struct {
	Type     string         `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Field    string         `json:"field"`
	Value    interface{}    `json:"value,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%s validation error in %s: %s", ve.Severity, ve.Field, ve.Message)
}

// ValidationResult contains the result of a validation check.
type ValidationResult struct {
	Valid      bool               `json:"valid"`
	Errors     []*ValidationError `json:"errors"`
	Warnings   []*ValidationError `json:"warnings"`
	Confidence float64            `json:"confidence"` // 0.0-1.0 confidence in data integrity
}

func newResult() *ValidationResult {
	return &ValidationResult{
		Valid:      true,
		Errors:     make([]*ValidationError, 0),
		Warnings:   make([]*ValidationError, 0),
		Confidence: 1.0,
	}
}

// HasCriticalErrors returns true if there are any critical validation errors.
func (vr *ValidationResult) HasCriticalErrors() bool {
	for _, err := range vr.Errors {
		if err.Severity == SeverityCritical || err.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if there are any validation warnings.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// Findings returns errors followed by warnings.
func (vr *ValidationResult) Findings() []*ValidationError {
	out := make([]*ValidationError, 0, len(vr.Errors)+len(vr.Warnings))
	out = append(out, vr.Errors...)
	return append(out, vr.Warnings...)
}

// Summary returns a summary of the validation result.
func (vr *ValidationResult) Summary() string {
	if vr.Valid && !vr.HasWarnings() {
		return fmt.Sprintf("Valid (confidence: %.2f)", vr.Confidence)
	}

	var parts []string
	if !vr.Valid {
		parts = append(parts, fmt.Sprintf("%d errors", len(vr.Errors)))
	}
	if vr.HasWarnings() {
		parts = append(parts, fmt.Sprintf("%d warnings", len(vr.Warnings)))
	}

	return fmt.Sprintf("%s (confidence: %.2f)", strings.Join(parts, ", "), vr.Confidence)
}

// PayloadRule checks a raw block payload before decoding. Block 0 applies to
// every block.
type PayloadRule struct {
	Name        string
	Description string
	Block       uint16
	Level       ValidationLevel
	Check       func(data []byte) *ValidationError
}

// RecordRule checks a decoded record. Block 0 applies to every block.
type RecordRule struct {
	Name        string
	Description string
	Block       uint16
	Level       ValidationLevel
	Check       func(rec *domain.Record) []*ValidationError
}

// AdvancedValidator applies leveled payload and record rules.
type AdvancedValidator struct {
	mu           sync.RWMutex
	level        ValidationLevel
	payloadRules []*PayloadRule
	recordRules  []*RecordRule
	logger       zerolog.Logger

	// Statistics
	validationsPerformed atomic.Int64
	errorsFound          atomic.Int64
	warningsFound        atomic.Int64
	corruptionsDetected  atomic.Int64
}

// NewAdvancedValidator creates a new advanced validator.
func NewAdvancedValidator(level ValidationLevel, logger zerolog.Logger) *AdvancedValidator {
	validator := &AdvancedValidator{
		level:  level,
		logger: logger.With().Str("component", "validator").Logger(),
	}

	validator.registerDefaultPayloadRules()
	validator.registerDefaultRecordRules()

	return validator
}

// ValidatePayload checks a raw payload for signs of corruption.
func (av *AdvancedValidator) ValidatePayload(blockID uint16, data []byte) *ValidationResult {
	av.validationsPerformed.Add(1)
	result := newResult()

	av.mu.RLock()
	level := av.level
	rules := av.payloadRules
	av.mu.RUnlock()

	for _, rule := range rules {
		if rule.Level > level || (rule.Block != 0 && rule.Block != blockID) {
			continue
		}
		if err := rule.Check(data); err != nil {
			av.addValidationError(result, err)
		}
	}

	av.logger.Debug().
		Uint16("block", blockID).
		Int("data_length", len(data)).
		Int("errors", len(result.Errors)).
		Int("warnings", len(result.Warnings)).
		Float64("confidence", result.Confidence).
		Msg("Payload validation completed")

	return result
}

// ValidateRecord performs validation on a decoded record.
func (av *AdvancedValidator) ValidateRecord(rec *domain.Record) *ValidationResult {
	av.validationsPerformed.Add(1)
	result := newResult()
	if rec == nil {
		return result
	}

	av.mu.RLock()
	level := av.level
	rules := av.recordRules
	av.mu.RUnlock()

	for _, rule := range rules {
		if rule.Level > level || (rule.Block != 0 && rule.Block != rec.BlockID) {
			continue
		}
		for _, err := range rule.Check(rec) {
			av.addValidationError(result, err)
		}
	}
	return result
}

// addValidationError adds a validation error to the result and updates metrics.
func (av *AdvancedValidator) addValidationError(result *ValidationResult, err *ValidationError) {
	if err.Severity == SeverityWarning {
		result.Warnings = append(result.Warnings, err)
		av.warningsFound.Add(1)
		result.Confidence *= 0.95
		return
	}

	result.Errors = append(result.Errors, err)
	av.errorsFound.Add(1)
	result.Valid = false

	switch err.Severity {
	case SeverityCritical:
		result.Confidence *= 0.1
		av.corruptionsDetected.Add(1)
	case SeverityError:
		result.Confidence *= 0.5
	case SeverityMinor:
		result.Confidence *= 0.8
	}
}

// registerDefaultPayloadRules registers the raw payload rules.
func (av *AdvancedValidator) registerDefaultPayloadRules() {
	av.payloadRules = []*PayloadRule{
		{
			Name:        "payload_size_check",
			Description: "Validates payload size is within reasonable bounds",
			Level:       ValidationLevelBasic,
			Check: func(data []byte) *ValidationError {
				if len(data) == 0 {
					return &ValidationError{
						Type:     "payload",
						Severity: SeverityCritical,
						Message:  "empty payload",
						Field:    "payload_size",
						Value:    0,
					}
				}
				if len(data) > 4096 {
					return &ValidationError{
						Type:     "payload",
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("unusually large payload: %d bytes", len(data)),
						Field:    "payload_size",
						Value:    len(data),
					}
				}
				return nil
			},
		},
		{
			Name:        "payload_pattern_check",
			Description: "Detects suspicious byte patterns",
			Level:       ValidationLevelParanoid,
			Check: func(data []byte) *ValidationError {
				if hasRepeatedPattern(data, 16) {
					return &ValidationError{
						Type:     "data_integrity",
						Severity: SeverityWarning,
						Message:  "detected repeated byte pattern (possible corruption)",
						Field:    "data_pattern",
						Value:    "repeated_pattern",
					}
				}
				if hasUniformPattern(data) {
					return &ValidationError{
						Type:     "data_integrity",
						Severity: SeverityWarning,
						Message:  "detected uniform byte pattern (possible corruption)",
						Field:    "data_pattern",
						Value:    "uniform_pattern",
					}
				}
				return nil
			},
		},
	}
}

// Plausibility bounds.
const (
	minCellMillivolts = 2000
	maxCellMillivolts = 4500
	minTemperature    = -30.0
	maxTemperature    = 80.0
	maxPowerWatts     = 100000
)

// registerDefaultRecordRules registers the decoded record rules.
func (av *AdvancedValidator) registerDefaultRecordRules() {
	av.recordRules = []*RecordRule{
		{
			Name:        "soc_range",
			Description: "State of charge must be a percentage",
			Level:       ValidationLevelBasic,
			Check: func(rec *domain.Record) []*ValidationError {
				out := percentCheck(rec.Fields, "soc", "soh")
				if packs, err := rec.Fields.Groups("packs"); err == nil {
					for _, p := range packs {
						out = append(out, percentCheck(p, "soc", "soh")...)
					}
				}
				return out
			},
		},
		{
			Name:        "soc_limit_order",
			Description: "Low SOC limit cannot exceed the high limit",
			Block:       domain.BlockControlSettings,
			Level:       ValidationLevelBasic,
			Check: func(rec *domain.Record) []*ValidationError {
				lo, err1 := rec.Fields.Int("soc_low_limit")
				hi, err2 := rec.Fields.Int("soc_high_limit")
				if err1 != nil || err2 != nil || lo <= hi {
					return nil
				}
				return []*ValidationError{{
					Type:     "data_integrity",
					Severity: SeverityError,
					Message:  fmt.Sprintf("low SOC limit %d%% above high limit %d%%", lo, hi),
					Field:    "soc_low_limit",
					Value:    lo,
				}}
			},
		},
		{
			Name:        "serial_number_format",
			Description: "Validates serial number format",
			Block:       domain.BlockHomeData,
			Level:       ValidationLevelStandard,
			Check: func(rec *domain.Record) []*ValidationError {
				serial, err := rec.Fields.Text("serial_number")
				if err != nil {
					return nil
				}
				if len(serial) < 6 || len(serial) > 20 {
					return []*ValidationError{{
						Type:     "data_format",
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("unusual serial number length: %d characters", len(serial)),
						Field:    "serial_number",
						Value:    serial,
					}}
				}
				for _, r := range serial {
					if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '-') {
						return []*ValidationError{{
							Type:     "data_format",
							Severity: SeverityWarning,
							Message:  "serial number contains invalid characters",
							Field:    "serial_number",
							Value:    serial,
						}}
					}
				}
				return nil
			},
		},
		{
			Name:        "cell_voltage_range",
			Description: "Cell voltages must be within chemistry limits",
			Block:       domain.BlockPackItemInfo,
			Level:       ValidationLevelStandard,
			Check: func(rec *domain.Record) []*ValidationError {
				cells, err := rec.Fields.Elements("cells")
				if err != nil {
					return nil
				}
				var out []*ValidationError
				for i, v := range cells {
					cell, ok := v.(domain.CellReading)
					if !ok {
						continue
					}
					if cell.Millivolts < minCellMillivolts || cell.Millivolts > maxCellMillivolts {
						out = append(out, &ValidationError{
							Type:     "data_integrity",
							Severity: SeverityWarning,
							Message:  fmt.Sprintf("cell %d voltage %d mV outside %d..%d", i, cell.Millivolts, minCellMillivolts, maxCellMillivolts),
							Field:    "cells",
							Value:    cell.Millivolts,
							Context:  map[string]any{"index": i},
						})
					}
				}
				return out
			},
		},
		{
			Name:        "temperature_range",
			Description: "Temperatures must be plausible",
			Level:       ValidationLevelStandard,
			Check: func(rec *domain.Record) []*ValidationError {
				var out []*ValidationError
				for _, name := range []string{"inverter_temperature", "max_temperature", "min_temperature"} {
					if t, err := rec.Fields.Float(name); err == nil {
						out = append(out, temperatureCheck(name, -1, t)...)
					}
				}
				if ntcs, err := rec.Fields.Elements("ntcs"); err == nil {
					for i, v := range ntcs {
						if t, ok := v.(float64); ok {
							out = append(out, temperatureCheck("ntcs", i, t)...)
						}
					}
				}
				return out
			},
		},
		{
			Name:        "cell_extremes_order",
			Description: "Minimum cell voltage cannot exceed maximum",
			Block:       domain.BlockPackMainInfo,
			Level:       ValidationLevelStandard,
			Check: func(rec *domain.Record) []*ValidationError {
				lo, err1 := rec.Fields.Int("min_cell_mv")
				hi, err2 := rec.Fields.Int("max_cell_mv")
				if err1 != nil || err2 != nil || lo <= hi {
					return nil
				}
				return []*ValidationError{{
					Type:     "data_integrity",
					Severity: SeverityError,
					Message:  fmt.Sprintf("min cell %d mV above max cell %d mV", lo, hi),
					Field:    "min_cell_mv",
					Value:    lo,
				}}
			},
		},
		{
			Name:        "power_value_reasonableness",
			Description: "Validates power values are within reasonable ranges",
			Block:       domain.BlockHomeData,
			Level:       ValidationLevelStrict,
			Check: func(rec *domain.Record) []*ValidationError {
				var out []*ValidationError
				for _, name := range []string{"dc_input_power", "ac_output_power", "grid_power", "charge_power", "discharge_power", "pv_power"} {
					p, err := rec.Fields.Float(name)
					if err != nil || math.Abs(p) <= maxPowerWatts {
						continue
					}
					out = append(out, &ValidationError{
						Type:     "data_integrity",
						Severity: SeverityWarning,
						Message:  "unusually high power value",
						Field:    name,
						Value:    p,
					})
				}
				return out
			},
		},
		{
			Name:        "timer_window",
			Description: "Enabled timer tasks need a non-empty window and at least one day",
			Block:       domain.BlockTimerSchedule,
			Level:       ValidationLevelStrict,
			Check: func(rec *domain.Record) []*ValidationError {
				tasks, err := domain.TimerTasksFromRecord(rec)
				if err != nil {
					return nil
				}
				var out []*ValidationError
				for _, task := range tasks {
					if !task.Enabled {
						continue
					}
					if task.StartHour == task.EndHour && task.StartMinute == task.EndMinute {
						out = append(out, &ValidationError{
							Type:     "data_integrity",
							Severity: SeverityWarning,
							Message:  fmt.Sprintf("task %d starts and ends at %02d:%02d", task.Slot, task.StartHour, task.StartMinute),
							Field:    "tasks",
							Context:  map[string]any{"slot": task.Slot},
						})
					}
					if len(task.Days) == 0 {
						out = append(out, &ValidationError{
							Type:     "data_integrity",
							Severity: SeverityMinor,
							Message:  fmt.Sprintf("task %d is enabled but runs on no day", task.Slot),
							Field:    "tasks",
							Context:  map[string]any{"slot": task.Slot},
						})
					}
				}
				return out
			},
		},
	}
}

func percentCheck(fields domain.Fields, names ...string) []*ValidationError {
	var out []*ValidationError
	for _, name := range names {
		v, err := fields.Int(name)
		if err != nil || (v >= 0 && v <= 100) {
			continue
		}
		out = append(out, &ValidationError{
			Type:     "data_integrity",
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s of %d%% outside 0..100", name, v),
			Field:    name,
			Value:    v,
		})
	}
	return out
}

func temperatureCheck(field string, index int, t float64) []*ValidationError {
	if t >= minTemperature && t <= maxTemperature {
		return nil
	}
	ve := &ValidationError{
		Type:     "data_integrity",
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("temperature %.1f C outside %.0f..%.0f", t, minTemperature, maxTemperature),
		Field:    field,
		Value:    t,
	}
	if index >= 0 {
		ve.Context = map[string]any{"index": index}
	}
	return []*ValidationError{ve}
}

// hasRepeatedPattern checks if data contains repeated byte patterns.
func hasRepeatedPattern(data []byte, minLength int) bool {
	if len(data) < minLength {
		return false
	}

	for patternLen := 4; patternLen <= minLength && patternLen <= len(data)/2; patternLen++ {
		pattern := data[:patternLen]
		matches := 0

		for i := patternLen; i+patternLen <= len(data); i += patternLen {
			if string(data[i:i+patternLen]) == string(pattern) {
				matches++
			} else {
				break
			}
		}

		if matches >= 3 { // Pattern repeats at least 4 times total
			return true
		}
	}

	return false
}

// hasUniformPattern checks if data contains a run of at least 16 equal bytes.
func hasUniformPattern(data []byte) bool {
	if len(data) < 16 {
		return false
	}

	consecutiveCount := 1
	for i := 1; i < len(data); i++ {
		if data[i] == data[i-1] {
			consecutiveCount++
			if consecutiveCount >= 16 {
				return true
			}
		} else {
			consecutiveCount = 1
		}
	}

	return false
}

// GetStatistics returns validation statistics.
func (av *AdvancedValidator) GetStatistics() map[string]interface{} {
	av.mu.RLock()
	defer av.mu.RUnlock()
	return map[string]interface{}{
		"validations_performed": av.validationsPerformed.Load(),
		"errors_found":          av.errorsFound.Load(),
		"warnings_found":        av.warningsFound.Load(),
		"corruptions_detected":  av.corruptionsDetected.Load(),
		"validation_level":      av.level.String(),
		"payload_rules":         len(av.payloadRules),
		"record_rules":          len(av.recordRules),
	}
}

// Level returns the current validation level.
func (av *AdvancedValidator) Level() ValidationLevel {
	av.mu.RLock()
	defer av.mu.RUnlock()
	return av.level
}

// SetValidationLevel changes the validation level.
func (av *AdvancedValidator) SetValidationLevel(level ValidationLevel) {
	av.mu.Lock()
	old := av.level
	av.level = level
	av.mu.Unlock()

	av.logger.Info().
		Str("old_level", old.String()).
		Str("new_level", level.String()).
		Msg("Validation level changed")
}

// AddPayloadRule adds a custom payload rule.
func (av *AdvancedValidator) AddPayloadRule(rule *PayloadRule) {
	av.mu.Lock()
	av.payloadRules = append(av.payloadRules, rule)
	av.mu.Unlock()

	av.logger.Debug().
		Uint16("block", rule.Block).
		Str("rule", rule.Name).
		Msg("Added custom payload rule")
}

// AddRecordRule adds a custom record rule.
func (av *AdvancedValidator) AddRecordRule(rule *RecordRule) {
	av.mu.Lock()
	av.recordRules = append(av.recordRules, rule)
	av.mu.Unlock()

	av.logger.Debug().
		Uint16("block", rule.Block).
		Str("rule", rule.Name).
		Msg("Added custom record rule")
}
