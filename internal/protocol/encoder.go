package protocol

import (
	"fmt"
	"math"

	"github.com/resident-x/go-v2blocks/internal/codec"
	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/resident-x/go-v2blocks/internal/hierarchy"
	"github.com/resident-x/go-v2blocks/internal/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Encoder serializes records back to block payloads using the same layouts
// the parser decodes with.
type Encoder struct {
	registry *schema.Registry
	logger   zerolog.Logger
}

// NewEncoder creates a new Encoder over the given registry.
func NewEncoder(registry *schema.Registry) *Encoder {
	return &Encoder{
		registry: registry,
		logger:   log.With().Str("component", "encoder").Logger(),
	}
}

// Encode serializes rec as block blockID at version. Out of range values fail
// with codec.ErrValueOverflow, missing or mistyped values with
// codec.ErrInvalidRecord; no bytes are returned on failure.
func (e *Encoder) Encode(blockID uint16, version int, rec *domain.Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("encode block %d: %w: nil record", blockID, codec.ErrInvalidRecord)
	}
	if rec.BlockID != 0 && rec.BlockID != blockID {
		return nil, fmt.Errorf("encode block %d: %w: record is for block %d", blockID, codec.ErrInvalidRecord, rec.BlockID)
	}

	layout, err := e.registry.Lookup(blockID, version)
	if err != nil {
		return nil, fmt.Errorf("encode block %d (v%d): %w", blockID, version, err)
	}

	c := codec.NewWriter(64)
	ends := make(map[string]int, len(layout.Fields))
	for i := range layout.Fields {
		f := &layout.Fields[i]
		if err := e.encodeField(c, f, rec.Fields, ends); err != nil {
			e.logger.Debug().Err(err).Uint16("block", blockID).Str("field", f.Name).Msg("Encode failed")
			return nil, fmt.Errorf("encode block %d (v%d) field %s: %w", blockID, version, f.Name, err)
		}
	}

	e.logger.Debug().Uint16("block", blockID).Int("version", version).Int("bytes", c.Len()).Msg("Encoded block")
	return c.Bytes(), nil
}

func (e *Encoder) encodeField(c *codec.Cursor, f *schema.FieldSpec, fields domain.Fields, ends map[string]int) error {
	off, err := f.Offset.Resolve(ends, fields)
	if err != nil {
		return err
	}
	if f.Kind == schema.KindGroup {
		return e.encodeGroup(c, f, off, fields, ends)
	}

	if err := c.Seek(off); err != nil {
		return err
	}
	if err := f.Encode(c, fields[f.Name]); err != nil {
		return err
	}
	ends[f.Name] = c.Pos()
	return nil
}

func (e *Encoder) encodeGroup(c *codec.Cursor, f *schema.FieldSpec, off int, fields domain.Fields, ends map[string]int) error {
	g := f.Group
	elems, err := fields.Groups(f.Name)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrInvalidRecord, err)
	}
	count, err := g.ElementCount(fields)
	if err != nil {
		return err
	}
	if count != len(elems) {
		return fmt.Errorf("%w: %d elements, count says %d", codec.ErrInvalidRecord, len(elems), count)
	}

	plan, err := hierarchy.Single(f.Name, count, off, g.Stride, math.MaxInt)
	if err != nil {
		return err
	}
	for i, elem := range elems {
		base := plan.Offset(0, i)
		for j := range g.Fields {
			sub := &g.Fields[j]
			if err := c.Seek(base + sub.Offset.Base); err != nil {
				return fmt.Errorf("element %d %s: %w", i, sub.Name, err)
			}
			if err := sub.Encode(c, elem[sub.Name]); err != nil {
				return fmt.Errorf("element %d %s: %w", i, sub.Name, err)
			}
		}
	}
	if err := c.Grow(plan.End()); err != nil {
		return err
	}
	ends[f.Name] = plan.End()

	for i := range g.Arrays {
		a := &g.Arrays[i]
		counts, err := a.Counts(elems)
		if err != nil {
			return err
		}
		values, err := fields.Elements(a.Name)
		if err != nil {
			return fmt.Errorf("%w: %v", codec.ErrInvalidRecord, err)
		}
		base, err := a.Offset.Resolve(ends, fields)
		if err != nil {
			return fmt.Errorf("array %s: %w", a.Name, err)
		}
		walk, err := hierarchy.Walk(a.Name, counts, base, a.Stride, math.MaxInt)
		if err != nil {
			return err
		}
		if walk.Total() != len(values) {
			return fmt.Errorf("%w: array %s has %d elements, counts say %d", codec.ErrInvalidRecord, a.Name, len(values), walk.Total())
		}
		for idx, v := range values {
			if err := c.Seek(walk.ElementOffset(idx)); err != nil {
				return fmt.Errorf("array %s[%d]: %w", a.Name, idx, err)
			}
			if err := a.Element.Encode(c, v); err != nil {
				return fmt.Errorf("array %s[%d]: %w", a.Name, idx, err)
			}
		}
		if err := c.Grow(walk.End()); err != nil {
			return err
		}
		ends[a.Name] = walk.End()
	}
	return nil
}

// TimerSlots returns the number of timer tasks the schedule layout holds at
// version.
func (e *Encoder) TimerSlots(version int) (int, error) {
	layout, err := e.registry.Lookup(domain.BlockTimerSchedule, version)
	if err != nil {
		return 0, err
	}
	f, ok := layout.Field(domain.TimerFieldTasks)
	if !ok || f.Group == nil {
		return 0, fmt.Errorf("timer layout v%d has no task group", layout.MinVersion)
	}
	return f.Group.Count, nil
}

// EncodeTimers builds and encodes the timer schedule for version.
func (e *Encoder) EncodeTimers(version int, tasks []domain.TimerTask) ([]byte, error) {
	slots, err := e.TimerSlots(version)
	if err != nil {
		return nil, err
	}
	rec, err := domain.TimerScheduleRecord(version, slots, tasks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrInvalidRecord, err)
	}
	return e.Encode(domain.BlockTimerSchedule, version, rec)
}

// SetCustomLogger allows updating the logger (useful for tests).
func (e *Encoder) SetCustomLogger(logger *zerolog.Logger) {
	e.logger = logger.With().Str("component", "encoder").Logger()
}
