// Package parser decodes V2 telemetry blocks into structured records.
package parser

import (
	"encoding/hex"
	"fmt"

	"github.com/resident-x/go-v2blocks/internal/codec"
	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/resident-x/go-v2blocks/internal/hierarchy"
	"github.com/resident-x/go-v2blocks/internal/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Parser decodes blocks using the layouts of a schema registry. It holds no
// per-call state and is safe for concurrent use.
type Parser struct {
	registry *schema.Registry
	logger   zerolog.Logger
}

// NewParser creates a new Parser over the given registry.
func NewParser(registry *schema.Registry) *Parser {
	return &Parser{
		registry: registry,
		logger:   log.With().Str("component", "parser").Logger(),
	}
}

// Registry returns the registry the parser decodes with.
func (p *Parser) Registry() *schema.Registry {
	return p.registry
}

// Decode selects the layout for blockID at version and decodes data with it.
// Any field failure aborts the whole block; partial records are never
// returned. data is not modified and no reference to it is kept.
func (p *Parser) Decode(blockID uint16, version int, data []byte) (*domain.Record, error) {
	layout, err := p.registry.Lookup(blockID, version)
	if err != nil {
		return nil, fmt.Errorf("decode block %d (v%d): %w", blockID, version, err)
	}

	p.logf("Decoding block %d v%d with layout v%d: %s", blockID, version, layout.MinVersion, hex.EncodeToString(data))

	rec := domain.NewRecord(blockID, version)
	c := codec.NewReader(data)
	ends := make(map[string]int, len(layout.Fields))

	for i := range layout.Fields {
		f := &layout.Fields[i]
		if err := p.decodeField(c, f, rec.Fields, ends); err != nil {
			p.logf("Block %d field %s failed: %v", blockID, f.Name, err)
			return nil, fmt.Errorf("decode block %d (v%d) field %s: %w", blockID, version, f.Name, err)
		}
	}

	p.logf("Decoded block %d with %d fields", blockID, len(rec.Fields))
	return rec, nil
}

func (p *Parser) decodeField(c *codec.Cursor, f *schema.FieldSpec, fields domain.Fields, ends map[string]int) error {
	off, err := f.Offset.Resolve(ends, fields)
	if err != nil {
		return err
	}
	if f.Kind == schema.KindGroup {
		return p.decodeGroup(c, f, off, fields, ends)
	}

	if err := c.Seek(off); err != nil {
		return err
	}
	v, err := f.Decode(c)
	if err != nil {
		return err
	}
	fields[f.Name] = v
	ends[f.Name] = c.Pos()
	return nil
}

// decodeGroup decodes a repeated group and the arrays its elements gate. The
// group's count is known before any element offset is computed, and each
// array's per-element counts are known before the array is walked.
func (p *Parser) decodeGroup(c *codec.Cursor, f *schema.FieldSpec, off int, fields domain.Fields, ends map[string]int) error {
	g := f.Group
	count, err := g.ElementCount(fields)
	if err != nil {
		return err
	}
	plan, err := hierarchy.Single(f.Name, count, off, g.Stride, c.Len())
	if err != nil {
		return err
	}

	elems := make([]domain.Fields, plan.Total())
	for i := range elems {
		base := plan.Offset(0, i)
		e := make(domain.Fields, len(g.Fields))
		for j := range g.Fields {
			sub := &g.Fields[j]
			if err := c.Seek(base + sub.Offset.Base); err != nil {
				return fmt.Errorf("element %d %s: %w", i, sub.Name, err)
			}
			v, err := sub.Decode(c)
			if err != nil {
				return fmt.Errorf("element %d %s: %w", i, sub.Name, err)
			}
			e[sub.Name] = v
		}
		elems[i] = e
	}
	fields[f.Name] = elems
	ends[f.Name] = plan.End()
	p.logf("Group %s: %d elements at %d..%d", f.Name, len(elems), plan.Base, plan.End())

	for i := range g.Arrays {
		a := &g.Arrays[i]
		counts, err := a.Counts(elems)
		if err != nil {
			return err
		}
		base, err := a.Offset.Resolve(ends, fields)
		if err != nil {
			return fmt.Errorf("array %s: %w", a.Name, err)
		}
		walk, err := hierarchy.Walk(a.Name, counts, base, a.Stride, c.Len())
		if err != nil {
			return err
		}

		values := make([]any, walk.Total())
		for idx := range values {
			if err := c.Seek(walk.ElementOffset(idx)); err != nil {
				return fmt.Errorf("array %s[%d]: %w", a.Name, idx, err)
			}
			v, err := a.Element.Decode(c)
			if err != nil {
				return fmt.Errorf("array %s[%d]: %w", a.Name, idx, err)
			}
			values[idx] = v
		}
		fields[a.Name] = values
		ends[a.Name] = walk.End()
		p.logf("Array %s: counts %v, %d elements at %d..%d", a.Name, counts, len(values), walk.Base, walk.End())
	}
	return nil
}

// DecodeHex decodes a hex-encoded payload. Whitespace is not accepted.
func (p *Parser) DecodeHex(blockID uint16, version int, payload string) (*domain.Record, error) {
	data, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return p.Decode(blockID, version, data)
}

// SetCustomLogger allows updating the logger (useful for tests).
func (p *Parser) SetCustomLogger(logger *zerolog.Logger) {
	p.logger = logger.With().Str("component", "parser").Logger()
}

// logf logs a message at debug level.
func (p *Parser) logf(format string, args ...interface{}) {
	p.logger.Debug().Msgf(format, args...)
}
