package session

import (
	"fmt"
	"math"
	"sort"

	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/resident-x/go-v2blocks/internal/hierarchy"
)

// Field names used to correlate the pack detail block.
const (
	fieldModel     = "device_model"
	fieldSerial    = "serial_number"
	fieldPacks     = "packs"
	fieldCells     = "cells"
	fieldNTCs      = "ntcs"
	fieldCellCount = "cell_count"
	fieldNTCCount  = "ntc_count"
)

// Snapshot returns the correlated state of the device. The snapshot is a deep
// copy; later ingests do not change it.
func (s *Session) Snapshot() (*domain.DeviceSnapshot, error) {
	s.mutex.RLock()
	snap := &domain.DeviceSnapshot{
		SessionID:       s.ID,
		DeviceKey:       s.DeviceKey,
		ProtocolVersion: s.versionLocked(),
		DeviceType:      s.deviceType,
		UpdatedAt:       s.lastActivity,
		Blocks:          make(map[uint16]*domain.Record, len(s.records)),
	}
	for id, rec := range s.records {
		snap.Blocks[id] = rec.Clone()
	}
	s.mutex.RUnlock()

	if home, ok := snap.Blocks[domain.BlockHomeData]; ok {
		snap.Home = home.Fields.Clone()
		snap.Model, _ = home.Fields.Text(fieldModel)
		snap.Serial, _ = home.Fields.Text(fieldSerial)
	}
	if battery, ok := snap.Blocks[domain.BlockPackMainInfo]; ok {
		snap.Battery = battery.Fields.Clone()
	}
	if settings, ok := snap.Blocks[domain.BlockControlSettings]; ok {
		snap.Settings = settings.Fields.Clone()
	}
	if detail, ok := snap.Blocks[domain.BlockPackItemInfo]; ok {
		packs, err := PacksFromRecord(detail)
		if err != nil {
			return nil, fmt.Errorf("pack detail: %w", err)
		}
		snap.Packs = packs
	}
	if timers, ok := snap.Blocks[domain.BlockTimerSchedule]; ok {
		tasks, err := domain.TimerTasksFromRecord(timers)
		if err != nil {
			return nil, fmt.Errorf("timer schedule: %w", err)
		}
		snap.Timers = tasks
	}
	return snap, nil
}

// PacksFromRecord splits a pack detail record into packs, giving each pack its
// own slice of the flattened cell and NTC arrays.
func PacksFromRecord(rec *domain.Record) ([]domain.PackSnapshot, error) {
	groups, err := rec.Fields.Groups(fieldPacks)
	if err != nil {
		return nil, err
	}
	cells, err := rec.Fields.Elements(fieldCells)
	if err != nil {
		return nil, err
	}
	ntcs, err := rec.Fields.Elements(fieldNTCs)
	if err != nil {
		return nil, err
	}

	cellPlan, err := planElements(fieldCells, groups, fieldCellCount, len(cells))
	if err != nil {
		return nil, err
	}
	ntcPlan, err := planElements(fieldNTCs, groups, fieldNTCCount, len(ntcs))
	if err != nil {
		return nil, err
	}

	packs := make([]domain.PackSnapshot, len(groups))
	for i, g := range groups {
		pack := domain.PackSnapshot{
			Index:        i,
			Fields:       g.Clone(),
			Cells:        make([]domain.CellReading, 0, cellPlan.Counts[i]),
			Temperatures: make([]*float64, 0, ntcPlan.Counts[i]),
		}

		start, end := cellPlan.Range(i)
		pack.FirstCell = start
		for _, v := range cells[start:end] {
			cell, ok := v.(domain.CellReading)
			if !ok {
				return nil, fmt.Errorf("cell has type %T", v)
			}
			pack.Cells = append(pack.Cells, cell)
		}

		start, end = ntcPlan.Range(i)
		pack.FirstNTC = start
		for _, v := range ntcs[start:end] {
			switch t := v.(type) {
			case float64:
				pack.Temperatures = append(pack.Temperatures, &t)
			case int64:
				f := float64(t)
				pack.Temperatures = append(pack.Temperatures, &f)
			case domain.Absent:
				pack.Temperatures = append(pack.Temperatures, nil)
			default:
				return nil, fmt.Errorf("temperature has type %T", v)
			}
		}
		packs[i] = pack
	}
	return packs, nil
}

// planElements walks the per-pack counts over an already decoded flat array.
// Offsets are element indices, so the stride is one.
func planElements(name string, groups []domain.Fields, countField string, have int) (hierarchy.Plan, error) {
	counts := make([]int, len(groups))
	for i, g := range groups {
		n, err := g.Int(countField)
		if err != nil {
			return hierarchy.Plan{}, fmt.Errorf("pack %d: %w", i, err)
		}
		counts[i] = int(n)
	}
	plan, err := hierarchy.Walk(name, counts, 0, 1, math.MaxInt)
	if err != nil {
		return hierarchy.Plan{}, err
	}
	if plan.Total() != have {
		return hierarchy.Plan{}, fmt.Errorf("%s: packs declare %d elements, record holds %d", name, plan.Total(), have)
	}
	return plan, nil
}

func sortedBlocks(records map[uint16]*domain.Record) []uint16 {
	ids := make([]uint16, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
