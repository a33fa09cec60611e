package domain

import (
	"fmt"
	"slices"
	"time"
)

// Timer schedule block and its field names.
const (
	BlockTimerSchedule uint16 = 19300

	TimerFieldEnable      = "enable_codes"
	TimerFieldTasks       = "tasks"
	TimerFieldStartHour   = "start_hour"
	TimerFieldStartMinute = "start_minute"
	TimerFieldEndHour     = "end_hour"
	TimerFieldEndMinute   = "end_minute"
	TimerFieldDays        = "days"
	TimerFieldMode        = "mode"
	TimerFieldPower       = "power"
	TimerFieldSOCLimit    = "soc_limit"
	TimerFieldEnergyLimit = "energy_limit"
	TimerFieldPriority    = "priority"
	TimerFieldReserved    = "reserved"

	// TimerReservedLen is the opaque tail of each 40-byte task (bytes 18-39).
	TimerReservedLen = 22
)

// TimerMode selects what a timer task does while active.
type TimerMode uint16

const (
	TimerModeIdle TimerMode = iota
	TimerModeCharge
	TimerModeDischarge
	TimerModeSelfUse
)

// String returns the string representation of the timer mode.
func (m TimerMode) String() string {
	switch m {
	case TimerModeIdle:
		return "idle"
	case TimerModeCharge:
		return "charge"
	case TimerModeDischarge:
		return "discharge"
	case TimerModeSelfUse:
		return "self_use"
	default:
		return fmt.Sprintf("mode_%d", uint16(m))
	}
}

// TimerTask is one slot of the device's timer schedule.
type TimerTask struct {
	Slot          int            `json:"slot" yaml:"slot"`
	Enabled       bool           `json:"enabled" yaml:"enabled"`
	EnableCode    uint8          `json:"enable_code,omitempty" yaml:"enable_code,omitempty"`
	StartHour     int            `json:"start_hour" yaml:"start_hour"`
	StartMinute   int            `json:"start_minute" yaml:"start_minute"`
	EndHour       int            `json:"end_hour" yaml:"end_hour"`
	EndMinute     int            `json:"end_minute" yaml:"end_minute"`
	Days          []time.Weekday `json:"days" yaml:"days"`
	Mode          TimerMode      `json:"mode" yaml:"mode"`
	PowerWatts    int            `json:"power_watts" yaml:"power_watts"`
	SOCLimit      int            `json:"soc_limit" yaml:"soc_limit"`
	EnergyLimitWh int64          `json:"energy_limit_wh" yaml:"energy_limit_wh"`
	Priority      int            `json:"priority" yaml:"priority"`
	Reserved      []byte         `json:"reserved,omitempty" yaml:"reserved,omitempty"`
}

// code returns the two-bit enable code written for the task. A raw code read
// from the device is kept as long as it still agrees with Enabled.
func (t TimerTask) code() uint8 {
	switch {
	case !t.Enabled:
		return 0
	case t.EnableCode != 0:
		return t.EnableCode
	default:
		return 1
	}
}

// TimerTasksFromRecord extracts the timer tasks of a decoded schedule record.
func TimerTasksFromRecord(rec *Record) ([]TimerTask, error) {
	if rec == nil || rec.BlockID != BlockTimerSchedule {
		return nil, fmt.Errorf("record is not a timer schedule")
	}

	codes, ok := rec.Fields[TimerFieldEnable].(EnableCodes)
	if !ok {
		return nil, fmt.Errorf("field %q missing or mistyped", TimerFieldEnable)
	}
	groups, err := rec.Fields.Groups(TimerFieldTasks)
	if err != nil {
		return nil, err
	}

	tasks := make([]TimerTask, 0, len(groups))
	for i, g := range groups {
		task, err := timerTaskFromFields(i, g)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		if i < len(codes) {
			task.EnableCode = codes[i]
			task.Enabled = codes[i] != 0
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func timerTaskFromFields(slot int, f Fields) (TimerTask, error) {
	task := TimerTask{Slot: slot}

	ints := []struct {
		name string
		dst  *int
	}{
		{TimerFieldStartHour, &task.StartHour},
		{TimerFieldStartMinute, &task.StartMinute},
		{TimerFieldEndHour, &task.EndHour},
		{TimerFieldEndMinute, &task.EndMinute},
		{TimerFieldPower, &task.PowerWatts},
		{TimerFieldSOCLimit, &task.SOCLimit},
		{TimerFieldPriority, &task.Priority},
	}
	for _, it := range ints {
		v, err := f.Int(it.name)
		if err != nil {
			return task, err
		}
		*it.dst = int(v)
	}

	mode, err := f.Int(TimerFieldMode)
	if err != nil {
		return task, err
	}
	task.Mode = TimerMode(mode)

	if task.EnergyLimitWh, err = f.Int(TimerFieldEnergyLimit); err != nil {
		return task, err
	}

	days, ok := f[TimerFieldDays].([]time.Weekday)
	if !ok {
		return task, fmt.Errorf("field %q missing or mistyped", TimerFieldDays)
	}
	task.Days = make([]time.Weekday, len(days))
	copy(task.Days, days)

	if reserved, ok := f[TimerFieldReserved].([]byte); ok {
		task.Reserved = append([]byte(nil), reserved...)
	}
	return task, nil
}

// TimerScheduleRecord builds the schedule record for a device with the given
// number of slots. Tasks are placed by Slot; free slots are written disabled
// and zeroed.
func TimerScheduleRecord(version, slots int, tasks []TimerTask) (*Record, error) {
	bySlot := make([]*TimerTask, slots)
	for i := range tasks {
		t := &tasks[i]
		if t.Slot < 0 || t.Slot >= slots {
			return nil, fmt.Errorf("task slot %d outside 0..%d", t.Slot, slots-1)
		}
		if bySlot[t.Slot] != nil {
			return nil, fmt.Errorf("duplicate task for slot %d", t.Slot)
		}
		bySlot[t.Slot] = t
	}

	codes := make(EnableCodes, slots)
	groups := make([]Fields, slots)
	for i, t := range bySlot {
		if t == nil {
			t = &TimerTask{Slot: i}
		}
		codes[i] = t.code()
		groups[i] = timerTaskFields(*t)
	}

	rec := NewRecord(BlockTimerSchedule, version)
	rec.Fields[TimerFieldEnable] = codes
	rec.Fields[TimerFieldTasks] = groups
	return rec, nil
}

func timerTaskFields(t TimerTask) Fields {
	reserved := make([]byte, TimerReservedLen)
	copy(reserved, t.Reserved)

	return Fields{
		TimerFieldStartHour:   int64(t.StartHour),
		TimerFieldStartMinute: int64(t.StartMinute),
		TimerFieldEndHour:     int64(t.EndHour),
		TimerFieldEndMinute:   int64(t.EndMinute),
		TimerFieldDays:        normalizeDays(t.Days),
		TimerFieldMode:        int64(t.Mode),
		TimerFieldPower:       int64(t.PowerWatts),
		TimerFieldSOCLimit:    int64(t.SOCLimit),
		TimerFieldEnergyLimit: t.EnergyLimitWh,
		TimerFieldPriority:    int64(t.Priority),
		TimerFieldReserved:    reserved,
	}
}

// normalizeDays returns a sorted copy of days without duplicates, the form a
// decoded schedule reports.
func normalizeDays(days []time.Weekday) []time.Weekday {
	out := slices.Clone(days)
	if out == nil {
		out = []time.Weekday{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
