package codec

import (
	"fmt"
	"time"
)

// Cell word layout: 14 bits of millivolts below a 2-bit status code.
const (
	CellMillivoltMask = 0x3FFF
	CellStatusShift   = 14
	MaxCellMillivolts = 0x3FFF
	MaxCellStatus     = 0x3
)

// EnableCodes unpacks n two-bit codes from data. Code i sits in byte i/4 at bit
// offset 2*(i%4), low bits first. Codes are returned as read; only zero has a
// known meaning (off).
func EnableCodes(data []byte, n int) ([]uint8, error) {
	need := (n + 3) / 4
	if need > len(data) {
		return nil, &OutOfBoundsError{Offset: 0, Width: need, Len: len(data)}
	}
	codes := make([]uint8, n)
	for i := range codes {
		codes[i] = (data[i/4] >> (2 * uint(i%4))) & 0x3
	}
	return codes, nil
}

// PackEnableCodes packs two-bit codes left to right into 4-slot bytes, zero
// padding the final byte.
func PackEnableCodes(codes []uint8) ([]byte, error) {
	out := make([]byte, (len(codes)+3)/4)
	for i, code := range codes {
		if code > 0x3 {
			return nil, &ValueOverflowError{Field: fmt.Sprintf("slot %d", i), Value: int64(code), Min: 0, Max: 3}
		}
		out[i/4] |= code << (2 * uint(i%4))
	}
	return out, nil
}

// EnableFlags unpacks n enable flags. Any nonzero two-bit code counts as enabled.
func EnableFlags(data []byte, n int) ([]bool, error) {
	codes, err := EnableCodes(data, n)
	if err != nil {
		return nil, err
	}
	flags := make([]bool, n)
	for i, code := range codes {
		flags[i] = code != 0
	}
	return flags, nil
}

// PackEnableFlags packs flags using code 1 for true and 0 for false.
func PackEnableFlags(flags []bool) []byte {
	out := make([]byte, (len(flags)+3)/4)
	for i, on := range flags {
		if on {
			out[i/4] |= 1 << (2 * uint(i%4))
		}
	}
	return out
}

// SplitCellWord splits a 16-bit cell word into millivolts and status code.
func SplitCellWord(word uint16) (millivolts uint16, status uint8) {
	return word & CellMillivoltMask, uint8(word>>CellStatusShift) & MaxCellStatus
}

// JoinCellWord builds a cell word. Millivolts above 16383 or a status above 3
// are rejected rather than truncated.
func JoinCellWord(millivolts uint16, status uint8) (uint16, error) {
	if millivolts > MaxCellMillivolts {
		return 0, &ValueOverflowError{Field: "millivolts", Value: int64(millivolts), Min: 0, Max: MaxCellMillivolts}
	}
	if status > MaxCellStatus {
		return 0, &ValueOverflowError{Field: "status", Value: int64(status), Min: 0, Max: MaxCellStatus}
	}
	return uint16(status)<<CellStatusShift | millivolts, nil
}

// Weekdays decodes a day-of-week mask, bit d set for time.Weekday(d).
// Bits above Saturday are ignored.
func Weekdays(mask uint16) []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if mask&(1<<uint(d)) != 0 {
			days = append(days, d)
		}
	}
	return days
}

// WeekdayMask encodes days into a mask. Duplicates collapse.
func WeekdayMask(days []time.Weekday) (uint16, error) {
	var mask uint16
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return 0, &ValueOverflowError{Field: "weekday", Value: int64(d), Min: 0, Max: 6}
		}
		mask |= 1 << uint(d)
	}
	return mask, nil
}
