// Package domain provides the structured records produced by the block codec
// and the device snapshots built from them.
package domain

import (
	"time"
)

// Well-known block ids.
const (
	BlockProtocolInfo    uint16 = 1
	BlockHomeData        uint16 = 100
	BlockPackMainInfo    uint16 = 6000
	BlockPackItemInfo    uint16 = 6100
	BlockControlSettings uint16 = 12002
)

// BlockDecoder defines the interface for decoding block payloads.
type BlockDecoder interface {
	// Decode converts a block payload captured at a protocol version into a record
	Decode(blockID uint16, version int, data []byte) (*Record, error)
}

// BlockEncoder defines the interface for serializing records to block payloads.
type BlockEncoder interface {
	// Encode converts a record into the payload of a block at a protocol version
	Encode(blockID uint16, version int, rec *Record) ([]byte, error)
}

// DeviceSnapshot is the correlated state of one device, built from the latest
// record of each block it reported.
type DeviceSnapshot struct {
	SessionID       string    `json:"session_id"`
	DeviceKey       string    `json:"device_key"`
	ProtocolVersion int       `json:"protocol_version"`
	DeviceType      int       `json:"device_type,omitempty"`
	Model           string    `json:"model,omitempty"`
	Serial          string    `json:"serial,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Home holds the home data fields, Battery the pack summary fields and
	// Settings the control settings, each as decoded.
	Home     Fields `json:"home,omitempty"`
	Battery  Fields `json:"battery,omitempty"`
	Settings Fields `json:"settings,omitempty"`

	Packs  []PackSnapshot `json:"packs,omitempty"`
	Timers []TimerTask    `json:"timers,omitempty"`

	Blocks map[uint16]*Record `json:"blocks"`
}

// PackSnapshot is one battery pack with its own slice of the flattened cell and
// NTC arrays.
type PackSnapshot struct {
	Index        int           `json:"index"`
	Fields       Fields        `json:"fields"`
	FirstCell    int           `json:"first_cell"`
	Cells        []CellReading `json:"cells"`
	FirstNTC     int           `json:"first_ntc"`
	Temperatures []*float64    `json:"temperatures"`
}

// MinCellMillivolts returns the lowest cell voltage of the pack, or 0 when it
// has no cells.
func (p PackSnapshot) MinCellMillivolts() uint16 {
	var lowest uint16
	for i, c := range p.Cells {
		if i == 0 || c.Millivolts < lowest {
			lowest = c.Millivolts
		}
	}
	return lowest
}

// MaxCellMillivolts returns the highest cell voltage of the pack.
func (p PackSnapshot) MaxCellMillivolts() uint16 {
	var highest uint16
	for _, c := range p.Cells {
		if c.Millivolts > highest {
			highest = c.Millivolts
		}
	}
	return highest
}
