// Package protocol encodes records back to block payloads and frames block
// read and write requests for the device link.
package protocol

import (
	"encoding/hex"
	"fmt"

	"github.com/resident-x/go-v2blocks/internal/schema"
	"github.com/sigurn/crc16"
)

// Function codes.
const (
	FunctionReadBlock  = 0x03
	FunctionWriteBlock = 0x10

	exceptionBit = 0x80
)

// Frame sizes.
const (
	readRequestLen   = 8
	writeHeaderLen   = 8
	crcLen           = 2
	maxPayloadLength = 0xFFFF
)

// DefaultUnitAddress is the address byte used when none is configured.
const DefaultUnitAddress = 0x01

// newCRCTable returns the CRC-16/MODBUS table.
func newCRCTable() *crc16.Table {
	return crc16.MakeTable(crc16.CRC16_MODBUS)
}

// CommandBuilder provides functionality to frame block requests.
type CommandBuilder struct {
	crcTable *crc16.Table
	registry *schema.Registry
	address  byte
}

// NewCommandBuilder creates a new command builder for the device at address.
// Write requests are only built for blocks the registry marks writable.
func NewCommandBuilder(address byte, registry *schema.Registry) *CommandBuilder {
	return &CommandBuilder{
		crcTable: newCRCTable(),
		registry: registry,
		address:  address,
	}
}

// Address returns the unit address the builder frames requests for.
func (cb *CommandBuilder) Address() byte {
	return cb.address
}

// registers returns the number of 16-bit registers needed for n bytes.
func registers(n int) int {
	return (n + 1) / 2
}

// ReadBlockCommand frames a request to read length bytes of a block.
func (cb *CommandBuilder) ReadBlockCommand(blockID uint16, length int) ([]byte, error) {
	if length <= 0 || length > maxPayloadLength {
		return nil, fmt.Errorf("read length %d outside 1..%d", length, maxPayloadLength)
	}
	regs := registers(length)

	frame := make([]byte, 0, readRequestLen)
	frame = append(frame,
		cb.address,
		FunctionReadBlock,
		byte(blockID>>8), byte(blockID&0xFF),
		byte(regs>>8), byte(regs&0xFF),
	)
	return cb.appendCRC(frame), nil
}

// WriteBlockCommand frames a request writing payload to a writable block.
// An odd payload is padded with one zero byte.
func (cb *CommandBuilder) WriteBlockCommand(blockID uint16, payload []byte) ([]byte, error) {
	if cb.registry != nil && !cb.registry.Writable(blockID) {
		return nil, fmt.Errorf("block %d is not writable", blockID)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload for block %d", blockID)
	}

	padded := payload
	if len(padded)%2 == 1 {
		padded = append(append(make([]byte, 0, len(payload)+1), payload...), 0)
	}
	if len(padded) > maxPayloadLength {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(padded), maxPayloadLength)
	}
	regs := registers(len(padded))

	frame := make([]byte, 0, writeHeaderLen+len(padded)+crcLen)
	frame = append(frame,
		cb.address,
		FunctionWriteBlock,
		byte(blockID>>8), byte(blockID&0xFF),
		byte(regs>>8), byte(regs&0xFF),
		byte(len(padded)>>8), byte(len(padded)&0xFF),
	)
	frame = append(frame, padded...)
	return cb.appendCRC(frame), nil
}

func (cb *CommandBuilder) appendCRC(frame []byte) []byte {
	crc := crc16.Checksum(frame, cb.crcTable)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

// ValidateCommand checks the length and CRC of a frame.
func (cb *CommandBuilder) ValidateCommand(data []byte) error {
	if len(data) < 2+crcLen {
		return fmt.Errorf("frame too short: %d bytes", len(data))
	}

	dataPart := data[:len(data)-crcLen]
	receivedCRC := uint16(data[len(data)-2]) | uint16(data[len(data)-1])<<8
	calculatedCRC := crc16.Checksum(dataPart, cb.crcTable)
	if receivedCRC != calculatedCRC {
		return fmt.Errorf("%w: frame has 0x%04X, computed 0x%04X", ErrCRCMismatch, receivedCRC, calculatedCRC)
	}
	return nil
}

// CommandInfo extracts basic information from a request frame.
type CommandInfo struct {
	Address   byte
	Function  uint8
	BlockID   uint16
	Registers int
	IsValid   bool
}

// ParseCommandInfo extracts request information without validating the CRC.
func (cb *CommandBuilder) ParseCommandInfo(data []byte) *CommandInfo {
	if len(data) < 6 {
		return &CommandInfo{IsValid: false}
	}

	return &CommandInfo{
		Address:   data[0],
		Function:  data[1],
		BlockID:   uint16(data[2])<<8 | uint16(data[3]),
		Registers: int(data[4])<<8 | int(data[5]),
		IsValid:   data[1] == FunctionReadBlock || data[1] == FunctionWriteBlock,
	}
}

// FormatCommandHex returns a hex representation of command data for logging.
func FormatCommandHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return hex.EncodeToString(data)
}
