package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sigurn/crc16"
)

// ErrCRCMismatch is returned for frames whose checksum does not match.
var ErrCRCMismatch = errors.New("crc mismatch")

// ExceptionError is a device exception response.
type ExceptionError struct {
	Function uint8
	Code     uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("device exception 0x%02X for function 0x%02X", e.Code, e.Function)
}

// Response is a parsed device response frame.
type Response struct {
	Address   byte
	Function  uint8
	BlockID   uint16 // write responses only
	Registers int    // write responses only
	Payload   []byte // read responses only
	Timestamp time.Time
}

// ResponseHandler parses response frames.
type ResponseHandler struct {
	crcTable *crc16.Table
}

// NewResponseHandler creates a new response handler instance.
func NewResponseHandler() *ResponseHandler {
	return &ResponseHandler{crcTable: newCRCTable()}
}

// ProcessIncomingData validates a response frame and extracts its content.
// The returned payload is a copy.
func (rh *ResponseHandler) ProcessIncomingData(data []byte) (*Response, error) {
	if len(data) < 3+crcLen {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}

	body := data[:len(data)-crcLen]
	receivedCRC := uint16(data[len(data)-2]) | uint16(data[len(data)-1])<<8
	if calculated := crc16.Checksum(body, rh.crcTable); receivedCRC != calculated {
		return nil, fmt.Errorf("%w: frame has 0x%04X, computed 0x%04X", ErrCRCMismatch, receivedCRC, calculated)
	}

	resp := &Response{
		Address:   body[0],
		Function:  body[1],
		Timestamp: time.Now(),
	}

	if resp.Function&exceptionBit != 0 {
		return nil, &ExceptionError{Function: resp.Function &^ exceptionBit, Code: body[2]}
	}

	switch resp.Function {
	case FunctionReadBlock:
		if len(body) < 4 {
			return nil, fmt.Errorf("read response too short: %d bytes", len(data))
		}
		count := int(body[2])<<8 | int(body[3])
		if len(body)-4 != count {
			return nil, fmt.Errorf("read response declares %d bytes, carries %d", count, len(body)-4)
		}
		resp.Payload = append([]byte(nil), body[4:]...)

	case FunctionWriteBlock:
		if len(body) != 6 {
			return nil, fmt.Errorf("write response has %d bytes, want 8", len(data))
		}
		resp.BlockID = uint16(body[2])<<8 | uint16(body[3])
		resp.Registers = int(body[4])<<8 | int(body[5])

	default:
		return nil, fmt.Errorf("unexpected function 0x%02X", resp.Function)
	}
	return resp, nil
}

// BuildReadResponse frames a read response carrying payload. Device simulators
// and tests use it.
func (rh *ResponseHandler) BuildReadResponse(address byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadLength {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(payload), maxPayloadLength)
	}
	frame := make([]byte, 0, 4+len(payload)+crcLen)
	frame = append(frame, address, FunctionReadBlock, byte(len(payload)>>8), byte(len(payload)&0xFF))
	frame = append(frame, payload...)
	crc := crc16.Checksum(frame, rh.crcTable)
	return append(frame, byte(crc&0xFF), byte(crc>>8)), nil
}

// ResponseMetrics holds counters for processed responses.
type ResponseMetrics struct {
	TotalResponses   int64
	ReadResponses    int64
	WriteResponses   int64
	CRCErrors        int64
	Exceptions       int64
	ErrorResponses   int64
	LastResponseTime time.Time
}

// ResponseManager processes responses and keeps metrics.
type ResponseManager struct {
	handler *ResponseHandler
	mu      sync.Mutex
	metrics ResponseMetrics
}

// NewResponseManager creates a new response manager instance.
func NewResponseManager() *ResponseManager {
	return &ResponseManager{handler: NewResponseHandler()}
}

// HandleIncomingData processes a response frame and updates the metrics.
func (rm *ResponseManager) HandleIncomingData(data []byte) (*Response, error) {
	response, err := rm.handler.ProcessIncomingData(data)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.metrics.LastResponseTime = time.Now()
	rm.metrics.TotalResponses++

	if err != nil {
		rm.metrics.ErrorResponses++
		var exc *ExceptionError
		switch {
		case errors.Is(err, ErrCRCMismatch):
			rm.metrics.CRCErrors++
		case errors.As(err, &exc):
			rm.metrics.Exceptions++
		}
		return nil, err
	}

	switch response.Function {
	case FunctionReadBlock:
		rm.metrics.ReadResponses++
	case FunctionWriteBlock:
		rm.metrics.WriteResponses++
	}
	return response, nil
}

// GetMetrics returns current response metrics.
func (rm *ResponseManager) GetMetrics() ResponseMetrics {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.metrics
}

// FormatResponse returns a hex representation of response data for logging.
func FormatResponse(response *Response) string {
	if response == nil || len(response.Payload) == 0 {
		return ""
	}
	return hex.EncodeToString(response.Payload)
}
