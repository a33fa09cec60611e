package api

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatType is the encoding of a payload in a request or response body.
type FormatType string

const (
	FormatHex    FormatType = "hex"
	FormatBase64 FormatType = "base64"
	FormatBinary FormatType = "binary"
)

// FormatConverter converts block payloads between their wire bytes and the
// textual forms accepted by the API.
type FormatConverter struct{}

// NewFormatConverter creates a new format converter instance.
func NewFormatConverter() *FormatConverter {
	return &FormatConverter{}
}

// ParseFormat returns the format named by s; empty selects hex.
func (fc *FormatConverter) ParseFormat(s string) (FormatType, error) {
	switch f := FormatType(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return fc.GetDefaultFormat(), nil
	case FormatHex, FormatBase64, FormatBinary:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format specified: %s (supported: hex, base64, binary)", s)
	}
}

// IsValidFormat checks if the given format is supported.
func (fc *FormatConverter) IsValidFormat(format string) bool {
	_, err := fc.ParseFormat(format)
	return err == nil
}

// GetDefaultFormat returns the format used when a request names none.
func (fc *FormatConverter) GetDefaultFormat() FormatType {
	return FormatHex
}

// Decode turns a request body into payload bytes.
func (fc *FormatConverter) Decode(body []byte, format FormatType) ([]byte, error) {
	switch format {
	case FormatHex:
		return fc.hexToBytes(string(body))
	case FormatBase64:
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(body)))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
		return data, nil
	case FormatBinary:
		return append([]byte(nil), body...), nil
	default:
		return nil, fmt.Errorf("unsupported input format: %s", format)
	}
}

// Encode renders payload bytes in a textual format.
func (fc *FormatConverter) Encode(data []byte, format FormatType) (string, error) {
	switch format {
	case FormatHex:
		return hex.EncodeToString(data), nil
	case FormatBase64:
		return base64.StdEncoding.EncodeToString(data), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// hexToBytes accepts an optional 0x prefix and ignores whitespace, colons and
// dashes between digits.
func (fc *FormatConverter) hexToBytes(hexValue string) ([]byte, error) {
	s := strings.TrimSpace(hexValue)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':', '-':
			return -1
		}
		return r
	}, s)

	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hex payload has odd length %d", len(s))
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return data, nil
}
