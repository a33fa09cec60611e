package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	fc := NewFormatConverter()

	tests := []struct {
		input   string
		want    FormatType
		wantErr bool
	}{
		{"", FormatHex, false},
		{"hex", FormatHex, false},
		{" Base64 ", FormatBase64, false},
		{"BINARY", FormatBinary, false},
		{"json", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := fc.ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, fc.IsValidFormat(tt.input))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, fc.IsValidFormat(tt.input))
		})
	}
}

func TestDecodeHexVariants(t *testing.T) {
	fc := NewFormatConverter()
	want := []byte{0x07, 0xd5, 0x00, 0x02}

	for _, in := range []string{"07d50002", "0x07D50002", "07 d5 00 02\n", "07:d5:00:02", "07-d5-00-02"} {
		got, err := fc.Decode([]byte(in), FormatHex)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := fc.Decode([]byte("07d"), FormatHex)
	assert.ErrorContains(t, err, "odd length")

	_, err = fc.Decode([]byte("zz"), FormatHex)
	assert.ErrorContains(t, err, "invalid hex payload")
}

func TestDecodeBase64AndBinary(t *testing.T) {
	fc := NewFormatConverter()

	got, err := fc.Decode([]byte("B9UAAg==\n"), FormatBase64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07, 0xd5, 0x00, 0x02}, got)

	_, err = fc.Decode([]byte("not base64!"), FormatBase64)
	assert.Error(t, err)

	body := []byte{0x01, 0x02}
	got, err = fc.Decode(body, FormatBinary)
	require.NoError(t, err)
	body[0] = 0xff
	assert.Equal(t, []byte{0x01, 0x02}, got)
}

func TestEncodeFormats(t *testing.T) {
	fc := NewFormatConverter()
	data := []byte{0x07, 0xd5, 0x00, 0x02}

	s, err := fc.Encode(data, FormatHex)
	require.NoError(t, err)
	assert.Equal(t, "07d50002", s)

	s, err = fc.Encode(data, FormatBase64)
	require.NoError(t, err)
	assert.Equal(t, "B9UAAg==", s)

	_, err = fc.Encode(data, FormatBinary)
	assert.Error(t, err)
}
