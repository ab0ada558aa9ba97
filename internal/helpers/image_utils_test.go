package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsJPEGData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"valid_jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, true},
		{"png_magic", []byte{0x89, 0x50, 0x4E, 0x47}, false},
		{"empty", nil, false},
		{"single_byte", []byte{0xFF}, false},
		{"minimal_jpeg", []byte{0xFF, 0xD8}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsJPEGData(tt.data))
		})
	}
}
