package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsValid(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := New()
		assert.Len(t, id, Length)
		assert.True(t, Valid(id), "generated id %q should be valid", id)
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		assert.False(t, seen[id], "collision on %q", id)
		seen[id] = true
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid lowercase hex", "a1b2c3d4e5f60718", true},
		{"too short", "a1b2c3d4e5f6071", false},
		{"too long", "a1b2c3d4e5f607189", false},
		{"uppercase not allowed", "A1B2C3D4E5F60718", false},
		{"non-hex characters", "g1b2c3d4e5f60718", false},
		{"empty string", "", false},
		{"all zeros is still valid shape", "0000000000000000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.id))
		})
	}
}
