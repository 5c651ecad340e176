package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "format", err: fmt.Errorf("open: %w", ErrFormat), want: "format error"},
		{name: "no debug info", err: fmt.Errorf("x: %w", ErrNoDebugInfo), want: "no debug info"},
		{name: "truncated", err: fmt.Errorf("unit header: %w", ErrTruncated), want: "truncated data"},
		{name: "abbrev", err: &UnitError{Unit: 1, Err: ErrCorruptAbbrev}, want: "corrupt abbreviation"},
		{name: "unit", err: &UnitError{Unit: 2, Err: ErrCorruptUnit}, want: "corrupt unit"},
		{name: "config", err: fmt.Errorf("jobs: %w", ErrConfig), want: "configuration error"},
		{name: "other", err: errors.New("disk on fire"), want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestFatal(t *testing.T) {
	assert.False(t, Fatal(nil))
	assert.True(t, Fatal(ErrFormat))
	assert.True(t, Fatal(fmt.Errorf("wrapped: %w", ErrTruncated)))
	assert.True(t, Fatal(ErrNoDebugInfo))
	assert.False(t, Fatal(&UnitError{Unit: 0, Err: ErrCorruptAbbrev}))
	assert.False(t, Fatal(fmt.Errorf("decode: %w", ErrCorruptUnit)))
}

func TestUnitError(t *testing.T) {
	err := &UnitError{Unit: 3, Offset: 0x40, Err: fmt.Errorf("code 9: %w", ErrCorruptAbbrev)}

	assert.Equal(t, "unit 3 at 0x40: code 9: corrupt abbreviation", err.Error())
	assert.ErrorIs(t, err, ErrCorruptAbbrev)
}
