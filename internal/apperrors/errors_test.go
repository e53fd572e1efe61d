package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDomain(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "wrapped not found", err: fmt.Errorf("%w: group g1", ErrNotFound), want: true},
		{name: "double wrapped", err: fmt.Errorf("join: %w", fmt.Errorf("%w: group g1", ErrFull)), want: true},
		{name: "invalid input", err: fmt.Errorf("%w: minMembers", ErrInvalidInput), want: true},
		{name: "plain error", err: errors.New("connection reset by peer"), want: false},
		{name: "context error", err: context.Canceled, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDomain(tt.err))
		})
	}
}
