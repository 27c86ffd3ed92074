package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		class     ErrorClass
		code      string
		retryable bool
	}{
		{ErrSelfBooking, ClassValidation, "SELF_BOOKING_FORBIDDEN", false},
		{fmt.Errorf("resolve: %w", ErrInsufficientSeats), ClassConflict, "INSUFFICIENT_SEATS", false},
		{ErrDuplicateRequest, ClassConflict, "DUPLICATE_REQUEST", false},
		{ErrConcurrentUpdate, ClassConflict, "CONCURRENT_UPDATE", true},
		{ErrBookingNotFound, ClassNotFound, "NOT_FOUND", false},
		{ErrNotOwner, ClassForbidden, "NOT_OWNER", false},
		{errors.New("connection reset"), ClassInternal, "INTERNAL", true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := Classify(tt.err)
			assert.Equal(t, tt.class, c.Class)
			assert.Equal(t, tt.code, c.Code)
			assert.Equal(t, tt.retryable, c.Retryable)
		})
	}
}
