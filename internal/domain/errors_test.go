package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{NotFoundError{Resource: "tour", ID: int64(7)}, KindNotFound},
		{fmt.Errorf("wrap: %w", ValidationError{Field: "date", Msg: "bad"}), KindValidation},
		{CapacityExceededError{Remaining: 10}, KindCapacityExceeded},
		{NothingToSettleError{MerchantID: 1}, KindNothingToSettle},
		{ConflictError{Resource: "booking"}, KindConflict},
		{PersistenceError{Op: "insert booking", Err: errors.New("disk")}, KindPersistence},
		{errors.New("boom"), KindPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.kind, Kind(tt.err))
		})
	}
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "tour 7 not found", NotFoundError{Resource: "tour", ID: int64(7)}.Error())
	assert.Equal(t, "settlement not found", NotFoundError{Resource: "settlement"}.Error())
	assert.Equal(t, "guests: must be at least 1", ValidationError{Field: "guests", Msg: "must be at least 1"}.Error())
	assert.Equal(t, "tour 3 on 2025-06-01 has 10 spots left, 15 requested",
		CapacityExceededError{TourID: 3, Date: "2025-06-01", Requested: 15, Remaining: 10}.Error())
	assert.Equal(t, "booking conflict: version changed", ConflictError{Resource: "booking", Msg: "version changed"}.Error())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ConflictError{}))
	assert.True(t, IsRetryable(PersistenceError{Transient: true, Err: context.DeadlineExceeded}))
	assert.False(t, IsRetryable(PersistenceError{Err: errors.New("disk full")}))
	assert.False(t, IsRetryable(ValidationError{}))

	var capErr CapacityExceededError
	assert.True(t, errors.As(fmt.Errorf("admit: %w", CapacityExceededError{Remaining: 3}), &capErr))
	assert.Equal(t, 3, capErr.Remaining)
}
