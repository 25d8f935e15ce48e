package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchErrorMatchesBothKinds(t *testing.T) {
	cause := fmt.Errorf("insert: %w", ErrStoreUnavailable)
	err := fmt.Errorf("add documents: %w", &BatchError{Size: 2, Err: cause})

	assert.True(t, errors.Is(err, ErrPartialBatch))
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "batch of 2 documents rolled back")

	var batchErr *BatchError
	assert.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 2, batchErr.Size)
}

func TestValidationf(t *testing.T) {
	err := Validationf("limit must be positive, got %d", -1)

	assert.True(t, IsClientError(err))
	assert.Equal(t, "validation error: limit must be positive, got -1", err.Error())
	assert.False(t, IsClientError(ErrModelLoad))
}
