package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsConcurrencyConflict(t *testing.T) {
	assert.True(t, IsConcurrencyConflict(&pq.Error{Code: "40001"}))
	assert.True(t, IsConcurrencyConflict(fmt.Errorf("lock parents: %w", &pq.Error{Code: "40P01"})))
	assert.False(t, IsConcurrencyConflict(&pq.Error{Code: "23505"}))
	assert.False(t, IsConcurrencyConflict(errors.New("connection reset")))
	assert.False(t, IsConcurrencyConflict(nil))
}
