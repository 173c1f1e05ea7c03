package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorClassSerialization, ClassifyError(&pq.Error{Code: "40001"}))
	assert.Equal(t, ErrorClassDeadlock, ClassifyError(&pq.Error{Code: "40P01"}))
	assert.Equal(t, ErrorClassTransient, ClassifyError(&pq.Error{Code: "55P03"}))
	assert.Equal(t, ErrorClassPermanent, ClassifyError(&pq.Error{Code: "23505"}))
	assert.Equal(t, ErrorClassPermanent, ClassifyError(sql.ErrNoRows))
	assert.Equal(t, ErrorClassPermanent, ClassifyError(nil))
}

func TestClassifyErrorUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("upsert shop_kv: %w", &pq.Error{Code: "40P01"})
	assert.Equal(t, ErrorClassDeadlock, ClassifyError(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(&pq.Error{Code: "40P01"}))
	assert.True(t, IsRetryable(&pq.Error{Code: "55P03"}))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}
