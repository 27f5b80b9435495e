package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	err := NewConfigError("duplicate name", "RBL_SPAMHAUS", inner)

	assert.Contains(t, err.Error(), "RBL_SPAMHAUS")
	assert.True(t, errors.Is(err, inner))
}

func TestSchedulerTimeoutErrorMessage(t *testing.T) {
	err := &SchedulerTimeoutError{Symbol: "SLOW", After: "100ms"}
	assert.Equal(t, `symbol "SLOW" timed out after 100ms`, err.Error())
}

func TestCompositeIterationExceededError(t *testing.T) {
	err := &CompositeIterationExceededError{Phase: "first-pass", Cap: 32}
	assert.Contains(t, err.Error(), "32")
}

func TestMapLoadErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("disk full")
	err := &MapLoadError{Path: "/etc/m.map", Err: inner}
	require.True(t, errors.Is(err, inner))
}
