package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAssignsIDAndDeadline(t *testing.T) {
	deadline := time.Now().Add(time.Second)
	tsk, cancel := New(context.Background(), deadline, &Message{}, Envelope{}, Settings{})
	defer cancel()

	assert.NotEmpty(t, tsk.ID)
	assert.NotEqual(t, 0, tsk.CorrelationID.Version())
	assert.Equal(t, deadline, tsk.Deadline)

	select {
	case <-tsk.Context().Done():
		t.Fatal("context should not be done immediately")
	default:
	}
}

func TestSettingsAllows(t *testing.T) {
	s := Settings{AllowedIDs: []string{"A", "B"}, ForbiddenIDs: []string{"B"}}
	assert.True(t, s.Allows("A"))
	assert.False(t, s.Allows("B"), "forbidden wins over allowed")
	assert.False(t, s.Allows("C"), "not in a non-empty allow list")
}

func TestSettingsAllowsEmptyAllowList(t *testing.T) {
	s := Settings{ForbiddenIDs: []string{"X"}}
	assert.True(t, s.Allows("anything"), "empty allow list means everything not forbidden is allowed")
	assert.False(t, s.Allows("X"))
}

func TestSettingsExplicitlyAllows(t *testing.T) {
	s := Settings{ExplicitlyEnabled: []string{"RARE_SYMBOL"}}
	assert.True(t, s.ExplicitlyAllows("RARE_SYMBOL"))
	assert.False(t, s.ExplicitlyAllows("OTHER"))
}

func TestMessageHeaderCaseSensitiveMapLookup(t *testing.T) {
	m := &Message{Headers: map[string][]string{"subject": {"hello", "world"}}}
	v, ok := m.Header("subject")
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	_, ok = m.Header("missing")
	assert.False(t, ok)
}
