package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
	}{
		{"created", StatusCreated},
		{"inProgress", StatusInProgress},
		{"in_progress", StatusInProgress},
		{"In Progress", StatusInProgress},
		{"COMPLETED", StatusCompleted},
		{"failed", StatusUnknown},
		{"skipped", StatusUnknown},
		{"canceled", StatusUnknown},
		{"", StatusUnknown},
		{"onHold", StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseStatus(tt.raw))
		})
	}
}

func TestStatus_JSONMapKey(t *testing.T) {
	counts := map[Status]int{StatusCreated: 2, StatusUnknown: 1}
	data, err := json.Marshal(counts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"created":2,"unknown":1}`, string(data))

	var back map[Status]int
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, counts, back)
}

func TestTask_Open(t *testing.T) {
	assert.True(t, Task{Status: StatusCreated}.Open())
	assert.True(t, Task{Status: StatusUnknown}.Open())
	assert.False(t, Task{Status: StatusCompleted}.Open())
}
