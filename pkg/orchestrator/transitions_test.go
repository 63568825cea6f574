package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{name: "pending to planning allowed", from: StatusPending, to: StatusPlanning, wantErr: false},
		{name: "pending to in_progress allowed (adhoc)", from: StatusPending, to: StatusInProgress, wantErr: false},
		{name: "planning to blocked allowed", from: StatusPlanning, to: StatusBlocked, wantErr: false},
		{name: "blocked to in_progress allowed (approve)", from: StatusBlocked, to: StatusInProgress, wantErr: false},
		{name: "blocked to failed allowed (reject)", from: StatusBlocked, to: StatusFailed, wantErr: false},
		{name: "in_progress to blocked allowed (review loop)", from: StatusInProgress, to: StatusBlocked, wantErr: false},
		{name: "in_progress to completed allowed", from: StatusInProgress, to: StatusCompleted, wantErr: false},
		{name: "completed is terminal", from: StatusCompleted, to: StatusInProgress, wantErr: true},
		{name: "failed is terminal", from: StatusFailed, to: StatusPlanning, wantErr: true},
		{name: "cancelled is terminal", from: StatusCancelled, to: StatusPending, wantErr: true},
		{name: "pending cannot skip to completed", from: StatusPending, to: StatusCompleted, wantErr: true},
		{name: "blocked cannot go straight to completed", from: StatusBlocked, to: StatusCompleted, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
				kind, ok := AsKind(err)
				assert.True(t, ok)
				assert.Equal(t, KindInvalidTransition, kind)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsTerminalIsActive(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		assert.True(t, IsTerminal(s), s)
		assert.False(t, IsActive(s), s)
	}

	active := []Status{StatusPlanning, StatusInProgress, StatusBlocked}
	for _, s := range active {
		assert.False(t, IsTerminal(s), s)
		assert.True(t, IsActive(s), s)
	}

	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsActive(StatusPending))
}
