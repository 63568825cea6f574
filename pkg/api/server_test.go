package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/amelia-dev/amelia/pkg/orchestrator"
)

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "single", in: "blocked", want: []string{"blocked"}},
		{name: "multiple", in: "blocked,failed,completed", want: []string{"blocked", "failed", "completed"}},
		{name: "trailing comma ignored", in: "blocked,", want: []string{"blocked"}},
		{name: "leading comma ignored", in: ",blocked", want: []string{"blocked"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitCSV(tt.in))
		})
	}
}

func TestToWorkflowResponse(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	wf := &orchestrator.Workflow{
		ID:              "wf-1",
		IssueID:         "issue-1",
		WorktreePath:    "/repos/wf-1",
		ProfileID:       "default",
		WorkflowType:    "standard",
		Status:          orchestrator.StatusBlocked,
		ReviewIteration: 2,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	resp := toWorkflowResponse(wf)

	assert.Equal(t, wf.ID, resp.ID)
	assert.Equal(t, wf.IssueID, resp.IssueID)
	assert.Equal(t, string(orchestrator.StatusBlocked), resp.Status)
	assert.Equal(t, 2, resp.ReviewIteration)
	assert.Nil(t, resp.StartedAt)
	assert.Nil(t, resp.CompletedAt)
}
