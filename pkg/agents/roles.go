package agents

import (
	"encoding/json"
	"fmt"
)

// System prompts, one per role (§4.7). Kept as plain constants: the spec
// treats prompt template storage as out of scope (§1), so these are the
// minimal role framing the state machine needs, not a templating system.
const (
	ArchitectSystemPrompt = "You are the Architect. Produce a markdown implementation plan for the given issue. " +
		"Respond with a single JSON object: {goal, markdown_path, markdown_content, key_files}."
	DeveloperSystemPrompt = "You are the Developer. Execute the approved plan using the available filesystem tools. " +
		"Respond with a short textual summary of the changes you made."
	ReviewerSystemPrompt = "You are the Reviewer. Verify the Developer's changes meet the plan. " +
		"Respond with a single JSON object: {approved, feedback}."
)

// PlanOutput is the Architect's terminal structured result (§4.3 node 1,
// §4.7).
type PlanOutput struct {
	Goal            string   `json:"goal"`
	MarkdownPath    string   `json:"markdown_path"`
	MarkdownContent string   `json:"markdown_content"`
	KeyFiles        []string `json:"key_files"`
}

// ParsePlanOutput parses an Architect's terminal FinalText as PlanOutput.
func ParsePlanOutput(finalText string) (*PlanOutput, error) {
	var out PlanOutput
	if err := json.Unmarshal([]byte(finalText), &out); err != nil {
		return nil, fmt.Errorf("agents: parse plan output: %w", err)
	}
	return &out, nil
}

// ReviewVerdict is the Reviewer's terminal structured result (§4.3 node 4,
// §4.7).
type ReviewVerdict struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// ParseReviewVerdict parses a Reviewer's terminal FinalText as ReviewVerdict.
func ParseReviewVerdict(finalText string) (*ReviewVerdict, error) {
	var out ReviewVerdict
	if err := json.Unmarshal([]byte(finalText), &out); err != nil {
		return nil, fmt.Errorf("agents: parse review verdict: %w", err)
	}
	return &out, nil
}
