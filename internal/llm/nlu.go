package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// BookingFields is the structured extraction returned alongside a booking
// intent. Every field is optional; absent fields come back empty.
type BookingFields struct {
	Action  string `json:"action"`
	Service string `json:"service"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
}

// Analysis is the unified classification result for one caller utterance.
type Analysis struct {
	Intent  string        `json:"intent"`
	Booking BookingFields `json:"booking"`
}

const nluSystemPrompt = `You classify a caller utterance from a phone call with a business and extract booking details.
Respond with a single JSON object: {"intent": "...", "booking": {"action": "", "service": "", "date": "", "time": "", "name": "", "phone": ""}}.
intent must be exactly one of: booking, inquiry, search, greeting, goodbye, unknown.
Fill booking fields only when the caller states them; use "" for anything not mentioned. Dates are YYYY-MM-DD, times are HH:MM in 24-hour form.
booking.action is one of "schedule", "cancel", "info" or "" when not a booking turn.`

// AnalyzeUtterance runs the unified intent classification + booking
// extraction call. services lists the business's bookable service names so
// the extractor can normalize what the caller said.
func (c *Client) AnalyzeUtterance(ctx context.Context, utterance string, recent []Message, services []string) (Analysis, error) {
	var sb strings.Builder
	if len(services) > 0 {
		sb.WriteString("Bookable services: ")
		sb.WriteString(strings.Join(services, ", "))
		sb.WriteString("\n")
	}
	if len(recent) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, m := range recent {
			sb.WriteString(m.Role)
			sb.WriteString(": ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("Caller utterance: ")
	sb.WriteString(utterance)

	raw, err := c.CompleteJSON(ctx, []Message{
		{Role: "system", Content: nluSystemPrompt},
		{Role: "user", Content: sb.String()},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze utterance: %w", err)
	}
	return ParseAnalysis(raw)
}

// ParseAnalysis decodes the NLU JSON payload. It tolerates code fences around
// the object but rejects anything that is not valid JSON.
func ParseAnalysis(raw string) (Analysis, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	var a Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &a); err != nil {
		return Analysis{}, fmt.Errorf("parse nlu response: %w", err)
	}
	a.Intent = strings.ToLower(strings.TrimSpace(a.Intent))
	return a, nil
}
