package tools

import (
	"context"
	"fmt"
	"time"
)

// ClockTool reports the current time, optionally in a named zone.
type ClockTool struct{}

func NewClockTool() *ClockTool { return &ClockTool{} }

func (t *ClockTool) Name() string { return "clock" }

func (t *ClockTool) Description() string {
	return "Get the current date and time. Optionally pass an IANA timezone name."
}

func (t *ClockTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone name, e.g. Europe/Berlin. Defaults to UTC.",
			},
		},
	}
}

func (t *ClockTool) Execute(_ context.Context, args map[string]interface{}) *ToolResult {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return ErrorResult(fmt.Sprintf("unknown timezone %q", tz)).WithError(err)
		}
		loc = parsed
	}
	now := time.Now().In(loc)
	return SuccessResult(fmt.Sprintf("Current time: %s (%s)", now.Format("2006-01-02 15:04:05 MST"), loc.String()))
}
