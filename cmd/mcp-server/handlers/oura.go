package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pulseworks/oura-mcp/internal/oauth"
	"github.com/pulseworks/oura-mcp/internal/oura"
	"github.com/pulseworks/oura-mcp/pkg/mcp"
)

// heartRateMaxPoints caps how many raw samples a tool result carries.
const heartRateMaxPoints = 500

// ouraAPI is the slice of the Oura client the tools need.
type ouraAPI interface {
	GetSleep(ctx context.Context, startDate, endDate string) ([]oura.SleepSession, error)
	GetDailyActivity(ctx context.Context, startDate, endDate string) ([]oura.DailyActivity, error)
	GetDailyReadiness(ctx context.Context, startDate, endDate string) ([]oura.DailyReadiness, error)
	GetHeartRate(ctx context.Context, startDatetime, endDatetime string) ([]oura.HeartRateSample, error)
	GetDailyStress(ctx context.Context, day string) ([]oura.DailyStress, error)
	GetDailyResilience(ctx context.Context, day string) ([]oura.DailyResilience, error)
	GetPersonalInfo(ctx context.Context) (*oura.PersonalInfo, error)
}

// OuraHandler serves the Oura MCP tools. Each call resolves the calling
// user's stored Oura credential and queries the Oura API with it.
type OuraHandler struct {
	manager   *oauth.Manager
	newClient func(token string) ouraAPI
}

// NewOuraHandler creates a new Oura tool handler.
func NewOuraHandler(manager *oauth.Manager) *OuraHandler {
	return &OuraHandler{
		manager: manager,
		newClient: func(token string) ouraAPI {
			return oura.NewClient(token)
		},
	}
}

// ListTools returns the Oura tool definitions.
func (h *OuraHandler) ListTools() []mcp.Tool {
	dateProp := func(desc string) map[string]any {
		return map[string]any{
			"type":        "string",
			"description": desc,
		}
	}

	return []mcp.Tool{
		{
			Name:        "get_sleep_data",
			Description: "Get sleep sessions for a date range, including duration, stages, and efficiency",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start_date": dateProp("Start date (YYYY-MM-DD)"),
					"end_date":   dateProp("End date (YYYY-MM-DD), defaults to start_date"),
				},
				"required": []string{"start_date"},
			},
		},
		{
			Name:        "get_activity_data",
			Description: "Get daily activity summaries: score, steps, calories, and activity time",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start_date": dateProp("Start date (YYYY-MM-DD)"),
					"end_date":   dateProp("End date (YYYY-MM-DD), defaults to start_date"),
				},
				"required": []string{"start_date"},
			},
		},
		{
			Name:        "get_readiness_data",
			Description: "Get daily readiness scores with contributor breakdown",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start_date": dateProp("Start date (YYYY-MM-DD)"),
					"end_date":   dateProp("End date (YYYY-MM-DD), defaults to start_date"),
				},
				"required": []string{"start_date"},
			},
		},
		{
			Name:        "get_heart_rate_data",
			Description: "Get heart rate samples for a datetime range with summary statistics",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start_datetime": dateProp("Start datetime (ISO 8601)"),
					"end_datetime":   dateProp("End datetime (ISO 8601)"),
				},
				"required": []string{"start_datetime"},
			},
		},
		{
			Name:        "get_stress_resilience",
			Description: "Get daytime stress and resilience metrics for a single day",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date": dateProp("Day to query (YYYY-MM-DD)"),
				},
				"required": []string{"date"},
			},
		},
		{
			Name:        "get_personal_info",
			Description: "Get the connected user's Oura profile: age, weight, height, and biological sex",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// HandleTool dispatches a tool call for the authenticated user.
func (h *OuraHandler) HandleTool(ctx context.Context, call mcp.ToolCall, userID string) (mcp.ToolResult, error) {
	userToken, found, err := h.manager.ResolveUserToken(ctx, userID)
	if err != nil {
		return mcp.ToolResult{}, fmt.Errorf("resolving Oura credential: %w", err)
	}
	if !found {
		return mcp.ErrorResult("No Oura account is connected for this user. Re-authorize to connect one."), nil
	}

	client := h.newClient(userToken.OuraToken)

	switch call.Name {
	case "get_sleep_data":
		return h.sleepData(ctx, client, call)
	case "get_activity_data":
		return h.activityData(ctx, client, call)
	case "get_readiness_data":
		return h.readinessData(ctx, client, call)
	case "get_heart_rate_data":
		return h.heartRateData(ctx, client, call)
	case "get_stress_resilience":
		return h.stressResilience(ctx, client, call)
	case "get_personal_info":
		return h.personalInfo(ctx, client)
	default:
		return mcp.ErrorResult(fmt.Sprintf("Unknown tool: %s", call.Name)), nil
	}
}

func (h *OuraHandler) sleepData(ctx context.Context, client ouraAPI, call mcp.ToolCall) (mcp.ToolResult, error) {
	start, end, result, ok := dateRangeArgs(call)
	if !ok {
		return result, nil
	}

	sessions, err := client.GetSleep(ctx, start, end)
	if err != nil {
		return apiError(err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d sleep session(s) from %s to %s", len(sessions), start, end)
	for _, s := range sessions {
		fmt.Fprintf(&sb, "\n%s: %s asleep (%s REM, %s deep), efficiency %.0f%%",
			s.Day,
			oura.FormatDuration(s.TotalSleepDuration),
			oura.FormatDuration(s.REMSleepDuration),
			oura.FormatDuration(s.DeepSleepDuration),
			s.SleepEfficiency)
		if s.Score != nil {
			fmt.Fprintf(&sb, ", score %d", s.Score.Total)
		}
	}

	result = mcp.TextResult(sb.String())
	result.StructuredContent = map[string]any{"sessions": sessions}
	return result, nil
}

func (h *OuraHandler) activityData(ctx context.Context, client ouraAPI, call mcp.ToolCall) (mcp.ToolResult, error) {
	start, end, result, ok := dateRangeArgs(call)
	if !ok {
		return result, nil
	}

	days, err := client.GetDailyActivity(ctx, start, end)
	if err != nil {
		return apiError(err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d day(s) of activity from %s to %s", len(days), start, end)
	for _, d := range days {
		fmt.Fprintf(&sb, "\n%s: score %d, %d steps, %d active kcal, %s active time",
			d.Day, d.Score, d.Steps, d.ActiveCalories,
			oura.FormatDuration(d.HighActivityTime+d.MediumActivityTime+d.LowActivityTime))
	}

	result = mcp.TextResult(sb.String())
	result.StructuredContent = map[string]any{"days": days}
	return result, nil
}

func (h *OuraHandler) readinessData(ctx context.Context, client ouraAPI, call mcp.ToolCall) (mcp.ToolResult, error) {
	start, end, result, ok := dateRangeArgs(call)
	if !ok {
		return result, nil
	}

	days, err := client.GetDailyReadiness(ctx, start, end)
	if err != nil {
		return apiError(err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d day(s) of readiness from %s to %s", len(days), start, end)
	for _, d := range days {
		fmt.Fprintf(&sb, "\n%s: readiness %d (HRV balance %d, recovery index %d, sleep balance %d)",
			d.Day, d.Score, d.Contributors.HRVBalance, d.Contributors.RecoveryIndex,
			d.Contributors.SleepBalance)
	}

	result = mcp.TextResult(sb.String())
	result.StructuredContent = map[string]any{"days": days}
	return result, nil
}

func (h *OuraHandler) heartRateData(ctx context.Context, client ouraAPI, call mcp.ToolCall) (mcp.ToolResult, error) {
	start := stringArg(call, "start_datetime")
	if start == "" {
		return mcp.ErrorResult("start_datetime is required"), nil
	}
	end := stringArg(call, "end_datetime")

	samples, err := client.GetHeartRate(ctx, start, end)
	if err != nil {
		return apiError(err)
	}

	stats := oura.SummarizeHeartRate(samples)
	text := fmt.Sprintf("%d heart rate sample(s): average %.1f bpm, range %d-%d bpm",
		stats.Count, stats.AverageBPM, stats.MinBPM, stats.MaxBPM)

	result := mcp.TextResult(text)
	result.StructuredContent = map[string]any{
		"stats":   stats,
		"samples": oura.Downsample(samples, heartRateMaxPoints),
	}
	return result, nil
}

func (h *OuraHandler) stressResilience(ctx context.Context, client ouraAPI, call mcp.ToolCall) (mcp.ToolResult, error) {
	day := stringArg(call, "date")
	if day == "" {
		return mcp.ErrorResult("date is required"), nil
	}
	if err := oura.ValidateDate(day); err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	stress, err := client.GetDailyStress(ctx, day)
	if err != nil {
		return apiError(err)
	}
	resilience, err := client.GetDailyResilience(ctx, day)
	if err != nil {
		return apiError(err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Stress and resilience for %s", day)
	for _, s := range stress {
		ratio := "n/a"
		if s.StressHigh > 0 {
			ratio = fmt.Sprintf("%.2f", float64(s.RecoveryHigh)/float64(s.StressHigh))
		}
		fmt.Fprintf(&sb, "\nStress: %s, Recovery: %s (recovery/stress ratio %s), summary: %s",
			oura.FormatDuration(s.StressHigh), oura.FormatDuration(s.RecoveryHigh), ratio, s.DaySummary)
	}
	for _, r := range resilience {
		fmt.Fprintf(&sb, "\nResilience level: %s (sleep recovery %.0f, daytime recovery %.0f, stress %.0f)",
			r.Level, r.Contributors.SleepRecovery, r.Contributors.DaytimeRecovery, r.Contributors.Stress)
	}
	if len(stress) == 0 && len(resilience) == 0 {
		sb.WriteString("\nNo data recorded for this day")
	}

	result := mcp.TextResult(sb.String())
	result.StructuredContent = map[string]any{
		"stress":     stress,
		"resilience": resilience,
	}
	return result, nil
}

func (h *OuraHandler) personalInfo(ctx context.Context, client ouraAPI) (mcp.ToolResult, error) {
	info, err := client.GetPersonalInfo(ctx)
	if err != nil {
		return apiError(err)
	}

	text := fmt.Sprintf("Age %d, weight %.1f kg, height %.2f m, biological sex %s",
		info.Age, info.Weight, info.Height, info.BiologicalSex)

	result := mcp.TextResult(text)
	result.StructuredContent = info
	return result, nil
}

// dateRangeArgs validates the shared start_date/end_date arguments. When ok
// is false the returned result explains the problem.
func dateRangeArgs(call mcp.ToolCall) (start, end string, result mcp.ToolResult, ok bool) {
	start = stringArg(call, "start_date")
	if start == "" {
		return "", "", mcp.ErrorResult("start_date is required"), false
	}
	if err := oura.ValidateDate(start); err != nil {
		return "", "", mcp.ErrorResult(err.Error()), false
	}

	end = stringArg(call, "end_date")
	if end == "" {
		end = start
	} else if err := oura.ValidateDate(end); err != nil {
		return "", "", mcp.ErrorResult(err.Error()), false
	}
	return start, end, mcp.ToolResult{}, true
}

func stringArg(call mcp.ToolCall, key string) string {
	value, _ := call.Arguments[key].(string)
	return value
}

// apiError maps Oura API failures: credential and rate-limit problems become
// tool-level errors the model can explain to the user, anything else
// propagates as an internal error.
func apiError(err error) (mcp.ToolResult, error) {
	switch {
	case errors.Is(err, oura.ErrInvalidToken):
		return mcp.ErrorResult("The stored Oura token was rejected. Reconnect your Oura account."), nil
	case errors.Is(err, oura.ErrRateLimited):
		return mcp.ErrorResult("The Oura API is rate limiting requests. Try again shortly."), nil
	default:
		return mcp.ToolResult{}, err
	}
}
