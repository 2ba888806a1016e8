package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulseworks/oura-mcp/internal/oauth"
	"github.com/pulseworks/oura-mcp/internal/oura"
	"github.com/pulseworks/oura-mcp/internal/storage"
	"github.com/pulseworks/oura-mcp/pkg/mcp"
)

type fakeOuraAPI struct {
	token      string
	sleep      []oura.SleepSession
	activity   []oura.DailyActivity
	readiness  []oura.DailyReadiness
	heartRate  []oura.HeartRateSample
	stress     []oura.DailyStress
	resilience []oura.DailyResilience
	info       *oura.PersonalInfo
	err        error

	gotStart, gotEnd string
}

func (f *fakeOuraAPI) GetSleep(_ context.Context, start, end string) ([]oura.SleepSession, error) {
	f.gotStart, f.gotEnd = start, end
	return f.sleep, f.err
}

func (f *fakeOuraAPI) GetDailyActivity(_ context.Context, start, end string) ([]oura.DailyActivity, error) {
	f.gotStart, f.gotEnd = start, end
	return f.activity, f.err
}

func (f *fakeOuraAPI) GetDailyReadiness(_ context.Context, start, end string) ([]oura.DailyReadiness, error) {
	f.gotStart, f.gotEnd = start, end
	return f.readiness, f.err
}

func (f *fakeOuraAPI) GetHeartRate(_ context.Context, start, end string) ([]oura.HeartRateSample, error) {
	f.gotStart, f.gotEnd = start, end
	return f.heartRate, f.err
}

func (f *fakeOuraAPI) GetDailyStress(_ context.Context, day string) ([]oura.DailyStress, error) {
	f.gotStart = day
	return f.stress, f.err
}

func (f *fakeOuraAPI) GetDailyResilience(_ context.Context, day string) ([]oura.DailyResilience, error) {
	return f.resilience, f.err
}

func (f *fakeOuraAPI) GetPersonalInfo(_ context.Context) (*oura.PersonalInfo, error) {
	return f.info, f.err
}

func testHandler(t *testing.T, api *fakeOuraAPI) (*OuraHandler, string) {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	manager := oauth.NewManager(store, oauth.Config{})

	const userID = "user-1"
	err := manager.UserTokens.Set(context.Background(), userID, oauth.UserToken{
		OuraToken: "oura_pat_abc",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	h := NewOuraHandler(manager)
	h.newClient = func(token string) ouraAPI {
		api.token = token
		return api
	}
	return h, userID
}

func TestListToolsNames(t *testing.T) {
	h, _ := testHandler(t, &fakeOuraAPI{})
	tools := h.ListTools()
	require.Len(t, tools, 6)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
		require.NotEmpty(t, tool.Description)
		require.NotNil(t, tool.InputSchema)
	}
	require.ElementsMatch(t, names, []string{
		"get_sleep_data", "get_activity_data", "get_readiness_data",
		"get_heart_rate_data", "get_stress_resilience", "get_personal_info",
	})
}

func TestSleepData(t *testing.T) {
	api := &fakeOuraAPI{sleep: []oura.SleepSession{{
		Day:                "2026-08-01",
		TotalSleepDuration: 27120,
		REMSleepDuration:   5400,
		DeepSleepDuration:  4800,
		SleepEfficiency:    92,
	}}}
	h, userID := testHandler(t, api)

	result, err := h.HandleTool(context.Background(), mcp.ToolCall{
		Name:      "get_sleep_data",
		Arguments: map[string]any{"start_date": "2026-08-01"},
	}, userID)

	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "Found 1 sleep session(s)")
	require.Contains(t, result.Content[0].Text, "7h 32m")
	require.Equal(t, "oura_pat_abc", api.token)
	require.Equal(t, "2026-08-01", api.gotStart)
	require.Equal(t, "2026-08-01", api.gotEnd, "end date defaults to start date")
}

func TestSleepDataInvalidDate(t *testing.T) {
	h, userID := testHandler(t, &fakeOuraAPI{})

	result, err := h.HandleTool(context.Background(), mcp.ToolCall{
		Name:      "get_sleep_data",
		Arguments: map[string]any{"start_date": "01/08/2026"},
	}, userID)

	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "YYYY-MM-DD")
}

func TestActivityData(t *testing.T) {
	api := &fakeOuraAPI{activity: []oura.DailyActivity{{
		Day: "2026-08-01", Score: 85, Steps: 10432, ActiveCalories: 450,
	}}}
	h, userID := testHandler(t, api)

	result, err := h.HandleTool(context.Background(), mcp.ToolCall{
		Name:      "get_activity_data",
		Arguments: map[string]any{"start_date": "2026-08-01", "end_date": "2026-08-03"},
	}, userID)

	require.NoError(t, err)
	require.Contains(t, result.Content[0].Text, "10432 steps")
	require.Equal(t, "2026-08-03", api.gotEnd)
}

func TestHeartRateData(t *testing.T) {
	api := &fakeOuraAPI{heartRate: []oura.HeartRateSample{
		{BPM: 60}, {BPM: 80}, {BPM: 100},
	}}
	h, userID := testHandler(t, api)

	result, err := h.HandleTool(context.Background(), mcp.ToolCall{
		Name:      "get_heart_rate_data",
		Arguments: map[string]any{"start_datetime": "2026-08-01T00:00:00Z"},
	}, userID)

	require.NoError(t, err)
	require.Contains(t, result.Content[0].Text, "average 80.0 bpm")
	require.Contains(t, result.Content[0].Text, "range 60-100 bpm")
}

func TestStressResilience(t *testing.T) {
	api := &fakeOuraAPI{
		stress: []oura.DailyStress{{
			Day: "2026-08-01", StressHigh: 7200, RecoveryHigh: 3600, DaySummary: "normal",
		}},
		resilience: []oura.DailyResilience{{Day: "2026-08-01", Level: "solid"}},
	}
	h, userID := testHandler(t, api)

	result, err := h.HandleTool(context.Background(), mcp.ToolCall{
		Name:      "get_stress_resilience",
		Arguments: map[string]any{"date": "2026-08-01"},
	}, userID)

	require.NoError(t, err)
	text := result.Content[0].Text
	require.Contains(t, text, "Stress: 2h")
	require.Contains(t, text, "Recovery: 1h")
	require.Contains(t, text, "ratio 0.50")
	require.Contains(t, text, "Resilience level: solid")
}

func TestPersonalInfo(t *testing.T) {
	api := &fakeOuraAPI{info: &oura.PersonalInfo{
		Age: 34, Weight: 72.5, Height: 1.8, BiologicalSex: "female",
	}}
	h, userID := testHandler(t, api)

	result, err := h.HandleTool(context.Background(), mcp.ToolCall{Name: "get_personal_info"}, userID)

	require.NoError(t, err)
	require.Contains(t, result.Content[0].Text, "Age 34")
	require.Equal(t, api.info, result.StructuredContent)
}

func TestInvalidOuraToken(t *testing.T) {
	api := &fakeOuraAPI{err: oura.ErrInvalidToken}
	h, userID := testHandler(t, api)

	result, err := h.HandleTool(context.Background(), mcp.ToolCall{
		Name:      "get_sleep_data",
		Arguments: map[string]any{"start_date": "2026-08-01"},
	}, userID)

	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "Reconnect")
}

func TestNoConnectedAccount(t *testing.T) {
	h, _ := testHandler(t, &fakeOuraAPI{})

	result, err := h.HandleTool(context.Background(), mcp.ToolCall{
		Name:      "get_sleep_data",
		Arguments: map[string]any{"start_date": "2026-08-01"},
	}, "user-without-token")

	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "No Oura account")
}

func TestUnknownTool(t *testing.T) {
	h, userID := testHandler(t, &fakeOuraAPI{})

	result, err := h.HandleTool(context.Background(), mcp.ToolCall{Name: "get_weather"}, userID)

	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "Unknown tool")
}
