package oura

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the Oura v2 user-collection API root.
const DefaultBaseURL = "https://api.ouraring.com/v2/usercollection"

// Sentinel errors mapped from Oura API status codes.
var (
	ErrInvalidToken = errors.New("invalid Oura token")
	ErrRateLimited  = errors.New("rate limited by Oura API")
)

// Shared HTTP client with connection pooling across per-user clients.
var sharedHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Client calls the Oura API on behalf of one user's personal access token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given personal access token.
func NewClient(token string) *Client {
	return &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: sharedHTTPClient,
	}
}

func (c *Client) fetch(ctx context.Context, endpoint string, params url.Values, dest any) error {
	u := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling Oura %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrInvalidToken
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("Oura %s returned %d: %s", endpoint, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding Oura %s response: %w", endpoint, err)
	}
	return nil
}

func dateRange(startDate, endDate string) url.Values {
	if endDate == "" {
		endDate = startDate
	}
	return url.Values{"start_date": {startDate}, "end_date": {endDate}}
}

// GetSleep returns sleep sessions for the date range.
func (c *Client) GetSleep(ctx context.Context, startDate, endDate string) ([]SleepSession, error) {
	var env Envelope[SleepSession]
	if err := c.fetch(ctx, "sleep", dateRange(startDate, endDate), &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// GetDailyActivity returns daily activity summaries for the date range.
func (c *Client) GetDailyActivity(ctx context.Context, startDate, endDate string) ([]DailyActivity, error) {
	var env Envelope[DailyActivity]
	if err := c.fetch(ctx, "daily_activity", dateRange(startDate, endDate), &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// GetDailyReadiness returns readiness scores for the date range.
func (c *Client) GetDailyReadiness(ctx context.Context, startDate, endDate string) ([]DailyReadiness, error) {
	var env Envelope[DailyReadiness]
	if err := c.fetch(ctx, "daily_readiness", dateRange(startDate, endDate), &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// GetHeartRate returns heart-rate samples between two RFC 3339 datetimes.
func (c *Client) GetHeartRate(ctx context.Context, startDatetime, endDatetime string) ([]HeartRateSample, error) {
	params := url.Values{
		"start_datetime": {startDatetime},
		"end_datetime":   {endDatetime},
	}
	var env Envelope[HeartRateSample]
	if err := c.fetch(ctx, "heartrate", params, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// GetDailyStress returns stress summaries for a single day.
func (c *Client) GetDailyStress(ctx context.Context, day string) ([]DailyStress, error) {
	var env Envelope[DailyStress]
	if err := c.fetch(ctx, "daily_stress", dateRange(day, day), &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// GetDailyResilience returns resilience summaries for a single day.
func (c *Client) GetDailyResilience(ctx context.Context, day string) ([]DailyResilience, error) {
	var env Envelope[DailyResilience]
	if err := c.fetch(ctx, "daily_resilience", dateRange(day, day), &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// GetPersonalInfo returns the user's Oura profile.
func (c *Client) GetPersonalInfo(ctx context.Context) (*PersonalInfo, error) {
	var info PersonalInfo
	if err := c.fetch(ctx, "personal_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
