package oura

// Envelope is the common Oura v2 list response shape.
type Envelope[T any] struct {
	Data      []T    `json:"data"`
	NextToken string `json:"next_token,omitempty"`
}

// SleepSession is a single sleep period from /sleep.
type SleepSession struct {
	Day                string  `json:"day"`
	TotalSleepDuration int     `json:"total_sleep_duration"`
	REMSleepDuration   int     `json:"rem_sleep_duration"`
	DeepSleepDuration  int     `json:"deep_sleep_duration"`
	LightSleepDuration int     `json:"light_sleep_duration"`
	AwakeTime          int     `json:"awake_time"`
	SleepEfficiency    float64 `json:"sleep_efficiency"`
	SleepLatency       int     `json:"sleep_latency"`
	BedtimeStart       string  `json:"bedtime_start"`
	BedtimeEnd         string  `json:"bedtime_end"`
	Score              *struct {
		Total int `json:"total"`
	} `json:"score,omitempty"`
}

// DailyActivity is one day from /daily_activity.
type DailyActivity struct {
	Day                       string `json:"day"`
	Score                     int    `json:"score"`
	Steps                     int    `json:"steps"`
	ActiveCalories            int    `json:"active_calories"`
	TotalCalories             int    `json:"total_calories"`
	EquivalentWalkingDistance int    `json:"equivalent_walking_distance"`
	HighActivityTime          int    `json:"high_activity_time"`
	MediumActivityTime        int    `json:"medium_activity_time"`
	LowActivityTime           int    `json:"low_activity_time"`
	SedentaryTime             int    `json:"sedentary_time"`
	NonWearTime               int    `json:"non_wear_time"`
	TargetCalories            int    `json:"target_calories"`
	TargetMeters              int    `json:"target_meters"`
}

// ReadinessContributors breaks a readiness score into its inputs.
type ReadinessContributors struct {
	ActivityBalance     int `json:"activity_balance"`
	BodyTemperature     int `json:"body_temperature"`
	HRVBalance          int `json:"hrv_balance"`
	PreviousDayActivity int `json:"previous_day_activity"`
	PreviousNight       int `json:"previous_night"`
	RecoveryIndex       int `json:"recovery_index"`
	RestingHeartRate    int `json:"resting_heart_rate"`
	SleepBalance        int `json:"sleep_balance"`
}

// DailyReadiness is one day from /daily_readiness.
type DailyReadiness struct {
	Day                       string                `json:"day"`
	Score                     int                   `json:"score"`
	TemperatureDeviation      float64               `json:"temperature_deviation"`
	TemperatureTrendDeviation float64               `json:"temperature_trend_deviation"`
	Contributors              ReadinessContributors `json:"contributors"`
}

// HeartRateSample is a single measurement from /heartrate.
type HeartRateSample struct {
	BPM       int    `json:"bpm"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// DailyStress is one day from /daily_stress. Durations are seconds.
type DailyStress struct {
	Day          string `json:"day"`
	StressHigh   int    `json:"stress_high"`
	RecoveryHigh int    `json:"recovery_high"`
	DaySummary   string `json:"day_summary"`
}

// DailyResilience is one day from /daily_resilience.
type DailyResilience struct {
	Day          string `json:"day"`
	Level        string `json:"level"`
	Contributors struct {
		SleepRecovery   float64 `json:"sleep_recovery"`
		DaytimeRecovery float64 `json:"daytime_recovery"`
		Stress          float64 `json:"stress"`
	} `json:"contributors"`
}

// PersonalInfo is the /personal_info profile.
type PersonalInfo struct {
	Age           int     `json:"age"`
	Weight        float64 `json:"weight"`
	Height        float64 `json:"height"`
	BiologicalSex string  `json:"biological_sex"`
	Email         string  `json:"email"`
}
