package oura

import (
	"fmt"
	"time"
)

// ValidateDate checks a YYYY-MM-DD date string.
func ValidateDate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return nil
}

// FormatDuration renders a second count like "7h 32m".
func FormatDuration(seconds int) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return "0m"
	}
}

// HeartRateStats summarizes a set of samples.
type HeartRateStats struct {
	Count      int     `json:"count"`
	AverageBPM float64 `json:"average_bpm"`
	MinBPM     int     `json:"min_bpm"`
	MaxBPM     int     `json:"max_bpm"`
}

// SummarizeHeartRate computes count/average/min/max over samples, ignoring
// zero readings.
func SummarizeHeartRate(samples []HeartRateSample) HeartRateStats {
	stats := HeartRateStats{Count: len(samples)}
	sum := 0
	n := 0
	for _, s := range samples {
		if s.BPM == 0 {
			continue
		}
		if n == 0 || s.BPM < stats.MinBPM {
			stats.MinBPM = s.BPM
		}
		if s.BPM > stats.MaxBPM {
			stats.MaxBPM = s.BPM
		}
		sum += s.BPM
		n++
	}
	if n > 0 {
		stats.AverageBPM = float64(sum) / float64(n)
	}
	return stats
}

// Downsample thins a sample slice to at most max points, keeping order.
func Downsample(samples []HeartRateSample, max int) []HeartRateSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	step := len(samples) / max
	out := make([]HeartRateSample, 0, max)
	for i := 0; i < len(samples); i += step {
		out = append(out, samples[i])
	}
	return out
}
