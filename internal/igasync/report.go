package igasync

import (
	"sort"
	"strings"
	"time"
)

// HighRisk returns users at or above the threshold, riskiest first.
func HighRisk(users []PlatformUser, threshold int) []PlatformUser {
	var out []PlatformUser
	for _, u := range users {
		if u.RiskScore >= threshold {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RiskScore > out[j].RiskScore })
	return out
}

// Inactive returns users with no login inside the window, or no parseable
// login at all.
func Inactive(users []PlatformUser, window time.Duration, now time.Time) []PlatformUser {
	cutoff := now.Add(-window)
	var out []PlatformUser
	for _, u := range users {
		at, ok := parseLoginTime(u.LastLogin)
		if !ok || at.Before(cutoff) {
			out = append(out, u)
		}
	}
	return out
}

// Privileged returns users in admin-flavored groups.
func Privileged(users []PlatformUser) []PlatformUser {
	var out []PlatformUser
	for _, u := range users {
		for _, g := range u.Groups {
			lower := strings.ToLower(g)
			if strings.Contains(lower, "admin") || strings.Contains(lower, "super") {
				out = append(out, u)
				break
			}
		}
	}
	return out
}
