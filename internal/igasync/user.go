package igasync

import (
	"strings"
	"time"
)

// PlatformUser is one user record as reported by the governance platform,
// normalized across the field spellings different API versions use.
type PlatformUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	LastLogin string    `json:"last_login,omitempty"`
	Groups    []string  `json:"groups,omitempty"`
	RiskScore int       `json:"risk_score"`
	SyncedAt  time.Time `json:"synced_at"`
}

// parseUser normalizes a raw API record. Different platform versions spell
// the same field differently; try each in order.
func parseUser(raw map[string]any, now time.Time) PlatformUser {
	u := PlatformUser{
		ID:        str(raw, "id", "user_id", "uid"),
		Email:     str(raw, "email", "email_address", "mail"),
		Name:      str(raw, "name", "display_name", "full_name"),
		Status:    strings.ToLower(str(raw, "status", "state", "account_status")),
		LastLogin: str(raw, "last_login", "last_login_at", "lastLoginDate"),
		SyncedAt:  now,
	}
	if u.Status == "" {
		u.Status = "unknown"
	}
	if groups, ok := raw["groups"].([]any); ok {
		for _, g := range groups {
			switch v := g.(type) {
			case string:
				u.Groups = append(u.Groups, v)
			case map[string]any:
				if name := str(v, "name", "display_name"); name != "" {
					u.Groups = append(u.Groups, name)
				}
			}
		}
	}
	u.RiskScore = riskScore(u, now)
	return u
}

func str(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// riskScore rates a user 0-100 from account state, login recency, and
// privileged group membership.
func riskScore(u PlatformUser, now time.Time) int {
	score := 0

	switch u.Status {
	case "suspended", "disabled", "inactive":
		score += 20
	case "deprovisioned", "deleted":
		score += 50
	}

	if u.LastLogin == "" {
		score += 25
	} else if at, ok := parseLoginTime(u.LastLogin); ok {
		switch age := now.Sub(at); {
		case age > 90*24*time.Hour:
			score += 30
		case age > 30*24*time.Hour:
			score += 15
		case age > 7*24*time.Hour:
			score += 5
		}
	} else {
		score += 10
	}

	for _, g := range u.Groups {
		lower := strings.ToLower(g)
		if strings.Contains(lower, "admin") || strings.Contains(lower, "super") {
			score += 10
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

func parseLoginTime(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
