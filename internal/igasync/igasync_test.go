package igasync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"sparrowvision.org/internal/directory"
)

func testConfig(apiURL string) Config {
	return Config{
		APIURL:         apiURL,
		APIKey:         "k",
		OrgID:          "org-1",
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
		PageSize:       2,
		RateLimitDelay: time.Millisecond,
	}
}

func TestConfigFromEnvRequiresConnectionSettings(t *testing.T) {
	t.Setenv("IGA_API_URL", "")
	t.Setenv("IGA_API_KEY", "")
	t.Setenv("IGA_ORG_ID", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for missing settings")
	}

	t.Setenv("IGA_API_URL", "https://iga.example.com/api")
	t.Setenv("IGA_API_KEY", "key")
	t.Setenv("IGA_ORG_ID", "org")
	t.Setenv("IGA_TIMEOUT", "2.5")
	t.Setenv("IGA_PAGE_SIZE", "50")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Timeout != 2500*time.Millisecond || cfg.PageSize != 50 {
		t.Fatalf("cfg = %+v", cfg)
	}

	t.Setenv("IGA_PAGE_SIZE", "5000")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected page size bounds error")
	}
}

func TestFetchUsersFollowsPagination(t *testing.T) {
	var authHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
		cursor := r.URL.Query().Get("cursor")
		w.Header().Set("Content-Type", "application/json")
		if cursor == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{
					{"id": "1", "email": "a@example.com", "status": "active"},
					{"id": "2", "email": "b@example.com", "status": "active"},
				},
				"next_cursor": "p2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": "3", "email": "c@example.com", "status": "suspended"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	users, err := c.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("users = %d, want 3", len(users))
	}
	if got := authHeader.Load().(string); got != "Bearer k" {
		t.Fatalf("auth header = %q", got)
	}
	if users[2].Status != "suspended" {
		t.Fatalf("status = %s", users[2].Status)
	}
}

func TestFetchUsersHonorsRetryAfterOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"user_id": "1", "mail": "x@example.com"}},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	users, err := c.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	// The alternate field spellings are normalized.
	if users[0].ID != "1" || users[0].Email != "x@example.com" {
		t.Fatalf("user = %+v", users[0])
	}
}

func TestFetchUsersGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	if _, err := c.FetchUsers(context.Background()); err == nil {
		t.Fatalf("expected error after retries")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestRiskScore(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		user PlatformUser
		want int
	}{
		{"fresh active user", PlatformUser{Status: "active", LastLogin: now.Add(-24 * time.Hour).Format(time.RFC3339)}, 0},
		{"stale login", PlatformUser{Status: "active", LastLogin: now.Add(-40 * 24 * time.Hour).Format(time.RFC3339)}, 15},
		{"very stale login", PlatformUser{Status: "active", LastLogin: now.Add(-180 * 24 * time.Hour).Format(time.RFC3339)}, 30},
		{"never logged in", PlatformUser{Status: "active"}, 25},
		{"unparseable login", PlatformUser{Status: "active", LastLogin: "yesterday"}, 10},
		{"suspended admin", PlatformUser{Status: "suspended", LastLogin: "yesterday", Groups: []string{"Platform Admins"}}, 40},
		{"deprovisioned ghost", PlatformUser{Status: "deprovisioned", Groups: []string{"Superusers", "Domain Admins"}}, 95},
		{"score is capped", PlatformUser{Status: "deprovisioned", Groups: []string{"admin1", "admin2", "admin3"}}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := riskScore(tc.user, now); got != tc.want {
				t.Fatalf("riskScore = %d, want %d", got, tc.want)
			}
		})
	}
}

type staticFetcher struct {
	users []PlatformUser
	err   error
}

func (f staticFetcher) FetchUsers(context.Context) ([]PlatformUser, error) {
	return f.users, f.err
}

func TestSyncerImportsAndUpdates(t *testing.T) {
	dir := directory.New()
	existing, err := dir.Create(context.Background(), "known@example.com", "Known", "viewer", "system")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	loginAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	s := NewSyncer(staticFetcher{users: []PlatformUser{
		{ID: "1", Email: "known@example.com", Name: "Known", LastLogin: loginAt.Format(time.RFC3339)},
		{ID: "2", Email: "fresh@example.com", Name: "Fresh"},
		{ID: "3", Email: "", Name: "Ghost"},
	}}, dir)

	stats, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Fetched != 3 || stats.Imported != 1 || stats.Updated != 1 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	got, err := dir.Get(existing.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastLogin == nil || !got.LastLogin.Equal(loginAt) {
		t.Fatalf("last login = %v, want %v", got.LastLogin, loginAt)
	}
	if _, err := dir.GetByEmail("fresh@example.com"); err != nil {
		t.Fatalf("imported user missing: %v", err)
	}
}

func TestSyncerPropagatesFetchError(t *testing.T) {
	s := NewSyncer(staticFetcher{err: errors.New("upstream down")}, directory.New())
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}
}

func TestReports(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	users := []PlatformUser{
		{ID: "1", RiskScore: 80, Groups: []string{"Org Admins"}},
		{ID: "2", RiskScore: 20, LastLogin: now.Add(-10 * 24 * time.Hour).Format(time.RFC3339)},
		{ID: "3", RiskScore: 95},
	}
	high := HighRisk(users, 70)
	if len(high) != 2 || high[0].ID != "3" {
		t.Fatalf("high risk = %+v", high)
	}
	inactive := Inactive(users, 90*24*time.Hour, now)
	if len(inactive) != 2 {
		t.Fatalf("inactive = %+v", inactive)
	}
	priv := Privileged(users)
	if len(priv) != 1 || priv[0].ID != "1" {
		t.Fatalf("privileged = %+v", priv)
	}
}
