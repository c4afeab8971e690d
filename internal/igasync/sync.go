package igasync

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"sparrowvision.org/internal/access"
	"sparrowvision.org/internal/directory"
	"sparrowvision.org/internal/notify"
	"sparrowvision.org/internal/obs"
)

// Fetcher is the platform API surface the syncer needs.
type Fetcher interface {
	FetchUsers(ctx context.Context) ([]PlatformUser, error)
}

// Stats summarizes one sync run.
type Stats struct {
	Fetched  int           `json:"fetched"`
	Imported int           `json:"imported"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Syncer imports the platform inventory into the directory. Platform users
// arrive as viewers; role elevation stays a human decision.
type Syncer struct {
	client Fetcher
	dir    *directory.Directory
	hook   interface {
		Notify(ctx context.Context, ev notify.Event)
	}
	now func() time.Time

	lastUsers []PlatformUser
}

func NewSyncer(client Fetcher, dir *directory.Directory) *Syncer {
	return &Syncer{
		client: client,
		dir:    dir,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithHook announces completed syncs on the webhook path.
func (s *Syncer) WithHook(hook interface {
	Notify(ctx context.Context, ev notify.Event)
}) *Syncer {
	s.hook = hook
	return s
}

// Run fetches the inventory and reconciles it into the directory.
func (s *Syncer) Run(ctx context.Context) (Stats, error) {
	start := s.now()
	users, err := s.client.FetchUsers(ctx)
	if err != nil {
		obs.ObserveSyncRun("error", 0)
		return Stats{}, err
	}
	s.lastUsers = users

	stats := Stats{Fetched: len(users)}
	actor := directory.SystemActor()
	for _, pu := range users {
		if pu.Email == "" {
			stats.Skipped++
			continue
		}
		existing, err := s.dir.GetByEmail(pu.Email)
		if err == nil {
			if at, ok := parseLoginTime(pu.LastLogin); ok {
				if existing.LastLogin == nil || at.After(*existing.LastLogin) {
					if _, err := s.dir.MarkAuthenticated(ctx, existing.ID, at); err == nil {
						stats.Updated++
						continue
					}
				}
			}
			stats.Skipped++
			continue
		}
		if _, err := s.dir.Create(ctx, pu.Email, pu.Name, access.RoleViewer, actor.ID); err != nil {
			stats.Skipped++
			obs.Log("warn", "iga_import_skipped", map[string]any{"email": pu.Email, "error": err.Error()})
			continue
		}
		stats.Imported++
	}
	stats.Duration = s.now().Sub(start)

	obs.ObserveSyncRun("ok", stats.Fetched)
	obs.Log("info", "iga_sync_complete", map[string]any{
		"fetched": stats.Fetched, "imported": stats.Imported,
		"updated": stats.Updated, "skipped": stats.Skipped,
	})
	if s.hook != nil {
		s.hook.Notify(ctx, notify.NewEvent(notify.EventToolSynced, map[string]string{
			"fetched":  strconv.Itoa(stats.Fetched),
			"imported": strconv.Itoa(stats.Imported),
		}))
	}
	return stats, nil
}

// LastUsers returns the inventory fetched by the most recent Run.
func (s *Syncer) LastUsers() []PlatformUser {
	out := make([]PlatformUser, len(s.lastUsers))
	copy(out, s.lastUsers)
	return out
}

// ExportJSON writes the last fetched inventory to a file.
func (s *Syncer) ExportJSON(path string) error {
	data, err := json.MarshalIndent(struct {
		ExportedAt time.Time      `json:"exported_at"`
		Users      []PlatformUser `json:"users"`
	}{ExportedAt: s.now(), Users: s.lastUsers}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
