package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sparrowvision.org/internal/notify"
	"sparrowvision.org/internal/webhook"
)

var _ webhook.ConfigStore = (*Store)(nil)

// The webhook configuration is a tenant singleton stored in one row.
func (s *Store) LoadConfig(ctx context.Context) (webhook.Config, bool, error) {
	if s.db == nil {
		return webhook.Config{}, false, errors.New("database connection unavailable")
	}
	var (
		cfg      webhook.Config
		lastTest sql.NullTime
		rawSubs  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select url, active, last_test, subscriptions
		from webhook_config
		where id = 1
	`).Scan(&cfg.URL, &cfg.Active, &lastTest, &rawSubs)
	if errors.Is(err, sql.ErrNoRows) {
		return webhook.Config{}, false, nil
	}
	if err != nil {
		return webhook.Config{}, false, err
	}
	if lastTest.Valid {
		ts := lastTest.Time.UTC()
		cfg.LastTest = &ts
	}
	if len(rawSubs) > 0 {
		cfg.Subscriptions = map[notify.EventKind]bool{}
		if err := json.Unmarshal(rawSubs, &cfg.Subscriptions); err != nil {
			return webhook.Config{}, false, fmt.Errorf("decode subscriptions: %w", err)
		}
	}
	return cfg, true, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg webhook.Config) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	rawSubs, err := json.Marshal(cfg.Subscriptions)
	if err != nil {
		return fmt.Errorf("marshal subscriptions: %w", err)
	}
	var lastTest sql.NullTime
	if cfg.LastTest != nil {
		lastTest = sql.NullTime{Time: cfg.LastTest.UTC(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		insert into webhook_config (id, url, active, last_test, subscriptions)
		values (1, $1, $2, $3, $4)
		on conflict (id) do update
		set url = excluded.url,
		    active = excluded.active,
		    last_test = excluded.last_test,
		    subscriptions = excluded.subscriptions,
		    updated_at = now()
	`, cfg.URL, cfg.Active, lastTest, rawSubs)
	return err
}
