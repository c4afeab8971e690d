package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"sparrowvision.org/internal/access"
	"sparrowvision.org/internal/directory"
	"sparrowvision.org/internal/notify"
	"sparrowvision.org/internal/webhook"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewWithDB(db), mock
}

func TestLoadUsers(t *testing.T) {
	s, mock := newMockStore(t)
	invited := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	login := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select id, email, name, role, status`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "email", "name", "role", "status", "invited_by", "invited_at", "last_login"}).
			AddRow("usr_1", "a@example.com", "A", "admin", "active", "system", invited, login).
			AddRow("usr_2", "b@example.com", "B", "viewer", "pending", "usr_1", invited, nil),
	)

	users, err := s.LoadUsers(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %d, want 2", len(users))
	}
	if users[0].Role != access.RoleAdmin || users[0].LastLogin == nil {
		t.Fatalf("first user = %+v", users[0])
	}
	if users[1].Status != directory.StatusPending || users[1].LastLogin != nil {
		t.Fatalf("second user = %+v", users[1])
	}
}

func TestSaveUserMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`insert into users`).WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.SaveUser(context.Background(), directory.User{
		ID: "usr_1", Email: "dup@example.com", Role: access.RoleViewer,
		Status: directory.StatusPending, InvitedAt: time.Now(),
	})
	if !errors.Is(err, directory.ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestDeleteUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`delete from users`).WithArgs("usr_missing").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteUser(context.Background(), "usr_missing"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestWebhookConfigRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	lastTest := time.Date(2025, 3, 5, 8, 30, 0, 0, time.UTC)

	mock.ExpectExec(`insert into webhook_config`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select url, active, last_test, subscriptions`).WillReturnRows(
		sqlmock.NewRows([]string{"url", "active", "last_test", "subscriptions"}).
			AddRow("https://hooks.example.com/gov", true, lastTest, []byte(`{"user.invited":true,"tool.synced":false}`)),
	)

	err := s.SaveConfig(context.Background(), webhook.Config{
		URL:      "https://hooks.example.com/gov",
		Active:   true,
		LastTest: &lastTest,
		Subscriptions: map[notify.EventKind]bool{
			notify.EventUserInvited: true,
			notify.EventToolSynced:  false,
		},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg, found, err := s.LoadConfig(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatalf("config not found")
	}
	if cfg.URL != "https://hooks.example.com/gov" || !cfg.Active {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Subscriptions[notify.EventUserInvited] || cfg.Subscriptions[notify.EventToolSynced] {
		t.Fatalf("subscriptions = %v", cfg.Subscriptions)
	}
	if cfg.LastTest == nil || !cfg.LastTest.Equal(lastTest) {
		t.Fatalf("last test = %v", cfg.LastTest)
	}
}

func TestLoadConfigAbsent(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`select url, active, last_test, subscriptions`).
		WillReturnRows(sqlmock.NewRows([]string{"url", "active", "last_test", "subscriptions"}))

	_, found, err := s.LoadConfig(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}
