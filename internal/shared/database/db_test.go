package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewWithConn(conn), mock
}

func TestListProviderStatus(t *testing.T) {
	db, mock := newMockDB(t)

	checked := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT provider, status, uptime_percent, last_checked").
		WillReturnRows(sqlmock.NewRows([]string{"provider", "status", "uptime_percent", "last_checked"}).
			AddRow("groq", "up", 99.5, checked).
			AddRow("openrouter", "down", 71.0, checked))

	statuses, err := db.ListProviderStatus(context.Background())
	if err != nil {
		t.Fatalf("ListProviderStatus: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	want := models.ProviderStatus{Provider: "groq", Status: "up", UptimePercent: 99.5, LastChecked: checked}
	if statuses[0] != want {
		t.Errorf("statuses[0] = %+v, want %+v", statuses[0], want)
	}
	if statuses[1].Provider != "openrouter" || statuses[1].Status != "down" {
		t.Errorf("statuses[1] = %+v, want openrouter down", statuses[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertProviderStatus(t *testing.T) {
	db, mock := newMockDB(t)

	status := models.ProviderStatus{
		Provider:      "groq",
		Status:        "up",
		UptimePercent: 98.2,
		LastChecked:   time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
	mock.ExpectExec("INSERT INTO provider_status").
		WithArgs(status.Provider, status.Status, status.UptimePercent, status.LastChecked).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := db.UpsertProviderStatus(context.Background(), status); err != nil {
		t.Fatalf("UpsertProviderStatus: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLogRequest(t *testing.T) {
	db, mock := newMockDB(t)

	errMsg := "response ended before completion"
	entry := &models.RequestLog{
		RequestID:    "req-1",
		UserID:       "u-1",
		Tier:         "balanced",
		Provider:     "groq",
		Model:        "llama-3.1-70b-versatile",
		Status:       string(models.ErrStreamInterrupted),
		LatencyMs:    412,
		FailoverUsed: true,
		Chunks:       7,
		ErrorMessage: &errMsg,
	}
	mock.ExpectExec("INSERT INTO request_logs").
		WithArgs("req-1", "u-1", "balanced", "groq", "llama-3.1-70b-versatile",
			string(models.ErrStreamInterrupted), 412, true, 7, errMsg).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := db.LogRequest(context.Background(), entry); err != nil {
		t.Fatalf("LogRequest: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
