package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

func TestUsageService_RecordSummarizeAndPurge(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "u1", "alice", domain.RoleInfluencer)
	seedUser(t, db, "u2", "bob", domain.RoleInfluencer)
	svc := NewUsageService(db)
	ctx := context.Background()

	entries := []UsageEntry{
		{UserID: "u1", Endpoint: "/api/v1/moderate", Method: "POST", Status: 200, Duration: 120 * time.Millisecond, IP: "203.0.113.1", UserAgent: "ua"},
		{UserID: "u1", Endpoint: "/api/v1/moderate", Method: "POST", Status: 400},
		{UserID: "u2", Endpoint: "/api/v1/history", Method: "GET", Status: 200},
		{UserID: "", Endpoint: "/api/v1/auth/login", Method: "POST", Status: 200}, // anonymous: skipped
	}
	for _, e := range entries {
		if err := svc.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	var rows []domain.APIUsageLog
	db.Order("id").Find(&rows)
	if len(rows) != 3 {
		t.Fatalf("rows = %d; want 3", len(rows))
	}
	if rows[0].ResponseTimeMs != 120 || rows[0].UserAgent == nil || *rows[0].UserAgent != "ua" || rows[1].UserAgent != nil {
		t.Fatalf("unexpected first rows: %+v %+v", rows[0], rows[1])
	}

	mine, err := svc.TopEndpoints(ctx, UserScope("u1"))
	if err != nil {
		t.Fatalf("TopEndpoints: %v", err)
	}
	if mine.Scope != "user" || len(mine.Endpoints) != 1 || mine.Endpoints[0].Count != 2 {
		t.Fatalf("unexpected user summary: %+v", mine)
	}
	all, err := svc.TopEndpoints(ctx, AllUsers())
	if err != nil || all.Scope != "all" || len(all.Endpoints) != 2 {
		t.Fatalf("unexpected all summary: %+v %v", all, err)
	}

	// Everything is older than the retention once the clock moves on.
	svc.Now = func() time.Time { return time.Now().Add(DefaultUsageRetention + time.Hour) }
	n, err := svc.Purge(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Purge = %d, %v; want 3", n, err)
	}
	empty, err := svc.TopEndpoints(ctx, AllUsers())
	if err != nil || empty.Endpoints == nil || len(empty.Endpoints) != 0 {
		t.Fatalf("expected empty non-nil endpoints, got %+v %v", empty, err)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 3); got != "hél" {
		t.Fatalf("truncateRunes = %q", got)
	}
	long := strings.Repeat("x", 150)
	if got := truncateRunes(long, 100); len(got) != 100 {
		t.Fatalf("len = %d", len(got))
	}
}
