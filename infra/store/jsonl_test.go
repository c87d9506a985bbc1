package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openride/surgecast/core/override"
)

func TestJSONLAuditAppendQuery(t *testing.T) {
	s, err := NewRotatingJSONLAudit(filepath.Join(t.TempDir(), "audit.jsonl"), 1, 2, 1)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	for i, zone := range []string{"lax", "lax", "downtown"} {
		e := override.AuditEntry{ID: string(rune('a' + i)), ZoneID: zone, Action: "set", At: base.Add(time.Duration(i) * time.Minute)}
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.QueryAudit(ctx, AuditQuery{ZoneID: "lax"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lax entries, got %d", len(got))
	}
}
