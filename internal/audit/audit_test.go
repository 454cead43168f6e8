package audit

import (
	"bytes"
	"context"
	"database/sql"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"equipment-alerts/internal/auth"
)

func TestFromRequestCapturesIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config/windows", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("User-Agent", "ops-cli/1.0")
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleAdmin, "ana"))

	entry := FromRequest(req, "config.update", "windows", "", map[string]int{"min": 3})
	if entry.Actor != "ana" || entry.Role != "admin" {
		t.Fatalf("unexpected identity: %+v", entry)
	}
	if entry.IP != "10.0.0.7" || entry.UserAgent != "ops-cli/1.0" {
		t.Fatalf("unexpected request data: %+v", entry)
	}
	if string(entry.Metadata) != `{"min":3}` {
		t.Fatalf("unexpected metadata %s", entry.Metadata)
	}
}

func TestLogWriterFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	w := NewLogWriter(log.New(&buf, "", 0))
	w.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }

	entry := Entry{Actor: "ana", Action: "config.update", Metadata: []byte(`{"a":1}`)}
	if err := w.Log(context.Background(), entry); err != nil {
		t.Fatalf("log: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "id=audit-") || !strings.Contains(out, "digest="+DigestJSON(entry.Metadata)) {
		t.Fatalf("unexpected output %q", out)
	}
	if DigestJSON(nil) != "" {
		t.Fatalf("expected empty digest for empty payload")
	}
}

func TestRepository_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := NewRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	entry := Entry{ID: NewID(), Actor: "it-user", Action: "config.update", ResourceType: "episodes", Metadata: []byte(`{"maxGapMinutes":20}`)}
	if err := repo.Log(ctx, entry); err != nil {
		t.Fatalf("log: %v", err)
	}
	var digest string
	if err := db.QueryRowContext(ctx, "SELECT payload_digest FROM audit_logs WHERE id = $1", entry.ID).Scan(&digest); err != nil {
		t.Fatalf("query: %v", err)
	}
	if digest != DigestJSON(entry.Metadata) {
		t.Fatalf("unexpected digest %s", digest)
	}
	_, _ = db.ExecContext(ctx, "DELETE FROM audit_logs WHERE actor = 'it-user'")
}
