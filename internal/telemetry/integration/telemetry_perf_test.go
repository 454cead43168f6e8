package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	episodeapp "equipment-alerts/internal/episodes/application"
	episodes "equipment-alerts/internal/episodes/domain"
	episoderepo "equipment-alerts/internal/episodes/infrastructure/postgres"
	telemetryapp "equipment-alerts/internal/telemetry/application"
	telemetry "equipment-alerts/internal/telemetry/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestTelemetryPerf_30dConsolidate_7dQuery(t *testing.T) {
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
	repo := episoderepo.NewEpisodeRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	equipment := "it-perf-01"
	start := time.Now().UTC().AddDate(0, 0, -30).Truncate(24 * time.Hour)
	end := time.Now().UTC().Truncate(24 * time.Hour)
	_, _ = db.ExecContext(ctx, "DELETE FROM equipment_episodes WHERE equipment = $1", equipment)

	// Five minute records: one hour running, one hour stopped, repeated.
	raw := make([]telemetry.RawEvent, 0, 30*24*12)
	for ts := start; ts.Before(end); ts = ts.Add(5 * time.Minute) {
		identifier := "on"
		if ts.Hour()%2 == 1 {
			identifier = "off"
		}
		raw = append(raw, telemetry.RawEvent{
			Kind:          telemetry.KindStatus,
			StartRaw:      ts.Format(time.RFC3339),
			EndRaw:        ts.Add(5 * time.Minute).Format(time.RFC3339),
			IdentifierRaw: identifier,
		})
	}

	consolidator, err := episodeapp.NewConsolidator(episodes.DefaultConfig())
	if err != nil {
		t.Fatalf("consolidator: %v", err)
	}

	consolidateStart := time.Now()
	normalized := telemetryapp.NewNormalizer().Normalize(raw)
	if len(normalized.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %d", len(normalized.Rejected))
	}
	items := consolidator.Consolidate(normalized.Events, telemetry.KindStatus)
	consolidateElapsed := time.Since(consolidateStart)
	if len(items) != 30*24 {
		t.Fatalf("expected one episode per hour, got %d", len(items))
	}

	insertStart := time.Now()
	if err := repo.SaveEpisodes(ctx, equipment, items); err != nil {
		t.Fatalf("save episodes: %v", err)
	}
	insertElapsed := time.Since(insertStart)

	queryStart := time.Now()
	recent, err := repo.ListByEquipment(ctx, equipment, end.AddDate(0, 0, -7), end)
	if err != nil {
		t.Fatalf("list episodes: %v", err)
	}
	queryElapsed := time.Since(queryStart)
	// The range is inclusive of the episode ending exactly at its start.
	if len(recent) != 7*24+1 {
		t.Fatalf("expected %d episodes in 7d, got %d", 7*24+1, len(recent))
	}

	t.Logf("perf consolidate 30d records=%d episodes=%d elapsed=%s", len(raw), len(items), consolidateElapsed)
	t.Logf("perf insert 30d episodes elapsed=%s", insertElapsed)
	t.Logf("perf query 7d episodes=%d elapsed=%s", len(recent), queryElapsed)
}
