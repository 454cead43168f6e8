package alarms

import (
	"time"

	"equipment-alerts/internal/identity"
)

// UniqueID derives the deterministic alert identity used for idempotent
// re-ingestion.
func UniqueID(equipment, ruleID, identifier string, start, end time.Time, consolidated bool) string {
	return identity.Prefixed("alert",
		equipment,
		ruleID,
		identifier,
		identity.Time(start),
		identity.Time(end),
		identity.Bool(consolidated),
	)
}
