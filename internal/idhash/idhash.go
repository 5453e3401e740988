// Package idhash derives deterministic identifiers from payment references.
// Re-running a state write for the same payment yields the same ids, so a
// retried insert collides with the earlier attempt instead of duplicating it.
package idhash

import (
	"github.com/google/uuid"

	"github.com/martacalvinho/squares2/internal/domain"
)

var namespace = uuid.MustParse("6f1f4d52-4b0e-4c1e-9a55-0b6f7a1b2c3d")

func derive(kind, key string) string {
	return uuid.NewSHA1(namespace, []byte(kind+":"+key)).String()
}

// OccupancyID is the occupancy created when the submission paid by reference
// claims a slot directly.
func OccupancyID(reference string) string {
	return derive("occupancy", reference)
}

// EntryID is the waitlist entry of the submission paid by reference.
func EntryID(reference string) string {
	return derive("entry", reference)
}

// PromotedOccupancyID is the occupancy created when waitlist entry entryID is
// promoted. It differs from OccupancyID of the same payment.
func PromotedOccupancyID(entryID string) string {
	return derive("promoted", entryID)
}

// ContributionID is the audit record of kind for the payment reference.
func ContributionID(reference string, kind domain.ContributionKind) string {
	return derive("contribution/"+string(kind), reference)
}
