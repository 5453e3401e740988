package storage

import (
	"sort"
	"time"

	"github.com/martacalvinho/squares2/internal/domain"
)

// Arrange computes the slot layout a rerank produces.
// slots must be ordered by slot number. The result has the same length: occupants
// sorted by remaining time at now (descending, ties broken by earlier StartTime)
// fill numbers 1..k, the remaining numbers are empty. Returned slots are copies;
// rows whose content changed get their Version bumped and UpdatedAt set to now.
func Arrange(slots []*domain.Slot, now time.Time) ([]*domain.Slot, []domain.SlotMove) {
	occupied := make([]*domain.Slot, 0, len(slots))
	for _, s := range slots {
		if s.Occupant != nil {
			occupied = append(occupied, s)
		}
	}

	sort.SliceStable(occupied, func(i, j int) bool {
		ri, rj := occupied[i].Remaining(now), occupied[j].Remaining(now)
		if ri != rj {
			return ri > rj
		}
		if !occupied[i].StartTime.Equal(occupied[j].StartTime) {
			return occupied[i].StartTime.Before(occupied[j].StartTime)
		}
		return occupied[i].Occupant.OccupancyID < occupied[j].Occupant.OccupancyID
	})

	arranged := make([]*domain.Slot, len(slots))
	var moves []domain.SlotMove

	for i, current := range slots {
		number := i + 1
		var next *domain.Slot
		if i < len(occupied) {
			next = occupied[i].Clone()
			next.SlotNumber = number
			if occupied[i].SlotNumber != number {
				moves = append(moves, domain.SlotMove{
					OccupancyID: next.Occupant.OccupancyID,
					From:        occupied[i].SlotNumber,
					To:          number,
				})
			}
		} else {
			next = &domain.Slot{SlotNumber: number}
		}

		if sameOccupancy(current, next) {
			arranged[i] = current.Clone()
			continue
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now
		arranged[i] = next
	}

	return arranged, moves
}

func sameOccupancy(a, b *domain.Slot) bool {
	if a.Occupant == nil || b.Occupant == nil {
		return a.Occupant == nil && b.Occupant == nil
	}
	return a.Occupant.OccupancyID == b.Occupant.OccupancyID
}
