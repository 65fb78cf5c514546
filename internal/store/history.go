package store

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"servicedesk/internal/models"
)

// ComputeHistoryHash chains an entry to its predecessor so later edits to
// the audit log are detectable.
func ComputeHistoryHash(prevHash string, entry models.HistoryEntry) string {
	raw := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s",
		prevHash,
		entry.TicketID,
		entry.Seq,
		entry.Action,
		entry.OldValue,
		entry.NewValue,
		entry.Actor,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// SealEntry fills in sequence and hash fields given the last entry of the
// ticket (zero value when there is none). Timestamps never go backwards
// within one ticket's history and are kept at microsecond precision, which
// is what both backends store.
func SealEntry(last models.HistoryEntry, entry models.HistoryEntry) models.HistoryEntry {
	entry.Seq = last.Seq + 1
	entry.CreatedAt = entry.CreatedAt.UTC().Truncate(time.Microsecond)
	if entry.CreatedAt.Before(last.CreatedAt) {
		entry.CreatedAt = last.CreatedAt
	}
	entry.PrevHash = last.Hash
	entry.Hash = ComputeHistoryHash(entry.PrevHash, entry)
	return entry
}

// VerifyHistory checks that entries form one unbroken chain. Order of the
// input does not matter.
func VerifyHistory(entries []models.HistoryEntry) error {
	sorted := make([]models.HistoryEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	prev := ""
	for i, entry := range sorted {
		if entry.Seq != i+1 {
			return fmt.Errorf("%w: seq %d at position %d", ErrHistoryTampered, entry.Seq, i+1)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("%w: prev hash at seq %d", ErrHistoryTampered, entry.Seq)
		}
		if ComputeHistoryHash(prev, entry) != entry.Hash {
			return fmt.Errorf("%w: hash at seq %d", ErrHistoryTampered, entry.Seq)
		}
		prev = entry.Hash
	}
	return nil
}

// ReverseChronological orders entries newest first.
func ReverseChronological(entries []models.HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Seq != entries[j].Seq {
			return entries[i].Seq > entries[j].Seq
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}
