package services

import (
	"buildmysite-backend/internal/models"
	"sort"

	"github.com/google/uuid"
)

// BuildTimeline merges messages and versions into one sequence ordered by timestamp, with the
// shared insertion sequence breaking ties. The result only depends on its inputs.
func BuildTimeline(messages []models.Message, versions []models.Version, currentVersionID *uuid.UUID) []models.TimelineEntry {
	entries := make([]models.TimelineEntry, 0, len(messages)+len(versions))

	for i := range messages {
		m := messages[i]
		entries = append(entries, models.TimelineEntry{
			Kind:      models.TimelineKindMessage,
			Timestamp: m.Timestamp,
			Message:   &m,
			Seq:       m.Seq,
		})
	}
	for _, v := range versions {
		entries = append(entries, models.TimelineEntry{
			Kind:      models.TimelineKindVersion,
			Timestamp: v.Timestamp,
			Version: &models.VersionMarker{
				ID:                v.ID,
				Source:            v.Source,
				CausedByMessageID: v.CausedByMessageID,
				IsCurrent:         currentVersionID != nil && *currentVersionID == v.ID,
				Timestamp:         v.Timestamp,
			},
			Seq: v.Seq,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})
	return entries
}
