package domain

import "time"

// DefaultRetentionDays is how long soft-deleted tasks stay in the trash.
const DefaultRetentionDays = 30

// RetentionCutoff returns the instant before which deleted tasks are purged.
func RetentionCutoff(now time.Time, retentionDays int) time.Time {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
}

// SelectPurgeable returns the soft-deleted tasks whose deletion is older than
// the retention window.
func SelectPurgeable(tasks []Task, now time.Time, retentionDays int) []Task {
	cutoff := RetentionCutoff(now, retentionDays)
	var out []Task
	for _, t := range tasks {
		if !t.Deleted || t.DeletedAt == nil {
			continue
		}
		if t.DeletedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// BatchResult reports the outcome of a multi-entity delete.
type BatchResult struct {
	// Atomic is true when the batch was committed as a single transaction.
	Atomic  bool
	Deleted []string
	Failed  map[string]error
}
