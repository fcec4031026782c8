package services

import (
	"sort"

	"github.com/phonginreallife/oncall/db"
)

// overrideReattachment pairs a snapshotted override with the new shift it moves to.
type overrideReattachment struct {
	Old   db.ScheduleOverride
	Shift db.Shift
}

// matchPreservedOverrides decides where each snapshotted override goes after a
// replacement. An override moves, with its interval unchanged, to the first new
// shift by ascending start and then generation order whose interval contains
// the override's start. Overrides with no such shift are dropped with a warning.
func matchPreservedOverrides(overrides []db.ScheduleOverride, newShifts []db.Shift) ([]overrideReattachment, []PreservationWarning) {
	ordered := make([]db.Shift, len(newShifts))
	copy(ordered, newShifts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartTime.Before(ordered[j].StartTime)
	})

	var matched []overrideReattachment
	var warnings []PreservationWarning
	for _, o := range overrides {
		var target *db.Shift
		for i := range ordered {
			if ordered[i].Covers(o.OverrideStartTime) {
				target = &ordered[i]
				break
			}
		}

		if target == nil {
			warnings = append(warnings, preservationWarning(o, "no new shift covers the override start"))
			continue
		}
		matched = append(matched, overrideReattachment{Old: o, Shift: *target})
	}
	return matched, warnings
}

func preservationWarning(o db.ScheduleOverride, reason string) PreservationWarning {
	return PreservationWarning{
		OverrideID: o.ID,
		NewUserID:  o.NewUserID,
		StartTime:  o.OverrideStartTime,
		EndTime:    o.OverrideEndTime,
		Reason:     reason,
	}
}
