package appointment

import "sort"

// ComputeSlots subtracts the booked intervals from the [dayStart, dayEnd)
// working window and carves each free interval into consecutive windows of
// exactly durationMinutes, ascending by start time. A fully booked day or a
// duration longer than the day yields an empty result, not an error.
//
// Pure function of its inputs; booked intervals may arrive unsorted and
// overlapping.
func ComputeSlots(dayStart, dayEnd TimeOfDay, booked []Slot, durationMinutes int) []Slot {
	if durationMinutes <= 0 || dayEnd <= dayStart {
		return nil
	}

	free := freeIntervals(dayStart, dayEnd, booked)

	duration := TimeOfDay(durationMinutes)
	var slots []Slot
	for _, iv := range free {
		for start := iv.StartTime; start+duration <= iv.EndTime; start += duration {
			slots = append(slots, Slot{StartTime: start, EndTime: start + duration})
		}
	}
	return slots
}

// freeIntervals returns the complement of the booked intervals within
// [dayStart, dayEnd) as a sorted, non-overlapping sequence.
func freeIntervals(dayStart, dayEnd TimeOfDay, booked []Slot) []Slot {
	merged := mergeIntervals(clampIntervals(dayStart, dayEnd, booked))

	var free []Slot
	cursor := dayStart
	for _, iv := range merged {
		if iv.StartTime > cursor {
			free = append(free, Slot{StartTime: cursor, EndTime: iv.StartTime})
		}
		if iv.EndTime > cursor {
			cursor = iv.EndTime
		}
	}
	if cursor < dayEnd {
		free = append(free, Slot{StartTime: cursor, EndTime: dayEnd})
	}
	return free
}

func clampIntervals(dayStart, dayEnd TimeOfDay, intervals []Slot) []Slot {
	var out []Slot
	for _, iv := range intervals {
		start, end := iv.StartTime, iv.EndTime
		if start < dayStart {
			start = dayStart
		}
		if end > dayEnd {
			end = dayEnd
		}
		if start < end {
			out = append(out, Slot{StartTime: start, EndTime: end})
		}
	}
	return out
}

func mergeIntervals(intervals []Slot) []Slot {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Slot, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartTime < sorted[j].StartTime
	})

	merged := []Slot{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iv.StartTime <= last.EndTime {
			if iv.EndTime > last.EndTime {
				last.EndTime = iv.EndTime
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
