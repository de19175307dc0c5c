package detection

import "sort"

// FrameSet is a set of 1-based frame indices.
type FrameSet map[int]struct{}

func (s FrameSet) Has(frame int) bool {
	_, ok := s[frame]
	return ok
}

// Sorted returns the members in ascending order.
func (s FrameSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}

// ClassValidity maps a class name to the frames where that class survived
// filtering.
type ClassValidity map[string]FrameSet

// Valid reports whether class is kept at frame.
func (v ClassValidity) Valid(class string, frame int) bool {
	return v[class].Has(frame)
}

// ClassFrames collects, per class, every frame index with at least one
// detection of that class.
func ClassFrames(records []FrameRecord) map[string]FrameSet {
	out := make(map[string]FrameSet)
	for _, rec := range records {
		for _, d := range rec.Detections {
			set, ok := out[d.ClassName]
			if !ok {
				set = make(FrameSet)
				out[d.ClassName] = set
			}
			set[rec.FrameIndex] = struct{}{}
		}
	}
	return out
}

// Filter computes, independently for every class, the frames that belong
// to a sustained run of detections.
//
// A run is built by walking the class's detected frames in order and
// joining frame b to the run ending at a while b-a <= gapTolerance+1. A
// run is kept only when it holds strictly more than frameThreshold
// detected frames. Frames inside a bridged gap are never added.
func Filter(records []FrameRecord, frameThreshold, gapTolerance int) ClassValidity {
	out := make(ClassValidity)
	for class, frames := range ClassFrames(records) {
		valid := ValidFrames(frames.Sorted(), frameThreshold, gapTolerance)
		if len(valid) > 0 {
			out[class] = valid
		}
	}
	return out
}

// ValidFrames applies the run-length rule to one class's detected frames,
// which must be sorted ascending and free of duplicates.
func ValidFrames(sorted []int, frameThreshold, gapTolerance int) FrameSet {
	valid := make(FrameSet)
	if len(sorted) == 0 {
		return valid
	}

	keep := func(run []int) {
		if len(run) > frameThreshold {
			for _, f := range run {
				valid[f] = struct{}{}
			}
		}
	}

	start := 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i]-sorted[i-1] <= gapTolerance+1 {
			continue
		}
		keep(sorted[start:i])
		start = i
	}
	keep(sorted[start:])

	return valid
}

// Apply returns copies of records holding only the detections valid for
// their frame. Frame indices and count are unchanged.
func Apply(records []FrameRecord, validity ClassValidity) []FrameRecord {
	out := make([]FrameRecord, len(records))
	for i, rec := range records {
		kept := make([]Detection, 0, len(rec.Detections))
		for _, d := range rec.Detections {
			if validity.Valid(d.ClassName, rec.FrameIndex) {
				kept = append(kept, d)
			}
		}
		out[i] = NewFrameRecord(rec.FrameIndex, kept)
	}
	return out
}
