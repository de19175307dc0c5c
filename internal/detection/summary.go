package detection

import (
	"sort"
	"strings"
)

// Summary is the per-video aggregate stored next to the full result.
type Summary struct {
	// Classes is sorted and de-duplicated.
	Classes []string
	// MaxCountPerFrame maps a class to the largest number of its detections
	// seen together in one frame.
	MaxCountPerFrame map[string]int
}

// Summarize aggregates the (already filtered) frames of r.
func Summarize(r *Result) Summary {
	maxCount := make(map[string]int)
	for _, frame := range r.Frames {
		counts := make(map[string]int)
		for _, d := range frame.Detections {
			counts[d.ClassName]++
		}
		for class, n := range counts {
			if n > maxCount[class] {
				maxCount[class] = n
			}
		}
	}

	classes := make([]string, 0, len(maxCount))
	for class := range maxCount {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	return Summary{Classes: classes, MaxCountPerFrame: maxCount}
}

// ClassesDetected returns the comma-joined class list, or false when no
// class was detected.
func (s Summary) ClassesDetected() (string, bool) {
	if len(s.Classes) == 0 {
		return "", false
	}
	return strings.Join(s.Classes, ","), true
}
