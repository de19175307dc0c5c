package detection

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

// recordsFor builds total frames where class is detected on the given frames.
func recordsFor(total int, class string, frames ...int) []FrameRecord {
	hit := make(map[int]bool)
	for _, f := range frames {
		hit[f] = true
	}
	out := make([]FrameRecord, total)
	for i := range out {
		var dets []Detection
		if hit[i+1] {
			dets = []Detection{{ClassName: class, Confidence: 0.9}}
		}
		out[i] = NewFrameRecord(i+1, dets)
	}
	return out
}

func seq(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestValidFrames(t *testing.T) {
	deer := []int{1, 2, 3, 7, 8, 9, 10}

	tests := []struct {
		name      string
		frames    []int
		threshold int
		gap       int
		want      []int
	}{
		{"gap bridged run kept", deer, 5, 3, deer},
		{"gap bridged run too short", deer, 8, 3, []int{}},
		{"gap too wide splits runs", deer, 3, 2, []int{7, 8, 9, 10}},
		{"exactly threshold rejected", seq(1, 10), 10, 0, []int{}},
		{"threshold plus one kept", seq(1, 11), 10, 0, seq(1, 11)},
		{"zero threshold keeps singletons", []int{4, 20}, 0, 0, []int{4, 20}},
		{"empty", nil, 0, 3, []int{}},
		{"two runs evaluated separately", append(seq(1, 3), seq(50, 60)...), 5, 3, seq(50, 60)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidFrames(tt.frames, tt.threshold, tt.gap).Sorted()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ValidFrames(%v, %d, %d) = %v, want %v", tt.frames, tt.threshold, tt.gap, got, tt.want)
			}
		})
	}
}

func TestValidFrames_MergeBoundary(t *testing.T) {
	// a=1, b=1+gap+1 merges; one frame further apart splits.
	for gap := 0; gap <= 5; gap++ {
		merged := ValidFrames([]int{1, gap + 2}, 1, gap)
		if len(merged) != 2 {
			t.Errorf("gap=%d: frames 1 and %d should merge into a kept run, got %v", gap, gap+2, merged.Sorted())
		}
		split := ValidFrames([]int{1, gap + 3}, 1, gap)
		if len(split) != 0 {
			t.Errorf("gap=%d: frames 1 and %d should split into short runs, got %v", gap, gap+3, split.Sorted())
		}
	}
}

func TestFilter_GapFramesNotAdded(t *testing.T) {
	records := recordsFor(10, "deer", 1, 2, 3, 7, 8, 9, 10)
	valid := Filter(records, 5, 3)

	for _, f := range []int{4, 5, 6} {
		if valid.Valid("deer", f) {
			t.Errorf("frame %d inside a bridged gap must not be valid", f)
		}
	}
	if !valid.Valid("deer", 7) {
		t.Error("frame 7 should be valid")
	}
}

func TestFilter_PerClassIndependent(t *testing.T) {
	records := make([]FrameRecord, 12)
	for i := range records {
		dets := []Detection{{ClassName: "deer"}}
		if i == 5 {
			dets = append(dets, Detection{ClassName: "fox"})
		}
		records[i] = NewFrameRecord(i+1, dets)
	}

	valid := Filter(records, 10, 3)

	if !valid.Valid("deer", 6) {
		t.Error("deer should be valid at frame 6")
	}
	if valid.Valid("fox", 6) {
		t.Error("single fox detection should be filtered out")
	}
	if _, ok := valid["fox"]; ok {
		t.Error("fox should have no entry once all its frames are rejected")
	}
}

func TestFilter_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		total := 1 + rng.Intn(200)
		var frames []int
		for f := 1; f <= total; f++ {
			if rng.Float64() < 0.4 {
				frames = append(frames, f)
			}
		}
		threshold := rng.Intn(12)
		gap := rng.Intn(6)
		records := recordsFor(total, "deer", frames...)

		first := Filter(records, threshold, gap)
		second := Filter(records, threshold, gap)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("filter not idempotent for frames=%v thr=%d gap=%d", frames, threshold, gap)
		}

		detected := make(map[int]bool)
		for _, f := range frames {
			detected[f] = true
		}
		for f := range first["deer"] {
			if !detected[f] {
				t.Fatalf("filter invented frame %d (frames=%v thr=%d gap=%d)", f, frames, threshold, gap)
			}
		}
	}
}

func TestApply(t *testing.T) {
	records := []FrameRecord{
		NewFrameRecord(1, []Detection{{ClassName: "deer"}, {ClassName: "fox"}}),
		NewFrameRecord(2, []Detection{{ClassName: "fox"}}),
		NewFrameRecord(3, nil),
	}
	validity := ClassValidity{"deer": FrameSet{1: {}}}

	got := Apply(records, validity)

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, rec := range got {
		if rec.FrameIndex != i+1 {
			t.Errorf("frame %d index = %d", i, rec.FrameIndex)
		}
	}
	if got[0].NumDetections != 1 || got[0].Detections[0].ClassName != "deer" || !got[0].ObjectsDetected {
		t.Errorf("frame 1 = %+v, want only deer", got[0])
	}
	if got[1].NumDetections != 0 || got[1].ObjectsDetected || got[1].Detections == nil {
		t.Errorf("frame 2 = %+v, want empty non-nil detections", got[1])
	}
	if records[0].NumDetections != 2 {
		t.Error("Apply must not modify its input")
	}
}

func TestFrameSet_Sorted(t *testing.T) {
	s := FrameSet{9: {}, 2: {}, 5: {}}
	got := s.Sorted()
	if !sort.IntsAreSorted(got) || len(got) != 3 {
		t.Errorf("Sorted = %v", got)
	}
}
