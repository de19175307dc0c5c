// Package yolo decodes raw YOLOv8-style output tensors into scored boxes
// and runs class-aware non-maximum suppression over them.
package yolo

import (
	"fmt"
	"math"
	"sort"
)

// Box is an axis-aligned box in image pixels.
type Box struct {
	X1, Y1, X2, Y2 float64
}

func (b Box) Area() float64 {
	return math.Max(0, b.X2-b.X1) * math.Max(0, b.Y2-b.Y1)
}

// IoU returns the intersection over union of a and b.
func IoU(a, b Box) float64 {
	inter := Box{
		X1: math.Max(a.X1, b.X1),
		Y1: math.Max(a.Y1, b.Y1),
		X2: math.Min(a.X2, b.X2),
		Y2: math.Min(a.Y2, b.Y2),
	}.Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Candidate is one decoded prediction before suppression.
type Candidate struct {
	Box     Box
	Score   float64
	ClassID int
}

// Geometry maps model input coordinates back onto the source image.
type Geometry struct {
	InputSize   int
	ImageWidth  int
	ImageHeight int
}

// Decode reads an output tensor of shape [1, 4+classes, anchors] (or its
// transpose) where each anchor holds cx, cy, w, h followed by one score per
// class. Anchors whose best class scores below conf are dropped.
func Decode(data []float32, dims []int, conf float64, g Geometry) ([]Candidate, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	channels, anchors := dims[1], dims[2]
	transposed := false
	if channels > anchors {
		channels, anchors = anchors, channels
		transposed = true
	}
	if channels <= 4 {
		return nil, fmt.Errorf("output shape %v has no class scores", dims)
	}
	if len(data) < channels*anchors {
		return nil, fmt.Errorf("output holds %d values, shape %v needs %d", len(data), dims, channels*anchors)
	}
	if g.InputSize <= 0 {
		return nil, fmt.Errorf("invalid input size %d", g.InputSize)
	}

	at := func(c, i int) float64 {
		if transposed {
			return float64(data[i*channels+c])
		}
		return float64(data[c*anchors+i])
	}

	sx := float64(g.ImageWidth) / float64(g.InputSize)
	sy := float64(g.ImageHeight) / float64(g.InputSize)
	maxX, maxY := float64(g.ImageWidth), float64(g.ImageHeight)

	var out []Candidate
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, 0.0
		for c := 4; c < channels; c++ {
			if s := at(c, i); s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || bestScore < conf {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		out = append(out, Candidate{
			Box: Box{
				X1: clamp((cx-w/2)*sx, maxX),
				Y1: clamp((cy-h/2)*sy, maxY),
				X2: clamp((cx+w/2)*sx, maxX),
				Y2: clamp((cy+h/2)*sy, maxY),
			},
			Score:   bestScore,
			ClassID: best,
		})
	}
	return out, nil
}

// NMS keeps, per class, the highest scoring boxes that overlap no kept box
// of the same class by iou or more. The result is ordered by score.
func NMS(cands []Candidate, iou float64) []Candidate {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var kept []Candidate
	for _, c := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == c.ClassID && IoU(k.Box, c.Box) >= iou {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
