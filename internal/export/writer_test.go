package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/trailcam/trailcam-agent/internal/detection"
)

func sampleResult() *detection.Result {
	return &detection.Result{
		VideoFilename: "clip",
		TotalFrames:   3,
		Frames: []detection.FrameRecord{
			detection.NewFrameRecord(2, []detection.Detection{
				{BBox: [4]float64{1, 2, 3, 4}, Confidence: 0.9, ClassID: 0, ClassName: "person"},
			}),
		},
	}
}

func TestWriter_WriteResultMode(t *testing.T) {
	w, err := NewWriter(t.TempDir(), ModeResult)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	path, err := w.Write("clip", sampleResult())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if filepath.Base(path) != "clip.json" {
		t.Errorf("path = %q, want clip.json", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  \"video_filename\": \"clip\"") {
		t.Errorf("artifact not indented with 2 spaces:\n%s", data)
	}

	var got detection.Result
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if got.TotalFrames != 3 || len(got.Frames) != 1 || got.Frames[0].FrameIndex != 2 {
		t.Errorf("unexpected artifact contents: %+v", got)
	}
}

func TestWriter_FramesMode(t *testing.T) {
	w, err := NewWriter(t.TempDir(), ModeFrames)
	if err != nil {
		t.Fatal(err)
	}

	path, err := w.Write("clip", &detection.Result{VideoFilename: "clip", TotalFrames: 10})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "[]" {
		t.Errorf("frames artifact = %q, want []", data)
	}
}

func TestWriter_StageIsInvisibleUntilPublish(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWriter(dir, ModeResult)

	staged, err := w.Stage("clip", sampleResult())
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if _, err := os.Stat(w.Path("clip")); !os.IsNotExist(err) {
		t.Fatalf("final artifact exists before Publish")
	}

	if err := staged.Publish(); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if _, err := os.Stat(w.Path("clip")); err != nil {
		t.Fatalf("artifact missing after Publish: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the artifact", len(entries))
	}
}

func TestWriter_Discard(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWriter(dir, ModeResult)

	staged, err := w.Stage("clip", sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	if err := staged.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if err := staged.Discard(); err != nil {
		t.Fatalf("second Discard() error = %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("dir has %d entries after Discard, want 0", len(entries))
	}
}

func TestWriter_Overwrite(t *testing.T) {
	w, _ := NewWriter(t.TempDir(), ModeResult)
	if _, err := w.Write("clip", sampleResult()); err != nil {
		t.Fatal(err)
	}
	path, err := w.Write("clip", &detection.Result{VideoFilename: "clip", TotalFrames: 7, Frames: []detection.FrameRecord{}})
	if err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	var got detection.Result
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.TotalFrames != 7 {
		t.Errorf("total_frames = %d, want 7", got.TotalFrames)
	}
}

func TestWriter_Remove(t *testing.T) {
	w, _ := NewWriter(t.TempDir(), ModeResult)
	if _, err := w.Write("clip", sampleResult()); err != nil {
		t.Fatal(err)
	}

	if err := w.Remove("clip"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(w.Path("clip")); !os.IsNotExist(err) {
		t.Error("artifact still present after Remove")
	}
	if err := w.Remove("clip"); err != nil {
		t.Errorf("Remove(missing) error = %v, want nil", err)
	}
}

func TestWriter_RejectsBadNames(t *testing.T) {
	w, _ := NewWriter(t.TempDir(), ModeResult)
	if _, err := w.Stage("../escape", sampleResult()); err == nil {
		t.Error("Stage(../escape) expected error")
	}
	if err := w.Remove("a/b"); err == nil {
		t.Error("Remove(a/b) expected error")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeResult, false},
		{"result", ModeResult, false},
		{"frames", ModeFrames, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}
