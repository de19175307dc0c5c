// Package export writes the per-video JSON side-channel artifact.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/trailcam/trailcam-agent/internal/detection"
)

// Mode selects the top-level shape of the artifact.
type Mode string

const (
	// ModeResult writes the whole result object.
	ModeResult Mode = "result"
	// ModeFrames writes only the list of filtered frame records.
	ModeFrames Mode = "frames"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeResult, ModeFrames:
		return Mode(s), nil
	case "":
		return ModeResult, nil
	default:
		return "", fmt.Errorf("unknown artifact mode %q", s)
	}
}

// Writer places <name>.json artifacts in a single directory.
type Writer struct {
	dir  string
	mode Mode
}

func NewWriter(dir string, mode Mode) (*Writer, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if err := PrepareDir(dir); err != nil {
		return nil, err
	}
	return &Writer{dir: dir, mode: mode}, nil
}

func (w *Writer) Dir() string {
	return w.dir
}

func (w *Writer) Mode() Mode {
	return w.mode
}

// Path returns the final artifact path for name.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.dir, name+".json")
}

// Encode renders r in the writer's mode with 2-space indentation.
func (w *Writer) Encode(r *detection.Result) ([]byte, error) {
	var v any = r
	if w.mode == ModeFrames {
		frames := r.Frames
		if frames == nil {
			frames = []detection.FrameRecord{}
		}
		v = frames
	}
	return json.MarshalIndent(v, "", "  ")
}

// Staged is an artifact written to a temporary file next to its final
// path. It becomes visible only after Publish.
type Staged struct {
	tmp   string
	final string
}

func (s *Staged) Path() string {
	return s.final
}

// Publish renames the staged file over the final path.
func (s *Staged) Publish() error {
	if err := os.Rename(s.tmp, s.final); err != nil {
		return fmt.Errorf("publish %s: %w", s.final, err)
	}
	return nil
}

// Discard removes the staged file.
func (s *Staged) Discard() error {
	if err := os.Remove(s.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Stage encodes r and writes it to a temporary file in the output dir.
func (w *Writer) Stage(name string, r *detection.Result) (*Staged, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := w.Encode(r)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}

	f, err := os.CreateTemp(w.dir, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp artifact: %w", err)
	}
	staged := &Staged{tmp: f.Name(), final: w.Path(name)}

	if _, err := f.Write(data); err != nil {
		f.Close()
		staged.Discard()
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		staged.Discard()
		return nil, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Chmod(staged.tmp, 0644); err != nil {
		staged.Discard()
		return nil, fmt.Errorf("chmod artifact: %w", err)
	}
	return staged, nil
}

// Write stages and publishes in one step and returns the final path.
func (w *Writer) Write(name string, r *detection.Result) (string, error) {
	staged, err := w.Stage(name, r)
	if err != nil {
		return "", err
	}
	if err := staged.Publish(); err != nil {
		staged.Discard()
		return "", err
	}
	return staged.Path(), nil
}

// Remove deletes the artifact for name. A missing artifact is not an error.
func (w *Writer) Remove(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(w.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}
