package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/trailcam/trailcam-agent/internal/db"
	"github.com/trailcam/trailcam-agent/internal/detection"
)

func setupTestDB(t *testing.T) (*db.DB, *SQLRepository) {
	t.Helper()
	database, err := db.New("sqlite", filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, NewRepository(database.Conn(), database.Dialect())
}

func personResult(name string) *detection.Result {
	frames := make([]detection.FrameRecord, 0, 12)
	for i := 1; i <= 12; i++ {
		frames = append(frames, detection.NewFrameRecord(i, []detection.Detection{
			{BBox: [4]float64{0, 0, 10, 10}, Confidence: 0.8, ClassID: 0, ClassName: "person"},
			{BBox: [4]float64{20, 0, 30, 10}, Confidence: 0.7, ClassID: 0, ClassName: "person"},
		}))
	}
	return &detection.Result{VideoFilename: name, TotalFrames: len(frames), Frames: frames}
}

func TestRepository_RegisterVideo(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	v, err := repo.RegisterVideo(ctx, "clip.mp4")
	if err != nil {
		t.Fatalf("RegisterVideo() error = %v", err)
	}
	if v.ID == "" || v.Status != VideoStatusProcessing {
		t.Errorf("unexpected video: %+v", v)
	}

	got, err := repo.GetVideoByFilename(ctx, "clip.mp4")
	if err != nil {
		t.Fatalf("GetVideoByFilename() error = %v", err)
	}
	if got == nil || got.ID != v.ID {
		t.Fatalf("GetVideoByFilename() = %+v, want id %s", got, v.ID)
	}

	byID, err := repo.GetVideo(ctx, v.ID)
	if err != nil || byID == nil || byID.Filename != "clip.mp4" {
		t.Fatalf("GetVideo() = %+v, %v", byID, err)
	}
}

func TestRepository_RegisterVideo_Duplicate(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	if _, err := repo.RegisterVideo(ctx, "clip.mp4"); err != nil {
		t.Fatal(err)
	}
	_, err := repo.RegisterVideo(ctx, "clip.mp4")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second RegisterVideo() error = %v, want ErrDuplicate", err)
	}

	n, _ := repo.CountVideos(ctx)
	if n != 1 {
		t.Errorf("CountVideos() = %d, want 1", n)
	}
}

func TestRepository_RegisterVideo_Concurrent(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, dups := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.RegisterVideo(ctx, "race.mp4")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrDuplicate):
				dups++
			default:
				t.Errorf("RegisterVideo() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || dups != 7 {
		t.Errorf("wins=%d dups=%d, want 1 and 7", wins, dups)
	}
}

func TestRepository_GetVideoByFilename_NotFound(t *testing.T) {
	_, repo := setupTestDB(t)
	v, err := repo.GetVideoByFilename(context.Background(), "missing.mp4")
	if err != nil || v != nil {
		t.Errorf("GetVideoByFilename(missing) = %+v, %v, want nil, nil", v, err)
	}
}

func TestRepository_CompleteVideo(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	v, _ := repo.RegisterVideo(ctx, "clip.mp4")
	d, err := NewDetection(v.ID, personResult("clip"))
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.CompleteVideo(ctx, d); err != nil {
		t.Fatalf("CompleteVideo() error = %v", err)
	}

	got, _ := repo.GetVideo(ctx, v.ID)
	if got.Status != VideoStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.ClassesDetected != "person" || got.TotalFrames != 12 {
		t.Errorf("joined summary = %q/%d", got.ClassesDetected, got.TotalFrames)
	}

	stored, err := repo.GetDetection(ctx, v.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetDetection() = %+v, %v", stored, err)
	}
	if stored.ClassesDetected == nil || *stored.ClassesDetected != "person" {
		t.Errorf("classes_detected = %v, want person", stored.ClassesDetected)
	}
	if stored.MaxCountPerFrame["person"] != 2 {
		t.Errorf("max_count_per_frame = %v, want person:2", stored.MaxCountPerFrame)
	}

	result, err := stored.Result()
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalFrames != 12 || len(result.Frames) != 12 {
		t.Errorf("stored result frames = %d/%d", len(result.Frames), result.TotalFrames)
	}
}

func TestRepository_CompleteVideo_NoClasses(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	v, _ := repo.RegisterVideo(ctx, "empty.mp4")
	d, _ := NewDetection(v.ID, &detection.Result{VideoFilename: "empty", TotalFrames: 5, Frames: []detection.FrameRecord{}})
	if err := repo.CompleteVideo(ctx, d); err != nil {
		t.Fatalf("CompleteVideo() error = %v", err)
	}

	stored, _ := repo.GetDetection(ctx, v.ID)
	if stored.ClassesDetected != nil {
		t.Errorf("classes_detected = %q, want NULL", *stored.ClassesDetected)
	}
	if stored.MaxCountPerFrame != nil {
		t.Errorf("max_count_per_frame = %v, want NULL", stored.MaxCountPerFrame)
	}
}

func TestRepository_CompleteVideo_MissingVideo(t *testing.T) {
	_, repo := setupTestDB(t)
	d, _ := NewDetection("no-such-id", personResult("ghost"))
	if err := repo.CompleteVideo(context.Background(), d); err == nil {
		t.Fatal("CompleteVideo() for unknown video should fail")
	}
}

func TestRepository_DeleteVideo_Cascades(t *testing.T) {
	database, repo := setupTestDB(t)
	ctx := context.Background()

	v, _ := repo.RegisterVideo(ctx, "clip.mp4")
	d, _ := NewDetection(v.ID, personResult("clip"))
	if err := repo.CompleteVideo(ctx, d); err != nil {
		t.Fatal(err)
	}

	if err := repo.DeleteVideo(ctx, v.ID); err != nil {
		t.Fatalf("DeleteVideo() error = %v", err)
	}

	var n int
	database.Conn().QueryRow("SELECT COUNT(*) FROM detections").Scan(&n)
	if n != 0 {
		t.Errorf("detections left = %d, want 0", n)
	}
	if got, _ := repo.GetDetection(ctx, v.ID); got != nil {
		t.Error("GetDetection() after delete should be nil")
	}
}

func TestRepository_ListVideos(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		if _, err := repo.RegisterVideo(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	all, err := repo.ListVideos(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListVideos() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListVideos() = %d, want 3", len(all))
	}

	page, _ := repo.ListVideos(ctx, 2, 2)
	if len(page) != 1 {
		t.Errorf("ListVideos(2, 2) = %d, want 1", len(page))
	}

	n, _ := repo.CountVideos(ctx)
	if n != 3 {
		t.Errorf("CountVideos() = %d, want 3", n)
	}
}

func TestRepository_CompleteVideo_CommitFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	repo := NewRepository(conn, db.Postgres)
	d, _ := NewDetection("video-1", personResult("clip"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO detections")).
		WithArgs(d.ID, "video-1", sqlmock.AnyArg(), "person", sqlmock.AnyArg(), 12, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE videos SET status = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(VideoStatusCompleted, sqlmock.AnyArg(), "video-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	if err := repo.CompleteVideo(context.Background(), d); err == nil {
		t.Fatal("CompleteVideo() error = nil, want commit failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepository_CompleteVideo_InsertFailureRollsBack(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	repo := NewRepository(conn, db.SQLite)
	d, _ := NewDetection("video-1", personResult("clip"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO detections")).
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	if err := repo.CompleteVideo(context.Background(), d); err == nil {
		t.Fatal("CompleteVideo() error = nil, want insert failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIsVideoFile(t *testing.T) {
	tests := map[string]bool{
		"clip.mp4":    true,
		"CLIP.MP4":    true,
		"a.b.avi":     true,
		"x.mov":       true,
		"x.MkV":       true,
		"notes.txt":   false,
		"mp4":         false,
		"clip.mp4~":   false,
		".mp4":        false,
		"/watch/.MOV": false,
	}
	for name, want := range tests {
		if got := IsVideoFile(name); got != want {
			t.Errorf("IsVideoFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestArtifactName(t *testing.T) {
	tests := map[string]string{
		"clip.mp4":           "clip",
		"/watch/a.b.mov":     "a.b",
		"noext":              "noext",
		"/watch/Deer 01.MP4": "Deer 01",
	}
	for in, want := range tests {
		if got := ArtifactName(in); got != want {
			t.Errorf("ArtifactName(%q) = %q, want %q", in, got, want)
		}
	}
}
