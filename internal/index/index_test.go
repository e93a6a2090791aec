package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSegment(t *testing.T, root, date, camera, name string) {
	t.Helper()
	dir := filepath.Join(root, date, camera)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte("mp4 payload"), 0644); err != nil {
		t.Fatalf("write segment: %v", err)
	}
}

func TestParseSegmentName(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		wantCamera string
		wantTS     string
		wantErr    bool
	}{
		{
			name:       "standard name",
			file:       "camera_35_20251022_195212.mp4",
			wantCamera: "camera_35",
			wantTS:     "2025-10-22 19:52:12",
		},
		{
			name:       "camera id with extra underscores",
			file:       "cam_main_hall_20251022_110000.mp4",
			wantCamera: "cam_main_hall",
			wantTS:     "2025-10-22 11:00:00",
		},
		{
			name:    "too few parts",
			file:    "20251022.mp4",
			wantErr: true,
		},
		{
			name:    "bad timestamp",
			file:    "camera_35_20251322_995212.mp4",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			camera, ts, err := ParseSegmentName(tt.file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSegmentName(%q) error = %v, wantErr %v", tt.file, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if camera != tt.wantCamera {
				t.Errorf("camera = %q, want %q", camera, tt.wantCamera)
			}
			if got := ts.Format("2006-01-02 15:04:05"); got != tt.wantTS {
				t.Errorf("ts = %s, want %s", got, tt.wantTS)
			}
		})
	}
}

func TestScanFilters(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 10, 23, 12, 0, 0, 0, time.Local)

	// Today: must never be indexed, even for an enabled camera.
	writeSegment(t, root, "20251023", "camera_35", "camera_35_20251023_113000.mp4")
	// Yesterday: one processed, one not.
	writeSegment(t, root, "20251022", "camera_35", "camera_35_20251022_113000.mp4")
	writeSegment(t, root, "20251022", "camera_35", "camera_35_20251022_195212.mp4")
	// Yesterday, disabled camera.
	writeSegment(t, root, "20251022", "camera_36", "camera_36_20251022_113000.mp4")

	segments, err := NewScanner(root).Scan(Options{
		Now:     now,
		Enabled: map[string]bool{"camera_35": true, "camera_36": false},
		Processed: map[string]bool{
			"camera_35/camera_35_20251022_113000.mp4": true,
		},
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(segments) != 1 {
		t.Fatalf("Scan() returned %d segments, want exactly 1: %+v", len(segments), segments)
	}
	got := segments[0]
	if got.CameraID != "camera_35" || got.Date != "20251022" {
		t.Errorf("segment = %+v, want yesterday's unprocessed camera_35 file", got)
	}
	if want := "20251022_195212_camera_35"; got.SessionID() != want {
		t.Errorf("SessionID() = %q, want %q", got.SessionID(), want)
	}
}

func TestScanAllowList(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 10, 23, 12, 0, 0, 0, time.Local)

	writeSegment(t, root, "20251022", "camera_99", "camera_99_20251022_113000.mp4")

	segments, err := NewScanner(root).Scan(Options{
		Now:     now,
		Enabled: map[string]bool{"camera_35": true},
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("Scan() without allow-list = %d segments, want 0", len(segments))
	}

	segments, err = NewScanner(root).Scan(Options{
		Now:       now,
		Enabled:   map[string]bool{"camera_35": true},
		AllowList: []string{"camera_99"},
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(segments) != 1 || segments[0].CameraID != "camera_99" {
		t.Errorf("Scan() with allow-list = %+v, want camera_99 segment", segments)
	}
}

func TestScanOrdering(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 10, 23, 12, 0, 0, 0, time.Local)

	// Written out of order across two days and two cameras.
	writeSegment(t, root, "20251022", "camera_35", "camera_35_20251022_195212.mp4")
	writeSegment(t, root, "20251021", "camera_36", "camera_36_20251021_130000.mp4")
	writeSegment(t, root, "20251022", "camera_36", "camera_36_20251022_113000.mp4")
	writeSegment(t, root, "20251021", "camera_35", "camera_35_20251021_113000.mp4")

	segments, err := NewScanner(root).Scan(Options{
		Now:     now,
		Enabled: map[string]bool{"camera_35": true, "camera_36": true},
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(segments) != 4 {
		t.Fatalf("Scan() = %d segments, want 4", len(segments))
	}
	for i := 1; i < len(segments); i++ {
		if segments[i].StartTS.Before(segments[i-1].StartTS) {
			t.Errorf("segments out of order: %s before %s",
				segments[i-1].Path, segments[i].Path)
		}
	}
}

func TestScanSkipsJunk(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 10, 23, 12, 0, 0, 0, time.Local)

	writeSegment(t, root, "20251022", "camera_35", "camera_35_20251022_113000.mp4")
	writeSegment(t, root, "20251022", "camera_35", "notes.txt")
	writeSegment(t, root, "not_a_date", "camera_35", "camera_35_20251022_113000.mp4")

	// Empty file looks finalized but has no payload.
	empty := filepath.Join(root, "20251022", "camera_35", "camera_35_20251022_120000.mp4")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatalf("write empty: %v", err)
	}

	segments, err := NewScanner(root).Scan(Options{
		Now:     now,
		Enabled: map[string]bool{"camera_35": true},
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(segments) != 1 {
		t.Errorf("Scan() = %d segments, want 1 (junk filtered)", len(segments))
	}
}

func TestScanMissingRoot(t *testing.T) {
	segments, err := NewScanner(filepath.Join(t.TempDir(), "missing")).Scan(Options{
		Now:     time.Now(),
		Enabled: map[string]bool{"camera_35": true},
	})
	if err != nil {
		t.Fatalf("Scan(missing root) error = %v, want nil", err)
	}
	if len(segments) != 0 {
		t.Errorf("Scan(missing root) = %d segments, want 0", len(segments))
	}
}
