// Package index discovers finalized capture segments on disk and orders
// them for processing.
package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Segment is one finalized video file under videos/YYYYMMDD/<camera_id>/.
type Segment struct {
	Path     string
	CameraID string
	Date     string // YYYYMMDD from the enclosing directory
	StartTS  time.Time
	Size     int64
}

// Options controls a scan.
type Options struct {
	// Now anchors "today"; segments dated today are still open and are
	// never indexed.
	Now time.Time
	// Enabled is the set of camera ids accepted from config.
	Enabled map[string]bool
	// AllowList admits extra camera ids (retired cameras with backlog).
	AllowList []string
	// Processed is the set of "<camera_id>/<filename>" pairs that
	// already have a session.
	Processed map[string]bool
	// Ext is the segment extension, default ".mp4".
	Ext string
}

// Scanner walks the video root.
type Scanner struct {
	root   string
	logger *slog.Logger
}

// NewScanner creates a scanner over the given video root.
func NewScanner(root string) *Scanner {
	return &Scanner{
		root:   root,
		logger: slog.Default().With("component", "index"),
	}
}

// Scan returns processable segments sorted by start timestamp ascending,
// oldest first. Three filters apply in order: the date directory is
// strictly before today, the camera is enabled or allow-listed, and the
// file has no session yet.
func (s *Scanner) Scan(opts Options) ([]Segment, error) {
	if opts.Ext == "" {
		opts.Ext = ".mp4"
	}
	today := opts.Now.Format("20060102")

	allowed := make(map[string]bool, len(opts.Enabled)+len(opts.AllowList))
	for id, ok := range opts.Enabled {
		if ok {
			allowed[id] = true
		}
	}
	for _, id := range opts.AllowList {
		allowed[id] = true
	}

	dateDirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read video root: %w", err)
	}

	var segments []Segment
	for _, dateDir := range dateDirs {
		if !dateDir.IsDir() || !isDateDir(dateDir.Name()) {
			continue
		}
		// YYYYMMDD compares lexically; today's segments may still be open.
		if dateDir.Name() >= today {
			continue
		}

		camDirs, err := os.ReadDir(filepath.Join(s.root, dateDir.Name()))
		if err != nil {
			s.logger.Warn("Cannot read date directory", "dir", dateDir.Name(), "error", err)
			continue
		}

		for _, camDir := range camDirs {
			if !camDir.IsDir() || !allowed[camDir.Name()] {
				continue
			}

			files, err := os.ReadDir(filepath.Join(s.root, dateDir.Name(), camDir.Name()))
			if err != nil {
				s.logger.Warn("Cannot read camera directory",
					"date", dateDir.Name(), "camera", camDir.Name(), "error", err)
				continue
			}

			for _, file := range files {
				if file.IsDir() || !strings.HasSuffix(file.Name(), opts.Ext) {
					continue
				}
				if opts.Processed[camDir.Name()+"/"+file.Name()] {
					continue
				}

				cameraID, ts, err := ParseSegmentName(file.Name())
				if err != nil {
					s.logger.Warn("Skipping unparseable segment", "file", file.Name(), "error", err)
					continue
				}
				if cameraID != camDir.Name() {
					s.logger.Warn("Segment filename camera mismatch",
						"file", file.Name(), "dir", camDir.Name())
					continue
				}

				info, err := file.Info()
				if err != nil {
					continue
				}
				if info.Size() == 0 {
					s.logger.Warn("Skipping empty segment", "file", file.Name())
					continue
				}

				segments = append(segments, Segment{
					Path:     filepath.Join(s.root, dateDir.Name(), camDir.Name(), file.Name()),
					CameraID: cameraID,
					Date:     dateDir.Name(),
					StartTS:  ts,
					Size:     info.Size(),
				})
			}
		}
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].StartTS.Before(segments[j].StartTS)
	})
	return segments, nil
}

// ParseSegmentName extracts the camera id and start timestamp from a
// segment filename of the form <camera_id>_YYYYMMDD_HHMMSS.<ext>.
// Camera ids contain underscores, so the name is parsed from the end.
func ParseSegmentName(name string) (string, time.Time, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return "", time.Time{}, fmt.Errorf("invalid segment name %q", name)
	}

	datePart := parts[len(parts)-2]
	timePart := parts[len(parts)-1]
	cameraID := strings.Join(parts[:len(parts)-2], "_")

	ts, err := time.ParseInLocation("20060102_150405", datePart+"_"+timePart, time.Local)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid timestamp in segment name %q: %w", name, err)
	}
	return cameraID, ts, nil
}

// SessionID returns the session identity for this segment,
// "<start_ts>_<camera_id>". Unique across concurrent workers because the
// timestamp and camera pair is unique per file.
func (s Segment) SessionID() string {
	return s.StartTS.Format("20060102_150405") + "_" + s.CameraID
}

func isDateDir(name string) bool {
	if len(name) != 8 {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
