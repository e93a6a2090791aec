package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validROI = `{
  "frame_size": [2592, 1944],
  "division_polygon": [{"x": 0, "y": 0}, {"x": 2592, "y": 0}, {"x": 2592, "y": 1944}],
  "tables": [
    {"table_id": "T1", "polygon": [{"x": 10, "y": 10}, {"x": 20, "y": 10}, {"x": 20, "y": 20}]}
  ],
  "sitting_areas": [
    {"area_id": "S1", "table_id": "T1", "polygon": [{"x": 0, "y": 0}, {"x": 5, "y": 0}, {"x": 5, "y": 5}]}
  ],
  "service_areas": []
}`

func roiTestConfig(t *testing.T) *Config {
	t.Helper()
	path := writeTestConfig(t, "capture:\n  windows: [\"11:30-14:00\"]\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := os.MkdirAll(cfg.System.ROIDir, 0755); err != nil {
		t.Fatalf("failed to create ROI dir: %v", err)
	}
	return cfg
}

func TestLoadROI(t *testing.T) {
	cfg := roiTestConfig(t)

	if err := os.WriteFile(cfg.ROIPath("camera_35"), []byte(validROI), 0644); err != nil {
		t.Fatalf("failed to write ROI file: %v", err)
	}

	roi, err := cfg.LoadROI("camera_35")
	if err != nil {
		t.Fatalf("LoadROI() error = %v", err)
	}
	if roi.CameraID != "camera_35" {
		t.Errorf("CameraID = %q, want camera_35", roi.CameraID)
	}
	if roi.FrameSize != [2]int{2592, 1944} {
		t.Errorf("FrameSize = %v, want [2592 1944]", roi.FrameSize)
	}
	if len(roi.Tables) != 1 || roi.Tables[0].TableID != "T1" {
		t.Errorf("Tables = %+v, want one table T1", roi.Tables)
	}
}

func TestLoadROIValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "division polygon too small",
			body: `{"frame_size": [100, 100], "division_polygon": [{"x":0,"y":0},{"x":1,"y":1}], "tables": [], "sitting_areas": [], "service_areas": []}`,
		},
		{
			name: "sitting area orphaned",
			body: `{"frame_size": [100, 100],
				"division_polygon": [{"x":0,"y":0},{"x":1,"y":0},{"x":1,"y":1}],
				"tables": [],
				"sitting_areas": [{"area_id":"S1","table_id":"T9","polygon":[{"x":0,"y":0},{"x":1,"y":0},{"x":1,"y":1}]}],
				"service_areas": []}`,
		},
		{
			name: "zero frame size",
			body: `{"frame_size": [0, 0], "division_polygon": [{"x":0,"y":0},{"x":1,"y":0},{"x":1,"y":1}], "tables": [], "sitting_areas": [], "service_areas": []}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := roiTestConfig(t)
			if err := os.WriteFile(cfg.ROIPath("camera_35"), []byte(tt.body), 0644); err != nil {
				t.Fatalf("failed to write ROI file: %v", err)
			}
			if _, err := cfg.LoadROI("camera_35"); err == nil {
				t.Error("LoadROI() succeeded, want validation error")
			}
		})
	}
}

func TestLegacyROIMigration(t *testing.T) {
	cfg := roiTestConfig(t)

	legacy := filepath.Join(cfg.System.ROIDir, legacyROIFile)
	if err := os.WriteFile(legacy, []byte(validROI), 0644); err != nil {
		t.Fatalf("failed to write legacy ROI file: %v", err)
	}

	// camera_35 is the first (and only) enabled camera, so it inherits
	// the legacy file.
	roi, err := cfg.LoadROI("camera_35")
	if err != nil {
		t.Fatalf("LoadROI() error = %v", err)
	}
	if roi.CameraID != "camera_35" {
		t.Errorf("CameraID = %q, want camera_35", roi.CameraID)
	}

	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Error("legacy ROI file still present after migration")
	}
	if _, err := os.Stat(cfg.ROIPath("camera_35")); err != nil {
		t.Errorf("migrated ROI file missing: %v", err)
	}
}

func TestLegacyROINotMigratedForOtherCamera(t *testing.T) {
	cfg := roiTestConfig(t)

	legacy := filepath.Join(cfg.System.ROIDir, legacyROIFile)
	if err := os.WriteFile(legacy, []byte(validROI), 0644); err != nil {
		t.Fatalf("failed to write legacy ROI file: %v", err)
	}

	// camera_36 is disabled and not first; the legacy file stays put.
	if _, err := cfg.LoadROI("camera_36"); err == nil {
		t.Error("LoadROI(camera_36) succeeded, want missing-file error")
	}
	if _, err := os.Stat(legacy); err != nil {
		t.Errorf("legacy ROI file was moved for the wrong camera: %v", err)
	}
}
