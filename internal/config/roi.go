package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// legacyROIFile is the single-file form written by old setup tooling.
// On first read it is aliased to the first enabled camera's ROI file.
const legacyROIFile = "table_region_config.json"

// Point is one polygon vertex in reference-frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TableROI is one table's polygon plus its linked sitting areas.
type TableROI struct {
	TableID      string   `json:"table_id"`
	Polygon      []Point  `json:"polygon"`
	SittingAreas []string `json:"sitting_areas,omitempty"`
}

// SittingAreaROI is a sitting-area polygon that belongs to a table.
type SittingAreaROI struct {
	AreaID  string  `json:"area_id"`
	TableID string  `json:"table_id"`
	Polygon []Point `json:"polygon"`
}

// ServiceAreaROI is a waiter service-area polygon.
type ServiceAreaROI struct {
	AreaID  string  `json:"area_id"`
	Polygon []Point `json:"polygon"`
}

// ROIConfig holds one camera's region-of-interest polygons, drawn against
// the reference frame size. The analysis runner rescales them to the
// actual frame size at processing time.
type ROIConfig struct {
	CameraID     string           `json:"camera_id,omitempty"`
	FrameSize    [2]int           `json:"frame_size"`
	Division     []Point          `json:"division_polygon"`
	Tables       []TableROI       `json:"tables"`
	SittingAreas []SittingAreaROI `json:"sitting_areas"`
	ServiceAreas []ServiceAreaROI `json:"service_areas"`
}

// ROIPath returns the ROI file path for a camera.
func (c *Config) ROIPath(cameraID string) string {
	return filepath.Join(c.System.ROIDir, cameraID+"_roi.json")
}

// LoadROI reads and validates a camera's ROI file. If the per-camera file
// is absent but the legacy single-file form exists and cameraID is the
// first enabled camera, the legacy file is migrated in place.
func (c *Config) LoadROI(cameraID string) (*ROIConfig, error) {
	path := c.ROIPath(cameraID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := c.migrateLegacyROI(cameraID, path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ROI file for %s: %w", cameraID, err)
	}

	var roi ROIConfig
	if err := json.Unmarshal(data, &roi); err != nil {
		return nil, fmt.Errorf("failed to parse ROI file for %s: %w", cameraID, err)
	}
	roi.CameraID = cameraID

	if err := roi.validate(); err != nil {
		return nil, fmt.Errorf("ROI file for %s: %w", cameraID, err)
	}
	return &roi, nil
}

// migrateLegacyROI renames the legacy single-file ROI config to the
// per-camera form. Only the first enabled camera inherits it; migration
// is silent because the legacy file carries no camera identity to check.
func (c *Config) migrateLegacyROI(cameraID, target string) error {
	enabled := c.EnabledCameras()
	if len(enabled) == 0 || enabled[0].ID != cameraID {
		return nil
	}

	legacy := filepath.Join(c.System.ROIDir, legacyROIFile)
	if _, err := os.Stat(legacy); err != nil {
		return nil
	}
	if err := os.Rename(legacy, target); err != nil {
		return fmt.Errorf("failed to migrate legacy ROI file: %w", err)
	}
	return nil
}

func (r *ROIConfig) validate() error {
	if r.FrameSize[0] <= 0 || r.FrameSize[1] <= 0 {
		return fmt.Errorf("frame_size must be positive, got %v", r.FrameSize)
	}
	if len(r.Division) < 3 {
		return fmt.Errorf("division polygon has %d vertices, need at least 3", len(r.Division))
	}

	tables := make(map[string]bool, len(r.Tables))
	for _, t := range r.Tables {
		if len(t.Polygon) < 3 {
			return fmt.Errorf("table %s polygon has %d vertices, need at least 3", t.TableID, len(t.Polygon))
		}
		if tables[t.TableID] {
			return fmt.Errorf("duplicate table id %s", t.TableID)
		}
		tables[t.TableID] = true
	}
	for _, s := range r.SittingAreas {
		if len(s.Polygon) < 3 {
			return fmt.Errorf("sitting area %s polygon has %d vertices, need at least 3", s.AreaID, len(s.Polygon))
		}
		if !tables[s.TableID] {
			return fmt.Errorf("sitting area %s references unknown table %s", s.AreaID, s.TableID)
		}
	}
	for _, s := range r.ServiceAreas {
		if len(s.Polygon) < 3 {
			return fmt.Errorf("service area %s polygon has %d vertices, need at least 3", s.AreaID, len(s.Polygon))
		}
	}
	return nil
}
