package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"
)

// CameraConfig holds one camera's connection settings. The mapping on disk
// is JSON keyed by camera id (conventionally "camera_<last IP octet>"),
// shared with the interactive setup tooling.
type CameraConfig struct {
	ID         string `json:"-"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	StreamPath string `json:"stream_path"`
	Resolution string `json:"resolution,omitempty"`
	Name       string `json:"name,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// LoadCameras reads the cameras mapping from a JSON file and validates it.
func LoadCameras(path string) (map[string]CameraConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cameras file: %w", err)
	}

	var raw map[string]CameraConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse cameras file: %w", err)
	}

	cameras := make(map[string]CameraConfig, len(raw))
	for id, cam := range raw {
		cam.ID = id
		if cam.Port == 0 {
			cam.Port = 554
		}
		if cam.StreamPath == "" {
			cam.StreamPath = "/media/video1"
		}
		if err := cam.validate(); err != nil {
			return nil, fmt.Errorf("camera %s: %w", id, err)
		}
		cameras[id] = cam
	}
	if len(cameras) == 0 {
		return nil, fmt.Errorf("cameras file %s defines no cameras", path)
	}
	return cameras, nil
}

func (c CameraConfig) validate() error {
	if net.ParseIP(c.IP) == nil {
		return fmt.Errorf("invalid ip %q", c.IP)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if !strings.HasPrefix(c.StreamPath, "/") {
		return fmt.Errorf("stream_path %q must start with /", c.StreamPath)
	}
	return nil
}

// RTSPURL builds the camera's stream URL with credentials embedded.
// Never log the result directly; use RedactURL.
func (c CameraConfig) RTSPURL() string {
	if c.Username == "" {
		return fmt.Sprintf("rtsp://%s:%d%s", c.IP, c.Port, c.StreamPath)
	}
	return fmt.Sprintf("rtsp://%s:%s@%s:%d%s",
		url.QueryEscape(c.Username), url.QueryEscape(c.Password), c.IP, c.Port, c.StreamPath)
}

// RedactURL strips credentials from a stream URL for logging.
func RedactURL(raw string) string {
	if idx := strings.Index(raw, "://"); idx != -1 {
		rest := raw[idx+3:]
		if at := strings.LastIndex(rest, "@"); at != -1 {
			return raw[:idx+3] + "***:***@" + rest[at+1:]
		}
	}
	return raw
}

func enabledCameras(cameras map[string]CameraConfig) []CameraConfig {
	out := make([]CameraConfig, 0, len(cameras))
	for _, cam := range cameras {
		if cam.Enabled {
			out = append(out, cam)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
