package cloudsync

import (
	"time"

	"github.com/aseofsmartice/surveillance/internal/events"
	"github.com/aseofsmartice/surveillance/internal/store"
)

// Cloud row shapes. Timestamps travel as RFC 3339 strings and the
// synced flag becomes a real boolean; everything else maps 1:1.

type cloudSession struct {
	SessionID   string  `json:"session_id"`
	CameraID    string  `json:"camera_id"`
	VideoFile   string  `json:"video_file"`
	LocationID  string  `json:"location_id"`
	StartTime   string  `json:"start_time"`
	EndTime     *string `json:"end_time"`
	TotalFrames *int64  `json:"total_frames"`
}

type cloudDivisionRow struct {
	LocalID           int64   `json:"local_id"`
	SessionID         string  `json:"session_id"`
	CameraID          string  `json:"camera_id"`
	LocationID        string  `json:"location_id"`
	FrameNumber       int     `json:"frame_number"`
	TimestampVideo    float64 `json:"timestamp_video"`
	TimestampRecorded string  `json:"timestamp_recorded"`
	State             string  `json:"state"`
	WalkingWaiters    int     `json:"walking_area_waiters"`
	ServiceWaiters    int     `json:"service_area_waiters"`
	TotalStaff        int     `json:"total_staff"`
	ScreenshotPath    string  `json:"screenshot_path,omitempty"`
}

type cloudTableRow struct {
	LocalID           int64   `json:"local_id"`
	SessionID         string  `json:"session_id"`
	CameraID          string  `json:"camera_id"`
	LocationID        string  `json:"location_id"`
	FrameNumber       int     `json:"frame_number"`
	TimestampVideo    float64 `json:"timestamp_video"`
	TimestampRecorded string  `json:"timestamp_recorded"`
	TableID           string  `json:"table_id"`
	State             string  `json:"state"`
	CustomersCount    int     `json:"customers_count"`
	WaitersCount      int     `json:"waiters_count"`
	ScreenshotPath    string  `json:"screenshot_path,omitempty"`
}

func toCloudSession(s store.Session, fallbackLocation string) cloudSession {
	row := cloudSession{
		SessionID:  s.SessionID,
		CameraID:   s.CameraID,
		VideoFile:  s.VideoFile,
		LocationID: orLocation(s.LocationID, fallbackLocation),
		StartTime:  s.StartTime.UTC().Format(time.RFC3339),
	}
	if s.EndTime.Valid {
		end := s.EndTime.Time.UTC().Format(time.RFC3339)
		row.EndTime = &end
	}
	if s.TotalFrames.Valid {
		frames := s.TotalFrames.Int64
		row.TotalFrames = &frames
	}
	return row
}

func toCloudDivisionRow(e events.DivisionEvent, fallbackLocation string) cloudDivisionRow {
	return cloudDivisionRow{
		LocalID:           e.ID,
		SessionID:         e.SessionID,
		CameraID:          e.CameraID,
		LocationID:        orLocation(e.LocationID, fallbackLocation),
		FrameNumber:       e.FrameNumber,
		TimestampVideo:    e.TimestampVideo,
		TimestampRecorded: e.TimestampRecorded.UTC().Format(time.RFC3339),
		State:             e.State,
		WalkingWaiters:    e.WalkingWaiters,
		ServiceWaiters:    e.ServiceWaiters,
		TotalStaff:        e.TotalStaff,
		ScreenshotPath:    e.ScreenshotPath,
	}
}

func toCloudTableRow(e events.TableEvent, fallbackLocation string) cloudTableRow {
	return cloudTableRow{
		LocalID:           e.ID,
		SessionID:         e.SessionID,
		CameraID:          e.CameraID,
		LocationID:        orLocation(e.LocationID, fallbackLocation),
		FrameNumber:       e.FrameNumber,
		TimestampVideo:    e.TimestampVideo,
		TimestampRecorded: e.TimestampRecorded.UTC().Format(time.RFC3339),
		TableID:           e.TableID,
		State:             e.State,
		CustomersCount:    e.CustomersCount,
		WaitersCount:      e.WaitersCount,
		ScreenshotPath:    e.ScreenshotPath,
	}
}

func orLocation(id, fallback string) string {
	if id != "" {
		return id
	}
	return fallback
}
