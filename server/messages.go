package server

import (
	"time"

	"sdstudio/core"
	"sdstudio/session"
)

// WebSocket message types.
const (
	MessageTypeProgress  = "progress"
	MessageTypeCompleted = "completed"
	MessageTypeFailed    = "failed"
)

// WSMessage is the envelope for every message pushed to clients.
type WSMessage struct {
	Type      string      `json:"type"`
	JobID     string      `json:"job_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

func newMessage(msgType, jobID string, data interface{}) WSMessage {
	return WSMessage{Type: msgType, JobID: jobID, Timestamp: time.Now().UTC(), Data: data}
}

// ProgressData is the payload of a progress message.
type ProgressData struct {
	Stage      string `json:"stage"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Percent    int    `json:"percent"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	ETA        string `json:"eta,omitempty"`
}

func progressData(ev session.ProgressEvent) ProgressData {
	d := ProgressData{
		Stage:      ev.Stage,
		Step:       ev.StepIndex + 1,
		TotalSteps: ev.TotalSteps,
		Percent:    ev.Percent,
		ElapsedMS:  ev.Elapsed.Milliseconds(),
	}
	if ev.HasEstimate {
		d.ETA = core.FormatETA(ev.EstimatedRemaining)
	}
	return d
}

// CompletedData is the payload of a completed message.
type CompletedData struct {
	RunID      string `json:"run_id"`
	DurationMS int64  `json:"duration_ms"`
	Cached     bool   `json:"cached"`
}

// FailedData is the payload of a failed message.
type FailedData struct {
	Message string `json:"message"`
}
