package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sdstudio/compositor"
	"sdstudio/core"
	"sdstudio/db"
	"sdstudio/pipeline"
	"sdstudio/resultcache"
	"sdstudio/sdruntime"
	"sdstudio/session"
	"sdstudio/styles"
)

const (
	maxUploadBytes      = 32 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Generator runs generation requests. *session.Session implements it.
type Generator interface {
	Resolve(req session.Request) (session.Resolved, error)
	Run(ctx context.Context, req session.Request, onProgress session.ProgressFunc) (*session.Result, error)
}

// History reads past runs. *db.Repository implements it.
type History interface {
	Recent(ctx context.Context, limit int, style string) ([]db.Generation, error)
	ByRunID(ctx context.Context, runID string) (db.Generation, error)
	Stats(ctx context.Context) ([]db.StyleStats, error)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: UserMessage(err)}
	var verr *session.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeJSON(w, StatusCode(err), resp)
}

type healthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Pipelines *pipelineStats `json:"pipelines,omitempty"`
}

type pipelineStats struct {
	Loaded    []string `json:"loaded"`
	Builds    int64    `json:"builds"`
	Evictions int64    `json:"evictions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: core.Version}
	if p := s.stats; p != nil {
		stats := &pipelineStats{Loaded: []string{}, Builds: p.Builds(), Evictions: p.Evictions()}
		for _, k := range p.Keys() {
			stats.Loaded = append(stats.Loaded, k.String())
		}
		resp.Pipelines = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

type styleInfo struct {
	Name         string   `json:"name"`
	BaseModel    string   `json:"base_model"`
	RefinerModel string   `json:"refiner_model,omitempty"`
	Scheduler    string   `json:"scheduler"`
	Adapter      bool     `json:"adapter"`
	DefaultSteps int      `json:"default_steps,omitempty"`
	Modes        []string `json:"modes"`
}

func describeStyle(c styles.ModelConfig) styleInfo {
	info := styleInfo{
		Name:         c.StyleName,
		BaseModel:    c.BaseModel,
		RefinerModel: c.RefinerModel,
		Scheduler:    c.SchedulerName(),
		Adapter:      c.HasAdapter(),
		DefaultSteps: c.DefaultSteps,
	}
	for _, m := range session.Modes {
		if pipeline.Supports(c, m.Profile()) {
			info.Modes = append(info.Modes, string(m))
		}
	}
	return info
}

func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	all := s.styles.All()
	out := make([]styleInfo, 0, len(all))
	for _, c := range all {
		out = append(out, describeStyle(c))
	}
	writeJSON(w, http.StatusOK, out)
}

type generateResponse struct {
	RunID        string              `json:"run_id"`
	JobID        string              `json:"job_id"`
	Style        string              `json:"style"`
	Mode         session.Mode        `json:"mode"`
	Seed         int64               `json:"seed"`
	Steps        int                 `json:"steps"`
	DurationMS   int64               `json:"duration_ms"`
	Cached       bool                `json:"cached"`
	Format       compositor.Format   `json:"format"`
	DownloadName string              `json:"download_name"`
	Images       []resultcache.Panel `json:"images"`
}

// handleGenerate accepts a multipart or url-encoded form. Image fields are
// file parts named image, mask and adapter_image. With download=1 the final
// image is returned as an attachment instead of JSON.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, fmt.Errorf("%w: %v", ErrBadUpload, err))
		return
	}

	req, format, err := parseGenerateForm(r, s.cfg.DefaultSeed)
	if err != nil {
		writeError(w, err)
		return
	}
	jobID := r.FormValue("job_id")
	if jobID == "" {
		jobID = uuid.NewString()
	}
	log := s.log.With(zap.String("job", jobID), zap.String("style", req.Style), zap.String("mode", string(req.Mode)))

	resolved, err := s.gen.Resolve(req)
	if err != nil {
		log.Debug("request rejected", zap.Error(err))
		writeError(w, err)
		return
	}
	key := resultcache.Key(resolved, format)
	entry, hit, err := s.cache.Get(r.Context(), key)
	if err != nil {
		log.Warn("result cache read failed", zap.Error(err))
	}

	var duration time.Duration
	if !hit {
		if !s.work.Begin() {
			writeError(w, ErrShuttingDown)
			return
		}
		res, err := s.gen.Run(r.Context(), req, func(ev session.ProgressEvent) {
			s.hub.Publish(newMessage(MessageTypeProgress, jobID, progressData(ev)))
		})
		s.work.End()
		if err != nil {
			s.hub.Publish(newMessage(MessageTypeFailed, jobID, FailedData{Message: UserMessage(err)}))
			log.Warn("generation failed", zap.Error(err))
			writeError(w, err)
			return
		}
		duration = res.Duration

		entry, err = resultcache.FromResult(res, format)
		if err != nil {
			log.Error("encode result", zap.Error(err))
			writeError(w, err)
			return
		}
		if err := s.cache.Set(r.Context(), key, entry); err != nil {
			log.Warn("result cache write failed", zap.Error(err))
		}
	}

	s.hub.Publish(newMessage(MessageTypeCompleted, jobID, CompletedData{
		RunID:      entry.RunID,
		DurationMS: duration.Milliseconds(),
		Cached:     hit,
	}))

	if truthy(r.FormValue("download")) {
		final, _ := entry.Final()
		w.Header().Set("Content-Type", entry.Format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.DownloadName()))
		w.Header().Set("Content-Length", strconv.Itoa(len(final.Data)))
		w.WriteHeader(http.StatusOK)
		w.Write(final.Data)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		RunID:        entry.RunID,
		JobID:        jobID,
		Style:        entry.Style,
		Mode:         entry.Mode,
		Seed:         entry.Seed,
		Steps:        entry.Steps,
		DurationMS:   duration.Milliseconds(),
		Cached:       hit,
		Format:       entry.Format,
		DownloadName: entry.DownloadName(),
		Images:       entry.Panels,
	})
}

func parseGenerateForm(r *http.Request, defaultSeed int64) (session.Request, compositor.Format, error) {
	var req session.Request

	mode, err := session.ParseMode(orDefault(r.FormValue("mode"), string(session.ModeText2Img)))
	if err != nil {
		return req, "", formError("mode", "unknown mode")
	}
	format, err := compositor.ParseFormat(orDefault(r.FormValue("format"), string(compositor.FormatPNG)))
	if err != nil {
		return req, "", formError("format", "must be png or webp")
	}

	req = session.Request{
		Mode:            mode,
		Style:           r.FormValue("style"),
		Prompt:          r.FormValue("prompt"),
		NegativePrompt:  r.FormValue("negative_prompt"),
		SecondaryPrompt: r.FormValue("secondary_prompt"),
		Seed:            defaultSeed,
	}

	ints := []struct {
		field string
		dst   *int
	}{
		{"width", &req.Width},
		{"height", &req.Height},
		{"steps", &req.Steps},
	}
	for _, f := range ints {
		if v := r.FormValue(f.field); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return req, "", formError(f.field, "must be an integer")
			}
			*f.dst = n
		}
	}
	if v := r.FormValue("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, "", formError("seed", "must be an integer")
		}
		if n == RandomSeed {
			n = sdruntime.RandomSeed()
		}
		req.Seed = n
	}
	if v := r.FormValue("guidance_scale"); v != "" {
		g, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, "", formError("guidance_scale", "must be a number")
		}
		req.GuidanceScale = g
	}
	for _, f := range []struct {
		field string
		dst   **float64
	}{
		{"strength", &req.Strength},
		{"stage_split", &req.StageSplit},
		{"adapter_scale", &req.AdapterScale},
	} {
		if v := r.FormValue(f.field); v != "" {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return req, "", formError(f.field, "must be a number")
			}
			*f.dst = &x
		}
	}

	for _, f := range []struct {
		field string
		dst   *image.Image
	}{
		{"image", &req.ConditioningImage},
		{"mask", &req.MaskImage},
		{"adapter_image", &req.AdapterImage},
	} {
		img, err := formImage(r, f.field)
		if err != nil {
			return req, "", err
		}
		*f.dst = img
	}
	return req, format, nil
}

// formImage decodes an uploaded file part. A missing part is (nil, nil).
func formImage(r *http.Request, field string) (image.Image, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	file, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadUpload, field, err)
	}
	defer file.Close()
	return decodePart(file, field)
}

func decodePart(file multipart.File, field string) (image.Image, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadUpload, field, err)
	}
	img, err := compositor.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return img, nil
}

func formError(field, reason string) error {
	return &session.ValidationError{Field: field, Reason: reason}
}

type historyItem struct {
	RunID           string    `json:"run_id"`
	Style           string    `json:"style"`
	Mode            string    `json:"mode"`
	Prompt          string    `json:"prompt"`
	NegativePrompt  string    `json:"negative_prompt,omitempty"`
	SecondaryPrompt string    `json:"secondary_prompt,omitempty"`
	Seed            int64     `json:"seed"`
	Steps           int       `json:"steps"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	GuidanceScale   float64   `json:"guidance_scale"`
	Strength        float64   `json:"strength,omitempty"`
	StageSplit      float64   `json:"stage_split,omitempty"`
	DurationMS      int64     `json:"duration_ms"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
}

func toHistoryItem(g db.Generation) historyItem {
	return historyItem{
		RunID:           g.RunID,
		Style:           g.Style,
		Mode:            g.Mode,
		Prompt:          g.Prompt,
		NegativePrompt:  g.NegativePrompt,
		SecondaryPrompt: g.SecondaryPrompt,
		Seed:            g.Seed,
		Steps:           g.Steps,
		Width:           g.Width,
		Height:          g.Height,
		GuidanceScale:   g.GuidanceScale,
		Strength:        g.Strength,
		StageSplit:      g.StageSplit,
		DurationMS:      g.DurationMS,
		Status:          g.Status,
		Error:           g.ErrorMessage,
		StartedAt:       g.StartedAt,
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Run history is disabled."})
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer", Field: "limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	gens, err := s.history.Recent(r.Context(), limit, r.URL.Query().Get("style"))
	if err != nil {
		s.log.Error("read history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Run history could not be read."})
		return
	}
	out := make([]historyItem, 0, len(gens))
	for _, g := range gens {
		out = append(out, toHistoryItem(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistoryRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Run history is disabled."})
		return
	}
	g, err := s.history.ByRunID(r.Context(), mux.Vars(r)["run_id"])
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "No run with that id."})
		return
	case err != nil:
		s.log.Error("read history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Run history could not be read."})
		return
	}
	writeJSON(w, http.StatusOK, toHistoryItem(g))
}

type statsItem struct {
	Style     string  `json:"style"`
	Runs      int     `json:"runs"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Cancelled int     `json:"cancelled"`
	AvgMS     float64 `json:"avg_ms"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Run history is disabled."})
		return
	}
	stats, err := s.history.Stats(r.Context())
	if err != nil {
		s.log.Error("read history stats", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Run history could not be read."})
		return
	}
	out := make([]statsItem, 0, len(stats))
	for _, st := range stats {
		out = append(out, statsItem(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
