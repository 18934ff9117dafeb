package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/infra/logging"
	"meeting-ai-pipeline/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const uploadField = "file"

type errorBody struct {
	Error      string  `json:"error"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Unknown errors never leak.
func writeError(w http.ResponseWriter, err error) {
	var rl *usecase.RateLimitError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.Decision.RetryAfter))))
		writeJSON(w, http.StatusTooManyRequests, rl.Decision)
	case errors.Is(err, domain.ErrUnsupportedLang), errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, domain.ErrFileTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "file_too_large", Message: err.Error()})
	case errors.Is(err, domain.ErrMemoryCritical), errors.Is(err, domain.ErrInsufficientMemory):
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "insufficient_memory", Message: err.Error(), RetryAfter: 60})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "job not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func userID(r *http.Request) string {
	uid, _ := logging.UserIDFrom(r.Context())
	return uid
}

// uploadHandler streams a multipart file into the upload dir and submits it.
func uploadHandler(jobs usecase.JobUseCase, cfg config.HTTPConfig, logger *zerolog.Logger) http.HandlerFunc {
	maxBytes := cfg.MaxUploadMB << 20
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.With(r.Context(), logger)
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

		mr, err := r.MultipartReader()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "multipart form expected"})
			return
		}
		form := map[string]string{}
		var path, name string
		var size int64
		defer func() {
			// Removed here unless a job took ownership of the file.
			if path != "" {
				_ = os.Remove(path)
			}
		}()

		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				writeUploadError(w, err)
				return
			}
			if part.FormName() != uploadField {
				v, _ := io.ReadAll(io.LimitReader(part, 1024))
				form[part.FormName()] = string(v)
				continue
			}
			if path != "" {
				continue
			}
			name = filepath.Base(part.FileName())
			path = filepath.Join(cfg.UploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
			size, err = saveUpload(path, part, maxBytes)
			if err != nil {
				log.Warn().Err(err).Str("file", name).Msg("upload rejected")
				writeUploadError(w, err)
				return
			}
		}
		if path == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "audio file is required"})
			return
		}

		priority, _ := strconv.Atoi(form["priority"])
		resp, err := jobs.Submit(r.Context(), usecase.SubmitRequest{
			UserID:         userID(r),
			AudioPath:      path,
			FileName:       name,
			SizeBytes:      size,
			Language:       form["language"],
			TranscribeOnly: form["mode"] == "transcribe",
			Priority:       clampPriority(priority),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		path = ""
		writeJSON(w, http.StatusAccepted, resp)
	}
}

var errUploadTooLarge = errors.New("upload exceeds size limit")

func saveUpload(path string, src io.Reader, maxBytes int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := io.Copy(f, io.LimitReader(src, maxBytes+1))
	if err != nil {
		return n, err
	}
	if n > maxBytes {
		return n, errUploadTooLarge
	}
	return n, nil
}

func writeUploadError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.Is(err, errUploadTooLarge) || errors.As(err, &mbe) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "file_too_large", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "could not read upload"})
}

func clampPriority(p int) int {
	return max(model.PriorityLow, min(p, model.PriorityHigh))
}

type textRequest struct {
	Transcript string `json:"transcript"`
	Language   string `json:"language"`
	Priority   int    `json:"priority"`
}

func submitTextHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 8<<20)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "invalid request body"})
			return
		}
		resp, err := jobs.SubmitText(r.Context(), usecase.TextRequest{
			UserID:     userID(r),
			Transcript: req.Transcript,
			Language:   req.Language,
			Priority:   clampPriority(req.Priority),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func statusHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := jobs.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func listHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter *model.Phase
		if p := r.URL.Query().Get("phase"); p != "" {
			phase := model.Phase(p)
			if !phase.Valid() {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: fmt.Sprintf("unknown phase %q", p)})
				return
			}
			filter = &phase
		}
		views := jobs.List(r.Context(), filter)
		writeJSON(w, http.StatusOK, map[string]any{"jobs": views, "total": len(views)})
	}
}

// cancelHandler answers false for unknown, finished and foreign jobs alike.
func cancelHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ok := jobs.Owns(id, userID(r)) && jobs.Cancel(r.Context(), id)
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
	}
}

func resultHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if v, err := jobs.Status(r.Context(), id); err == nil && !v.IsComplete {
			writeJSON(w, http.StatusConflict, errorBody{Error: "not_ready", Message: fmt.Sprintf("job is %s", v.Phase)})
			return
		}
		res, err := jobs.Result(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if r.URL.Query().Get("format") == "markdown" {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, res.Markdown)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func taskHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := jobs.Task(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "task not found"})
				return
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func recommendHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, jobs.Recommend(r.Context(), userID(r), r.URL.Query().Get("last_error")))
	}
}

// statsHandler serves queue, memory and job statistics.
func statsHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := jobs.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
