//go:build !integration

package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/infra/api"
	"meeting-ai-pipeline/internal/usecase"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile(uploadField, "standup.WAV")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(file)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (h *harness) upload(t *testing.T, user string, fields map[string]string, file []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fields, file)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(api.UserHeader, user)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func uploadedFiles(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestUploadHandler(t *testing.T) {
	t.Run("should store the file and queue a job", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness(t, nil)

		// --- Act ---
		rr := h.upload(t, "alice", map[string]string{"language": "tr", "priority": "9"}, []byte("RIFF...."))

		// --- Assert ---
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp usecase.SubmitResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil || resp.JobID == "" || resp.Status != "submitted" {
			t.Fatalf("unexpected response: %+v, %v", resp, err)
		}
		files := uploadedFiles(t, h.cfg.UploadDir)
		if len(files) != 1 || !strings.HasSuffix(files[0].Name(), ".wav") {
			t.Fatalf("unexpected upload dir contents: %v", files)
		}
		task := h.queue.tasks[0]
		if task.Type != model.TaskTranscribeAndSummarize || task.Priority != model.PriorityHigh || task.UserID != "alice" {
			t.Errorf("unexpected task: %+v", task)
		}
		var pl model.MediaPayload
		json.Unmarshal(task.Payload, &pl)
		if pl.FileName != "standup.WAV" || pl.SizeBytes != 8 || pl.Language != "tr" {
			t.Errorf("unexpected payload: %+v", pl)
		}
	})

	t.Run("should queue transcription only when asked", func(t *testing.T) {
		h := newHarness(t, nil)

		rr := h.upload(t, "alice", map[string]string{"mode": "transcribe"}, []byte("data"))

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rr.Code)
		}
		if h.queue.tasks[0].Type != model.TaskTranscription {
			t.Errorf("unexpected task type %s", h.queue.tasks[0].Type)
		}
	})

	t.Run("should reject a request without a file", func(t *testing.T) {
		h := newHarness(t, nil)

		rr := h.upload(t, "alice", map[string]string{"language": "en"}, nil)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("should reject an unsupported language and remove the file", func(t *testing.T) {
		h := newHarness(t, nil)

		rr := h.upload(t, "alice", map[string]string{"language": "de"}, []byte("data"))

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if files := uploadedFiles(t, h.cfg.UploadDir); len(files) != 0 {
			t.Errorf("rejected upload left %d files behind", len(files))
		}
		if h.store.Stats().TotalJobs != 0 {
			t.Error("rejected upload created a job")
		}
	})

	t.Run("should reject an oversized upload", func(t *testing.T) {
		h := newHarness(t, nil)

		rr := h.upload(t, "alice", nil, bytes.Repeat([]byte("x"), 3<<20))

		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413, got %d", rr.Code)
		}
		if files := uploadedFiles(t, h.cfg.UploadDir); len(files) != 0 {
			t.Errorf("oversized upload left %d files behind", len(files))
		}
	})

	t.Run("should map memory pressure to 503", func(t *testing.T) {
		h := newHarness(t, nil)
		h.guard.err = errors.Join(domain.ErrMemoryCritical, errors.New("14500.0MB in use"))

		rr := h.upload(t, "alice", nil, []byte("data"))

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if rr.Header().Get("Retry-After") == "" {
			t.Error("expected a Retry-After header")
		}
	})
}

func TestSubmitTextAndStatus(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodPost, "/api/jobs/text", "alice", strings.NewReader(`{"transcript":"Speaker 1: hello","language":"en"}`))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp usecase.SubmitResponse
	json.NewDecoder(rr.Body).Decode(&resp)

	rr = h.do(http.MethodGet, "/api/jobs/"+resp.JobID, "bob", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rr.Code)
	}
	var view model.JobView
	json.NewDecoder(rr.Body).Decode(&view)
	if view.ID != resp.JobID || view.Phase != model.PhaseQueued || view.IsComplete {
		t.Errorf("unexpected view: %+v", view)
	}

	if rr := h.do(http.MethodGet, "/api/jobs/nope", "alice", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown job: expected 404, got %d", rr.Code)
	}
	if rr := h.do(http.MethodPost, "/api/jobs/text", "alice", strings.NewReader(`{"transcript":""}`)); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty transcript: expected 400, got %d", rr.Code)
	}
	if rr := h.do(http.MethodGet, "/api/tasks/"+resp.TaskID, "alice", nil); rr.Code != http.StatusOK {
		t.Fatalf("task: expected 200, got %d", rr.Code)
	}
	if rr := h.do(http.MethodGet, "/api/tasks/nope", "alice", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown task: expected 404, got %d", rr.Code)
	}
}

func TestListHandler(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a, _ := h.jobs.SubmitText(ctx, usecase.TextRequest{UserID: "alice", Transcript: "a"})
	h.jobs.SubmitText(ctx, usecase.TextRequest{UserID: "bob", Transcript: "b"})
	h.jobs.Cancel(ctx, a.JobID)

	rr := h.do(http.MethodGet, "/api/jobs?phase=canceled", "alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Jobs  []model.JobView `json:"jobs"`
		Total int             `json:"total"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if body.Total != 1 || body.Jobs[0].ID != a.JobID {
		t.Errorf("unexpected list: %+v", body)
	}

	if rr := h.do(http.MethodGet, "/api/jobs?phase=bogus", "alice", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad phase: expected 400, got %d", rr.Code)
	}
}

func TestCancelHandler(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := h.jobs.SubmitText(context.Background(), usecase.TextRequest{UserID: "alice", Transcript: "hi"})

	cancelled := func(rr *httptest.ResponseRecorder) bool {
		t.Helper()
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var body map[string]bool
		json.NewDecoder(rr.Body).Decode(&body)
		return body["cancelled"]
	}

	if cancelled(h.do(http.MethodPost, "/api/jobs/"+resp.JobID+"/cancel", "bob", nil)) {
		t.Error("another user cancelled the job")
	}
	if !cancelled(h.do(http.MethodPost, "/api/jobs/"+resp.JobID+"/cancel", "alice", nil)) {
		t.Error("owner could not cancel")
	}
	if cancelled(h.do(http.MethodDelete, "/api/jobs/"+resp.JobID, "alice", nil)) {
		t.Error("second cancel reported true")
	}
	if cancelled(h.do(http.MethodPost, "/api/jobs/nope/cancel", "alice", nil)) {
		t.Error("unknown job reported true")
	}
}

func finishJob(t *testing.T, h *harness, jobID string) {
	t.Helper()
	for _, p := range []model.Phase{model.PhaseSummarizing, model.PhaseFinalizing, model.PhaseDone} {
		if _, err := h.store.Update(jobID, model.JobUpdate{Phase: model.PhasePtr(p)}); err != nil {
			t.Fatalf("update to %s: %v", p, err)
		}
	}
}

func TestResultHandler(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := h.jobs.SubmitText(context.Background(), usecase.TextRequest{UserID: "alice", Transcript: "hi"})

	if rr := h.do(http.MethodGet, "/api/jobs/"+resp.JobID+"/result", "alice", nil); rr.Code != http.StatusConflict {
		t.Fatalf("running job: expected 409, got %d", rr.Code)
	}

	body, _ := json.Marshal(model.JobResult{JobID: resp.JobID, Transcript: "hi", Markdown: "# Meeting Summary\n"})
	h.queue.results[resp.TaskID] = body
	finishJob(t, h, resp.JobID)

	rr := h.do(http.MethodGet, "/api/jobs/"+resp.JobID+"/result", "alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var res model.JobResult
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil || res.Transcript != "hi" {
		t.Fatalf("unexpected result: %+v, %v", res, err)
	}

	rr = h.do(http.MethodGet, "/api/jobs/"+resp.JobID+"/result?format=markdown", "alice", nil)
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
	if rr.Body.String() != "# Meeting Summary\n" {
		t.Errorf("unexpected markdown: %q", rr.Body.String())
	}

	if rr := h.do(http.MethodGet, "/api/jobs/nope/result", "alice", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown job: expected 404, got %d", rr.Code)
	}
}

func TestRecommendHandler(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodGet, "/api/recommendation?last_error=rate_limited", "alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var rec struct {
		Wait    float64 `json:"recommended_wait_seconds"`
		Message string  `json:"message"`
	}
	json.NewDecoder(rr.Body).Decode(&rec)
	if rec.Message == "" {
		t.Errorf("unexpected recommendation: %+v", rec)
	}
}

func TestStreamHandler(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()
	resp, _ := h.jobs.SubmitText(context.Background(), usecase.TextRequest{UserID: "alice", Transcript: "hi"})

	t.Run("should stream views until the job ends", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/api/jobs/" + resp.JobID + "/stream")
		if err != nil {
			t.Fatal(err)
		}
		defer res.Body.Close()
		if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Fatalf("Content-Type = %q", ct)
		}

		reader := bufio.NewReader(res.Body)
		first := readEvent(t, reader)
		if first.Phase != model.PhaseQueued {
			t.Fatalf("first event phase = %s", first.Phase)
		}

		h.store.Update(resp.JobID, model.JobUpdate{Phase: model.PhasePtr(model.PhaseSummarizing), Progress: model.Float(40)})
		h.jobs.Cancel(context.Background(), resp.JobID)

		var last model.JobView
		for {
			v, ok := tryReadEvent(reader)
			if !ok {
				break
			}
			last = v
		}
		if last.Phase != model.PhaseCanceled || !last.IsComplete {
			t.Errorf("stream ended on %+v", last)
		}
	})

	t.Run("should send a single event for a finished job", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/api/jobs/" + resp.JobID + "/stream")
		if err != nil {
			t.Fatal(err)
		}
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		if n := strings.Count(string(b), "data: "); n != 1 {
			t.Errorf("events = %d, want 1", n)
		}
	})

	t.Run("should 404 for an unknown job", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/api/jobs/nope/stream")
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", res.StatusCode)
		}
	})
}

func tryReadEvent(r *bufio.Reader) (model.JobView, bool) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return model.JobView{}, false
		}
		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var v model.JobView
			if json.Unmarshal([]byte(data), &v) != nil {
				return model.JobView{}, false
			}
			return v, true
		}
	}
}

func readEvent(t *testing.T, r *bufio.Reader) model.JobView {
	t.Helper()
	v, ok := tryReadEvent(r)
	if !ok {
		t.Fatal("stream ended early")
	}
	return v
}

func TestWebsocketHandler(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()
	resp, _ := h.jobs.SubmitText(context.Background(), usecase.TextRequest{UserID: "alice", Transcript: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/jobs/"+resp.JobID+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var v model.JobView
	if err := wsjson.Read(ctx, conn, &v); err != nil || v.Phase != model.PhaseQueued {
		t.Fatalf("first message = %+v, %v", v, err)
	}

	h.jobs.Cancel(context.Background(), resp.JobID)

	var last model.JobView
	for {
		var m model.JobView
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("unexpected close: %v", err)
			}
			break
		}
		last = m
	}
	if last.Phase != model.PhaseCanceled {
		t.Errorf("last message phase = %s, want canceled", last.Phase)
	}
}
