package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/autosave"
	"github.com/stemsi/exstem-kiosk/internal/localstore"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/stemsi/exstem-kiosk/internal/netstatus"
)

type stubRemote struct {
	err   error
	calls int

	// when set, the first answer write signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (s *stubRemote) UpsertAttempt(context.Context, model.AttemptPatch) (*model.Attempt, error) {
	s.calls++
	return &model.Attempt{}, s.err
}

func (s *stubRemote) BulkUpsertAnswers(context.Context, []model.PendingChange) error {
	s.calls++
	if s.entered != nil {
		close(s.entered)
		s.entered = nil
		<-s.release
	}
	return s.err
}

func deviceRouter(t *testing.T, remote *stubRemote, online bool) (*gin.Engine, *autosave.OfflineQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	queue := autosave.NewOfflineQueue(localstore.NewMemory(), zerolog.Nop())
	h := NewDeviceHandler(queue, remote, netstatus.NewManual(online), zerolog.Nop())

	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/queue", h.ListQueue)
	r.POST("/queue/replay", h.ReplayQueue)
	return r, queue
}

func queueOne(t *testing.T, queue *autosave.OfflineQueue) {
	t.Helper()
	err := queue.Enqueue(model.OfflineQueueEntry{
		ScheduleID: uuid.New(),
		ExamineeID: 7,
		Changes: []model.PendingChange{{
			QuestionID: uuid.New(),
			Value:      json.RawMessage(`"B"`),
			CapturedAt: time.Now(),
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func do(r *gin.Engine, method, path string) (*httptest.ResponseRecorder, envelope) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestHealthReportsQueue(t *testing.T) {
	r, queue := deviceRouter(t, &stubRemote{}, false)
	queueOne(t, queue)

	w, env := do(r, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Online bool `json:"online"`
		Queued int  `json:"queued"`
	}
	json.Unmarshal(env.Data, &body)
	if body.Online || body.Queued != 1 {
		t.Fatalf("body = %+v", body)
	}
}

func TestListQueueOmitsValues(t *testing.T) {
	r, queue := deviceRouter(t, &stubRemote{}, true)
	queueOne(t, queue)

	_, env := do(r, http.MethodGet, "/queue")
	var entries []QueueEntrySummary
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Changes != 1 || entries[0].ExamineeID != 7 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestReplayQueue(t *testing.T) {
	remote := &stubRemote{}
	r, queue := deviceRouter(t, remote, true)
	queueOne(t, queue)

	w, _ := do(r, http.MethodPost, "/queue/replay")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if queue.Len() != 0 || remote.calls != 1 {
		t.Fatalf("queue = %d, calls = %d", queue.Len(), remote.calls)
	}
}

func TestReplayQueueKeepsFailures(t *testing.T) {
	r, queue := deviceRouter(t, &stubRemote{err: errors.New("timeout")}, true)
	queueOne(t, queue)

	do(r, http.MethodPost, "/queue/replay")
	if queue.Len() != 1 {
		t.Fatalf("queue = %d, want failed entry kept", queue.Len())
	}
}

func TestReplayQueueOffline(t *testing.T) {
	r, queue := deviceRouter(t, &stubRemote{}, false)
	queueOne(t, queue)

	w, env := do(r, http.MethodPost, "/queue/replay")
	if w.Code != http.StatusServiceUnavailable || env.Error == nil || env.Error.Code != "OFFLINE" {
		t.Fatalf("status = %d, env = %+v", w.Code, env)
	}
}

func TestReplayQueueBusy(t *testing.T) {
	remote := &stubRemote{entered: make(chan struct{}), release: make(chan struct{})}
	entered := remote.entered
	r, queue := deviceRouter(t, remote, true)
	queueOne(t, queue)

	done := make(chan error, 1)
	go func() {
		_, err := queue.Replay(context.Background(), remote)
		done <- err
	}()
	<-entered

	w, env := do(r, http.MethodPost, "/queue/replay")
	close(remote.release)
	if err := <-done; err != nil {
		t.Fatalf("running replay: %v", err)
	}

	if w.Code != http.StatusConflict || env.Error == nil || env.Error.Code != "REPLAY_IN_PROGRESS" {
		t.Fatalf("status = %d, env = %+v", w.Code, env)
	}
	if queue.Len() != 0 {
		t.Fatalf("queue = %d, want drained by the running replay", queue.Len())
	}
}
