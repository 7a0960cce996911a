package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"oneiro/internal/controller"
	"oneiro/internal/gateway"
	"oneiro/internal/models"
	"oneiro/internal/store"
)

type fakeGateway struct {
	reply       string
	interpret   error
	registerErr error
	user        *models.User
	// honorCtx makes interpretation wait briefly and then fail if its
	// context died, mimicking an HTTP client bound to that context.
	honorCtx bool
}

func (g *fakeGateway) CreateOrFindUser(ctx context.Context, firstName string, lastName *string, dob, phone string) (*models.User, error) {
	if g.registerErr != nil {
		return nil, g.registerErr
	}
	if g.user != nil {
		return g.user, nil
	}
	return &models.User{ID: 1, FirstName: firstName, LastName: lastName, DOB: dob, Phone: phone}, nil
}

func (g *fakeGateway) InterpretAsGuest(ctx context.Context, text string) (string, error) {
	if g.honorCtx {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return g.reply, g.interpret
}

func (g *fakeGateway) InterpretAsRegistered(ctx context.Context, text string, userID int64) (string, error) {
	return g.reply, g.interpret
}

func (g *fakeGateway) FetchHistory(ctx context.Context, userID int64) ([]models.Message, error) {
	return nil, nil
}

func (g *fakeGateway) CreateInvoice(ctx context.Context, userID int64, amount float64) (string, error) {
	return "https://pay.example/1", nil
}

func newTestHandler(t *testing.T, gw *fakeGateway) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	ctrl := controller.New(controller.Options{
		Gateway:        gw,
		Store:          st,
		StatusInterval: time.Hour,
	})
	t.Cleanup(ctrl.Close)

	router := gin.New()
	NewHandler(ctrl, st).RegisterRoutes(router)

	w := doJSONRequest(t, router, http.MethodPost, "/api/chat/init", nil)
	assertStatus(t, w, http.StatusOK)
	return router
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if body == nil {
		payload = nil
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) controller.Snapshot {
	t.Helper()
	var snap controller.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v; body: %s", err, w.Body.String())
	}
	return snap
}

func waitForState(t *testing.T, router *gin.Engine, cond func(controller.Snapshot) bool) controller.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSONRequest(t, router, http.MethodGet, "/api/chat/state", nil)
		assertStatus(t, w, http.StatusOK)
		snap := decodeSnapshot(t, w)
		if cond(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for state")
	return controller.Snapshot{}
}

func TestInitReturnsGuestState(t *testing.T) {
	router := newTestHandler(t, &fakeGateway{})
	snap := waitForState(t, router, func(s controller.Snapshot) bool { return len(s.Timeline) == 1 })
	if snap.Identity != nil || snap.IsGuestBlocked {
		t.Fatalf("expected fresh guest, got %+v", snap)
	}
}

func TestTurnLifecycle(t *testing.T) {
	router := newTestHandler(t, &fakeGateway{reply: "толкование"})

	w := doJSONRequest(t, router, http.MethodPost, "/api/chat/turn", gin.H{"text": "мне приснился синий кит"})
	assertStatus(t, w, http.StatusAccepted)

	snap := waitForState(t, router, func(s controller.Snapshot) bool { return !s.TurnInFlight && len(s.Timeline) == 4 })
	if snap.Timeline[2].Text != "толкование" {
		t.Fatalf("unexpected timeline: %+v", snap.Timeline)
	}
	if snap.Timeline[3].Text != models.RegisterInviteText {
		t.Fatalf("register invite missing: %+v", snap.Timeline)
	}

	// The free attempt is gone; the next turn redirects to registration.
	w = doJSONRequest(t, router, http.MethodPost, "/api/chat/turn", gin.H{"text": "мне приснился второй сон"})
	assertStatus(t, w, http.StatusForbidden)
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["registration_required"] != true {
		t.Fatalf("expected registration_required flag: %v", resp)
	}
}

func TestTurnSurvivesRequestTeardown(t *testing.T) {
	router := newTestHandler(t, &fakeGateway{reply: "толкование", honorCtx: true})

	// A real server, not ServeHTTP: the request context must genuinely die
	// once the 202 goes out.
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat/turn", "application/json",
		bytes.NewReader([]byte(`{"text": "мне приснился синий кит"}`)))
	if err != nil {
		t.Fatalf("POST turn: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		stateResp, err := http.Get(srv.URL + "/api/chat/state")
		if err != nil {
			t.Fatalf("GET state: %v", err)
		}
		var snap controller.Snapshot
		if err := json.NewDecoder(stateResp.Body).Decode(&snap); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		stateResp.Body.Close()

		if !snap.TurnInFlight && len(snap.Timeline) == 4 {
			if snap.Timeline[2].Text != "толкование" {
				t.Fatalf("turn died with the request: %+v", snap.Timeline)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("turn never resolved; last state: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTurnTooShort(t *testing.T) {
	router := newTestHandler(t, &fakeGateway{})
	w := doJSONRequest(t, router, http.MethodPost, "/api/chat/turn", gin.H{"text": "коротко"})
	assertStatus(t, w, http.StatusUnprocessableEntity)

	snap := waitForState(t, router, func(controller.Snapshot) bool { return true })
	if len(snap.Timeline) != 1 {
		t.Fatalf("validation notice leaked into the timeline: %+v", snap.Timeline)
	}
}

func TestRegisterHappyPath(t *testing.T) {
	router := newTestHandler(t, &fakeGateway{
		user: &models.User{ID: 5, FirstName: "Анна", DOB: "1990-04-01", Phone: "+79990000000"},
	})

	w := doJSONRequest(t, router, http.MethodPost, "/api/chat/register", gin.H{
		"first_name": "Анна",
		"dob":        "1990-04-01",
		"phone":      "+79990000000",
	})
	assertStatus(t, w, http.StatusOK)

	snap := waitForState(t, router, func(s controller.Snapshot) bool { return s.Identity != nil })
	if snap.Identity.ID != 5 {
		t.Fatalf("identity not switched: %+v", snap.Identity)
	}
}

func TestRegisterValidation(t *testing.T) {
	router := newTestHandler(t, &fakeGateway{})
	w := doJSONRequest(t, router, http.MethodPost, "/api/chat/register", gin.H{"first_name": "Анна"})
	assertStatus(t, w, http.StatusUnprocessableEntity)
}

func TestRegisterConflictPassthrough(t *testing.T) {
	router := newTestHandler(t, &fakeGateway{
		registerErr: &gateway.APIError{Status: http.StatusConflict, Detail: "Этот номер телефона уже зарегистрирован на другое имя."},
	})

	w := doJSONRequest(t, router, http.MethodPost, "/api/chat/register", gin.H{
		"first_name": "Анна",
		"dob":        "1990-04-01",
		"phone":      "+79990000000",
	})
	assertStatus(t, w, http.StatusConflict)
}

func TestLogoutBlocksGuest(t *testing.T) {
	router := newTestHandler(t, &fakeGateway{
		user: &models.User{ID: 5, FirstName: "Анна", DOB: "1990-04-01", Phone: "+79990000000"},
	})
	w := doJSONRequest(t, router, http.MethodPost, "/api/chat/register", gin.H{
		"first_name": "Анна",
		"dob":        "1990-04-01",
		"phone":      "+79990000000",
	})
	assertStatus(t, w, http.StatusOK)

	w = doJSONRequest(t, router, http.MethodPost, "/api/chat/logout", nil)
	assertStatus(t, w, http.StatusOK)
	snap := decodeSnapshot(t, w)
	if snap.Identity != nil || !snap.IsGuestBlocked {
		t.Fatalf("logout must re-enter blocked guest mode: %+v", snap)
	}
}

func TestPaymentRequiresRegistration(t *testing.T) {
	router := newTestHandler(t, &fakeGateway{})
	w := doJSONRequest(t, router, http.MethodPost, "/api/chat/payment", nil)
	assertStatus(t, w, http.StatusForbidden)
}

func TestVoiceUnavailable(t *testing.T) {
	router := newTestHandler(t, &fakeGateway{})

	w := doJSONRequest(t, router, http.MethodPost, "/api/chat/voice/capture", nil)
	assertStatus(t, w, http.StatusNotImplemented)

	w = doJSONRequest(t, router, http.MethodPost, "/api/chat/voice/playback", gin.H{"index": 0})
	assertStatus(t, w, http.StatusNotImplemented)
}
