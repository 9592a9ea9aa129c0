package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/health"
	"github.com/lorekeep/lorekeep/internal/postprocess"
	"github.com/lorekeep/lorekeep/internal/router"
	"github.com/lorekeep/lorekeep/internal/turn"
	"github.com/lorekeep/lorekeep/pkg/memory/mock"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// cannedTier returns a fixed router result, streaming chunks first when the
// request carries a stream callback.
type cannedTier struct {
	result *router.Result
	err    error
	chunks []string
}

func (c *cannedTier) ID() types.TierID { return types.TierPrimary }

func (c *cannedTier) Generate(_ context.Context, req types.TurnRequest) (*router.Result, error) {
	if c.err != nil {
		return nil, c.err
	}
	if req.OnStream != nil {
		for _, chunk := range c.chunks {
			req.OnStream(chunk)
		}
	}
	return c.result, nil
}

func testServer(t *testing.T, tier router.Tier) *Server {
	t.Helper()
	r := router.New(nil, nil, tier, nil, router.WithFlagReader(func() (config.Flags, error) {
		return config.Flags{}, nil
	}))
	svc := turn.New(r, &mock.MessageStore{}, postprocess.New(&mock.MemoryStore{}, nil))
	checkers := []health.Checker{
		{Name: "backend", Check: func(_ context.Context) error { return nil }},
	}
	return New("127.0.0.1:0", svc, checkers, WithVersion("test"))
}

func postTurn(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/turn", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleTurn_GeneratesNarration(t *testing.T) {
	t.Parallel()

	tier := &cannedTier{result: &router.Result{
		Tier: types.TierPrimary,
		Raw:  "The tavern falls silent as you enter.",
	}}
	s := testServer(t, tier)

	rec := postTurn(t, s, `{"campaignId": "camp-1", "sessionId": "sess-1", "message": "I walk into the tavern"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res turnResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Text != "The tavern falls silent as you enter." {
		t.Errorf("text = %q", res.Text)
	}
}

func TestHandleTurn_MissingCampaignID(t *testing.T) {
	t.Parallel()

	s := testServer(t, &cannedTier{result: &router.Result{Raw: "x"}})
	rec := postTurn(t, s, `{"message": "hello"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !strings.Contains(body.Error, "campaignId") {
		t.Errorf("error = %q, want mention of campaignId", body.Error)
	}
}

func TestHandleTurn_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	s := testServer(t, &cannedTier{result: &router.Result{Raw: "x"}})
	rec := postTurn(t, s, `{"campaignId": "camp-1", "bogus": true}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleTurn_BackendUnavailable(t *testing.T) {
	t.Parallel()

	s := testServer(t, &cannedTier{err: context.DeadlineExceeded})
	rec := postTurn(t, s, `{"campaignId": "camp-1", "message": "hello"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleTurn_Streaming(t *testing.T) {
	t.Parallel()

	tier := &cannedTier{
		result: &router.Result{Tier: types.TierPrimary, Raw: "The door creaks open."},
		chunks: []string{"The door ", "creaks open."},
	}
	s := testServer(t, tier)

	rec := postTurn(t, s, `{"campaignId": "camp-1", "message": "I open the door", "stream": true}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	body := rec.Body.String()
	if got := strings.Count(body, "event: chunk"); got != 2 {
		t.Errorf("chunk events = %d, want 2\n%s", got, body)
	}
	if !strings.Contains(body, "event: turn") {
		t.Errorf("terminal turn event missing:\n%s", body)
	}
	if !strings.Contains(body, `"The door creaks open."`) {
		t.Errorf("final text missing:\n%s", body)
	}
}

func TestServer_HealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()

	s := testServer(t, &cannedTier{result: &router.Result{Raw: "x"}})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestHandleTurn_CharacterSheetCarried(t *testing.T) {
	t.Parallel()

	var seen types.TurnRequest
	tier := &captureTier{result: &router.Result{Raw: "ok"}, seen: &seen}
	s := testServer(t, tier)

	rec := postTurn(t, s, `{
		"campaignId": "camp-1",
		"message": "I look around",
		"characterDetails": {"name": "Vex", "class": "rogue", "level": 5, "abilityScores": {"dexterity": 16}},
		"history": [{"role": "assistant", "content": "You stand at the gate."}]
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	cd := seen.Context.CharacterDetails
	if cd == nil || cd.Name != "Vex" || cd.Level != 5 {
		t.Fatalf("character details not carried: %+v", cd)
	}
	if len(seen.History) != 1 || seen.History[0].Role != types.RoleAssistant {
		t.Errorf("history not carried: %+v", seen.History)
	}
}

// captureTier records the request it was handed.
type captureTier struct {
	result *router.Result
	seen   *types.TurnRequest
}

func (c *captureTier) ID() types.TierID { return types.TierPrimary }

func (c *captureTier) Generate(_ context.Context, req types.TurnRequest) (*router.Result, error) {
	*c.seen = req
	return c.result, nil
}
