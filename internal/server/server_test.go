package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/offbook/offbook/internal/observe"
	"github.com/offbook/offbook/internal/script"
	sttmock "github.com/offbook/offbook/pkg/provider/stt/mock"
	"github.com/offbook/offbook/pkg/provider/tts"
	ttsmock "github.com/offbook/offbook/pkg/provider/tts/mock"
)

// testEnv bundles a Server with its injected fakes.
type testEnv struct {
	srv     *Server
	scripts *script.MemoryStore
	stt     *sttmock.Provider
	tts     *ttsmock.Provider
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	env := &testEnv{
		scripts: script.NewMemoryStore(),
		stt:     &sttmock.Provider{},
		tts: &ttsmock.Provider{
			Audio: [][]byte{{0x01, 0x02}, {0x03, 0x04}},
			Voices: []tts.VoiceProfile{
				{ID: "voice-a", Name: "Alice", Provider: "mock"},
				{ID: "voice-b", Name: "Bob", Provider: "mock"},
			},
		},
	}
	opts = append([]Option{WithMetrics(m)}, opts...)
	env.srv = New(env.scripts, env.stt, env.tts, opts...)
	env.srv.tickEvery = 10 * time.Millisecond
	return env
}

// doJSON issues a request with a JSON body against the router and returns the
// recorder.
func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const sampleScript = `ROMEO: But soft, what light through yonder window breaks?
JULIET: O Romeo, Romeo, wherefore art thou Romeo?
ROMEO: Shall I hear more, or shall I speak at this?
JULIET: What man art thou?`

// uploadScript posts sampleScript and returns the stored record.
func uploadScript(t *testing.T, h http.Handler) *script.Script {
	t.Helper()
	rec := doJSON(t, h, "POST", "/api/scripts", uploadRequest{
		Title: "Balcony Scene",
		Text:  sampleScript,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var sc script.Script
	if err := json.Unmarshal(rec.Body.Bytes(), &sc); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return &sc
}

func TestUploadScriptParsesDialogue(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	sc := uploadScript(t, h)
	if sc.ID == "" {
		t.Error("uploaded script has no ID")
	}
	if len(sc.Lines) != 4 {
		t.Errorf("parsed %d lines, want 4", len(sc.Lines))
	}
	if len(sc.Characters) != 2 {
		t.Errorf("parsed %d characters, want 2", len(sc.Characters))
	}
	if sc.Status != script.StatusParsed {
		t.Errorf("status = %q, want %q", sc.Status, script.StatusParsed)
	}
}

func TestUploadScriptRejectsMissingFields(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	cases := []struct {
		name string
		req  uploadRequest
	}{
		{"empty title", uploadRequest{Text: sampleScript}},
		{"empty text", uploadRequest{Title: "No Body"}},
		{"whitespace text", uploadRequest{Title: "Blank", Text: "   \n  "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, "POST", "/api/scripts", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestListScriptsReturnsSummaries(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	uploaded := uploadScript(t, h)

	rec := doJSON(t, h, "GET", "/api/scripts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var resp struct {
		Scripts []scriptSummary `json:"scripts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Scripts) != 1 {
		t.Fatalf("listed %d scripts, want 1", len(resp.Scripts))
	}
	got := resp.Scripts[0]
	if got.ID != uploaded.ID {
		t.Errorf("summary ID = %q, want %q", got.ID, uploaded.ID)
	}
	if got.Lines != 4 || got.Characters != 2 {
		t.Errorf("summary counts = %d lines / %d characters, want 4/2", got.Lines, got.Characters)
	}
}

func TestGetScriptNotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	rec := doJSON(t, h, "GET", "/api/scripts/script-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteScriptIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	sc := uploadScript(t, h)
	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, "DELETE", "/api/scripts/"+sc.ID, nil)
		if rec.Code != http.StatusNoContent {
			t.Errorf("delete #%d status = %d, want 204", i+1, rec.Code)
		}
	}
	rec := doJSON(t, h, "GET", "/api/scripts/"+sc.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestAssignCharacterProgressesStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	sc := uploadScript(t, h)

	patch := func(charID string, req assignRequest) *script.Script {
		t.Helper()
		rec := doJSON(t, h, "PATCH",
			fmt.Sprintf("/api/scripts/%s/characters/%s", sc.ID, charID), req)
		if rec.Code != http.StatusOK {
			t.Fatalf("assign status = %d, body %s", rec.Code, rec.Body.String())
		}
		var out script.Script
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode assign response: %v", err)
		}
		return &out
	}

	got := patch("char-juliet", assignRequest{AssignedTo: script.AssignedUser})
	if got.Status != script.StatusAssigned {
		t.Errorf("status after one assignment = %q, want %q", got.Status, script.StatusAssigned)
	}

	got = patch("char-romeo", assignRequest{AssignedTo: script.AssignedAI})
	if got.Status != script.StatusReady {
		t.Errorf("status after full assignment = %q, want %q", got.Status, script.StatusReady)
	}
	if ai := got.AICharacter(); ai == nil || ai.Name != "ROMEO" {
		t.Errorf("AI character = %+v, want ROMEO", ai)
	}
}

func TestAssignCharacterPinsVoice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	sc := uploadScript(t, h)
	voice := "voice-b"
	rec := doJSON(t, h, "PATCH",
		fmt.Sprintf("/api/scripts/%s/characters/char-romeo", sc.ID),
		assignRequest{AssignedTo: script.AssignedAI, VoiceID: &voice})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign status = %d", rec.Code)
	}
	var out script.Script
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c := out.CharacterByID("char-romeo"); c == nil || c.VoiceID != "voice-b" {
		t.Errorf("voice not pinned: %+v", c)
	}
}

func TestAssignCharacterErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	sc := uploadScript(t, h)

	cases := []struct {
		name string
		path string
		req  assignRequest
		want int
	}{
		{"unknown script", "/api/scripts/script-missing/characters/char-romeo",
			assignRequest{AssignedTo: script.AssignedAI}, http.StatusNotFound},
		{"unknown character", "/api/scripts/" + sc.ID + "/characters/char-nobody",
			assignRequest{AssignedTo: script.AssignedAI}, http.StatusNotFound},
		{"invalid assignment", "/api/scripts/" + sc.ID + "/characters/char-romeo",
			assignRequest{AssignedTo: "robot"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, "PATCH", tc.path, tc.req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestListAttemptsEmpty(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	sc := uploadScript(t, h)
	rec := doJSON(t, h, "GET", "/api/scripts/"+sc.ID+"/attempts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Attempts []json.RawMessage `json:"attempts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Attempts == nil {
		t.Error("attempts should be an empty array, not null")
	}

	rec = doJSON(t, h, "GET", "/api/scripts/script-missing/attempts", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown script status = %d, want 404", rec.Code)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	rec := doJSON(t, h, "GET", "/api/voices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Voices []tts.VoiceProfile `json:"voices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Voices) != 2 {
		t.Errorf("listed %d voices, want 2", len(resp.Voices))
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, h, "GET", path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.srv.Routes()

	rec := doJSON(t, h, "GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", rec.Code)
	}
}
