package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/offbook/offbook/internal/rehearsal"
	"github.com/offbook/offbook/internal/script"
	"github.com/offbook/offbook/pkg/provider/stt"
	sttmock "github.com/offbook/offbook/pkg/provider/stt/mock"
)

// readyScript stores a fully assigned sample script: ROMEO spoken by the
// scene partner, JULIET by the user.
func readyScript(t *testing.T, env *testEnv) *script.Script {
	t.Helper()
	sc := script.Parse("Balcony Scene", sampleScript)
	for i := range sc.Characters {
		switch sc.Characters[i].Name {
		case "ROMEO":
			sc.Characters[i].Assignment = script.AssignedAI
		case "JULIET":
			sc.Characters[i].Assignment = script.AssignedUser
		}
	}
	sc.Status = script.StatusReady
	if err := env.scripts.Add(context.Background(), sc); err != nil {
		t.Fatalf("add script: %v", err)
	}
	return sc
}

// wsClient wraps a rehearsal WebSocket connection with frame helpers.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn

	audioFrames int
}

// dialRehearse serves the router and opens a rehearsal session for sc.
func dialRehearse(t *testing.T, env *testEnv, sc *script.Script) *wsClient {
	t.Helper()
	ts := httptest.NewServer(env.srv.Routes())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/scripts/" + sc.ID + "/rehearse"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return &wsClient{t: t, conn: conn}
}

// send writes one control frame.
func (c *wsClient) send(msgType string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(clientMessage{Type: msgType})
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("write %s: %v", msgType, err)
	}
}

// next reads frames until the next JSON frame, counting skipped audio frames.
func (c *wsClient) next() serverMessage {
	c.t.Helper()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		kind, data, err := c.conn.Read(ctx)
		cancel()
		if err != nil {
			c.t.Fatalf("read frame: %v", err)
		}
		if kind == websocket.MessageBinary {
			c.audioFrames++
			continue
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.t.Fatalf("decode frame %q: %v", data, err)
		}
		return msg
	}
}

// waitState reads frames until a state frame with the wanted state arrives.
func (c *wsClient) waitState(want rehearsal.State) serverMessage {
	c.t.Helper()
	for i := 0; i < 100; i++ {
		msg := c.next()
		if msg.Type == "state" && msg.State == want {
			return msg
		}
	}
	c.t.Fatalf("state %q never arrived", want)
	return serverMessage{}
}

// waitType reads frames until a frame of the wanted type arrives.
func (c *wsClient) waitType(want string) serverMessage {
	c.t.Helper()
	for i := 0; i < 100; i++ {
		msg := c.next()
		if msg.Type == want {
			return msg
		}
	}
	c.t.Fatalf("frame type %q never arrived", want)
	return serverMessage{}
}

// lastSTTSession polls until the STT mock has handed out a session.
func lastSTTSession(t *testing.T, env *testEnv) *sttmock.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := env.stt.LastSession(); s != nil {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no recognition session was opened")
	return nil
}

func TestRehearseUnknownScript(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Routes())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/scripts/script-missing/rehearse")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRehearseSkipPlaysFirstLine(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sc := readyScript(t, env)
	c := dialRehearse(t, env, sc)

	c.waitState(rehearsal.StateIdle)
	c.send(msgSkip)
	c.waitState(rehearsal.StateCountdown)
	c.waitState(rehearsal.StatePlaying)

	// The first line belongs to the scene partner: synthesis streams audio,
	// then the engine hands the turn to the user.
	msg := c.waitState(rehearsal.StateWaitingForUser)
	if msg.LineIndex != 1 {
		t.Errorf("user turn at line index %d, want 1", msg.LineIndex)
	}
	if c.audioFrames == 0 {
		t.Error("no audio frames were streamed")
	}

	calls := env.tts.Calls()
	if len(calls) != 1 {
		t.Fatalf("synthesize calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].Text, "what light through yonder window") {
		t.Errorf("synthesized text = %q, want first ROMEO line", calls[0].Text)
	}
}

func TestRehearseConfirmScoresAndCompletes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sc := readyScript(t, env)
	c := dialRehearse(t, env, sc)

	c.send(msgSkip)
	c.waitState(rehearsal.StateWaitingForUser)

	// Speak the user's line, wait for the echoed partial so the transcript
	// has definitely reached the controller, then confirm.
	sess := lastSTTSession(t, env)
	sess.Emit(stt.Transcript{Text: "O Romeo, Romeo, wherefore art thou Romeo?"})
	c.waitType("partial")
	c.send(msgConfirm)

	att := c.waitType("attempt")
	if att.Metrics == nil {
		t.Fatal("attempt frame has no metrics")
	}
	if att.Metrics.Accuracy != 100 {
		t.Errorf("accuracy = %d, want 100", att.Metrics.Accuracy)
	}
	if att.LineID != sc.Lines[1].ID {
		t.Errorf("attempt line = %q, want %q", att.LineID, sc.Lines[1].ID)
	}

	// Second partner line plays, then the final user line.
	c.waitState(rehearsal.StateWaitingForUser)
	sess = lastSTTSession(t, env)
	sess.Emit(stt.Transcript{Text: "What man art thou?"})
	c.waitType("partial")
	c.send(msgConfirm)

	c.waitState(rehearsal.StateCompleted)
	summary := c.waitType("summary")
	if summary.Summary == nil {
		t.Fatal("summary frame has no payload")
	}
	if summary.Summary.ScoredLines != 2 {
		t.Errorf("scored lines = %d, want 2", summary.Summary.ScoredLines)
	}

	// Both attempts are persisted and listable.
	attempts, err := env.srv.attempts.ListByScript(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Errorf("persisted attempts = %d, want 2", len(attempts))
	}
}

func TestRehearseCueWordStartsCountdown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sc := readyScript(t, env)
	c := dialRehearse(t, env, sc)

	c.send(msgBegin)
	c.waitState(rehearsal.StateListeningForCue)

	sess := lastSTTSession(t, env)
	sess.Emit(stt.Transcript{Text: "and... action"})
	c.waitState(rehearsal.StateCountdown)
	c.waitState(rehearsal.StatePlaying)
}

func TestRehearseResetReturnsToIdle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sc := readyScript(t, env)
	c := dialRehearse(t, env, sc)

	c.send(msgSkip)
	c.waitState(rehearsal.StateWaitingForUser)
	c.send(msgReset)
	c.waitState(rehearsal.StateIdle)
}
