package scribe

import (
	"context"
	"errors"
	"testing"

	"github.com/offbook/offbook/pkg/provider/stt"
)

func TestParseScribeResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		data   string
		want   stt.Transcript
		wantOK bool
	}{
		{
			name:   "partial",
			data:   `{"type":"partial_transcript","text":"hello th"}`,
			want:   stt.Transcript{Text: "hello th", Final: false},
			wantOK: true,
		},
		{
			name:   "committed",
			data:   `{"type":"committed_transcript","text":"hello there"}`,
			want:   stt.Transcript{Text: "hello there", Final: true},
			wantOK: true,
		},
		{
			name:   "unknown type ignored",
			data:   `{"type":"session_started"}`,
			wantOK: false,
		},
		{
			name:   "invalid json ignored",
			data:   `{not json`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseScribeResponse([]byte(tt.data))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewRequiresTokenSource(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err == nil {
		t.Fatal("New(nil) should fail")
	}
}

func TestStartStreamTokenFailure(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("issuer down")
	p, err := New(failingTokens{err: wantErr})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, wantErr) {
		t.Fatalf("StartStream() = %v, want token error", err)
	}
}

type failingTokens struct{ err error }

func (f failingTokens) Token(context.Context) (string, error) { return "", f.err }
