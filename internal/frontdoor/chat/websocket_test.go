package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
)

// scriptedService answers "fail" with a 503 and echoes everything else.
type scriptedService struct {
	mu   sync.Mutex
	keys []string
}

func (s *scriptedService) Turn(_ context.Context, key, text string) (string, error) {
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	switch strings.TrimSpace(text) {
	case "":
		return "", domain.NewEmptyInput()
	case "fail":
		return "", domain.NewUpstream(http.StatusServiceUnavailable, "")
	case "silence":
		return "", nil
	}
	return "re: " + text, nil
}

func (s *scriptedService) AnalyzeDocument(context.Context, []byte, string) (string, error) {
	return "", nil
}

func dialWS(t *testing.T, h http.Handler, query string, header http.Header) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func newWSHandler(svc Service, origins []string) *WSHandler {
	return NewWSHandler(svc, "default_user", origins, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func reply(s string) *string { return &s }

func sameFrame(a, b WSResponse) bool {
	if (a.Response == nil) != (b.Response == nil) {
		return false
	}
	if a.Response != nil && *a.Response != *b.Response {
		return false
	}
	a.Response, b.Response = nil, nil
	return a == b
}

func TestWSHandler_Conversation(t *testing.T) {
	svc := &scriptedService{}
	conn := dialWS(t, newWSHandler(svc, nil), "?user_id=u1", nil)

	var hello WSResponse
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != "connected" || hello.SessionID != "u1" {
		t.Fatalf("hello = %+v", hello)
	}

	tests := []struct {
		frame string
		want  WSResponse
	}{
		{frame: `{"message":"oi"}`, want: WSResponse{Type: "response", Response: reply("re: oi")}},
		{frame: `{"message":"fail"}`, want: WSResponse{Type: "error", Error: "Erro na API DeepSeek: 503", Status: 503}},
		{frame: `{"message":"  "}`, want: WSResponse{Type: "error", Error: "Nenhuma mensagem recebida.", Status: 400}},
		{frame: `not json`, want: WSResponse{Type: "error", Error: "Requisição inválida.", Status: 400}},
		{frame: `{"message":"de novo"}`, want: WSResponse{Type: "response", Response: reply("re: de novo")}},
	}

	for _, tt := range tests {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
			t.Fatal(err)
		}
		var got WSResponse
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatal(err)
		}
		if !sameFrame(got, tt.want) {
			t.Errorf("frame %s: got %+v, want %+v", tt.frame, got, tt.want)
		}
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, k := range svc.keys {
		if k != "u1" {
			t.Errorf("turn used key %q, want u1", k)
		}
	}
}

func TestWSHandler_RejectsForeignOrigin(t *testing.T) {
	srv := httptest.NewServer(newWSHandler(&scriptedService{}, []string{"https://sapphir.example"}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v, want 403", resp)
	}
}

func TestWSHandler_AllowedOrigin(t *testing.T) {
	header := http.Header{"Origin": []string{"https://sapphir.example"}}
	conn := dialWS(t, newWSHandler(&scriptedService{}, []string{"https://sapphir.example"}), "", header)

	var hello WSResponse
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != "connected" {
		t.Fatalf("hello = %+v", hello)
	}
}

func TestWSHandler_DefaultKey(t *testing.T) {
	svc := &scriptedService{}
	conn := dialWS(t, newWSHandler(svc, nil), "", nil)

	var hello WSResponse
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != "connected" || hello.SessionID != "default_user" {
		t.Fatalf("hello = %+v, want session default_user", hello)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"oi"}`)); err != nil {
		t.Fatal(err)
	}
	var got WSResponse
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.keys) != 1 || svc.keys[0] != "default_user" {
		t.Errorf("turn keys = %v, want [default_user]", svc.keys)
	}
}

func TestWSHandler_EmptyReplyKeepsResponseField(t *testing.T) {
	conn := dialWS(t, newWSHandler(&scriptedService{}, nil), "?user_id=u1", nil)

	var hello WSResponse
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"silence"}`)); err != nil {
		t.Fatal(err)
	}

	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", frame, err)
	}
	if got["type"] != "response" {
		t.Fatalf("frame = %s, want response", frame)
	}
	if r, ok := got["response"]; !ok || r != "" {
		t.Errorf("frame = %s, want \"response\":\"\"", frame)
	}
}
