package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDiscordSenderSend(t *testing.T) {
	var gotPath, gotAuth, gotContent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotContent = body.Content
		json.NewEncoder(w).Encode(map[string]string{"id": "123456"})
	}))
	defer server.Close()

	sender, err := NewDiscordSender(server.URL, "token-abc")
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	messageRef, err := sender.Send(context.Background(), "chan-1", "⏰ drink water")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if messageRef != "123456" {
		t.Fatalf("messageRef = %q", messageRef)
	}
	if gotPath != "/channels/chan-1/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bot token-abc" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotContent != "⏰ drink water" {
		t.Fatalf("content = %q", gotContent)
	}
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "Missing Access", "code": 50001}`))
	}))
	defer server.Close()

	sender, err := NewDiscordSender(server.URL, "token-abc")
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if _, err := sender.Send(context.Background(), "chan-1", "hi"); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestNewDiscordSenderRequiresToken(t *testing.T) {
	if _, err := NewDiscordSender("", ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
