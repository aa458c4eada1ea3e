package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTelegramNotifySendsMessage(t *testing.T) {
	var gotPath string
	var gotBody telegramSendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier(true, "token123", "chat42", srv.URL, 2*time.Second)
	if err := n.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotPath != "/bottoken123/sendMessage" {
		t.Fatalf("path = %s, want /bottoken123/sendMessage", gotPath)
	}
	if gotBody.ChatID != "chat42" || gotBody.Text != "hello" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestTelegramNotifyAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok": false, "description": "chat not found"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier(true, "token123", "chat42", srv.URL, 2*time.Second)
	err := n.Notify(context.Background(), "hello")
	if err == nil {
		t.Fatal("Notify succeeded, want error")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err = %v, want description in message", err)
	}
}

func TestTelegramNotifyDisabled(t *testing.T) {
	n := NewTelegramNotifier(false, "token", "chat", "http://127.0.0.1:1", time.Second)
	if err := n.Notify(context.Background(), "ignored"); err != nil {
		t.Fatalf("disabled Notify = %v, want nil", err)
	}
}
