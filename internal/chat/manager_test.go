// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/morganforge/geminichat/internal/api"
	"github.com/morganforge/geminichat/internal/model"
	"github.com/morganforge/geminichat/internal/session"
	"github.com/morganforge/geminichat/internal/store"
	"github.com/morganforge/geminichat/internal/upload"
)

// testEnv bundles the managers wired the way main wires them.
type testEnv struct {
	chat *Manager
	sess *session.Manager
	kv   *store.Store
}

func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	kv := store.Open(filepath.Join(t.TempDir(), "state.db"), "test")
	t.Cleanup(func() { kv.Close() })

	client := api.NewClient(server.URL)
	sess := session.NewManager(client, kv)
	client.WithTokenSource(sess.Token).WithOnUnauthorized(sess.HandleUnauthorized)

	coord := upload.NewCoordinator(client, upload.DefaultPolicy())
	mgr := NewManager(client, kv, sess, coord)

	// Seed an authenticated session directly.
	kv.Set("token", "tok-1")
	kv.Set("user", model.User{ID: "u1", Username: "alice"})
	if !sess.Restore() {
		t.Fatal("seed restore failed")
	}

	return &testEnv{chat: mgr, sess: sess, kv: kv}
}

func writeJSON(w http.ResponseWriter, v any) {
	json.NewEncoder(w).Encode(v)
}

// =============================================================================
// CONVERSATION LIST
// =============================================================================

func TestManager_LoadConversationsMirrors(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" || r.URL.Query().Get("limit") != "20" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"conversations":[{"id":"c1","title":"First"},{"id":"c2","title":"Second"}]}`))
	}))

	convs, err := env.chat.LoadConversations(context.Background(), 1, 20)
	if err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "c1" {
		t.Errorf("convs = %+v", convs)
	}

	var mirrored []model.Conversation
	if !env.kv.Get("conversations", &mirrored) || len(mirrored) != 2 {
		t.Error("conversation list must be mirrored to the store")
	}
}

func TestManager_CreateConversationBecomesCurrent(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"conversation":{"id":"c9","title":"Fresh"}}`))
	}))

	conv, err := env.chat.CreateConversation(context.Background(), "Fresh")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID != "c9" {
		t.Errorf("ID = %q", conv.ID)
	}
	if env.chat.CurrentID() != "c9" {
		t.Errorf("CurrentID = %q", env.chat.CurrentID())
	}
	if len(env.chat.Messages()) != 0 {
		t.Error("new conversation must start with an empty buffer")
	}

	var current string
	if !env.kv.Get("currentConversation", &current) || current != "c9" {
		t.Errorf("persisted current = %q", current)
	}
}

func TestManager_DeleteCurrentClearsSelection(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.Write([]byte(`{"conversation":{"id":"c1","title":"T"}}`))
		case http.MethodDelete:
			w.Write([]byte(`{}`))
		}
	}))

	if _, err := env.chat.CreateConversation(context.Background(), "T"); err != nil {
		t.Fatal(err)
	}
	if err := env.chat.DeleteConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	if env.chat.CurrentID() != "" {
		t.Error("deleting the current conversation must clear the selection")
	}
	if len(env.chat.Conversations()) != 0 {
		t.Error("deleted conversation must leave the list")
	}
	var current string
	if env.kv.Get("currentConversation", &current) {
		t.Error("persisted selection must be cleared")
	}
}

func TestManager_DeleteOtherKeepsSelection(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.Write([]byte(`{"conversations":[{"id":"c1"},{"id":"c2"}]}`))
		case r.Method == http.MethodPost:
			w.Write([]byte(`{"conversation":{"id":"c1","title":"T"}}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))

	env.chat.LoadConversations(context.Background(), 0, 0)
	env.chat.CreateConversation(context.Background(), "T")

	if err := env.chat.DeleteConversation(context.Background(), "c2"); err != nil {
		t.Fatal(err)
	}
	if env.chat.CurrentID() != "c1" {
		t.Error("deleting another conversation must not touch the selection")
	}
}

// =============================================================================
// SENDING
// =============================================================================

func TestManager_SendMessageAppendsInOrder(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations":
			w.Write([]byte(`{"conversation":{"id":"c1","title":"T"}}`))
		case "/gemini/text":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["conversationId"] != "c1" {
				t.Errorf("conversationId = %q", body["conversationId"])
			}
			writeJSON(w, map[string]any{
				"userMessage": model.Message{ID: "m1", Role: model.RoleUser, Content: body["prompt"]},
				"aiMessage":   model.Message{ID: "m2", Role: model.RoleAssistant, Content: "hi there"},
			})
		}
	}))

	env.chat.CreateConversation(context.Background(), "T")

	msgs, err := env.chat.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("returned %d messages", len(msgs))
	}

	buffer := env.chat.Messages()
	if len(buffer) != 2 {
		t.Fatalf("buffer has %d messages", len(buffer))
	}
	if buffer[0].Role != model.RoleUser || buffer[0].Content != "hello" {
		t.Errorf("buffer[0] = %+v", buffer[0])
	}
	if buffer[1].Role != model.RoleAssistant || buffer[1].Content != "hi there" {
		t.Errorf("buffer[1] = %+v", buffer[1])
	}
}

func TestManager_SendMessageFailureLeavesBufferUntouched(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"model overloaded"}`))
	}))

	_, err := env.chat.SendMessage(context.Background(), "hello")
	if !errors.Is(err, api.ErrServer) {
		t.Fatalf("got %v", err)
	}
	if len(env.chat.Messages()) != 0 {
		t.Error("failed send must not leave partial messages behind")
	}
	if !env.chat.CanSendMessage() {
		t.Error("gate must be released after a failed send")
	}
}

func TestManager_SendMessageRejectsEmpty(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty message must not reach the server")
	}))

	_, err := env.chat.SendMessage(context.Background(), "   ")
	if !errors.Is(err, api.ErrValidation) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestManager_SendMessageTransparentCreate(t *testing.T) {
	var mu sync.Mutex
	var sentIDs []string
	var creates int
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations":
			mu.Lock()
			creates++
			mu.Unlock()
			w.Write([]byte(`{"conversation":{"id":"c-new","title":"New Conversation"}}`))
		case "/gemini/text":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			sentIDs = append(sentIDs, body["conversationId"])
			mu.Unlock()
			// No conversationId echo; the reply carries only the exchange.
			writeJSON(w, map[string]any{
				"userMessage": model.Message{ID: "m1", Role: model.RoleUser, Content: body["prompt"]},
				"aiMessage":   model.Message{ID: "m2", Role: model.RoleAssistant, Content: "hi"},
			})
		}
	}))

	if _, err := env.chat.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if env.chat.CurrentID() != "c-new" {
		t.Errorf("CurrentID = %q, want the transparently created conversation", env.chat.CurrentID())
	}
	if len(env.chat.Messages()) != 2 {
		t.Error("exchange must land in the new conversation's buffer")
	}

	// The thread stays in the one conversation on later sends.
	if _, err := env.chat.SendMessage(context.Background(), "again"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if creates != 1 {
		t.Errorf("created %d conversations, want 1", creates)
	}
	want := []string{"c-new", "c-new"}
	if len(sentIDs) != 2 || sentIDs[0] != want[0] || sentIDs[1] != want[1] {
		t.Errorf("conversationId per send = %v, want %v", sentIDs, want)
	}
}

func TestManager_SendMessageAdoptsEchoedConversation(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations":
			w.Write([]byte(`{"conversation":{"id":"c1","title":"T"}}`))
		case "/gemini/text":
			writeJSON(w, map[string]any{
				"userMessage":    model.Message{ID: "m1", Role: model.RoleUser, Content: "hello"},
				"aiMessage":      model.Message{ID: "m2", Role: model.RoleAssistant, Content: "hi"},
				"conversationId": "c1",
			})
		}
	}))

	if _, err := env.chat.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if env.chat.CurrentID() != "c1" {
		t.Errorf("CurrentID = %q", env.chat.CurrentID())
	}
	if len(env.chat.Messages()) != 2 {
		t.Error("exchange must land in the buffer")
	}
}

func TestManager_ConcurrentSendRejected(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/conversations" {
			w.Write([]byte(`{"conversation":{"id":"c1","title":"T"}}`))
			return
		}
		<-release
		writeJSON(w, map[string]any{
			"userMessage": model.Message{ID: "m1", Role: model.RoleUser, Content: "x"},
			"aiMessage":   model.Message{ID: "m2", Role: model.RoleAssistant, Content: "y"},
		})
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	firstErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		_, err := env.chat.SendMessage(context.Background(), "first")
		firstErr <- err
	}()

	// Wait until the first send holds the gate.
	for env.chat.CanSendMessage() {
		time.Sleep(time.Millisecond)
	}

	_, err := env.chat.SendMessage(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	wg.Wait()
	require.NoError(t, <-firstErr)
	require.Len(t, env.chat.Messages(), 2, "only the first send may land")
}

// =============================================================================
// REGENERATION
// =============================================================================

func regenerateHandler(t *testing.T, wantMessageID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations":
			w.Write([]byte(`{"conversation":{"id":"c1","title":"T"}}`))
		case "/gemini/text":
			writeJSON(w, map[string]any{
				"userMessage": model.Message{ID: "m1", Role: model.RoleUser, Content: "question"},
				"aiMessage":   model.Message{ID: "m2", Role: model.RoleAssistant, Content: "first answer"},
			})
		case "/gemini/regenerate":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["messageId"] != wantMessageID {
				t.Errorf("messageId = %q, want %q", body["messageId"], wantMessageID)
			}
			writeJSON(w, map[string]any{
				"aiMessage": model.Message{ID: "m3", Role: model.RoleAssistant, Content: "second answer"},
			})
		}
	})
}

func TestManager_RegenerateReplacesTrailingAssistant(t *testing.T) {
	env := newTestEnv(t, regenerateHandler(t, "m1"))

	env.chat.CreateConversation(context.Background(), "T")
	env.chat.SendMessage(context.Background(), "question")

	msg, err := env.chat.RegenerateResponse(context.Background())
	if err != nil {
		t.Fatalf("RegenerateResponse: %v", err)
	}
	if msg.Content != "second answer" {
		t.Errorf("Content = %q", msg.Content)
	}

	buffer := env.chat.Messages()
	if len(buffer) != 2 {
		t.Fatalf("buffer has %d messages, want 2 (replacement, not append)", len(buffer))
	}
	if buffer[1].ID != "m3" || buffer[1].Content != "second answer" {
		t.Errorf("buffer[1] = %+v", buffer[1])
	}
	if buffer[0].ID != "m1" {
		t.Errorf("user message disturbed: %+v", buffer[0])
	}
}

func TestManager_RegenerateAppendsWhenUserIsLast(t *testing.T) {
	env := newTestEnv(t, regenerateHandler(t, "m1"))

	env.chat.CreateConversation(context.Background(), "T")
	env.chat.SendMessage(context.Background(), "question")

	// Drop the assistant reply so the buffer ends with the user message.
	env.chat.mu.Lock()
	env.chat.buffer = env.chat.buffer[:1]
	env.chat.mu.Unlock()

	if _, err := env.chat.RegenerateResponse(context.Background()); err != nil {
		t.Fatalf("RegenerateResponse: %v", err)
	}

	buffer := env.chat.Messages()
	if len(buffer) != 2 {
		t.Fatalf("buffer has %d messages, want 2 (append)", len(buffer))
	}
	if buffer[0].Role != model.RoleUser || buffer[1].ID != "m3" {
		t.Errorf("buffer = %+v", buffer)
	}
}

func TestManager_RegenerateWithoutUserMessage(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/conversations" {
			w.Write([]byte(`{"conversation":{"id":"c1","title":"T"}}`))
			return
		}
		t.Error("regenerate with an empty buffer must not reach the server")
	}))

	env.chat.CreateConversation(context.Background(), "T")

	_, err := env.chat.RegenerateResponse(context.Background())
	if !errors.Is(err, api.ErrValidation) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestManager_RegenerateWithoutConversation(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := env.chat.RegenerateResponse(context.Background())
	if !errors.Is(err, ErrNoConversation) {
		t.Errorf("got %v, want ErrNoConversation", err)
	}
}

// =============================================================================
// SELECTION RACES
// =============================================================================

func TestManager_StaleSelectDiscarded(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations/slow":
			close(firstStarted)
			<-releaseFirst
			w.Write([]byte(`{"conversation":{"id":"slow","title":"Slow","messages":[{"id":"s1","role":"user","content":"old"}]}}`))
		case "/conversations/fast":
			w.Write([]byte(`{"conversation":{"id":"fast","title":"Fast","messages":[{"id":"f1","role":"user","content":"new"}]}}`))
		}
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		env.chat.SelectConversation(context.Background(), "slow")
	}()

	<-firstStarted
	if _, err := env.chat.SelectConversation(context.Background(), "fast"); err != nil {
		t.Fatal(err)
	}

	close(releaseFirst)
	wg.Wait()

	require.Equal(t, "fast", env.chat.CurrentID(), "the later selection must win")
	buffer := env.chat.Messages()
	require.Len(t, buffer, 1)
	require.Equal(t, "f1", buffer[0].ID, "the slow result must be discarded")
}

// =============================================================================
// SESSION BOUNDARY
// =============================================================================

func TestManager_ResetDropsEverything(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"conversation":{"id":"c1","title":"T"}}`))
	}))

	env.chat.CreateConversation(context.Background(), "T")
	env.chat.Reset()

	if env.chat.CurrentID() != "" || len(env.chat.Conversations()) != 0 || len(env.chat.Messages()) != 0 {
		t.Error("reset must clear all conversation state")
	}
	var raw any
	if env.kv.Get("conversations", &raw) || env.kv.Get("currentConversation", &raw) {
		t.Error("reset must clear mirrored state")
	}
}

func TestManager_ResultAfterTeardownDiscarded(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"conversations":[{"id":"c1"}]}`))
	}))

	// Capture a send state, expire the session, then try to commit.
	st, release, err := env.chat.acquireSend()
	require.NoError(t, err)
	release()

	env.sess.HandleUnauthorized()
	env.chat.Reset()

	committed := env.chat.commitExchange(st,
		&model.Message{ID: "m1", Role: model.RoleUser, Content: "late"},
		&model.Message{ID: "m2", Role: model.RoleAssistant, Content: "late"},
		"")
	require.False(t, committed, "results from a previous session must be discarded")
	require.Empty(t, env.chat.Messages())
}

// =============================================================================
// MESSAGE MAINTENANCE
// =============================================================================

func TestManager_LoadMessagesRefreshesCurrentBuffer(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations":
			w.Write([]byte(`{"conversation":{"id":"c1","title":"T"}}`))
		case "/conversations/c1/messages":
			w.Write([]byte(`{"messages":[{"id":"m1","role":"user","content":"a"},{"id":"m2","role":"assistant","content":"b"}]}`))
		}
	}))

	env.chat.CreateConversation(context.Background(), "T")

	msgs, err := env.chat.LoadMessages(context.Background(), "c1", 0, 0)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if len(env.chat.Messages()) != 2 {
		t.Error("loading the current conversation must refresh the buffer")
	}
}

func TestManager_DeleteMessageRemovesFromBuffer(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/conversations":
			w.Write([]byte(`{"conversation":{"id":"c1","title":"T"}}`))
		case r.URL.Path == "/gemini/text":
			writeJSON(w, map[string]any{
				"userMessage": model.Message{ID: "m1", Role: model.RoleUser, Content: "q"},
				"aiMessage":   model.Message{ID: "m2", Role: model.RoleAssistant, Content: "a"},
			})
		default:
			w.Write([]byte(`{}`))
		}
	}))

	env.chat.CreateConversation(context.Background(), "T")
	env.chat.SendMessage(context.Background(), "q")

	if err := env.chat.DeleteMessage(context.Background(), "c1", "m2"); err != nil {
		t.Fatal(err)
	}
	buffer := env.chat.Messages()
	if len(buffer) != 1 || buffer[0].ID != "m1" {
		t.Errorf("buffer = %+v", buffer)
	}
}

// =============================================================================
// LOCAL EXPORT
// =============================================================================

func TestManager_ExportText(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations":
			w.Write([]byte(`{"conversation":{"id":"c1","title":"Notes"}}`))
		case "/gemini/text":
			writeJSON(w, map[string]any{
				"userMessage": model.Message{ID: "m1", Role: model.RoleUser, Content: "q"},
				"aiMessage":   model.Message{ID: "m2", Role: model.RoleAssistant, Content: "a"},
			})
		}
	}))

	env.chat.CreateConversation(context.Background(), "Notes")
	env.chat.SendMessage(context.Background(), "q")

	out, err := env.chat.ExportText()
	if err != nil {
		t.Fatalf("ExportText: %v", err)
	}
	for _, want := range []string{"User: q", "Assistant: a"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}

	if _, err := env.chat.ExportJSON(); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
}

func TestManager_ExportWithoutConversation(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if _, err := env.chat.ExportText(); !errors.Is(err, ErrNoConversation) {
		t.Errorf("got %v, want ErrNoConversation", err)
	}
}

func TestManager_DownloadExportValidatesFormat(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/c1/export/pdf" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte("%PDF-1.7 fake"))
	}))

	data, err := env.chat.DownloadExport(context.Background(), "c1", "pdf")
	if err != nil {
		t.Fatalf("DownloadExport: %v", err)
	}
	if string(data) != "%PDF-1.7 fake" {
		t.Errorf("data = %q", data)
	}

	if _, err := env.chat.DownloadExport(context.Background(), "c1", "docx"); !errors.Is(err, api.ErrValidation) {
		t.Errorf("got %v, want validation error", err)
	}
}
