package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/appforge/appforge/pkg/domain"
)

func TestNewMessage(t *testing.T) {
	payload := SessionStatusPayload{
		SessionID: "test-id",
		Status:    string(domain.StatusReady),
	}

	msg, err := NewMessage(TypeSessionStatus, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != TypeSessionStatus {
		t.Errorf("expected type %s, got %s", TypeSessionStatus, msg.Type)
	}

	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p SessionStatusPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.SessionID != "test-id" {
		t.Errorf("expected SessionID 'test-id', got %s", p.SessionID)
	}
}

func TestValidateClientMessage_ValidSessionCreate(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeSessionCreate,
		"payload":   map[string]interface{}{"name": "todo app", "model": "gemini-2.0-flash"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	result, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if result.Type != TypeSessionCreate {
		t.Errorf("expected type %s, got %s", TypeSessionCreate, result.Type)
	}
}

func TestValidateClientMessage_ValidTurnSubmit(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeTurnSubmit,
		"payload":   map[string]interface{}{"sessionId": "abc-123", "text": "build me a todo app"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	if _, err := ValidateClientMessage(data); err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
}

func TestValidateClientMessage_InvalidJSON(t *testing.T) {
	if _, err := ValidateClientMessage([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateClientMessage_MissingType(t *testing.T) {
	msg := map[string]interface{}{
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	if _, err := ValidateClientMessage(data); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestValidateClientMessage_UnknownType(t *testing.T) {
	msg := map[string]interface{}{
		"type":      "unknown.action",
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	if _, err := ValidateClientMessage(data); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestValidateClientMessage_ServerTypeFromClient(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeSessionStatus,
		"payload":   map[string]interface{}{"sessionId": "abc", "status": "ready"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	if _, err := ValidateClientMessage(data); err == nil {
		t.Fatal("expected error for server-originated type sent by client")
	}
}

func TestValidateClientMessage_MissingRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		msgType string
		payload map[string]interface{}
	}{
		{"turn.submit missing text", TypeTurnSubmit, map[string]interface{}{"sessionId": "abc"}},
		{"turn.submit missing sessionId", TypeTurnSubmit, map[string]interface{}{"text": "hi"}},
		{"term.input missing sessionId", TypeTermInput, map[string]interface{}{"data": "ls\n"}},
		{"file.view missing path", TypeFileView, map[string]interface{}{"sessionId": "abc"}},
		{"files.requestTree missing sessionId", TypeFilesRequestTree, map[string]interface{}{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := map[string]interface{}{
				"type":      tc.msgType,
				"payload":   tc.payload,
				"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			}
			data, _ := json.Marshal(msg)
			if _, err := ValidateClientMessage(data); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(ErrSessionBusy, "a turn is already in flight")
	if err != nil {
		t.Fatalf("NewErrorMessage failed: %v", err)
	}
	var p ErrorPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Code != ErrSessionBusy {
		t.Errorf("code = %q, want %q", p.Code, ErrSessionBusy)
	}
}
