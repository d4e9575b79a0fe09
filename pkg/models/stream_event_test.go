package models

import (
	"encoding/json"
	"testing"
)

func TestStreamEventWireFormat(t *testing.T) {
	tests := []struct {
		name  string
		event StreamEvent
		want  string
	}{
		{"run start", RunStartEvent(), `{"type":"run_start"}`},
		{"delta", MessageDeltaEvent("Hel"), `{"type":"message_delta","delta":{"content":"Hel"}}`},
		{"empty delta keeps content", MessageDeltaEvent(""), `{"type":"message_delta","delta":{"content":""}}`},
		{"done", MessageDoneEvent("Hello"), `{"type":"message_done","message":{"role":"assistant","content":"Hello"}}`},
		{"error", ErrorEvent("tool failed"), `{"type":"error","error":"tool failed"}`},
		{"run done", RunDoneEvent(), `{"type":"run_done"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Marshal error: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("json = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestStreamEventIsTerminal(t *testing.T) {
	if RunStartEvent().IsTerminal() || MessageDeltaEvent("x").IsTerminal() || RunDoneEvent().IsTerminal() {
		t.Fatal("non-outcome events reported terminal")
	}
	if !MessageDoneEvent("x").IsTerminal() || !ErrorEvent("x").IsTerminal() {
		t.Fatal("outcome events not reported terminal")
	}
}
