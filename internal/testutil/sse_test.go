package testutil

import "testing"

func TestParseSSEEvents(t *testing.T) {
	body := "event: metadata\ndata: {\"sources\":[]}\n\n" +
		"data: \"Hello \"\n\n" +
		"data: \"world\"\n\n" +
		"event: done\ndata: [DONE]\n\n"

	events := ParseSSEEvents(t, body)
	if len(events) != 4 {
		t.Fatalf("parsed %d events, want 4", len(events))
	}
	if events[0].Type != "metadata" || events[0].Data != `{"sources":[]}` {
		t.Errorf("metadata event = %+v", events[0])
	}
	if events[1].Type != "message" {
		t.Errorf("unnamed data event type = %q, want message", events[1].Type)
	}
	if events[3].Type != "done" {
		t.Errorf("final event = %+v", events[3])
	}

	messages := FindAllEvents(events, "message")
	if len(messages) != 2 {
		t.Errorf("found %d message events", len(messages))
	}
	if FindEvent(events, "error") != nil {
		t.Error("unexpected error event")
	}
}

func TestParseSSEEventsMultilineData(t *testing.T) {
	body := "event: chunk\ndata: line one\ndata: line two\n\n"
	events := ParseSSEEvents(t, body)
	if len(events) != 1 || events[0].Data != "line one\nline two" {
		t.Errorf("events = %+v", events)
	}
}

func TestParseSSEEventsIgnoresComments(t *testing.T) {
	body := ": keep-alive\nevent: done\ndata: x\n\n"
	events := ParseSSEEvents(t, body)
	if len(events) != 1 || events[0].Type != "done" {
		t.Errorf("events = %+v", events)
	}
}
