package event

import (
	"testing"
)

func TestEmitter_OnReceivesMatchingEvents(t *testing.T) {
	em := NewEmitter()

	var got []Event
	em.On(DebateMessage, func(ev Event) { got = append(got, ev) })

	em.Emit(DebateMessageEvent{DebateID: "d1", Index: 0, PersonaName: "Ada", Message: "Hi"})
	em.Emit(DebateStateEvent{DebateID: "d1", State: "debating"})

	if len(got) != 1 {
		t.Fatalf("listener received %d events, want 1", len(got))
	}
	msg, ok := got[0].(DebateMessageEvent)
	if !ok || msg.Message != "Hi" {
		t.Fatalf("unexpected event %+v", got[0])
	}
}

func TestEmitter_OnAnyReceivesEverything(t *testing.T) {
	em := NewEmitter()

	count := 0
	em.OnAny(func(Event) { count++ })

	em.Emit(DebateStateEvent{DebateID: "d1", State: "countdown"})
	em.Emit(ReplayIndexEvent{ReplayID: "r1", Index: 2})

	if count != 2 {
		t.Fatalf("wildcard listener received %d events, want 2", count)
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	em := NewEmitter()

	count := 0
	off := em.On(ReplayIndex, func(Event) { count++ })

	em.Emit(ReplayIndexEvent{ReplayID: "r1", Index: 0})
	off()
	em.Emit(ReplayIndexEvent{ReplayID: "r1", Index: 1})

	if count != 1 {
		t.Fatalf("listener received %d events after unsubscribe, want 1", count)
	}
}

func TestEventToData_UsesJSONTags(t *testing.T) {
	data := eventToData(DebateCountdownEvent{DebateID: "d1", Remaining: 2})
	if data["debate_id"] != "d1" {
		t.Fatalf("expected debate_id in payload, got %v", data)
	}
	if data["remaining"] != float64(2) {
		t.Fatalf("expected remaining=2 in payload, got %v", data)
	}
}
