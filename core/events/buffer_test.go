package events

import "testing"

type recordedEvent string

func (e recordedEvent) EventType() string { return string(e) }

type recorder struct {
	seen []string
}

func (r *recorder) Emit(evt Event) { r.seen = append(r.seen, evt.EventType()) }

func TestBufferFlushPreservesOrder(t *testing.T) {
	sink := &recorder{}
	buf := NewBuffer(sink)
	buf.Emit(recordedEvent("settlement.created"))
	buf.Emit(recordedEvent("settlement.funded"))
	if len(sink.seen) != 0 {
		t.Fatalf("events forwarded before flush: %v", sink.seen)
	}
	buf.Flush()
	if len(sink.seen) != 2 || sink.seen[0] != "settlement.created" || sink.seen[1] != "settlement.funded" {
		t.Fatalf("unexpected flush order: %v", sink.seen)
	}
	buf.Flush()
	if len(sink.seen) != 2 {
		t.Fatalf("flush should be idempotent: %v", sink.seen)
	}
}

func TestBufferDiscard(t *testing.T) {
	sink := &recorder{}
	buf := NewBuffer(sink)
	buf.Emit(recordedEvent("settlement.created"))
	buf.Discard()
	buf.Flush()
	if len(sink.seen) != 0 {
		t.Fatalf("discarded events reached sink: %v", sink.seen)
	}
}

func TestBufferNilSink(t *testing.T) {
	buf := NewBuffer(nil)
	buf.Emit(recordedEvent("settlement.created"))
	buf.Flush() // must not panic
}
