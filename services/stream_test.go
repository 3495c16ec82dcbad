package services

import (
	"context"
	"errors"
	"testing"
)

type fakeCompleter struct {
	chunks   []string
	err      error
	fullText string
	calls    int
}

func (f *fakeCompleter) StreamText(ctx context.Context, system, user string, onDelta func(string)) (string, error) {
	f.calls++
	var full string
	for _, c := range f.chunks {
		full += c
		if onDelta != nil {
			onDelta(c)
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return full, nil
}

func (f *fakeCompleter) GenerateText(ctx context.Context, system, user string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.fullText, nil
}

type recordingSink struct {
	events []StreamEvent
}

func (s *recordingSink) Emit(ev StreamEvent) { s.events = append(s.events, ev) }

func (s *recordingSink) types() []string {
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func TestStreamPatientReplyChunksInOrder(t *testing.T) {
	completer := &fakeCompleter{chunks: []string{"The ", "pain ", "is sharp."}}
	sink := &recordingSink{}

	full, err := StreamPatientReply(context.Background(), completer, "", "prompt", false, sink)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if full != "The pain is sharp." {
		t.Fatalf("unexpected full text: %q", full)
	}

	want := []string{EventChunk, EventChunk, EventChunk, EventDone}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("got events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
	for i, chunk := range completer.chunks {
		if sink.events[i].Content != chunk {
			t.Fatalf("chunk %d out of order: got %q, want %q", i, sink.events[i].Content, chunk)
		}
	}
}

func TestStreamPatientReplySessionEndPrecedesDone(t *testing.T) {
	completer := &fakeCompleter{chunks: []string{"Thank you, doctor."}}
	sink := &recordingSink{}

	if _, err := StreamPatientReply(context.Background(), completer, "", "prompt", true, sink); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	got := sink.types()
	if len(got) < 3 {
		t.Fatalf("too few events: %v", got)
	}
	if got[len(got)-1] != EventDone {
		t.Fatalf("done must be last, got %v", got)
	}
	if got[len(got)-2] != EventSessionEnd {
		t.Fatalf("session_end must precede done, got %v", got)
	}
	if sink.events[len(got)-2].Summary == "" {
		t.Fatalf("session_end must carry a summary")
	}
}

func TestStreamPatientReplyUpstreamErrorStillTerminates(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("boom")}
	sink := &recordingSink{}

	_, err := StreamPatientReply(context.Background(), completer, "", "prompt", false, sink)
	if err == nil {
		t.Fatalf("expected error")
	}

	got := sink.types()
	if len(got) != 2 || got[0] != EventError || got[1] != EventDone {
		t.Fatalf("expected [error done], got %v", got)
	}
}
