package syncq

import (
	"testing"
	"time"
)

func TestQueueRoundTrip(t *testing.T) {
	dirOverride = t.TempDir()
	t.Cleanup(func() { dirOverride = "" })

	got, err := Load()
	if err != nil || len(got) != 0 {
		t.Fatalf("empty queue got %v %v", got, err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cmds := []Command{
		{Action: "halt", Body: map[string]any{"target": "market", "persistent": true}, IdempotencyKey: "k1", QueuedAt: at},
		{Action: "resume", Body: map[string]any{"target": "NIMBUS"}, IdempotencyKey: "k2", QueuedAt: at.Add(time.Minute)},
	}
	for _, c := range cmds {
		if err := Push(c); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	got, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].IdempotencyKey != "k1" || got[1].Action != "resume" {
		t.Fatalf("got %+v", got)
	}
	if got[0].Body["persistent"] != true || !got[0].QueuedAt.Equal(at) {
		t.Fatalf("got body %v queued %v", got[0].Body, got[0].QueuedAt)
	}

	if err := Save(got[1:]); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, _ = Load(); len(got) != 1 || got[0].IdempotencyKey != "k2" {
		t.Fatalf("after save got %+v", got)
	}
	if err := Save(nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ = Load(); len(got) != 0 {
		t.Fatalf("after clear got %+v", got)
	}
}
