package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kamiyn/sendgridparquetlog/internal/runstatus"
)

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func TestBroadcastPublishesTheDocumentAsJSON(t *testing.T) {
	pub := &fakePublisher{}
	b := &Broadcaster{conn: pub, subject: "runstatus.compaction"}

	doc := runstatus.Document{LockID: "lock-1", CurrentDay: "2023-11-14", CompletedDays: 2}
	if err := b.Broadcast(context.Background(), doc); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	if pub.subject != "runstatus.compaction" {
		t.Fatalf("subject = %q, want runstatus.compaction", pub.subject)
	}

	var got runstatus.Document
	if err := json.Unmarshal(pub.data, &got); err != nil {
		t.Fatalf("unmarshal published message: %v", err)
	}
	if got.LockID != doc.LockID || got.CurrentDay != doc.CurrentDay || got.CompletedDays != doc.CompletedDays {
		t.Fatalf("got %+v, want %+v", got, doc)
	}
}

func TestBroadcastReturnsThePublishError(t *testing.T) {
	wantErr := errors.New("no responders")
	pub := &fakePublisher{err: wantErr}
	b := &Broadcaster{conn: pub, subject: "runstatus.compaction"}

	if err := b.Broadcast(context.Background(), runstatus.Document{}); err == nil {
		t.Fatal("expected an error when Publish fails")
	}
}
