package calllog

import (
	"context"
	"testing"
)

func TestMemoryRecorderSaveFinishList(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()

	id, err := r.SaveCallRecord(ctx, Record{
		WorkspaceID: "ws1",
		LeadID:      "lead-9",
		CallSID:     "CA123",
		ToNumber:    "+15551234567",
		FromNumber:  "+15557654321",
	})
	if err != nil {
		t.Fatalf("SaveCallRecord() error = %v", err)
	}
	if id == "" {
		t.Fatalf("record id should not be empty")
	}

	if err := r.FinishCallRecord(ctx, "CA123", 42, "left voicemail"); err != nil {
		t.Fatalf("FinishCallRecord() error = %v", err)
	}

	recs, err := r.ListByWorkspace(ctx, "ws1", "", 10)
	if err != nil {
		t.Fatalf("ListByWorkspace() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].DurationSeconds != 42 || recs[0].Notes != "left voicemail" {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}

func TestMemoryRecorderLeadFilter(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()

	for _, lead := range []string{"lead-1", "lead-2", "lead-1"} {
		if _, err := r.SaveCallRecord(ctx, Record{WorkspaceID: "ws1", LeadID: lead, CallSID: "CA-" + lead}); err != nil {
			t.Fatalf("SaveCallRecord() error = %v", err)
		}
	}

	recs, err := r.ListByWorkspace(ctx, "ws1", "lead-1", 0)
	if err != nil {
		t.Fatalf("ListByWorkspace() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records for lead-1, want 2", len(recs))
	}
}

func TestMemoryRecorderFinishUnknownSID(t *testing.T) {
	r := NewMemoryRecorder()
	if err := r.FinishCallRecord(context.Background(), "CA-missing", 1, ""); err != ErrNotFound {
		t.Fatalf("FinishCallRecord() error = %v, want ErrNotFound", err)
	}
}
