package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestAuditLogChainVerifies(t *testing.T) {
	l := NewAuditLog(nil)
	l.Append(AuditMessageDispatch, "user-1", "stage=agent")
	l.Append(AuditAgentSpawn, "agent-a", "spawned child agent-b")
	l.Append(AuditCapabilityDeny, "agent-b", "fs_write denied")

	if err := l.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	records := l.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[1].PrevHash != records[0].Hash {
		t.Fatal("record 1 not chained to record 0")
	}
}

func TestAuditLogDetectsTampering(t *testing.T) {
	l := NewAuditLog(nil)
	l.Append(AuditMessageDispatch, "user-1", "stage=agent")
	l.Append(AuditMessageDispatch, "user-2", "stage=rate_limit")

	records := l.Records()
	records[0].Detail = "stage=command"
	if err := VerifyRecords(records); err == nil {
		t.Fatal("expected tampered chain to fail verification")
	} else if !strings.Contains(err.Error(), "record 0") {
		t.Fatalf("expected failure to name record 0, got: %v", err)
	}
}

func TestAuditLogDetectsDroppedRecord(t *testing.T) {
	l := NewAuditLog(nil)
	l.Append(AuditMessageDispatch, "user-1", "a")
	l.Append(AuditMessageDispatch, "user-1", "b")
	l.Append(AuditMessageDispatch, "user-1", "c")

	records := l.Records()
	if err := VerifyRecords(append(records[:1], records[2])); err == nil {
		t.Fatal("expected chain with dropped record to fail verification")
	}
}

func TestAuditLogSinkRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	l := NewAuditLog(&buf)
	l.Append(AuditCronFire, "job-1", "fired")
	l.Append(AuditPeerHandshake, "node-2", "accepted")

	var loaded []AuditRecord
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal sink line: %v", err)
		}
		loaded = append(loaded, rec)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 sink lines, got %d", len(loaded))
	}
	if err := VerifyRecords(loaded); err != nil {
		t.Fatalf("sink-loaded chain failed verification: %v", err)
	}
}
