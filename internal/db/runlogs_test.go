package db

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/marcus/syncbridge/internal/models"
)

func testRunLog(t *testing.T, db *DB, syncID string) *models.RunLog {
	t.Helper()
	now := time.Now().UTC()
	rl := &models.RunLog{
		SynchronizationID: syncID,
		Created:           now,
		Expires:           now.Add(24 * time.Hour),
	}
	if err := db.CreateRunLog(rl); err != nil {
		t.Fatalf("create run log: %v", err)
	}
	return rl
}

func TestRunLogLifecycle(t *testing.T) {
	db := newTestDB(t)
	testSync(t, db, "crm")
	rl := testRunLog(t, db, "crm")

	if rl.UUID == "" || rl.ID == 0 {
		t.Fatalf("identity not assigned: %+v", rl)
	}

	result := map[string]any{"created": 3, "failed": 1}
	if err := db.AttachRunResult(rl.ID, result); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetRunLog(rl.ID)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(got.Result, &back); err != nil {
		t.Fatalf("stored result not json: %v", err)
	}
	if back["created"] != float64(3) {
		t.Errorf("result round trip: %v", back)
	}
}

func TestCreateRunLogRequiresExpiry(t *testing.T) {
	db := newTestDB(t)
	testSync(t, db, "crm")
	err := db.CreateRunLog(&models.RunLog{SynchronizationID: "crm"})
	if err == nil {
		t.Fatal("expected error for missing expiry")
	}
}

func TestAddContractLogTruncatesOversizedSnapshots(t *testing.T) {
	db := newTestDB(t)
	testSync(t, db, "crm")
	rl := testRunLog(t, db, "crm")
	now := time.Now().UTC()

	huge, _ := json.Marshal(map[string]string{"blob": string(bytes.Repeat([]byte("x"), maxContractLogBytes))})
	cl := &models.ContractLog{
		ContractUUID: "c-uuid",
		RunID:        rl.ID,
		Source:       huge,
		Target:       json.RawMessage(`{"ok":true}`),
		TargetResult: "create",
		Created:      now,
		Expires:      now.Add(24 * time.Hour),
	}
	if err := db.AddContractLog(cl); err != nil {
		t.Fatal(err)
	}

	logs, err := db.ListContractLogs(rl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d logs", len(logs))
	}
	var marker map[string]any
	if err := json.Unmarshal(logs[0].Source, &marker); err != nil {
		t.Fatalf("truncation marker not json: %v", err)
	}
	if marker["truncated"] != true {
		t.Errorf("oversized source not truncated: %v", marker)
	}
	if string(logs[0].Target) != `{"ok":true}` {
		t.Errorf("small target mangled: %s", logs[0].Target)
	}
}

func TestDeleteExpired(t *testing.T) {
	db := newTestDB(t)
	testSync(t, db, "crm")
	sub := testSubscription(t, db, "audit", models.StylePush)
	now := time.Now().UTC()

	// One expired set, one live set.
	old := &models.RunLog{SynchronizationID: "crm", Created: now.Add(-48 * time.Hour), Expires: now.Add(-time.Hour)}
	if err := db.CreateRunLog(old); err != nil {
		t.Fatal(err)
	}
	oldCL := &models.ContractLog{RunID: old.ID, TargetResult: "create", Created: old.Created, Expires: old.Expires}
	if err := db.AddContractLog(oldCL); err != nil {
		t.Fatal(err)
	}
	oldMsg := &models.EventMessage{SubscriptionID: sub.ID, Action: "create", Payload: []byte(`{}`), Expires: now.Add(-time.Hour)}
	if err := db.InsertMessage(oldMsg); err != nil {
		t.Fatal(err)
	}

	live := testRunLog(t, db, "crm")
	testMessage(t, db, sub.ID)

	res, err := db.DeleteExpired(now)
	if err != nil {
		t.Fatal(err)
	}
	if res.RunLogs != 1 || res.ContractLogs != 1 || res.Messages != 1 {
		t.Errorf("unexpected removal counts: %+v", res)
	}
	if _, err := db.GetRunLog(live.ID); err != nil {
		t.Error("live run log removed")
	}
	if _, err := db.GetRunLog(old.ID); err == nil {
		t.Error("expired run log survived")
	}
}
