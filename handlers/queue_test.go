package handlers

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/clinsim/virtual-patient-api/models"
)

func TestDemoteOthersFilterTargetsOnlyOtherInProgressRows(t *testing.T) {
	userID := primitive.NewObjectID()
	filter := demoteOthersFilter(userID, "hash-1", "VP-2")

	if filter["userId"] != userID {
		t.Fatalf("filter userId = %v, want %v", filter["userId"], userID)
	}
	if filter["filterContextHash"] != "hash-1" {
		t.Fatalf("filter context = %v, want hash-1", filter["filterContextHash"])
	}
	if filter["status"] != models.StatusInProgressQueue {
		t.Fatalf("filter status = %v, want %s", filter["status"], models.StatusInProgressQueue)
	}
	ne, ok := filter["originalCaseIdString"].(bson.M)
	if !ok || ne["$ne"] != "VP-2" {
		t.Fatalf("filter must exclude the current case, got %v", filter["originalCaseIdString"])
	}
}

func TestDemoteOthersUpdateClearsSessionLink(t *testing.T) {
	update := demoteOthersUpdate(time.Now())

	set, ok := update["$set"].(bson.M)
	if !ok || set["status"] != models.StatusViewedInQueue {
		t.Fatalf("demoted rows must become %s, got %v", models.StatusViewedInQueue, update["$set"])
	}
	unset, ok := update["$unset"].(bson.M)
	if !ok {
		t.Fatalf("demote must unset the session link, got %v", update)
	}
	if _, ok := unset["sessionId"]; !ok {
		t.Fatalf("demote must unset sessionId, got %v", unset)
	}
}

func TestPromoteCurrentUpdateSetsInProgress(t *testing.T) {
	userID := primitive.NewObjectID()
	caseOID := primitive.NewObjectID()
	update := promoteCurrentUpdate(userID, "hash-1", "VP-2", caseOID, "session-a", time.Now())

	set, ok := update["$set"].(bson.M)
	if !ok {
		t.Fatalf("promote must be a $set update, got %v", update)
	}
	if set["status"] != models.StatusInProgressQueue {
		t.Fatalf("promoted status = %v, want %s", set["status"], models.StatusInProgressQueue)
	}
	if set["sessionId"] != "session-a" {
		t.Fatalf("promoted sessionId = %v, want session-a", set["sessionId"])
	}
	if set["originalCaseIdString"] != "VP-2" || set["caseId"] != caseOID {
		t.Fatalf("promote must target the current case, got %v", set)
	}
}

// Replays demote-then-promote against in-memory rows: after both steps
// exactly one row per (user, context) is in_progress_queue.
func TestDemoteThenPromoteLeavesSingleInProgressRow(t *testing.T) {
	userID := primitive.NewObjectID()
	const contextHash = "hash-1"
	rows := []models.UserCaseProgress{
		{UserID: userID, OriginalCaseID: "VP-1", FilterContextHash: contextHash, Status: models.StatusInProgressQueue, SessionID: "old"},
		{UserID: userID, OriginalCaseID: "VP-2", FilterContextHash: contextHash, Status: models.StatusViewedInQueue},
		{UserID: userID, OriginalCaseID: "VP-3", FilterContextHash: contextHash, Status: models.StatusCompleted},
		{UserID: userID, OriginalCaseID: "VP-1", FilterContextHash: "other-context", Status: models.StatusInProgressQueue},
	}

	filter := demoteOthersFilter(userID, contextHash, "VP-2")
	ne := filter["originalCaseIdString"].(bson.M)["$ne"].(string)
	for i := range rows {
		r := &rows[i]
		if r.UserID == filter["userId"] &&
			r.FilterContextHash == filter["filterContextHash"] &&
			r.Status == filter["status"] &&
			r.OriginalCaseID != ne {
			r.Status = models.StatusViewedInQueue
			r.SessionID = ""
		}
	}

	set := promoteCurrentUpdate(userID, contextHash, "VP-2", primitive.NewObjectID(), "session-a", time.Now())["$set"].(bson.M)
	for i := range rows {
		r := &rows[i]
		if r.UserID == userID && r.OriginalCaseID == "VP-2" && r.FilterContextHash == contextHash {
			r.Status = set["status"].(string)
			r.SessionID = set["sessionId"].(string)
		}
	}

	inProgress := 0
	for _, r := range rows {
		if r.FilterContextHash == contextHash && r.Status == models.StatusInProgressQueue {
			inProgress++
			if r.OriginalCaseID != "VP-2" {
				t.Fatalf("wrong case left in progress: %s", r.OriginalCaseID)
			}
			if r.SessionID != "session-a" {
				t.Fatalf("in-progress row sessionId = %q, want session-a", r.SessionID)
			}
		}
	}
	if inProgress != 1 {
		t.Fatalf("in_progress_queue rows in context = %d, want 1", inProgress)
	}
	if rows[2].Status != models.StatusCompleted {
		t.Fatalf("completed row must not be demoted, got %s", rows[2].Status)
	}
	if rows[3].Status != models.StatusInProgressQueue {
		t.Fatalf("other-context row must be untouched, got %s", rows[3].Status)
	}
}
