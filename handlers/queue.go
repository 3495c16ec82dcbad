package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/clinsim/virtual-patient-api/models"
	"github.com/clinsim/virtual-patient-api/services"
)

func (h *Handler) userObjectID(c *fiber.Ctx) (primitive.ObjectID, error) {
	userID, _ := c.Locals("userID").(string)
	return primitive.ObjectIDFromHex(userID)
}

// caseFilterQuery translates a filter object into a catalog predicate.
// A specialized area of ""/"null"/"None" matches cases whose specialized
// area is null or empty.
func caseFilterQuery(filters map[string]any) bson.M {
	query := bson.M{}
	str := func(key string) (string, bool) {
		v, ok := filters[key]
		if !ok || v == nil {
			return "", ok
		}
		return fmt.Sprint(v), true
	}

	if v, ok := str("program_area"); ok && v != "" {
		query["case_metadata.program_area"] = v
	}
	if v, ok := str("specialized_area"); ok {
		if v == "" || v == "null" || v == "None" {
			query["case_metadata.specialized_area"] = bson.M{"$in": []any{nil, "", "None"}}
		} else {
			query["case_metadata.specialized_area"] = v
		}
	}
	if v, ok := str("difficulty"); ok && v != "" {
		query["case_metadata.difficulty"] = v
	}
	return query
}

// finishedCaseIDs returns the ids in the context already completed or
// skipped, restricted to caseIDs when non-nil.
func (h *Handler) finishedCaseIDs(ctx context.Context, userID primitive.ObjectID, contextHash string, caseIDs []string) (map[string]bool, error) {
	query := bson.M{
		"userId":            userID,
		"filterContextHash": contextHash,
		"status":            bson.M{"$in": []string{models.StatusCompleted, models.StatusSkipped}},
	}
	if caseIDs != nil {
		query["originalCaseIdString"] = bson.M{"$in": caseIDs}
	}

	cursor, err := h.collection("user_case_progress").Find(ctx, query)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	finished := map[string]bool{}
	var rows []models.UserCaseProgress
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		finished[row.OriginalCaseID] = true
	}
	return finished, nil
}

// demoteOthersFilter selects every in_progress_queue row in the context
// except the current case. Demoting everything this filter matches before
// promoting the current case keeps at most one in_progress_queue row per
// (user, context).
func demoteOthersFilter(userID primitive.ObjectID, contextHash, currentCaseID string) bson.M {
	return bson.M{
		"userId":               userID,
		"filterContextHash":    contextHash,
		"status":               models.StatusInProgressQueue,
		"originalCaseIdString": bson.M{"$ne": currentCaseID},
	}
}

func demoteOthersUpdate(now time.Time) bson.M {
	return bson.M{
		"$set":   bson.M{"status": models.StatusViewedInQueue, "lastUpdatedAt": now},
		"$unset": bson.M{"sessionId": ""},
	}
}

func promoteCurrentUpdate(userID primitive.ObjectID, contextHash, currentCaseID string, caseObjectID primitive.ObjectID, sessionID string, now time.Time) bson.M {
	return bson.M{"$set": bson.M{
		"userId":               userID,
		"caseId":               caseObjectID,
		"originalCaseIdString": currentCaseID,
		"filterContextHash":    contextHash,
		"status":               models.StatusInProgressQueue,
		"sessionId":            sessionID,
		"lastUpdatedAt":        now,
	}}
}

// promoteCurrentCase applies the demote-then-promote step: every other
// in_progress_queue row in the context becomes viewed_in_queue, then the
// current case is upserted as in_progress_queue.
func (h *Handler) promoteCurrentCase(ctx context.Context, userID primitive.ObjectID, contextHash, currentCaseID string, caseObjectID primitive.ObjectID, sessionID string) error {
	progress := h.collection("user_case_progress")
	now := time.Now()

	_, err := progress.UpdateMany(ctx,
		demoteOthersFilter(userID, contextHash, currentCaseID),
		demoteOthersUpdate(now),
	)
	if err != nil {
		return err
	}

	_, err = progress.UpdateOne(ctx,
		bson.M{"userId": userID, "originalCaseIdString": currentCaseID, "filterContextHash": contextHash},
		promoteCurrentUpdate(userID, contextHash, currentCaseID, caseObjectID, sessionID, now),
		options.Update().SetUpsert(true),
	)
	return err
}

// StartQueueSession initializes or resumes the case queue for the
// authenticated user under a filter context.
func (h *Handler) StartQueueSession(c *fiber.Ctx) error {
	userID, err := h.userObjectID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authorized"})
	}

	var body struct {
		Filters map[string]any `json:"filters"`
	}
	if err := c.BodyParser(&body); err != nil {
		return httpError(c, services.ValidationError("Cannot parse JSON"))
	}
	if body.Filters == nil {
		return httpError(c, services.ValidationError("Filters object is required"))
	}

	contextHash := services.GenerateFilterContextHash(body.Filters)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cases := h.collection("cases")
	findOpts := options.Find().
		SetProjection(bson.M{"_id": 1, "case_metadata.case_id": 1}).
		SetSort(bson.D{{Key: "case_metadata.case_id", Value: 1}})
	cursor, err := cases.Find(ctx, caseFilterQuery(body.Filters), findOpts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot fetch cases"})
	}
	var matching []models.Case
	if err := cursor.All(ctx, &matching); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot decode cases"})
	}

	if len(matching) == 0 {
		return c.JSON(fiber.Map{
			"sessionId":     nil,
			"currentCase":   nil,
			"queuePosition": -1,
			"totalInQueue":  0,
			"message":       "No cases match the selected filters.",
		})
	}

	candidateIDs := make([]string, 0, len(matching))
	caseObjectIDs := make(map[string]primitive.ObjectID, len(matching))
	for _, m := range matching {
		candidateIDs = append(candidateIDs, m.CaseMetadata.CaseID)
		caseObjectIDs[m.CaseMetadata.CaseID] = m.ID
	}

	finished, err := h.finishedCaseIDs(ctx, userID, contextHash, nil)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot fetch progress"})
	}

	progress := h.collection("user_case_progress")
	resumeID := ""
	var inProgress models.UserCaseProgress
	err = progress.FindOne(ctx, bson.M{
		"userId":            userID,
		"filterContextHash": contextHash,
		"status":            models.StatusInProgressQueue,
	}).Decode(&inProgress)
	if err == nil {
		stillAvailable := !finished[inProgress.OriginalCaseID] && caseObjectIDs[inProgress.OriginalCaseID] != primitive.NilObjectID
		if stillAvailable {
			resumeID = inProgress.OriginalCaseID
		} else {
			// Stale in-flight marker from a narrower or older filter set.
			if _, err := progress.DeleteOne(ctx, bson.M{"_id": inProgress.ID}); err != nil {
				h.log.Warn("cannot delete stale progress row", "error", err)
			}
		}
	} else if err != mongo.ErrNoDocuments {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot fetch progress"})
	}

	queue, position := services.BuildQueue(candidateIDs, finished, resumeID)

	newSessionID := uuid.NewString()
	queueSessions := h.collection("user_queue_sessions")
	// One live queue session per (user, context): replace any prior one.
	if _, err := queueSessions.DeleteOne(ctx, bson.M{"userId": userID, "filterContextHash": contextHash}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot reset queue session"})
	}
	_, err = queueSessions.InsertOne(ctx, models.UserQueueSession{
		SessionID:         newSessionID,
		UserID:            userID,
		FilterContextHash: contextHash,
		FiltersApplied:    body.Filters,
		QueuedCaseIDs:     queue,
		CurrentCaseIndex:  position,
		CreatedAt:         time.Now(),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot create queue session"})
	}

	var currentCase *models.Case
	if position >= 0 {
		currentCaseID := queue[position]
		if err := h.promoteCurrentCase(ctx, userID, contextHash, currentCaseID, caseObjectIDs[currentCaseID], newSessionID); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot update progress"})
		}
		var full models.Case
		if err := cases.FindOne(ctx, bson.M{"case_metadata.case_id": currentCaseID}).Decode(&full); err == nil {
			currentCase = &full
		}
	}

	h.log.Info("queue session started",
		"session_id", newSessionID,
		"user_id", userID.Hex(),
		"context_hash", contextHash,
		"queue_size", len(queue),
	)

	return c.JSON(fiber.Map{
		"sessionId":     newSessionID,
		"currentCase":   currentCase,
		"queuePosition": position,
		"totalInQueue":  len(queue),
	})
}

// GetNextCaseInQueue advances the queue session, optionally recording
// the outcome of the case just left.
func (h *Handler) GetNextCaseInQueue(c *fiber.Ctx) error {
	userID, err := h.userObjectID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authorized"})
	}
	sessionID := c.Params("sessionId")
	if sessionID == "" {
		return httpError(c, services.ValidationError("Session ID is required"))
	}

	// The previous-case report is optional; a body-less advance is valid.
	var body struct {
		PreviousCaseID     string `json:"previousCaseId"`
		PreviousCaseStatus string `json:"previousCaseStatus"`
	}
	if err := parseOptionalJSON(c, &body); err != nil {
		return httpError(c, services.ValidationError("Cannot parse JSON"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queueSessions := h.collection("user_queue_sessions")
	var session models.UserQueueSession
	if err := queueSessions.FindOne(ctx, bson.M{"sessionId": sessionID, "userId": userID}).Decode(&session); err != nil {
		return httpError(c, services.NotFoundError("Queue session not found or not owned by user"))
	}

	if body.PreviousCaseID != "" && body.PreviousCaseStatus != "" {
		switch body.PreviousCaseStatus {
		case models.StatusCompleted, models.StatusSkipped, models.StatusViewedInQueue:
		default:
			return httpError(c, services.ValidationError("Invalid status for previous case"))
		}

		var prevCase models.Case
		err := h.collection("cases").FindOne(ctx,
			bson.M{"case_metadata.case_id": body.PreviousCaseID},
			options.FindOne().SetProjection(bson.M{"_id": 1}),
		).Decode(&prevCase)
		if err != nil {
			h.log.Warn("previous case not found, progress not updated", "case_id", body.PreviousCaseID)
		} else {
			_, err = h.collection("user_case_progress").UpdateOne(ctx,
				bson.M{"userId": userID, "originalCaseIdString": body.PreviousCaseID, "filterContextHash": session.FilterContextHash},
				bson.M{"$set": bson.M{
					"userId":               userID,
					"caseId":               prevCase.ID,
					"originalCaseIdString": body.PreviousCaseID,
					"filterContextHash":    session.FilterContextHash,
					"status":               body.PreviousCaseStatus,
					"sessionId":            session.SessionID,
					"lastUpdatedAt":        time.Now(),
				}},
				options.Update().SetUpsert(true),
			)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot update progress"})
			}
		}
	}

	// Defensive re-check: a case may have been finished in this context
	// since the queue was built.
	finished, err := h.finishedCaseIDs(ctx, userID, session.FilterContextHash, session.QueuedCaseIDs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot fetch progress"})
	}

	nextIdx := services.NextIndex(session.QueuedCaseIDs, session.CurrentCaseIndex, finished)
	if nextIdx >= len(session.QueuedCaseIDs) {
		// Exhausted: persist the past-the-end sentinel so repeat calls
		// stay terminal.
		_, err = queueSessions.UpdateOne(ctx,
			bson.M{"sessionId": sessionID},
			bson.M{"$set": bson.M{"currentCaseIndex": len(session.QueuedCaseIDs)}},
		)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot update queue session"})
		}
		return c.JSON(fiber.Map{
			"sessionId":     session.SessionID,
			"currentCase":   nil,
			"queuePosition": -1,
			"totalInQueue":  len(session.QueuedCaseIDs),
		})
	}

	nextCaseID := session.QueuedCaseIDs[nextIdx]
	var nextCase models.Case
	if err := h.collection("cases").FindOne(ctx, bson.M{"case_metadata.case_id": nextCaseID}).Decode(&nextCase); err != nil {
		h.log.Error("queued case missing from catalog", "case_id", nextCaseID, "session_id", sessionID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Error fetching next case details"})
	}

	_, err = queueSessions.UpdateOne(ctx,
		bson.M{"sessionId": sessionID},
		bson.M{"$set": bson.M{"currentCaseIndex": nextIdx}},
	)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot update queue session"})
	}

	if err := h.promoteCurrentCase(ctx, userID, session.FilterContextHash, nextCaseID, nextCase.ID, session.SessionID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot update progress"})
	}

	return c.JSON(fiber.Map{
		"sessionId":     session.SessionID,
		"currentCase":   nextCase,
		"queuePosition": nextIdx,
		"totalInQueue":  len(session.QueuedCaseIDs),
	})
}

// MarkCaseStatus records a terminal outcome (completed or skipped) for a
// case within a filter context.
func (h *Handler) MarkCaseStatus(c *fiber.Ctx) error {
	userID, err := h.userObjectID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authorized"})
	}
	originalCaseID := c.Params("originalCaseIdString")
	if originalCaseID == "" {
		return httpError(c, services.ValidationError("Case ID is required"))
	}

	var body struct {
		Status        string         `json:"status"`
		FilterContext map[string]any `json:"filterContext"`
		SessionID     string         `json:"sessionId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return httpError(c, services.ValidationError("Cannot parse JSON"))
	}
	if body.Status != models.StatusCompleted && body.Status != models.StatusSkipped {
		return httpError(c, services.ValidationError("Invalid status. Must be \"completed\" or \"skipped\""))
	}
	if body.FilterContext == nil {
		return httpError(c, services.ValidationError("filterContext object is required"))
	}

	contextHash := services.GenerateFilterContextHash(body.FilterContext)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var caseData models.Case
	err = h.collection("cases").FindOne(ctx,
		bson.M{"case_metadata.case_id": originalCaseID},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Decode(&caseData)
	if err != nil {
		return httpError(c, services.NotFoundError("Case not found"))
	}

	set := bson.M{
		"userId":               userID,
		"caseId":               caseData.ID,
		"originalCaseIdString": originalCaseID,
		"filterContextHash":    contextHash,
		"status":               body.Status,
		"lastUpdatedAt":        time.Now(),
	}
	update := bson.M{"$set": set}
	if body.SessionID != "" {
		set["sessionId"] = body.SessionID
	} else {
		update["$unset"] = bson.M{"sessionId": ""}
	}

	var progress models.UserCaseProgress
	err = h.collection("user_case_progress").FindOneAndUpdate(ctx,
		bson.M{"userId": userID, "originalCaseIdString": originalCaseID, "filterContextHash": contextHash},
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&progress)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot update case status"})
	}

	return c.JSON(fiber.Map{
		"message":  "Case status updated to " + body.Status + " successfully.",
		"progress": progress,
	})
}
