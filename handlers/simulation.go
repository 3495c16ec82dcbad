package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/clinsim/virtual-patient-api/models"
	"github.com/clinsim/virtual-patient-api/services"
)

// GetCases lists case metadata, optionally filtered by program area and
// specialized area.
func (h *Handler) GetCases(c *fiber.Ctx) error {
	query := bson.M{}
	if v := c.Query("program_area"); v != "" {
		query["case_metadata.program_area"] = v
	}
	if v := c.Query("specialized_area"); v != "" {
		query["case_metadata.specialized_area"] = v
	}

	collection := h.collection("cases")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := options.Find().SetProjection(bson.M{"case_metadata": 1})
	cursor, err := collection.Find(ctx, query, opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot fetch cases"})
	}
	defer cursor.Close(ctx)

	var cases []models.Case
	if err = cursor.All(ctx, &cases); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot decode cases"})
	}

	list := make([]fiber.Map, 0, len(cases))
	for _, cs := range cases {
		m := cs.CaseMetadata
		list = append(list, fiber.Map{
			"case_id":          m.CaseID,
			"title":            m.Title,
			"difficulty":       m.Difficulty,
			"program_area":     m.ProgramArea,
			"specialized_area": m.SpecializedArea,
			"tags":             m.Tags,
		})
	}
	return c.JSON(list)
}

// GetCaseCategories returns the distinct program and specialized areas,
// sorted.
func (h *Handler) GetCaseCategories(c *fiber.Ctx) error {
	collection := h.collection("cases")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	programAreas, err := collection.Distinct(ctx, "case_metadata.program_area", bson.M{})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot fetch categories"})
	}
	specializedAreas, err := collection.Distinct(ctx, "case_metadata.specialized_area", bson.M{})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot fetch categories"})
	}

	return c.JSON(fiber.Map{
		"program_areas":     sortedStrings(programAreas),
		"specialized_areas": sortedStrings(specializedAreas),
	})
}

func sortedStrings(values []interface{}) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// StartSimulation creates a conversation session for a case.
func (h *Handler) StartSimulation(c *fiber.Ctx) error {
	var body struct {
		CaseID string `json:"caseId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return httpError(c, services.ValidationError("Cannot parse JSON"))
	}
	if body.CaseID == "" {
		return httpError(c, services.ValidationError("caseId is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var caseData models.Case
	err := h.collection("cases").FindOne(ctx, bson.M{"case_metadata.case_id": body.CaseID}).Decode(&caseData)
	if err != nil {
		return httpError(c, services.NotFoundError("Case not found"))
	}

	session := models.Session{
		CaseRef:        caseData.ID,
		OriginalCaseID: caseData.CaseMetadata.CaseID,
		History:        []models.Message{},
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	result, err := h.collection("sessions").InsertOne(ctx, session)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to start simulation"})
	}
	sessionID := result.InsertedID.(primitive.ObjectID).Hex()

	h.log.Info("simulation session started", "session_id", sessionID, "case_id", body.CaseID)

	return c.JSON(fiber.Map{
		"sessionId":     sessionID,
		"initialPrompt": services.InitialPrompt(&caseData),
	})
}

// sseSink writes stream events as server-sent events. Writes after the
// client disconnects are suppressed rather than raised.
type sseSink struct {
	w    *bufio.Writer
	dead bool
}

func (s *sseSink) Emit(ev services.StreamEvent) {
	if s.dead {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := s.w.WriteString("data: " + string(payload) + "\n\n"); err != nil {
		s.dead = true
		return
	}
	if err := s.w.Flush(); err != nil {
		s.dead = true
	}
}

// HandleAsk runs one question/answer round and streams the patient reply.
func (h *Handler) HandleAsk(c *fiber.Ctx) error {
	sessionID := c.Query("sessionId")
	question := c.Query("question")
	if sessionID == "" || question == "" {
		return httpError(c, services.ValidationError("sessionId and question are required"))
	}

	sessionObjectID, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return httpError(c, services.NotFoundError("Session not found"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var session models.Session
	if err := h.collection("sessions").FindOne(ctx, bson.M{"_id": sessionObjectID}).Decode(&session); err != nil {
		return httpError(c, services.NotFoundError("Session not found"))
	}
	if session.SessionEnded {
		return httpError(c, services.SessionEndedError("Simulation has ended. Please start a new session."))
	}

	var caseData models.Case
	if err := h.collection("cases").FindOne(ctx, bson.M{"case_metadata.case_id": session.OriginalCaseID}).Decode(&caseData); err != nil {
		h.log.Error("case missing for active session", "session_id", sessionID, "case_id", session.OriginalCaseID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Case data missing for session"})
	}

	clinicianMsg := models.Message{Role: models.RoleClinician, Content: question, Timestamp: time.Now()}
	_, err = h.collection("sessions").UpdateOne(ctx,
		bson.M{"_id": sessionObjectID},
		bson.M{"$push": bson.M{"history": clinicianMsg}, "$set": bson.M{"updatedAt": time.Now()}},
	)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot record question"})
	}

	endAfter := services.DetectSessionEnd(question)
	prompt := services.BuildPatientPrompt(&caseData, session.History, question, endAfter)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	log := h.log.With("session_id", sessionID)
	sessions := h.collection("sessions")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		sink := &sseSink{w: w}

		// The request context is gone once streaming starts; the model
		// call and history writes get their own deadlines.
		streamCtx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		reply, err := services.StreamPatientReply(streamCtx, h.ai, "", prompt, endAfter, sink)
		if err != nil {
			log.Error("patient reply stream failed", "error", err)
			return
		}

		dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dbCancel()

		update := bson.M{
			"$push": bson.M{"history": models.Message{Role: models.RolePatient, Content: reply, Timestamp: time.Now()}},
			"$set":  bson.M{"updatedAt": time.Now()},
		}
		if endAfter {
			update["$set"].(bson.M)["sessionEnded"] = true
		}
		if _, err := sessions.UpdateOne(dbCtx, bson.M{"_id": sessionObjectID}, update); err != nil {
			log.Error("cannot persist patient reply", "error", err)
		}
	}))
	return nil
}

// needsEvaluation reports whether ending the session requires a grading
// call. A session already ended with a stored evaluation is served
// verbatim.
func needsEvaluation(s *models.Session) bool {
	return !s.SessionEnded || s.Evaluation == ""
}

// EndSession evaluates a finished encounter. Repeat calls return the
// stored evaluation without another model call.
func (h *Handler) EndSession(c *fiber.Ctx) error {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return httpError(c, services.ValidationError("Cannot parse JSON"))
	}
	if body.SessionID == "" {
		return httpError(c, services.ValidationError("sessionId is required"))
	}

	sessionObjectID, err := primitive.ObjectIDFromHex(body.SessionID)
	if err != nil {
		return httpError(c, services.NotFoundError("Session not found"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	var session models.Session
	if err := h.collection("sessions").FindOne(ctx, bson.M{"_id": sessionObjectID}).Decode(&session); err != nil {
		return httpError(c, services.NotFoundError("Session not found"))
	}

	if !needsEvaluation(&session) {
		return c.JSON(fiber.Map{
			"sessionEnded": true,
			"evaluation":   session.Evaluation,
			"history":      session.History,
		})
	}

	var caseData models.Case
	if err := h.collection("cases").FindOne(ctx, bson.M{"case_metadata.case_id": session.OriginalCaseID}).Decode(&caseData); err != nil {
		h.log.Error("case missing for evaluation", "session_id", body.SessionID, "case_id", session.OriginalCaseID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Case data missing, cannot evaluate session"})
	}

	evaluation, err := services.Evaluate(ctx, h.ai, &caseData, session.History)
	if err != nil {
		h.log.Error("evaluation failed", "session_id", body.SessionID, "case_id", session.OriginalCaseID, "error", err)
		return httpError(c, err)
	}

	_, err = h.collection("sessions").UpdateOne(ctx,
		bson.M{"_id": sessionObjectID},
		bson.M{"$set": bson.M{"evaluation": evaluation, "sessionEnded": true, "updatedAt": time.Now()}},
	)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cannot persist evaluation"})
	}

	h.log.Info("session ended", "session_id", body.SessionID, "case_id", session.OriginalCaseID)

	return c.JSON(fiber.Map{
		"sessionEnded": true,
		"evaluation":   evaluation,
		"history":      session.History,
	})
}
