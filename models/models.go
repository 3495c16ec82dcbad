package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Case interaction statuses inside one filter context. completed and
// skipped are terminal for that context.
const (
	StatusCompleted       = "completed"
	StatusSkipped         = "skipped"
	StatusInProgressQueue = "in_progress_queue"
	StatusViewedInQueue   = "viewed_in_queue"
)

// MessageRole is the closed set of speakers in a conversation history.
type MessageRole string

const (
	RoleClinician MessageRole = "Clinician"
	RolePatient   MessageRole = "Patient"
	RoleSystem    MessageRole = "System"
	RoleEvaluator MessageRole = "AI Evaluator"
)

func (r MessageRole) Valid() bool {
	switch r {
	case RoleClinician, RolePatient, RoleSystem, RoleEvaluator:
		return true
	}
	return false
}

type Message struct {
	Role      MessageRole `json:"role" bson:"role"`
	Content   string      `json:"content" bson:"content"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
}

type CaseMetadata struct {
	CaseID          string   `json:"case_id" bson:"case_id"`
	Title           string   `json:"title" bson:"title"`
	Specialty       string   `json:"specialty,omitempty" bson:"specialty,omitempty"`
	ProgramArea     string   `json:"program_area" bson:"program_area"`
	SpecializedArea string   `json:"specialized_area,omitempty" bson:"specialized_area,omitempty"`
	Difficulty      string   `json:"difficulty,omitempty" bson:"difficulty,omitempty"`
	Tags            []string `json:"tags,omitempty" bson:"tags,omitempty"`
}

type PatientPersona struct {
	Name            string `json:"name" bson:"name"`
	Age             string `json:"age" bson:"age"`
	Gender          string `json:"gender" bson:"gender"`
	Occupation      string `json:"occupation,omitempty" bson:"occupation,omitempty"`
	ChiefComplaint  string `json:"chief_complaint" bson:"chief_complaint"`
	EmotionalTone   string `json:"emotional_tone" bson:"emotional_tone"`
	BackgroundStory string `json:"background_story,omitempty" bson:"background_story,omitempty"`
}

type PresentingIllness struct {
	Onset               string   `json:"onset,omitempty" bson:"onset,omitempty"`
	Location            string   `json:"location,omitempty" bson:"location,omitempty"`
	Radiation           string   `json:"radiation,omitempty" bson:"radiation,omitempty"`
	Character           string   `json:"character,omitempty" bson:"character,omitempty"`
	Severity            string   `json:"severity,omitempty" bson:"severity,omitempty"`
	TimingAndDuration   string   `json:"timing_and_duration,omitempty" bson:"timing_and_duration,omitempty"`
	ExacerbatingFactors string   `json:"exacerbating_factors,omitempty" bson:"exacerbating_factors,omitempty"`
	RelievingFactors    string   `json:"relieving_factors,omitempty" bson:"relieving_factors,omitempty"`
	AssociatedSymptoms  []string `json:"associated_symptoms,omitempty" bson:"associated_symptoms,omitempty"`
}

type ReviewOfSystems struct {
	Comment  string   `json:"comment,omitempty" bson:"comment,omitempty"`
	Positive []string `json:"positive,omitempty" bson:"positive,omitempty"`
	Negative []string `json:"negative,omitempty" bson:"negative,omitempty"`
}

type SocialHistory struct {
	SmokingStatus   string `json:"smoking_status,omitempty" bson:"smoking_status,omitempty"`
	AlcoholUse      string `json:"alcohol_use,omitempty" bson:"alcohol_use,omitempty"`
	SubstanceUse    string `json:"substance_use,omitempty" bson:"substance_use,omitempty"`
	DietAndExercise string `json:"diet_and_exercise,omitempty" bson:"diet_and_exercise,omitempty"`
	LivingSituation string `json:"living_situation,omitempty" bson:"living_situation,omitempty"`
}

// ClinicalDossier holds the ground-truth clinical facts for a case.
// HiddenDiagnosis must never reach a patient-facing prompt; only the
// evaluator may see it.
type ClinicalDossier struct {
	Comment            string             `json:"comment,omitempty" bson:"comment,omitempty"`
	HiddenDiagnosis    string             `json:"hidden_diagnosis" bson:"hidden_diagnosis"`
	PresentingIllness  *PresentingIllness `json:"history_of_presenting_illness,omitempty" bson:"history_of_presenting_illness,omitempty"`
	ReviewOfSystems    *ReviewOfSystems   `json:"review_of_systems,omitempty" bson:"review_of_systems,omitempty"`
	PastMedicalHistory []string           `json:"past_medical_history,omitempty" bson:"past_medical_history,omitempty"`
	Medications        []string           `json:"medications,omitempty" bson:"medications,omitempty"`
	Allergies          []string           `json:"allergies,omitempty" bson:"allergies,omitempty"`
	SurgicalHistory    []string           `json:"surgical_history,omitempty" bson:"surgical_history,omitempty"`
	FamilyHistory      []string           `json:"family_history,omitempty" bson:"family_history,omitempty"`
	SocialHistory      *SocialHistory     `json:"social_history,omitempty" bson:"social_history,omitempty"`
}

type Case struct {
	ID                 primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	Version            string             `json:"version,omitempty" bson:"version,omitempty"`
	Description        string             `json:"description,omitempty" bson:"description,omitempty"`
	SystemInstruction  string             `json:"system_instruction" bson:"system_instruction"`
	CaseMetadata       CaseMetadata       `json:"case_metadata" bson:"case_metadata"`
	PatientPersona     PatientPersona     `json:"patient_persona" bson:"patient_persona"`
	InitialPrompt      string             `json:"initial_prompt,omitempty" bson:"initial_prompt,omitempty"`
	ClinicalDossier    ClinicalDossier    `json:"clinical_dossier" bson:"clinical_dossier"`
	EvaluationCriteria map[string]string  `json:"evaluation_criteria" bson:"evaluation_criteria"`
	CreatedAt          time.Time          `json:"created_at,omitempty" bson:"createdAt,omitempty"`
	UpdatedAt          time.Time          `json:"updated_at,omitempty" bson:"updatedAt,omitempty"`
}

// Session is one conversation run against a single case.
type Session struct {
	ID             primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	CaseRef        primitive.ObjectID `json:"case_ref" bson:"case_ref"`
	OriginalCaseID string             `json:"original_case_id" bson:"original_case_id"`
	History        []Message          `json:"history" bson:"history"`
	Evaluation     string             `json:"evaluation,omitempty" bson:"evaluation,omitempty"`
	SessionEnded   bool               `json:"sessionEnded" bson:"sessionEnded"`
	CreatedAt      time.Time          `json:"created_at,omitempty" bson:"createdAt,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at,omitempty" bson:"updatedAt,omitempty"`
}

// UserCaseProgress is one row per (user, case, filter context). The triple
// (UserID, OriginalCaseID, FilterContextHash) is unique.
type UserCaseProgress struct {
	ID                primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	UserID            primitive.ObjectID `json:"userId" bson:"userId"`
	CaseID            primitive.ObjectID `json:"caseId" bson:"caseId"`
	OriginalCaseID    string             `json:"originalCaseIdString" bson:"originalCaseIdString"`
	Status            string             `json:"status" bson:"status"`
	FilterContextHash string             `json:"filterContextHash" bson:"filterContextHash"`
	SessionID         string             `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	LastUpdatedAt     time.Time          `json:"lastUpdatedAt" bson:"lastUpdatedAt"`
}

// UserQueueSession is the ephemeral ordered queue for one (user, filter
// context). Documents expire 24 hours after creation via a TTL index.
type UserQueueSession struct {
	ID                primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	SessionID         string             `json:"sessionId" bson:"sessionId"`
	UserID            primitive.ObjectID `json:"userId" bson:"userId"`
	FilterContextHash string             `json:"filterContextHash" bson:"filterContextHash"`
	FiltersApplied    map[string]any     `json:"filtersApplied" bson:"filtersApplied"`
	QueuedCaseIDs     []string           `json:"queuedCaseIds" bson:"queuedCaseIds"`
	CurrentCaseIndex  int                `json:"currentCaseIndex" bson:"currentCaseIndex"`
	CreatedAt         time.Time          `json:"createdAt" bson:"createdAt"`
}

type User struct {
	ID        primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	Username  string             `json:"username" bson:"username"`
	Email     string             `json:"email" bson:"email"`
	Password  string             `json:"password,omitempty" bson:"password"`
	CreatedAt time.Time          `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updatedAt"`
}
