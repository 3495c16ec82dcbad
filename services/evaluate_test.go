package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/clinsim/virtual-patient-api/models"
)

func TestBuildEvaluationPromptContainsDiagnosisAndRubric(t *testing.T) {
	c := chestPainCase()
	history := []models.Message{
		{Role: models.RoleClinician, Content: "When did the pain start?"},
		{Role: models.RolePatient, Content: "About two hours ago."},
	}

	prompt, err := BuildEvaluationPrompt(c, history)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, want := range []string{
		"Acute myocardial infarction",
		"Acute Chest Pain",
		"History Taking",
		"Elicits onset, character and radiation of the pain.",
		"When did the pain start?",
		"About two hours ago.",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildEvaluationPromptMissingDiagnosis(t *testing.T) {
	c := chestPainCase()
	c.ClinicalDossier.HiddenDiagnosis = "  "

	_, err := BuildEvaluationPrompt(c, nil)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestBuildEvaluationPromptMissingCriteria(t *testing.T) {
	c := chestPainCase()
	c.EvaluationCriteria = nil

	_, err := BuildEvaluationPrompt(c, nil)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestEvaluateReturnsModelReport(t *testing.T) {
	completer := &fakeCompleter{fullText: "History Taking: Good. The clinician reached the correct diagnosis."}

	report, err := Evaluate(context.Background(), completer, chestPainCase(), []models.Message{
		{Role: models.RoleClinician, Content: "Tell me about the pain."},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if report != completer.fullText {
		t.Fatalf("unexpected report: %q", report)
	}
	if completer.calls != 1 {
		t.Fatalf("expected one completion call, got %d", completer.calls)
	}
}

func TestEvaluateUpstreamError(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("model unavailable")}

	if _, err := Evaluate(context.Background(), completer, chestPainCase(), nil); err == nil {
		t.Fatalf("expected error")
	}
}
