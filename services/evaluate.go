package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/clinsim/virtual-patient-api/models"
)

const evaluatorSystemPrompt = "You are a clinical education evaluator reviewing a transcript of a " +
	"clinician interviewing a simulated patient. Grade strictly against the rubric you are given " +
	"and cite evidence from the transcript for every rating."

// BuildEvaluationPrompt renders the grading request: transcript, hidden
// diagnosis and rubric. This is the only prompt allowed to contain the
// hidden diagnosis. Missing rubric or diagnosis is a precondition error.
func BuildEvaluationPrompt(c *models.Case, history []models.Message) (string, error) {
	diagnosis := strings.TrimSpace(c.ClinicalDossier.HiddenDiagnosis)
	if diagnosis == "" {
		return "", PreconditionError(fmt.Sprintf("case %s has no hidden diagnosis", c.CaseMetadata.CaseID))
	}
	if len(c.EvaluationCriteria) == 0 {
		return "", PreconditionError(fmt.Sprintf("case %s has no evaluation criteria", c.CaseMetadata.CaseID))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Case: %s\n", c.CaseMetadata.Title)
	fmt.Fprintf(&b, "Correct (hidden) diagnosis: %s\n\n", diagnosis)

	b.WriteString("TRANSCRIPT\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\n")

	b.WriteString("RUBRIC\n")
	names := make([]string, 0, len(c.EvaluationCriteria))
	for name := range c.EvaluationCriteria {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, c.EvaluationCriteria[name])
	}
	b.WriteString("\n")

	b.WriteString("Rate every rubric item as Good, Needs Improvement, or Needs Significant Improvement, " +
		"each with evidence quoted or paraphrased from the transcript. " +
		"Finish with a summary stating whether the clinician reached the correct diagnosis.\n")
	return b.String(), nil
}

// Evaluate runs the post-hoc grading call for a finished session.
func Evaluate(ctx context.Context, c Completer, cs *models.Case, history []models.Message) (string, error) {
	prompt, err := BuildEvaluationPrompt(cs, history)
	if err != nil {
		return "", err
	}
	report, err := c.GenerateText(ctx, evaluatorSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	return report, nil
}
