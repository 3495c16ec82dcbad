package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/clinsim/virtual-patient-api/models"
)

const (
	defaultSystemInstruction = "You are an AI-simulated patient interacting with a clinician. " +
		"Your responses must follow clinical realism. Only reveal patient history if asked. " +
		"You do not give medical opinions. Wait for the clinician's questions before responding. " +
		"Never state the diagnosis."

	disclosureRule = "Only reveal symptoms, history, or findings if the clinician asks a relevant question. Do not volunteer information."

	unclearQuestionFallback = "I'm not sure I understand. Could you ask that another way?"

	closingInstruction = "The clinician has reached a management decision. Respond in character one last time, " +
		"acknowledging what happens next, and keep a natural closing tone. Do not introduce new symptoms."

	// ClosingSummary is returned with the conflict response when a
	// clinician keeps asking after the encounter has ended.
	ClosingSummary = "The session concluded with the patient being admitted for emergency care."
)

// endTriggers is matched case-insensitively against the clinician's
// question. A hit marks the current exchange as the encounter's last.
var endTriggers = []string{
	"heart attack",
	"myocardial infarction",
	"emergency care",
	"emergency",
	"admitted",
	"admit",
	"treatment",
	"ward",
}

// DetectSessionEnd reports whether the clinician's question should close
// the encounter after this round.
func DetectSessionEnd(question string) bool {
	q := strings.ToLower(question)
	for _, t := range endTriggers {
		if strings.Contains(q, t) {
			return true
		}
	}
	return false
}

// InitialPrompt returns the case's stored opener, or synthesizes one from
// the persona when the stored prompt is absent.
func InitialPrompt(c *models.Case) string {
	if strings.TrimSpace(c.InitialPrompt) != "" {
		return c.InitialPrompt
	}
	p := c.PatientPersona
	var b strings.Builder
	fmt.Fprintf(&b, "You are now interacting with a virtual patient named %s", p.Name)
	if p.Age != "" || p.Gender != "" {
		fmt.Fprintf(&b, " (%s, %s)", p.Age, strings.ToLower(p.Gender))
	}
	b.WriteString(".")
	if p.ChiefComplaint != "" {
		fmt.Fprintf(&b, " Chief complaint: %s.", p.ChiefComplaint)
	}
	b.WriteString(" Begin by asking your clinical questions.")
	return b.String()
}

// BuildPatientPrompt renders the full model-facing prompt for one
// question round: system framing, persona, clinical knowledge, disclosure
// rules, chronological history and the new question. The hidden diagnosis
// is excluded from the clinical knowledge block unconditionally.
func BuildPatientPrompt(c *models.Case, history []models.Message, question string, endAfter bool) string {
	var b strings.Builder

	sys := strings.TrimSpace(c.SystemInstruction)
	if sys == "" {
		sys = defaultSystemInstruction
	}
	b.WriteString(sys)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Virtual Patient Simulation: %s\n\n", c.CaseMetadata.Title)

	b.WriteString("PATIENT PERSONA\n")
	p := c.PatientPersona
	writeLabeled(&b, "Name", p.Name)
	writeLabeled(&b, "Age", p.Age)
	writeLabeled(&b, "Gender", p.Gender)
	writeLabeled(&b, "Occupation", p.Occupation)
	writeLabeled(&b, "Chief Complaint", p.ChiefComplaint)
	writeLabeled(&b, "Emotional Tone", p.EmotionalTone)
	writeLabeled(&b, "Background", p.BackgroundStory)
	b.WriteString("\n")

	b.WriteString("CLINICAL KNOWLEDGE (facts you may reveal when asked)\n")
	b.WriteString(FlattenDossier(&c.ClinicalDossier))
	b.WriteString("\n")

	b.WriteString("RESPONSE RULES\n")
	b.WriteString("- " + disclosureRule + "\n")
	fmt.Fprintf(&b, "- If a question is unclear, reply: %q\n", unclearQuestionFallback)
	if tone := strings.TrimSpace(p.EmotionalTone); tone != "" {
		fmt.Fprintf(&b, "- Maintain an emotional tone of: %s\n", tone)
	}
	if endAfter {
		b.WriteString("- " + closingInstruction + "\n")
	}
	b.WriteString("\n")

	if len(history) > 0 {
		b.WriteString("CONVERSATION SO FAR\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Clinician: %s\nPatient:", question)
	return b.String()
}

// FlattenDossier renders the clinical dossier as readable labeled lines,
// dropping the hidden diagnosis. It walks the document generically so new
// dossier fields show up without prompt changes.
func FlattenDossier(d *models.ClinicalDossier) string {
	raw, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	delete(doc, "hidden_diagnosis")

	var b strings.Builder
	flattenInto(&b, "", doc)
	return b.String()
}

func flattenInto(b *strings.Builder, prefix string, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			label := humanizeLabel(k)
			if prefix != "" {
				label = prefix + " - " + label
			}
			flattenInto(b, label, val[k])
		}
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		if len(parts) > 0 {
			fmt.Fprintf(b, "%s: %s\n", prefix, strings.Join(parts, ", "))
		}
	case nil:
	case string:
		if strings.TrimSpace(val) != "" {
			fmt.Fprintf(b, "%s: %s\n", prefix, val)
		}
	default:
		fmt.Fprintf(b, "%s: %v\n", prefix, val)
	}
}

func humanizeLabel(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func writeLabeled(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}
