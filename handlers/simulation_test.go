package handlers

import (
	"testing"

	"github.com/clinsim/virtual-patient-api/models"
)

func TestNeedsEvaluation(t *testing.T) {
	cases := []struct {
		name    string
		session models.Session
		want    bool
	}{
		{"live session", models.Session{SessionEnded: false}, true},
		{"ended without stored evaluation", models.Session{SessionEnded: true}, true},
		{"ended with stored evaluation", models.Session{SessionEnded: true, Evaluation: "History Taking: Good."}, false},
		{"stored evaluation but not ended", models.Session{Evaluation: "History Taking: Good."}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := needsEvaluation(&tc.session); got != tc.want {
				t.Fatalf("needsEvaluation = %v, want %v", got, tc.want)
			}
		})
	}
}
