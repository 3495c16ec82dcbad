package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/clinsim/virtual-patient-api/services"
)

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("cannot read body: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("cannot decode body %q: %v", raw, err)
	}
	return out
}

func TestHTTPErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"validation", services.ValidationError("caseId is required"), fiber.StatusBadRequest, "caseId is required"},
		{"not found", services.NotFoundError("Case not found"), fiber.StatusNotFound, "Case not found"},
		{"session ended", services.SessionEndedError("Simulation has ended."), fiber.StatusForbidden, "Simulation has ended."},
		{"upstream", services.UpstreamError(io.ErrUnexpectedEOF), fiber.StatusInternalServerError, io.ErrUnexpectedEOF.Error()},
		{"precondition", services.PreconditionError("case has no evaluation criteria"), fiber.StatusInternalServerError, "case has no evaluation criteria"},
		{"untagged", io.ErrUnexpectedEOF, fiber.StatusInternalServerError, io.ErrUnexpectedEOF.Error()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return httpError(c, tc.err) })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			body := decodeBody(t, resp.Body)
			if body["error"] != tc.wantError {
				t.Fatalf("error = %q, want %q", body["error"], tc.wantError)
			}
		})
	}
}

func TestHTTPErrorSessionEndedCarriesSummary(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return httpError(c, services.SessionEndedError("Simulation has ended."))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body := decodeBody(t, resp.Body)
	if body["summary"] != services.ClosingSummary {
		t.Fatalf("summary = %q, want %q", body["summary"], services.ClosingSummary)
	}
}

func advanceTestApp() *fiber.App {
	app := fiber.New()
	app.Post("/advance", func(c *fiber.Ctx) error {
		var body struct {
			PreviousCaseID string `json:"previousCaseId"`
		}
		if err := parseOptionalJSON(c, &body); err != nil {
			return httpError(c, services.ValidationError("Cannot parse JSON"))
		}
		return c.JSON(fiber.Map{"previousCaseId": body.PreviousCaseID})
	})
	return app
}

func TestParseOptionalJSONEmptyBody(t *testing.T) {
	app := advanceTestApp()

	// No body and no content type: the advance is still valid.
	resp, err := app.Test(httptest.NewRequest("POST", "/advance", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	body := decodeBody(t, resp.Body)
	if body["previousCaseId"] != "" {
		t.Fatalf("previousCaseId = %q, want empty", body["previousCaseId"])
	}
}

func TestParseOptionalJSONWithBody(t *testing.T) {
	app := advanceTestApp()

	req := httptest.NewRequest("POST", "/advance", strings.NewReader(`{"previousCaseId":"VP-CARD-001"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	body := decodeBody(t, resp.Body)
	if body["previousCaseId"] != "VP-CARD-001" {
		t.Fatalf("previousCaseId = %q, want VP-CARD-001", body["previousCaseId"])
	}
}

func TestParseOptionalJSONMalformedBody(t *testing.T) {
	app := advanceTestApp()

	req := httptest.NewRequest("POST", "/advance", strings.NewReader(`{"previousCaseId":`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}
