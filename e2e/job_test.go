package e2e

import (
	"net/http"
	"testing"
)

func TestJobCancel(t *testing.T) {
	ta := setupApp(t)
	ta.jobs.Start("job-1")

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/jobs/job-1/cancel", "")
	assertStatus(t, resp, http.StatusOK)
	if result := parseJSON(t, resp); result["known"] != true || result["canceled"] != true {
		t.Errorf("unexpected cancel result %v", result)
	}
	if !ta.jobs.IsCanceled("job-1") {
		t.Error("expected job-1 canceled in registry")
	}

	resp = ta.doAuthRequest(t, http.MethodGet, "/api/jobs/job-1", "")
	assertStatus(t, resp, http.StatusOK)
	if result := parseJSON(t, resp); result["canceled"] != true {
		t.Errorf("expected canceled status, got %v", result)
	}
}

func TestJobCancel_Unknown(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/jobs/nope/cancel", "")
	assertStatus(t, resp, http.StatusOK)
	if result := parseJSON(t, resp); result["known"] != false {
		t.Errorf("expected unknown job, got %v", result)
	}
}

func TestUploadURL_StorageDisabled(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/uploads/url", `{"fileName": "a.docx", "contentType": "application/octet-stream"}`)
	assertStatus(t, resp, http.StatusServiceUnavailable)
}

func TestAgentStages(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodGet, "/api/agents", "")
	assertStatus(t, resp, http.StatusOK)
	stages, _ := parseJSON(t, resp)["stages"].([]interface{})
	if len(stages) != 9 {
		t.Errorf("expected 9 stages, got %d", len(stages))
	}
}

func TestAgentRun_UnknownStage(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/agents/nope", `{"source": "Hello."}`)
	assertStatus(t, resp, http.StatusBadRequest)
}
