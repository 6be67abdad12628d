package e2e

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestBatchStart_Success(t *testing.T) {
	ta := setupApp(t)
	_, ids := ta.seedDocument(t, "PREPROCESSED", "Hello.", "World.", "  ")

	body := fmt.Sprintf(`{
		"batchId": "b-e2e-1",
		"itemIds": ["%s"],
		"options": {"sourceLanguage": "en", "targetLanguage": "fr"}
	}`, strings.Join(ids, `","`))

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/batches/pretranslate/start", body)
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["batchId"] != "b-e2e-1" {
		t.Errorf("expected batchId 'b-e2e-1', got %v", result["batchId"])
	}
	// the blank unit is not eligible
	if result["total"] != float64(2) {
		t.Errorf("expected total 2, got %v", result["total"])
	}
	if n := ta.queue.count(); n != 2 {
		t.Errorf("expected 2 queued tasks, got %d", n)
	}

	resp = ta.doAuthRequest(t, http.MethodGet, "/api/batches/pretranslate/progress?batchId=b-e2e-1", "")
	assertStatus(t, resp, http.StatusOK)
	progress := parseJSON(t, resp)
	if progress["total"] != float64(2) || progress["done"] != float64(0) {
		t.Errorf("unexpected progress %v", progress)
	}
}

func TestBatchStart_UnknownPhase(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/batches/translate/start", `{"itemIds": ["a"]}`)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestBatchStart_InvalidBody(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"missing items", `{}`},
		{"empty items", `{"itemIds": []}`},
		{"malformed json", `{"itemIds": [`},
		{"batch id too long", fmt.Sprintf(`{"batchId": "%s", "itemIds": ["a"]}`, strings.Repeat("x", 129))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ta := setupApp(t)
			resp := ta.doAuthRequest(t, http.MethodPost, "/api/batches/qa/start", tc.body)
			assertStatus(t, resp, http.StatusBadRequest)
		})
	}
}

func TestBatchCancel_ThenProgress(t *testing.T) {
	ta := setupApp(t)
	_, ids := ta.seedDocument(t, "PREPROCESSED", "Hello.")

	body := fmt.Sprintf(`{"batchId": "b-cancel", "itemIds": ["%s"]}`, ids[0])
	resp := ta.doAuthRequest(t, http.MethodPost, "/api/batches/qa/start", body)
	assertStatus(t, resp, http.StatusAccepted)

	resp = ta.doAuthRequest(t, http.MethodPost, "/api/batches/qa/cancel", `{"batchId": "b-cancel"}`)
	assertStatus(t, resp, http.StatusOK)

	resp = ta.doAuthRequest(t, http.MethodGet, "/api/batches/qa/progress?batchId=b-cancel", "")
	assertStatus(t, resp, http.StatusOK)
	if result := parseJSON(t, resp); result["canceled"] != true {
		t.Errorf("expected canceled batch, got %v", result)
	}
}

func TestBatchProgress_MissingBatchID(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodGet, "/api/batches/postedit/progress", "")
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestBatchStart_LiveBatchIDConflict(t *testing.T) {
	ta := setupApp(t)
	_, ids := ta.seedDocument(t, "PREPROCESSED", "Hello.")
	body := fmt.Sprintf(`{"batchId": "b-twice", "itemIds": ["%s"]}`, ids[0])

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/batches/qa/start", body)
	assertStatus(t, resp, http.StatusAccepted)

	resp = ta.doAuthRequest(t, http.MethodPost, "/api/batches/qa/start", body)
	assertStatus(t, resp, http.StatusConflict)
	if code := errorCode(t, resp); code != "CONFLICT" {
		t.Errorf("expected CONFLICT, got %s", code)
	}
}
