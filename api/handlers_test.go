/*
handlers_test.go - HTTP-level tests through the full router

Covers:
- Obligation creation and listing
- Payments (partial, overpayment, unknown obligation)
- Summaries (zero case included)
- Back-office updates and the delete/history rule
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pharmalink/ledger-engine/store/sqlite"
)

func newTestServer(t *testing.T) http.Handler {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return NewRouter(NewHandler(store, nil), []string{"*"})
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			// Arrays decode separately where needed.
			decoded = nil
		}
	}
	return rec, decoded
}

func createTestObligation(t *testing.T, router http.Handler, userID, amount string) string {
	t.Helper()
	body := fmt.Sprintf(`{"userId":%q,"amount":%s,"invoiceNumber":"INV-1"}`, userID, amount)
	rec, resp := doJSON(t, router, http.MethodPost, "/outstanding", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create returned %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatal("Create response missing id")
	}
	return id
}

func TestCreateObligation(t *testing.T) {
	router := newTestServer(t)

	rec, resp := doJSON(t, router, http.MethodPost, "/outstanding",
		`{"userId":"retailer-1","amount":1000,"dueDate":"2026-07-01"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp["status"] != "pending" {
		t.Errorf("Expected status pending, got %v", resp["status"])
	}
	if resp["pendingAmount"].(float64) != 1000 {
		t.Errorf("Expected pendingAmount 1000, got %v", resp["pendingAmount"])
	}
	if resp["dueDate"] != "2026-07-01" {
		t.Errorf("Expected dueDate 2026-07-01, got %v", resp["dueDate"])
	}
}

func TestCreateObligation_Invalid(t *testing.T) {
	router := newTestServer(t)

	cases := []string{
		`{"amount":1000}`,                        // missing userId
		`{"userId":"r-1","amount":0}`,            // zero amount
		`{"userId":"r-1","amount":-5}`,           // negative amount
		`{"userId":"r-1","amount":10.005}`,       // sub-cent precision
		`{"userId":"r-1","amount":100,"dueDate":"July 1"}`, // bad date
	}
	for _, body := range cases {
		rec, resp := doJSON(t, router, http.MethodPost, "/outstanding", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Body %s: expected 400, got %d", body, rec.Code)
			continue
		}
		if _, ok := resp["error"]; !ok {
			t.Errorf("Body %s: expected error field, got %s", body, rec.Body.String())
		}
	}
}

func TestPay_PartialThenOverpay(t *testing.T) {
	router := newTestServer(t)
	id := createTestObligation(t, router, "retailer-1", "1000")

	rec, resp := doJSON(t, router, http.MethodPost, "/outstanding/retailer-1/pay",
		fmt.Sprintf(`{"outstandingId":%q,"amount":400}`, id))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp["status"] != "partial" {
		t.Errorf("Expected status partial, got %v", resp["status"])
	}
	if resp["pendingAmount"].(float64) != 600 {
		t.Errorf("Expected pendingAmount 600, got %v", resp["pendingAmount"])
	}

	// Overpay the remaining 600.
	rec, resp = doJSON(t, router, http.MethodPost, "/outstanding/retailer-1/pay",
		fmt.Sprintf(`{"outstandingId":%q,"amount":900}`, id))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := resp["error"]; !ok {
		t.Errorf("Expected error field, got %s", rec.Body.String())
	}
}

func TestPay_UnknownObligation(t *testing.T) {
	router := newTestServer(t)

	rec, _ := doJSON(t, router, http.MethodPost, "/outstanding/retailer-1/pay",
		`{"outstandingId":"no-such-id","amount":100}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPay_WrongRetailer(t *testing.T) {
	router := newTestServer(t)
	id := createTestObligation(t, router, "retailer-1", "1000")

	rec, _ := doJSON(t, router, http.MethodPost, "/outstanding/retailer-2/pay",
		fmt.Sprintf(`{"outstandingId":%q,"amount":100}`, id))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUserSummary_Empty(t *testing.T) {
	router := newTestServer(t)

	rec, resp := doJSON(t, router, http.MethodGet, "/outstanding/nobody/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	for _, field := range []string{"totalAmount", "totalPending", "totalCleared"} {
		v, ok := resp[field].(float64)
		if !ok || v != 0 {
			t.Errorf("Expected %s to be 0, got %v", field, resp[field])
		}
	}
	if resp["totalCount"].(float64) != 0 {
		t.Errorf("Expected totalCount 0, got %v", resp["totalCount"])
	}
}

func TestUserSummary_AfterPayments(t *testing.T) {
	router := newTestServer(t)
	id := createTestObligation(t, router, "retailer-1", "1000")
	createTestObligation(t, router, "retailer-1", "500")

	doJSON(t, router, http.MethodPost, "/outstanding/retailer-1/pay",
		fmt.Sprintf(`{"outstandingId":%q,"amount":1000}`, id))

	rec, resp := doJSON(t, router, http.MethodGet, "/outstanding/retailer-1/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if resp["totalCount"].(float64) != 2 {
		t.Errorf("Expected totalCount 2, got %v", resp["totalCount"])
	}
	if resp["clearedCount"].(float64) != 1 {
		t.Errorf("Expected clearedCount 1, got %v", resp["clearedCount"])
	}
	if resp["totalPending"].(float64) != 500 {
		t.Errorf("Expected totalPending 500, got %v", resp["totalPending"])
	}
	if resp["totalCleared"].(float64) != 1000 {
		t.Errorf("Expected totalCleared 1000, got %v", resp["totalCleared"])
	}
}

func TestListForUser(t *testing.T) {
	router := newTestServer(t)
	createTestObligation(t, router, "retailer-1", "100")
	createTestObligation(t, router, "retailer-1", "200")
	createTestObligation(t, router, "retailer-2", "300")

	req := httptest.NewRequest(http.MethodGet, "/outstanding/retailer-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var obs []ObligationDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &obs); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("Expected 2 obligations, got %d", len(obs))
	}
	for _, ob := range obs {
		if ob.UserID != "retailer-1" {
			t.Errorf("Unexpected owner %s", ob.UserID)
		}
	}
}

func TestListForUser_StatusFilter(t *testing.T) {
	router := newTestServer(t)
	id := createTestObligation(t, router, "retailer-1", "100")
	createTestObligation(t, router, "retailer-1", "200")

	doJSON(t, router, http.MethodPost, "/outstanding/retailer-1/pay",
		fmt.Sprintf(`{"outstandingId":%q,"amount":100}`, id))

	req := httptest.NewRequest(http.MethodGet, "/outstanding/retailer-1?status=cleared", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var obs []ObligationDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &obs); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if len(obs) != 1 || obs[0].ID != id {
		t.Fatalf("Expected only the cleared obligation, got %+v", obs)
	}

	req = httptest.NewRequest(http.MethodGet, "/outstanding/retailer-1?status=pending", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &obs); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if len(obs) != 1 || obs[0].ID == id {
		t.Fatalf("Expected only the pending obligation, got %+v", obs)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/outstanding/retailer-1?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad status, got %d", rec.Code)
	}
}

func TestAdminList_StatusFilter(t *testing.T) {
	router := newTestServer(t)
	id := createTestObligation(t, router, "retailer-1", "100")
	createTestObligation(t, router, "retailer-2", "200")

	doJSON(t, router, http.MethodPost, "/outstanding/retailer-1/pay",
		fmt.Sprintf(`{"outstandingId":%q,"amount":100}`, id))

	req := httptest.NewRequest(http.MethodGet, "/outstanding?status=cleared", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var obs []ObligationDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &obs); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if len(obs) != 1 || obs[0].ID != id {
		t.Fatalf("Expected only the cleared obligation, got %+v", obs)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/outstanding?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad status, got %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	router := newTestServer(t)
	id := createTestObligation(t, router, "retailer-1", "1000")

	doJSON(t, router, http.MethodPost, "/outstanding/retailer-1/pay",
		fmt.Sprintf(`{"outstandingId":%q,"amount":400,"paymentMethod":"bank_transfer"}`, id))
	doJSON(t, router, http.MethodPost, "/outstanding/retailer-1/pay",
		fmt.Sprintf(`{"outstandingId":%q,"amount":600}`, id))

	req := httptest.NewRequest(http.MethodGet, "/outstanding/"+id+"/history", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var entries []HistoryDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].Amount != 600 || entries[1].Amount != 400 {
		t.Errorf("Unexpected order: %+v", entries)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/outstanding/no-such-id/history", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown obligation, got %d", rec.Code)
	}
}

func TestUpdateObligation(t *testing.T) {
	router := newTestServer(t)
	id := createTestObligation(t, router, "retailer-1", "1000")

	rec, resp := doJSON(t, router, http.MethodPut, "/outstanding/"+id,
		`{"notes":"escalated to finance","pendingAmount":250}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp["notes"] != "escalated to finance" {
		t.Errorf("Expected updated notes, got %v", resp["notes"])
	}
	if resp["clearedAmount"].(float64) != 750 {
		t.Errorf("Expected clearedAmount 750, got %v", resp["clearedAmount"])
	}
	if resp["status"] != "partial" {
		t.Errorf("Expected status partial, got %v", resp["status"])
	}
}

func TestUpdateObligation_EmptyBody(t *testing.T) {
	router := newTestServer(t)
	id := createTestObligation(t, router, "retailer-1", "1000")

	rec, resp := doJSON(t, router, http.MethodPut, "/outstanding/"+id, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := resp["error"]; !ok {
		t.Errorf("Expected error field, got %s", rec.Body.String())
	}
}

func TestDeleteObligation(t *testing.T) {
	router := newTestServer(t)

	// Fresh obligation deletes fine.
	id := createTestObligation(t, router, "retailer-1", "100")
	rec, resp := doJSON(t, router, http.MethodDelete, "/outstanding/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp["success"] != true {
		t.Errorf("Expected success true, got %v", resp["success"])
	}

	// With history it is refused.
	id = createTestObligation(t, router, "retailer-1", "100")
	doJSON(t, router, http.MethodPost, "/outstanding/retailer-1/pay",
		fmt.Sprintf(`{"outstandingId":%q,"amount":50}`, id))

	rec, resp = doJSON(t, router, http.MethodDelete, "/outstanding/"+id, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := resp["error"]; !ok {
		t.Errorf("Expected error field, got %s", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	router := newTestServer(t)

	rec, resp := doJSON(t, router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", resp["status"])
	}
}
