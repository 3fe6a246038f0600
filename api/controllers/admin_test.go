package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/verdeviva/verdeviva-backend/internal/integrity"
	"github.com/verdeviva/verdeviva-backend/internal/reconciler"
	"github.com/verdeviva/verdeviva-backend/internal/reporting"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
)

type stubReconcileService struct {
	req    *reconciler.Request
	result *reconciler.Result
	err    error
}

func (s *stubReconcileService) Reconcile(_ context.Context, req reconciler.Request) (*reconciler.Result, error) {
	s.req = &req
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &reconciler.Result{Outcome: reconciler.OutcomeNotFound, Reason: "no match"}, nil
}

type stubIntegrityChecker struct {
	single *integrity.CheckResult
	batch  *integrity.BatchResult
}

func (s *stubIntegrityChecker) CheckUser(_ context.Context, userID uuid.UUID) (*integrity.CheckResult, error) {
	if s.single != nil {
		return s.single, nil
	}
	return &integrity.CheckResult{UserID: userID, Score: 100, Status: enums.IntegrityStatusHealthy}, nil
}

func (s *stubIntegrityChecker) CheckBatch(_ context.Context, userIDs []uuid.UUID) (*integrity.BatchResult, error) {
	if s.batch != nil {
		return s.batch, nil
	}
	return &integrity.BatchResult{Summary: integrity.BatchSummary{Total: len(userIDs)}}, nil
}

type stubReportService struct {
	window time.Duration
}

func (s *stubReportService) SubscriptionsReport(_ context.Context, window time.Duration) (*reporting.SubscriptionReport, error) {
	s.window = window
	return &reporting.SubscriptionReport{GeneratedAt: time.Now().UTC()}, nil
}

func TestAdminReconcileForwardsIdentifiers(t *testing.T) {
	svc := &stubReconcileService{}
	handler := AdminReconcile(svc, testLogger())

	subID := uuid.NewString()
	body := `{"subscription_id":"` + subID + `","external_reference":"SUB-x","force":true,"reason":"ops ticket 4412"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/reconcile", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	if svc.req == nil {
		t.Fatalf("expected reconcile call")
	}
	if svc.req.SubscriptionID.String() != subID {
		t.Fatalf("expected subscription id forwarded, got %s", svc.req.SubscriptionID)
	}
	if !svc.req.Force || svc.req.Reason != "ops ticket 4412" {
		t.Fatalf("expected force and reason forwarded, got %+v", svc.req)
	}
}

func TestAdminReconcileRejectsMalformedSubscriptionID(t *testing.T) {
	handler := AdminReconcile(&stubReconcileService{}, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/reconcile", strings.NewReader(`{"subscription_id":"nope"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad uuid, got %d", rec.Code)
	}
}

func TestAdminIntegrityCheckSingleUser(t *testing.T) {
	handler := AdminIntegrityCheck(&stubIntegrityChecker{}, testLogger())
	body := `{"user_id":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/integrity/check", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Data struct {
			Score  int    `json:"score"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Score != 100 || envelope.Data.Status != "healthy" {
		t.Fatalf("unexpected report payload: %+v", envelope.Data)
	}
}

func TestAdminIntegrityCheckBatch(t *testing.T) {
	handler := AdminIntegrityCheck(&stubIntegrityChecker{}, testLogger())
	body := `{"user_ids":["` + uuid.NewString() + `","` + uuid.NewString() + `"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/integrity/check", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Data struct {
			Summary struct {
				Total int `json:"total"`
			} `json:"summary"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Summary.Total != 2 {
		t.Fatalf("expected batch of 2, got %d", envelope.Data.Summary.Total)
	}
}

func TestAdminIntegrityCheckRequiresTarget(t *testing.T) {
	handler := AdminIntegrityCheck(&stubIntegrityChecker{}, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/integrity/check", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without targets, got %d", rec.Code)
	}
}

func TestAdminSubscriptionsReportAppliesWindow(t *testing.T) {
	svc := &stubReportService{}
	handler := AdminSubscriptionsReport(svc, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/reports/subscriptions?window_days=7", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.window != 7*24*time.Hour {
		t.Fatalf("expected 7 day window, got %s", svc.window)
	}
}

func TestAdminSubscriptionsReportRejectsBadWindow(t *testing.T) {
	handler := AdminSubscriptionsReport(&stubReportService{}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/reports/subscriptions?window_days=4000", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range window, got %d", rec.Code)
	}
}
