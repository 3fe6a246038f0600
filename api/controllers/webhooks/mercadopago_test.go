package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mpwebhook "github.com/verdeviva/verdeviva-backend/internal/webhooks/mercadopago"
	"github.com/verdeviva/verdeviva-backend/pkg/config"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

const testSecret = "whsec-test"

type stubProcessor struct {
	notification *mpwebhook.Notification
	result       *mpwebhook.Result
	err          error
}

func (s *stubProcessor) Process(_ context.Context, n mpwebhook.Notification, _ []byte) (*mpwebhook.Result, error) {
	s.notification = &n
	return s.result, s.err
}

func testMPConfig() config.MercadoPagoConfig {
	return config.MercadoPagoConfig{AccessToken: "TEST-token", WebhookSecret: testSecret}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test"})
}

func sign(requestID, dataID string) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(manifest))
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func signedRequest(body, dataID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago?data.id="+dataID, strings.NewReader(body))
	req.Header.Set("x-request-id", "req-1")
	req.Header.Set("x-signature", sign("req-1", dataID))
	return req
}

func TestMercadoPagoAcksProcessedDelivery(t *testing.T) {
	svc := &stubProcessor{result: &mpwebhook.Result{Outcome: mpwebhook.OutcomeProcessed}}
	handler := MercadoPago(svc, testMPConfig(), testLogger())

	req := signedRequest(`{"id":555,"type":"payment","data":{"id":"PAY-9"}}`, "PAY-9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	if svc.notification == nil || svc.notification.Data.ID != "PAY-9" {
		t.Fatalf("expected parsed notification forwarded, got %+v", svc.notification)
	}
}

func TestMercadoPagoDuplicateReturnsAlreadyProcessed(t *testing.T) {
	svc := &stubProcessor{result: &mpwebhook.Result{Outcome: mpwebhook.OutcomeDuplicate}}
	handler := MercadoPago(svc, testMPConfig(), testLogger())

	req := signedRequest(`{"id":555,"type":"payment","data":{"id":"PAY-9"}}`, "PAY-9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", rec.Code)
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data["status"] != "already_processed" {
		t.Fatalf("expected already_processed marker, got %v", envelope.Data)
	}
}

func TestMercadoPagoBusinessFailureStillAcks(t *testing.T) {
	svc := &stubProcessor{
		result: &mpwebhook.Result{Outcome: mpwebhook.OutcomeFailed, Reason: "activation failed"},
		err:    pkgerrors.New(pkgerrors.CodeDependency, "activation failed"),
	}
	handler := MercadoPago(svc, testMPConfig(), testLogger())

	req := signedRequest(`{"id":556,"type":"payment","data":{"id":"PAY-10"}}`, "PAY-10")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("business failure must still ack 200, got %d", rec.Code)
	}
}

func TestMercadoPagoRejectsBadSignature(t *testing.T) {
	svc := &stubProcessor{}
	handler := MercadoPago(svc, testMPConfig(), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago?data.id=PAY-9",
		strings.NewReader(`{"id":555,"type":"payment","data":{"id":"PAY-9"}}`))
	req.Header.Set("x-request-id", "req-1")
	req.Header.Set("x-signature", "ts=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for tampered signature, got %d", rec.Code)
	}
	if svc.notification != nil {
		t.Fatalf("processing must not run on a rejected signature")
	}
}

func TestMercadoPagoRejectsUnparsableBody(t *testing.T) {
	handler := MercadoPago(&stubProcessor{}, testMPConfig(), testLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", rec.Code)
	}
}

func TestMercadoPagoValidationErrorWithoutLogRowIsNotAcked(t *testing.T) {
	svc := &stubProcessor{err: pkgerrors.New(pkgerrors.CodeValidation, "invalid notification")}
	handler := MercadoPago(svc, testMPConfig(), testLogger())

	req := signedRequest(`{"id":557,"type":"payment","data":{"id":"PAY-11"}}`, "PAY-11")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when no log row was written, got %d", rec.Code)
	}
}
