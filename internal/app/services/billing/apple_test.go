package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func receiptServer(t *testing.T, calls *int32, handler func(call int32, w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(calls, 1)
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode verify body: %v", err)
		}
		if body["receipt-data"] == "" {
			t.Error("receipt-data missing from request")
		}
		handler(call, w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func validResponse(expiresMS any) string {
	return fmt.Sprintf(`{
		"status": 0,
		"latest_receipt_info": [
			{"product_id": "premium.monthly", "original_transaction_id": "100001", "expires_date_ms": %v}
		]
	}`, expiresMS)
}

func TestVerifyRetriesSandboxExactlyOnceOn21007(t *testing.T) {
	var prodCalls, sandboxCalls int32
	future := time.Now().Add(48 * time.Hour).UnixMilli()

	prod := receiptServer(t, &prodCalls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status": 21007}`))
	})
	sandbox := receiptServer(t, &sandboxCalls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(validResponse(fmt.Sprintf("%q", fmt.Sprint(future)))))
	})

	client := NewAppleClient(nil, prod.URL, sandbox.URL, "shared-secret", nil)
	rcpt, err := client.Verify(context.Background(), "receipt-blob")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if got := atomic.LoadInt32(&prodCalls); got != 1 {
		t.Fatalf("production calls = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&sandboxCalls); got != 1 {
		t.Fatalf("sandbox calls = %d, want exactly 1", got)
	}
	if rcpt.Status != 0 || rcpt.Environment != "sandbox" {
		t.Fatalf("receipt = %+v", rcpt)
	}
	if rcpt.ProductID != "premium.monthly" {
		t.Fatalf("product = %q", rcpt.ProductID)
	}
	if !rcpt.ExpiresAt.Equal(time.UnixMilli(future).UTC()) {
		t.Fatalf("expires = %v", rcpt.ExpiresAt)
	}
}

func TestVerifyRetriesProductionExactlyOnceOn21008(t *testing.T) {
	var prodCalls, sandboxCalls int32
	future := time.Now().Add(48 * time.Hour).UnixMilli()

	prod := receiptServer(t, &prodCalls, func(call int32, w http.ResponseWriter, _ *http.Request) {
		if call == 1 {
			w.Write([]byte(`{"status": 21008}`))
			return
		}
		w.Write([]byte(validResponse(future)))
	})
	sandbox := receiptServer(t, &sandboxCalls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		t.Error("sandbox must not be called for 21008")
	})

	client := NewAppleClient(nil, prod.URL, sandbox.URL, "shared-secret", nil)
	rcpt, err := client.Verify(context.Background(), "receipt-blob")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if got := atomic.LoadInt32(&prodCalls); got != 2 {
		t.Fatalf("production calls = %d, want 2", got)
	}
	if got := atomic.LoadInt32(&sandboxCalls); got != 0 {
		t.Fatalf("sandbox calls = %d, want 0", got)
	}
	if rcpt.Status != 0 || rcpt.Environment != "production" {
		t.Fatalf("receipt = %+v", rcpt)
	}
}

func TestVerifyDoesNotRetryOtherStatuses(t *testing.T) {
	var prodCalls, sandboxCalls int32

	prod := receiptServer(t, &prodCalls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status": 21003}`))
	})
	sandbox := receiptServer(t, &sandboxCalls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		t.Error("sandbox must not be called")
	})

	client := NewAppleClient(nil, prod.URL, sandbox.URL, "shared-secret", nil)
	rcpt, err := client.Verify(context.Background(), "receipt-blob")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if got := atomic.LoadInt32(&prodCalls); got != 1 {
		t.Fatalf("production calls = %d, want 1", got)
	}
	if rcpt.Status != 21003 {
		t.Fatalf("status = %d", rcpt.Status)
	}
}

func TestVerifySurfacesHTTPFailures(t *testing.T) {
	var calls int32
	prod := receiptServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client := NewAppleClient(nil, prod.URL, prod.URL, "shared-secret", nil)
	if _, err := client.Verify(context.Background(), "receipt-blob"); err == nil {
		t.Fatal("expected http failure to be an error")
	}
}

func TestVerifySurfacesTransportFailures(t *testing.T) {
	var calls int32
	prod := receiptServer(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {})
	prod.Close()

	client := NewAppleClient(nil, prod.URL, prod.URL, "shared-secret", nil)
	if _, err := client.Verify(context.Background(), "receipt-blob"); err == nil {
		t.Fatal("expected transport failure to be an error")
	}
}

func TestParseReceiptPicksNewestTransaction(t *testing.T) {
	older := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	newer := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	// One entry uses a string timestamp, the other a number.
	body := fmt.Sprintf(`{
		"status": 0,
		"latest_receipt_info": [
			{"product_id": "premium.monthly", "original_transaction_id": "1", "expires_date_ms": "%d"},
			{"product_id": "premium.yearly", "original_transaction_id": "2", "expires_date_ms": %d}
		]
	}`, newer, older)

	rcpt := parseReceipt([]byte(body))
	if rcpt.Status != 0 {
		t.Fatalf("status = %d", rcpt.Status)
	}
	if rcpt.ProductID != "premium.monthly" || rcpt.OriginalTransactionID != "1" {
		t.Fatalf("picked wrong transaction: %+v", rcpt)
	}
	if !rcpt.ExpiresAt.Equal(time.UnixMilli(newer).UTC()) {
		t.Fatalf("expires = %v", rcpt.ExpiresAt)
	}
}

func TestParseReceiptWithoutTransactions(t *testing.T) {
	rcpt := parseReceipt([]byte(`{"status": 0}`))
	if !rcpt.ExpiresAt.IsZero() || rcpt.ProductID != "" {
		t.Fatalf("empty receipt parsed to %+v", rcpt)
	}
}

func TestStatusMessage(t *testing.T) {
	cases := map[int]string{
		0:     "The receipt is valid.",
		21004: "The shared secret you provided does not match the shared secret on file for your account.",
		21006: "This receipt is valid but the subscription has expired.",
		21010: "The user account cannot be found or has been deleted.",
	}
	for code, want := range cases {
		if got := StatusMessage(code); got != want {
			t.Fatalf("StatusMessage(%d) = %q, want %q", code, got, want)
		}
	}
	if got := StatusMessage(99999); got != "Unknown App Store status 99999." {
		t.Fatalf("unknown status message = %q", got)
	}
}
