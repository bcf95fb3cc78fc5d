package billing

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/blogmatic/blogmatic/internal/registry"
)

const testWebhookSecret = "whsec_test_secret"

func newTestRegistry(t *testing.T) *registry.AccountRegistry {
	t.Helper()
	reg, err := registry.NewAccountRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewAccountRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func createAccountWithCustomer(t *testing.T, reg *registry.AccountRegistry, email, customerID string) {
	t.Helper()
	if _, err := reg.CreateAccount(email, "hash"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := reg.SetBillingCustomerID(email, customerID); err != nil {
		t.Fatalf("SetBillingCustomerID: %v", err)
	}
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func checkoutCompletedJSON(customerID string) string {
	return fmt.Sprintf(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","mode":"subscription","customer":%q}}}`, customerID)
}

func TestWebhookGrantsSubscription(t *testing.T) {
	reg := newTestRegistry(t)
	createAccountWithCustomer(t, reg, "alice@example.com", "cus_123")
	handler := NewWebhookHandler(testWebhookSecret, reg)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutCompletedJSON("cus_123")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}

	acct, err := reg.GetAccount("alice@example.com")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !acct.Subscribed {
		t.Error("account not subscribed after verified checkout.session.completed")
	}
	if acct.FreeCredits != registry.DefaultFreeCredits {
		t.Errorf("free credits changed: %d", acct.FreeCredits)
	}
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	createAccountWithCustomer(t, reg, "alice@example.com", "cus_123")
	handler := NewWebhookHandler(testWebhookSecret, reg)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutCompletedJSON("cus_123")))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status=%d, body=%q", i, rec.Code, rec.Body.String())
		}
	}

	acct, err := reg.GetAccount("alice@example.com")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !acct.Subscribed {
		t.Error("account not subscribed")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	reg := newTestRegistry(t)
	createAccountWithCustomer(t, reg, "alice@example.com", "cus_123")
	handler := NewWebhookHandler(testWebhookSecret, reg)

	// Signed with the wrong secret: must be rejected and must not touch
	// the ledger, regardless of the claimed content.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, "whsec_wrong", checkoutCompletedJSON("cus_123")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusBadRequest)
	}

	acct, err := reg.GetAccount("alice@example.com")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Subscribed {
		t.Error("unverified event granted a subscription")
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	reg := newTestRegistry(t)
	handler := NewWebhookHandler(testWebhookSecret, reg)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewBufferString(checkoutCompletedJSON("cus_123")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebhookIgnoresUnknownEventKind(t *testing.T) {
	reg := newTestRegistry(t)
	createAccountWithCustomer(t, reg, "alice@example.com", "cus_123")
	handler := NewWebhookHandler(testWebhookSecret, reg)

	payload := `{"id":"evt_2","object":"event","type":"invoice.finalized","data":{"object":{"id":"in_1","customer":"cus_123"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))

	// Unknown kinds are acknowledged so the provider stops retrying.
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusOK)
	}

	acct, err := reg.GetAccount("alice@example.com")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Subscribed {
		t.Error("unhandled event kind mutated subscription state")
	}
}

func TestWebhookIgnoresUnknownCustomer(t *testing.T) {
	reg := newTestRegistry(t)
	handler := NewWebhookHandler(testWebhookSecret, reg)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutCompletedJSON("cus_never_issued")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestWebhookIgnoresNonSubscriptionCheckout(t *testing.T) {
	reg := newTestRegistry(t)
	createAccountWithCustomer(t, reg, "alice@example.com", "cus_123")
	handler := NewWebhookHandler(testWebhookSecret, reg)

	payload := `{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_2","mode":"payment","customer":"cus_123"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusOK)
	}

	acct, err := reg.GetAccount("alice@example.com")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Subscribed {
		t.Error("one-off payment checkout granted a subscription")
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	handler := NewWebhookHandler(testWebhookSecret, newTestRegistry(t))

	req := httptest.NewRequest(http.MethodGet, "/api/stripe/webhook", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestWebhookUnconfiguredSecret(t *testing.T) {
	handler := NewWebhookHandler("", newTestRegistry(t))

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusServiceUnavailable)
	}
}
