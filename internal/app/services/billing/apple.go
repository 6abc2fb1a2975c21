package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stride-app/backend/internal/app/domain/billing"
	"github.com/stride-app/backend/internal/app/metrics"
	"github.com/stride-app/backend/pkg/logger"
)

// Apple's verifyReceipt status codes.
const (
	statusValid               = 0
	statusSandboxOnProd       = 21007
	statusProductionOnSandbox = 21008
)

var appleStatusMessages = map[int]string{
	0:     "The receipt is valid.",
	21000: "The request to the App Store was not made using the HTTP POST request method.",
	21001: "This status code is no longer sent by the App Store.",
	21002: "The data in the receipt-data property was malformed or missing.",
	21003: "The receipt could not be authenticated.",
	21004: "The shared secret you provided does not match the shared secret on file for your account.",
	21005: "The receipt server was temporarily unable to provide the receipt.",
	21006: "This receipt is valid but the subscription has expired.",
	21007: "This receipt is from the test environment, but it was sent to the production environment for verification.",
	21008: "This receipt is from the production environment, but it was sent to the test environment for verification.",
	21009: "Internal data access error. Try again later.",
	21010: "The user account cannot be found or has been deleted.",
}

// StatusMessage translates an App Store status code into its documented
// description.
func StatusMessage(code int) string {
	if msg, ok := appleStatusMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown App Store status %d.", code)
}

// Receipt is the distilled result of a verifyReceipt call.
type Receipt struct {
	Status                int
	Environment           string
	ProductID             string
	OriginalTransactionID string
	ExpiresAt             time.Time
}

// ReceiptVerifier verifies an App Store receipt. Transport failures are
// returned as errors; App Store rejections come back inside the Receipt.
type ReceiptVerifier interface {
	Verify(ctx context.Context, receiptData string) (Receipt, error)
}

// AppleClient talks to the App Store verifyReceipt endpoints. Receipts go to
// production first; a 21007 answer is retried once against the sandbox and a
// 21008 once against production, as Apple prescribes.
type AppleClient struct {
	productionURL string
	sandboxURL    string
	sharedSecret  string
	httpClient    *http.Client
	log           *logger.Logger
}

var _ ReceiptVerifier = (*AppleClient)(nil)

// NewAppleClient constructs a verifyReceipt client.
func NewAppleClient(httpClient *http.Client, productionURL, sandboxURL, sharedSecret string, log *logger.Logger) *AppleClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("billing-apple")
	}
	return &AppleClient{
		productionURL: productionURL,
		sandboxURL:    sandboxURL,
		sharedSecret:  sharedSecret,
		httpClient:    httpClient,
		log:           log,
	}
}

// Verify posts the receipt for verification, following the environment
// redirect statuses with exactly one extra call.
func (c *AppleClient) Verify(ctx context.Context, receiptData string) (Receipt, error) {
	rcpt, err := c.post(ctx, c.productionURL, receiptData)
	if err != nil {
		return Receipt{}, err
	}
	rcpt.Environment = billing.EnvironmentProduction

	switch rcpt.Status {
	case statusSandboxOnProd:
		c.log.Debug("receipt belongs to the sandbox, retrying there")
		rcpt, err = c.post(ctx, c.sandboxURL, receiptData)
		if err != nil {
			return Receipt{}, err
		}
		rcpt.Environment = billing.EnvironmentSandbox
	case statusProductionOnSandbox:
		c.log.Debug("receipt belongs to production, retrying there")
		rcpt, err = c.post(ctx, c.productionURL, receiptData)
		if err != nil {
			return Receipt{}, err
		}
		rcpt.Environment = billing.EnvironmentProduction
	}

	metrics.RecordReceiptVerification(rcpt.Environment, rcpt.Status)
	return rcpt, nil
}

func (c *AppleClient) post(ctx context.Context, url, receiptData string) (Receipt, error) {
	body, err := json.Marshal(map[string]string{
		"receipt-data": receiptData,
		"password":     c.sharedSecret,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal receipt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create receipt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("verify receipt: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, fmt.Errorf("read receipt response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Receipt{}, fmt.Errorf("app store returned http %d", resp.StatusCode)
	}

	return parseReceipt(respBody), nil
}

// parseReceipt extracts the status and the newest transaction. The
// expires_date_ms field arrives as a string in some responses and a number in
// others; both parse.
func parseReceipt(body []byte) Receipt {
	rcpt := Receipt{Status: int(gjson.GetBytes(body, "status").Int())}

	var newest gjson.Result
	var newestMS int64
	gjson.GetBytes(body, "latest_receipt_info").ForEach(func(_, entry gjson.Result) bool {
		ms := entry.Get("expires_date_ms").Int()
		if ms >= newestMS {
			newestMS = ms
			newest = entry
		}
		return true
	})

	if newestMS > 0 {
		rcpt.ExpiresAt = time.UnixMilli(newestMS).UTC()
		rcpt.ProductID = newest.Get("product_id").String()
		rcpt.OriginalTransactionID = newest.Get("original_transaction_id").String()
	}
	return rcpt
}
