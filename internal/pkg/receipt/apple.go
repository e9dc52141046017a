package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aviary-app/entitlement-service/internal/pkg/env"
)

const (
	defaultAppleVerifyURL        = "https://buy.itunes.apple.com/verifyReceipt"
	defaultAppleSandboxVerifyURL = "https://sandbox.itunes.apple.com/verifyReceipt"

	// Apple status codes signalling the receipt was sent to the wrong
	// environment (21007: sandbox receipt to production, 21008: vice versa).
	appleStatusSandboxReceipt    = 21007
	appleStatusProductionReceipt = 21008
)

// AppleClient validates App Store receipts against Apple's verifyReceipt
// endpoint. The primary URL is chosen by deployment environment; receipts
// from the opposite environment are retried against the other URL.
type AppleClient struct {
	VerifyURL    string
	SandboxURL   string
	SharedSecret string

	HTTPClient *http.Client
}

// NewAppleClientFromEnv builds an Apple client from environment config.
// In dev deployments the sandbox endpoint becomes the primary.
func NewAppleClientFromEnv() *AppleClient {
	verifyURL := strings.TrimSpace(env.GetEnv("APPLE_VERIFY_URL", defaultAppleVerifyURL))
	sandboxURL := strings.TrimSpace(env.GetEnv("APPLE_SANDBOX_VERIFY_URL", defaultAppleSandboxVerifyURL))
	if env.IsDev() {
		verifyURL, sandboxURL = sandboxURL, verifyURL
	}

	return &AppleClient{
		VerifyURL:    verifyURL,
		SandboxURL:   sandboxURL,
		SharedSecret: strings.TrimSpace(env.GetEnv("APPLE_SHARED_SECRET", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type appleVerifyRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions"`
}

type appleInAppEntry struct {
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
	PurchaseDate  string `json:"purchase_date_ms"`
	ExpiresDate   string `json:"expires_date_ms"`
	IsTrialPeriod string `json:"is_trial_period"`
}

type appleVerifyResponse struct {
	Status  int `json:"status"`
	Receipt struct {
		InApp []appleInAppEntry `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo []appleInAppEntry `json:"latest_receipt_info"`
}

// VerifyReceipt posts the receipt blob to Apple and extracts the transaction
// matching the expected product id. All failures degrade to an invalid
// outcome; entitlement is granted only on an explicit positive validation.
func (c *AppleClient) VerifyReceipt(ctx context.Context, receiptData, productID string) Outcome {
	if strings.TrimSpace(receiptData) == "" || strings.TrimSpace(productID) == "" {
		return Invalid()
	}

	resp, err := c.sendVerifyRequest(ctx, c.VerifyURL, receiptData)
	if err != nil {
		log.Printf("apple receipt verification failed: %v", err)
		return Invalid()
	}

	// Wrong environment: retry once against the other endpoint.
	if resp.Status == appleStatusSandboxReceipt || resp.Status == appleStatusProductionReceipt {
		resp, err = c.sendVerifyRequest(ctx, c.SandboxURL, receiptData)
		if err != nil {
			log.Printf("apple receipt verification failed (fallback): %v", err)
			return Invalid()
		}
	}

	if resp.Status != 0 {
		log.Printf("apple receipt rejected: status=%d", resp.Status)
		return Invalid()
	}

	entry := findAppleTransaction(resp, productID)
	if entry == nil {
		log.Printf("apple receipt valid but product %q not present", productID)
		return Invalid()
	}

	purchase, ok := parseMillis(entry.PurchaseDate)
	if !ok {
		log.Printf("apple receipt missing purchase date for product %q", productID)
		return Invalid()
	}

	out := Outcome{
		Valid:         true,
		TransactionID: entry.TransactionID,
		ProductID:     entry.ProductID,
		PurchaseDate:  purchase,
		IsTrial:       strings.EqualFold(entry.IsTrialPeriod, "true"),
	}
	if exp, ok := parseMillis(entry.ExpiresDate); ok {
		out.ExpirationDate = &exp
	}
	return out
}

func (c *AppleClient) sendVerifyRequest(ctx context.Context, url, receiptData string) (*appleVerifyResponse, error) {
	payload, err := json.Marshal(appleVerifyRequest{
		ReceiptData:            receiptData,
		Password:               c.SharedSecret,
		ExcludeOldTransactions: true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{status: resp.StatusCode}
	}

	var out appleVerifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// findAppleTransaction prefers the in-app purchase list and falls back to
// latest_receipt_info, which some receipt variants populate instead.
func findAppleTransaction(resp *appleVerifyResponse, productID string) *appleInAppEntry {
	for i := range resp.Receipt.InApp {
		if resp.Receipt.InApp[i].ProductID == productID {
			return &resp.Receipt.InApp[i]
		}
	}
	for i := range resp.LatestReceiptInfo {
		if resp.LatestReceiptInfo[i].ProductID == productID {
			return &resp.LatestReceiptInfo[i]
		}
	}
	return nil
}

func parseMillis(ms string) (time.Time, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(ms), 10, 64)
	if err != nil || v <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(v).UTC(), true
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return "unexpected http status " + strconv.Itoa(e.status)
}
