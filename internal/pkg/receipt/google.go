package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/aviary-app/entitlement-service/internal/pkg/env"
)

const (
	defaultPlayAPIBaseURL = "https://androidpublisher.googleapis.com/androidpublisher/v3/applications"
	playPublisherScope    = "https://www.googleapis.com/auth/androidpublisher"
)

// GoogleClient validates Play Store subscription purchases via the Play
// Developer API purchases.subscriptions.get call.
type GoogleClient struct {
	APIBaseURL string

	// HTTPClient carries the oauth2 transport when a service account is
	// configured; plain http.Client otherwise (requests will then be
	// rejected by Google, which still fails closed).
	HTTPClient *http.Client
}

// NewGoogleClientFromEnv builds a Play API client. The service account key
// is read from PLAY_SERVICE_ACCOUNT_FILE and exchanged for tokens with the
// androidpublisher scope.
func NewGoogleClientFromEnv(ctx context.Context) *GoogleClient {
	client := &http.Client{Timeout: 15 * time.Second}

	if keyFile := strings.TrimSpace(env.GetEnv("PLAY_SERVICE_ACCOUNT_FILE", "")); keyFile != "" {
		keyJSON, err := os.ReadFile(keyFile)
		if err != nil {
			log.Printf("play api: could not read service account file: %v", err)
		} else if cfg, err := google.JWTConfigFromJSON(keyJSON, playPublisherScope); err != nil {
			log.Printf("play api: invalid service account key: %v", err)
		} else {
			client = cfg.Client(ctx)
			client.Timeout = 15 * time.Second
		}
	}

	return &GoogleClient{
		APIBaseURL: strings.TrimRight(env.GetEnv("PLAY_API_BASE_URL", defaultPlayAPIBaseURL), "/"),
		HTTPClient: client,
	}
}

// subscriptionPurchase mirrors the Play API resource. Millisecond timestamps
// arrive as quoted int64 strings.
type subscriptionPurchase struct {
	StartTimeMillis  string `json:"startTimeMillis"`
	ExpiryTimeMillis string `json:"expiryTimeMillis"`
	AutoRenewing     bool   `json:"autoRenewing"`
	OrderID          string `json:"orderId"`
	PaymentState     *int64 `json:"paymentState,omitempty"`
	CancelReason     int64  `json:"cancelReason,omitempty"`
	Acknowledged     bool   `json:"acknowledgementState,omitempty"`
}

// VerifySubscription looks up a purchase token and reports a valid outcome
// only when Google returns an expiry timestamp. autoRenewing=false is
// treated as a trial signal. All failures degrade to an invalid outcome.
func (c *GoogleClient) VerifySubscription(ctx context.Context, packageName, subscriptionID, purchaseToken string) Outcome {
	if strings.TrimSpace(packageName) == "" || strings.TrimSpace(subscriptionID) == "" || strings.TrimSpace(purchaseToken) == "" {
		return Invalid()
	}

	reqURL := fmt.Sprintf("%s/%s/purchases/subscriptions/%s/tokens/%s",
		c.APIBaseURL,
		url.PathEscape(packageName),
		url.PathEscape(subscriptionID),
		url.PathEscape(purchaseToken),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		log.Printf("play api: building request failed: %v", err)
		return Invalid()
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("play api: subscription lookup failed: %v", err)
		return Invalid()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Printf("play api: reading response failed: %v", err)
		return Invalid()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("play api: subscription lookup returned status=%d", resp.StatusCode)
		return Invalid()
	}

	var purchase subscriptionPurchase
	if err := json.Unmarshal(body, &purchase); err != nil {
		log.Printf("play api: parsing response failed: %v", err)
		return Invalid()
	}

	expiry, err := strconv.ParseInt(strings.TrimSpace(purchase.ExpiryTimeMillis), 10, 64)
	if err != nil || expiry <= 0 {
		// No expiry means we cannot bound the entitlement; deny.
		log.Printf("play api: purchase for %q has no expiry, rejecting", subscriptionID)
		return Invalid()
	}
	expiryTime := time.UnixMilli(expiry).UTC()

	out := Outcome{
		Valid:          true,
		TransactionID:  purchase.OrderID,
		ProductID:      subscriptionID,
		ExpirationDate: &expiryTime,
		IsTrial:        !purchase.AutoRenewing,
	}
	if start, err := strconv.ParseInt(strings.TrimSpace(purchase.StartTimeMillis), 10, 64); err == nil && start > 0 {
		out.PurchaseDate = time.UnixMilli(start).UTC()
	}
	return out
}
