// Package notify dispatches analysis and change events to the external
// catalog service via a webhook PUT.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/opendatateam/hydracrawl/internal/httpclient"
)

// Payload is a flat mapping whose keys are colon-namespaced
// (check:*, analysis:*, analysis:parsing:*, store:*).
type Payload map[string]any

// Notifier PUTs payloads to a configured webhook URL. Failures are logged
// and returned; the scheduler only counts them and carries on, so it does
// not stall on a flaky downstream catalog service.
type Notifier struct {
	URL     string
	Enabled bool
	Client  *http.Client
}

// New builds a Notifier. client may be nil (httpclient.Default() is used).
func New(url string, enabled bool, client *http.Client) *Notifier {
	if client == nil {
		client = httpclient.Default()
	}
	return &Notifier{URL: url, Enabled: enabled, Client: client}
}

// Notify sends payload for (resourceID, datasetID) as a JSON PUT, retrying
// transient failures via the shared retry policy. Errors are logged, not
// returned as fatal — callers may still inspect the returned error to decide
// whether to count a notify-failure metric.
func (n *Notifier) Notify(ctx context.Context, resourceID, datasetID string, payload Payload) error {
	if !n.Enabled || n.URL == "" {
		return nil
	}
	full := Payload{"resource_id": resourceID, "dataset_id": datasetID}
	for k, v := range payload {
		full[k] = v
	}
	body, err := json.Marshal(full)
	if err != nil {
		log.Printf("notify: marshal payload for resource=%s: %v", resourceID, err)
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, n.URL, bytes.NewReader(body))
	if err != nil {
		log.Printf("notify: build request for resource=%s: %v", resourceID, err)
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpclient.DoWithRetry(ctx, n.Client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		log.Printf("notify: PUT %s for resource=%s failed: %v", n.URL, resourceID, err)
		return fmt.Errorf("notify: PUT %s: %w", n.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("notify: PUT %s for resource=%s returned status %d", n.URL, resourceID, resp.StatusCode)
		return fmt.Errorf("notify: PUT %s: status %d", n.URL, resp.StatusCode)
	}
	log.Printf("notify: PUT %s for resource=%s ok", n.URL, resourceID)
	return nil
}
