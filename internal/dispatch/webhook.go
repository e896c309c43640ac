package dispatch

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/itsshri/NightSafe/internal/models"
)

// WebhookNotifier POSTs alert JSON to a configured guardian endpoint.
// Delivery is best-effort; guardians also see the alert through their
// own feed subscription.
type WebhookNotifier struct {
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewWebhookNotifier(endpoint string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

func (w *WebhookNotifier) NotifyAlert(a models.Alert) {
	b, _ := json.Marshal(a)
	resp, err := w.Client.Post(w.Endpoint, "application/json", bytes.NewReader(b))
	if err != nil {
		w.Logger.Warn("guardian webhook failed", "alert_id", a.ID, "error", err)
		return
	}
	_ = resp.Body.Close()
}

// FanoutNotifier forwards an alert to every configured notifier.
type FanoutNotifier []interface{ NotifyAlert(models.Alert) }

func (f FanoutNotifier) NotifyAlert(a models.Alert) {
	for _, n := range f {
		n.NotifyAlert(a)
	}
}
