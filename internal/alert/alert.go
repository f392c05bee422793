package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/devblac/bridge-relay/internal/metrics"
)

// Kind distinguishes why an alert was raised.
type Kind string

const (
	KindRejected Kind = "rejected"
	KindFaulted  Kind = "faulted"
)

// Notification is the data passed to alert templates.
type Notification struct {
	Kind      Kind   `json:"kind"`
	Relay     string `json:"relay"`
	Height    uint64 `json:"height,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	Key       string `json:"nonce,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Sender types accepted by New.
const (
	TypeSlack   = "slack"
	TypeTeams   = "teams"
	TypeWebhook = "webhook"
)

const sendTimeout = 8 * time.Second

const defaultTemplate = `[{{.Relay}}] {{.Kind}}{{if .Key}} nonce={{.Key}}{{end}}{{if .Height}} height={{.Height}}{{end}}{{if .Recipient}} to={{short_addr .Recipient}}{{end}}{{if .Amount}} amount={{.Amount}}{{end}}{{if .TxHash}} tx={{.TxHash}}{{end}}{{if .Reason}}: {{.Reason}}{{end}}`

var templateFuncs = template.FuncMap{
	"short_addr": func(addr string) string {
		if len(addr) <= 10 {
			return addr
		}
		return addr[:6] + "..." + addr[len(addr)-4:]
	},
}

// HTTPSender posts a rendered notification. Chat webhooks (slack, teams)
// receive {"text": ...}; generic webhooks receive every field plus text.
type HTTPSender struct {
	url        string
	method     string
	text       *template.Template
	structured bool
	client     *http.Client
}

// New builds a sender of the given type. An empty tmpl uses the default
// one-line summary; method only applies to generic webhooks.
func New(typ, url, method, tmpl string) (*HTTPSender, error) {
	if url == "" {
		return nil, fmt.Errorf("%s url required", typ)
	}
	s := &HTTPSender{url: url, method: http.MethodPost, client: &http.Client{Timeout: sendTimeout}}
	switch strings.ToLower(typ) {
	case TypeSlack, TypeTeams:
	case TypeWebhook:
		s.structured = true
		if method != "" {
			s.method = strings.ToUpper(method)
		}
	default:
		return nil, fmt.Errorf("unsupported alert type %q", typ)
	}
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	t, err := template.New("alert").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	s.text = t
	return s, nil
}

// Render returns the text line for n.
func (s *HTTPSender) Render(n Notification) (string, error) {
	var buf strings.Builder
	if err := s.text.Execute(&buf, n); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func (s *HTTPSender) Send(ctx context.Context, n Notification) error {
	text, err := s.Render(n)
	if err != nil {
		return err
	}
	var payload any = map[string]string{"text": text}
	if s.structured {
		payload = struct {
			Notification
			Text string `json:"text"`
		}{n, text}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert http status %d", resp.StatusCode)
	}
	return nil
}

// Notifier fans a notification out to every configured sender. Delivery
// failures are logged and counted, never returned.
type Notifier struct {
	senders map[string]Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewNotifier builds a notifier; a nil or empty sender map yields a no-op notifier.
func NewNotifier(senders map[string]Sender, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{senders: senders, logger: logger, metrics: m}
}

// Notify delivers n to all senders.
func (n *Notifier) Notify(ctx context.Context, note Notification) {
	if n == nil {
		return
	}
	for id, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			n.metrics.AlertsDropped()
			n.logger.Warn("alert delivery failed", "alert", id, "kind", note.Kind, "err", err)
			continue
		}
		n.metrics.AlertsSent()
	}
}
