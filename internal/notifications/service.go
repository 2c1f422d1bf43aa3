package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"autoqc/internal/config"
)

const userAgent = "autoqc/0.1.0"

// Event names a notification type.
type Event string

const (
	EventSampleWarning Event = "sample_warning"
	EventSampleFailed  Event = "sample_failed"
	EventRunStarted    Event = "run_started"
	EventRunCompleted  Event = "run_completed"
	EventError         Event = "error"
	EventTest          Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventSampleWarning: cfg.Notifications.Warnings,
			EventSampleFailed:  cfg.Notifications.Failures,
			EventRunCompleted:  cfg.Notifications.RunComplete,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if on, gated := n.enabled[event]; gated && !on {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unsupported notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	run := runLabel(payload)
	switch event {
	case EventSampleWarning:
		return message{
			title: "autoqc - QC Warning",
			body:  sampleBody("⚠️ Warning", run, payload),
			tags:  []string{"autoqc", "qc", "warning"},
		}, true
	case EventSampleFailed:
		return message{
			title:    "autoqc - QC Fail",
			body:     sampleBody("❌ Fail", run, payload),
			tags:     []string{"autoqc", "qc", "fail"},
			priority: "high",
		}, true
	case EventRunStarted:
		return message{
			title: "autoqc - Run Started",
			body:  fmt.Sprintf("Monitoring %s (%d samples expected)", run, intValue(payload, "samples")),
			tags:  []string{"autoqc", "run", "started"},
		}, true
	case EventRunCompleted:
		body := fmt.Sprintf("✅ Run complete: %s\nPass %d · Warning %d · Fail %d",
			run, intValue(payload, "passed"), intValue(payload, "warned"), intValue(payload, "failed"))
		if missing := intValue(payload, "unprocessed"); missing > 0 {
			body += fmt.Sprintf("\n%d sample(s) never processed", missing)
		}
		return message{
			title: "autoqc - Run Complete",
			body:  body,
			tags:  []string{"autoqc", "run", "completed"},
		}, true
	case EventError:
		var b strings.Builder
		b.WriteString("❌ Error")
		if label := stringValue(payload, "context"); label != "" {
			b.WriteString(" with ")
			b.WriteString(label)
		}
		b.WriteString(": ")
		if detail := stringValue(payload, "error"); detail != "" {
			b.WriteString(detail)
		} else {
			b.WriteString("unknown")
		}
		return message{
			title:    "autoqc - Error",
			body:     b.String(),
			tags:     []string{"autoqc", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "autoqc - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"autoqc", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func sampleBody(prefix, run string, payload Payload) string {
	body := fmt.Sprintf("%s: %s in %s", prefix, stringValue(payload, "sample"), run)
	if reason := stringValue(payload, "reason"); reason != "" {
		body += "\n" + reason
	}
	return body
}

func runLabel(payload Payload) string {
	inst := stringValue(payload, "instrument")
	run := stringValue(payload, "run")
	switch {
	case inst != "" && run != "":
		return inst + "/" + run
	case run != "":
		return run
	default:
		return "unknown run"
	}
}

func stringValue(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intValue(payload Payload, key string) int {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// NewNoop returns a Service that discards every event.
func NewNoop() Service { return noopService{} }
