package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"

	v1 "github.com/opengate/opengate/pkg/api/v1"
)

// Summary is what a wake carries: the unread notifications plus a
// rendered text an agent process can read directly.
type Summary struct {
	Agent         string            `json:"agent"`
	Unread        int               `json:"unread"`
	Notifications []v1.Notification `json:"notifications"`
	Text          string            `json:"text"`
}

// summaryPreview caps how many notifications the rendered text lists.
const summaryPreview = 10

// renderSummary builds the wake payload for an agent's unread batch.
func renderSummary(agent string, notifs []v1.Notification) *Summary {
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d unread OpenGate notification(s):\n", len(notifs))
	for i, n := range notifs {
		if i == summaryPreview {
			fmt.Fprintf(&b, "... and %d more. Poll your inbox for the rest.\n", len(notifs)-summaryPreview)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s", n.EventType, n.Title)
		if n.Body != "" {
			fmt.Fprintf(&b, ": %s", n.Body)
		}
		b.WriteString("\n")
	}
	b.WriteString("Check your inbox and ack what you have handled.")

	return &Summary{
		Agent:         agent,
		Unread:        len(notifs),
		Notifications: notifs,
		Text:          b.String(),
	}
}

// Waker fires one wake mechanism. Implementations must respect ctx; the
// poller bounds it with the configured wake_timeout.
type Waker interface {
	Wake(ctx context.Context, s *Summary) error
}

// NewWaker builds the waker for an agent's configured mode. Config
// validation guarantees the mode is known.
func NewWaker(cfg *AgentConfig) Waker {
	switch cfg.WakeMode {
	case WakeWebhook:
		return &webhookWaker{url: cfg.WakeURL, token: cfg.WakeToken}
	case WakeCommand:
		return &commandWaker{argv: cfg.WakeCommand}
	case WakeOpenClaw:
		return &openClawWaker{url: cfg.WakeURL, token: cfg.WakeToken}
	default:
		return stdoutWaker{}
	}
}

// stdoutWaker writes the summary to the bridge's own stdout, for setups
// where a supervisor watches the bridge process.
type stdoutWaker struct{}

func (stdoutWaker) Wake(_ context.Context, s *Summary) error {
	_, err := fmt.Fprintf(os.Stdout, "=== wake %s ===\n%s\n", s.Agent, s.Text)
	return err
}

// webhookWaker POSTs the summary JSON to the configured URL.
type webhookWaker struct {
	url   string
	token string
}

func (w *webhookWaker) Wake(ctx context.Context, s *Summary) error {
	return postJSON(ctx, w.url, w.token, s)
}

// openClawWaker pokes a local OpenClaw gateway hooks endpoint with the
// rendered text as the message.
type openClawWaker struct {
	url   string
	token string
}

func (w *openClawWaker) Wake(ctx context.Context, s *Summary) error {
	payload := map[string]any{
		"message": s.Text,
		"agent":   s.Agent,
	}
	return postJSON(ctx, w.url, w.token, payload)
}

// commandWaker runs the configured argv with the summary text on stdin.
type commandWaker struct {
	argv []string
}

func (w *commandWaker) Wake(ctx context.Context, s *Summary) error {
	cmd := exec.CommandContext(ctx, w.argv[0], w.argv[1:]...)
	cmd.Stdin = strings.NewReader(s.Text)
	cmd.Env = append(os.Environ(),
		"OPENGATE_AGENT="+s.Agent,
		fmt.Sprintf("OPENGATE_UNREAD=%d", s.Unread),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("wake command: %w (output: %s)", err, truncate(string(out), 512))
	}
	return nil
}

func postJSON(ctx context.Context, url, token string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("wake endpoint returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
