package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	digestModel    = "claude-3-5-haiku-20241022"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// ErrAPIKeyRequired is returned when a digest is requested without an API key.
var ErrAPIKeyRequired = errors.New("API key required")

// DigestClient summarizes feed activity with Claude Haiku.
type DigestClient struct {
	client         anthropic.Client
	model          anthropic.Model
	tmpl           *template.Template
	maxRetries     int
	initialBackoff time.Duration
}

// NewDigestClient creates a digest client. Env var ANTHROPIC_API_KEY takes
// precedence over the explicit apiKey.
func NewDigestClient(apiKey string) (*DigestClient, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY environment variable", ErrAPIKeyRequired)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	tmpl, err := template.New("digest").Parse(digestPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse digest template: %w", err)
	}

	return &DigestClient{
		client:         client,
		model:          digestModel,
		tmpl:           tmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// Digest summarizes a window of feed events into a short plain-text
// status report.
func (d *DigestClient) Digest(ctx context.Context, events []Event) (string, error) {
	if len(events) == 0 {
		return "No activity to summarize.", nil
	}
	prompt, err := d.renderPrompt(events)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return d.callWithRetry(ctx, prompt)
}

func (d *DigestClient) callWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     d.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := d.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := d.client.Messages.New(ctx, params)

		if err == nil {
			if len(message.Content) > 0 {
				content := message.Content[0]
				if content.Type == "text" {
					return content.Text, nil
				}
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return "", fmt.Errorf("unexpected response format: no content blocks")
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if !isRetryable(err) {
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	return "", fmt.Errorf("failed after %d retries: %w", d.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		statusCode := apiErr.StatusCode
		if statusCode == 429 || statusCode >= 500 {
			return true
		}
		return false
	}

	return false
}

type digestData struct {
	Window string
	Lines  string
}

func (d *DigestClient) renderPrompt(events []Event) (string, error) {
	var lines strings.Builder
	for _, ev := range events {
		lines.WriteString(ev.TS.Format("15:04"))
		lines.WriteString(" ")
		lines.WriteString(ev.Agent)
		lines.WriteString(" ")
		lines.WriteString(ev.Type)
		if ev.Target != "" {
			lines.WriteString(" ")
			lines.WriteString(ev.Target)
		}
		if ev.Preview != "" {
			lines.WriteString(": ")
			lines.WriteString(ev.Preview)
		}
		lines.WriteString("\n")
	}

	first := events[0].TS
	last := events[len(events)-1].TS
	data := digestData{
		Window: fmt.Sprintf("%s to %s", first.Format(time.RFC3339), last.Format(time.RFC3339)),
		Lines:  lines.String(),
	}

	var buf strings.Builder
	if err := d.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const digestPromptTemplate = `You are summarizing the activity feed of a team of AI coding agents working in one repository. The feed covers {{.Window}}.

Feed entries (time agent type [target]: [preview]):

{{.Lines}}

Write a short plain-text digest for an agent that just came online:

**Who is active:** [agents seen and what each worked on]

**Progress:** [tasks completed, commits, tests]

**Friction:** [stuck reports, blocks, resets, if any; otherwise omit]

Keep it under 10 lines. No preamble.`
