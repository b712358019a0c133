package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nadmax/imagegen/internal/task"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type EmailConfig struct {
	APIKey      string
	FromName    string
	FromAddress string
	To          string
}

// EmailNotifier mails the outcome of a task through SendGrid.
type EmailNotifier struct {
	client mailSender
	from   *mail.Email
	to     *mail.Email
	logger *zap.Logger
}

func NewEmailNotifier(cfg EmailConfig, logger *zap.Logger) (*EmailNotifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if cfg.FromAddress == "" || cfg.To == "" {
		return nil, errors.New("from and to addresses are required")
	}

	return &EmailNotifier{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   mail.NewEmail(cfg.FromName, cfg.FromAddress),
		to:     mail.NewEmail("", cfg.To),
		logger: logger,
	}, nil
}

func (n *EmailNotifier) TaskCompleted(ctx context.Context, t *task.Task) error {
	subject, body := renderEmail(t)
	email := mail.NewSingleEmail(n.from, subject, n.to, body, "")

	response, err := n.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	n.logger.Debug("completion email sent",
		zap.String("task_id", t.ID),
		zap.Int("status_code", response.StatusCode),
	)
	return nil
}

func renderEmail(t *task.Task) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.ID)
	fmt.Fprintf(&b, "Prompt: %s\n", t.Prompt)
	fmt.Fprintf(&b, "Aspect ratio: %s\n", t.AspectRatio)

	if t.Status == task.StatusFail {
		fmt.Fprintf(&b, "Failure code: %s\n", t.FailureCode)
		fmt.Fprintf(&b, "Failure message: %s\n", t.FailureMessage)
		return fmt.Sprintf("Image generation failed (%s)", t.ID), b.String()
	}

	b.WriteString("Results:\n")
	for _, u := range t.ResultURLs {
		fmt.Fprintf(&b, "  %s\n", u)
	}
	return fmt.Sprintf("Image generation finished (%s)", t.ID), b.String()
}
