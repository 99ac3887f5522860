// Package notify delivers out-of-band email notifications for license
// events over Amazon SES. Delivery never blocks or fails the request that
// triggered it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"licensegate/internal/config"
	"licensegate/internal/license"
)

// sesSender is the slice of the SES API the notifier uses
type sesSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// expiryWarningInterval caps renewal warnings at one per license per
// day; validations arrive far more often than that.
const expiryWarningInterval = 24 * time.Hour

// EmailNotifier sends activation, renewal and error notifications via SES.
type EmailNotifier struct {
	client sesSender
	cfg    config.EmailConfig
	logger *slog.Logger

	mu         sync.Mutex
	lastWarned map[string]time.Time
}

// NewEmailNotifier builds a notifier from the email configuration. When
// email is disabled it returns a NopNotifier so callers never need to
// branch.
func NewEmailNotifier(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) (license.Notifier, error) {
	if !cfg.Enabled {
		return license.NopNotifier{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &EmailNotifier{
		client:     ses.NewFromConfig(awsCfg),
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "notify")),
		lastWarned: make(map[string]time.Time),
	}, nil
}

// NotifyActivation emails the customer that their license was bound to a
// new machine.
func (n *EmailNotifier) NotifyActivation(ctx context.Context, customerEmail, licenseKey, hardwareID string) {
	if customerEmail == "" {
		return
	}
	subject := "Your license has been activated"
	body := fmt.Sprintf(
		"License %s was activated on a new machine (fingerprint %s) at %s.\r\n\r\n"+
			"If this was not you, contact support to have the binding released.\r\n",
		licenseKey, hardwareID, time.Now().UTC().Format(time.RFC1123))
	n.send(ctx, customerEmail, subject, body)
}

// NotifyExpiryWarning emails the customer that their license expires
// soon. Repeated warnings for the same license are suppressed for
// expiryWarningInterval.
func (n *EmailNotifier) NotifyExpiryWarning(ctx context.Context, customerEmail, licenseKey string, daysLeft int) {
	if customerEmail == "" {
		return
	}

	n.mu.Lock()
	if n.lastWarned == nil {
		n.lastWarned = make(map[string]time.Time)
	}
	if last, ok := n.lastWarned[licenseKey]; ok && time.Since(last) < expiryWarningInterval {
		n.mu.Unlock()
		return
	}
	n.lastWarned[licenseKey] = time.Now()
	n.mu.Unlock()

	subject := fmt.Sprintf("Your license expires in %d days", daysLeft)
	body := fmt.Sprintf(
		"License %s expires in %d days.\r\n\r\n"+
			"Renew before the expiry date to keep your installations active.\r\n",
		licenseKey, daysLeft)
	n.send(ctx, customerEmail, subject, body)
}

// NotifyError alerts the operator address about a denied operation.
func (n *EmailNotifier) NotifyError(ctx context.Context, licenseKey, kind, detail string) {
	if n.cfg.AdminEmail == "" {
		return
	}
	subject := fmt.Sprintf("License denial: %s", kind)
	body := fmt.Sprintf("License %s was denied (%s): %s\r\n", licenseKey, kind, detail)
	n.send(ctx, n.cfg.AdminEmail, subject, body)
}

// send delivers one message and swallows failures. Notification loss is
// acceptable; blocking a license operation on SES is not.
func (n *EmailNotifier) send(ctx context.Context, to, subject, body string) {
	_, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(n.cfg.FromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "notification delivery failed",
			slog.String("to", to),
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return
	}
	n.logger.DebugContext(ctx, "notification sent",
		slog.String("to", to),
		slog.String("subject", subject))
}
