package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BradenHooton/bulwark/internal/models"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client used for alerts
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailAlertWriter mails HIGH and CRITICAL security events to operators.
// It performs network I/O and should be wrapped in a logger.AsyncWriter.
type EmailAlertWriter struct {
	client      SESAPI
	fromAddress string
	toAddresses []string
	logger      *slog.Logger
}

// NewEmailAlertWriter builds a writer using the default AWS credential chain
func NewEmailAlertWriter(ctx context.Context, region, fromAddress string, toAddresses []string, logger *slog.Logger) (*EmailAlertWriter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewEmailAlertWriterWithClient(ses.NewFromConfig(cfg), fromAddress, toAddresses, logger), nil
}

// NewEmailAlertWriterWithClient builds a writer around an existing client
func NewEmailAlertWriterWithClient(client SESAPI, fromAddress string, toAddresses []string, logger *slog.Logger) *EmailAlertWriter {
	return &EmailAlertWriter{
		client:      client,
		fromAddress: fromAddress,
		toAddresses: toAddresses,
		logger:      logger,
	}
}

// Name implements logger.EventWriter
func (w *EmailAlertWriter) Name() string { return "ses-alert" }

// WriteEvent implements logger.EventWriter. Events below HIGH are ignored.
func (w *EmailAlertWriter) WriteEvent(ctx context.Context, event models.SecurityEvent) error {
	if !event.Severity.IsAlert() {
		return nil
	}

	subject := fmt.Sprintf("[%s] %s from %s", event.Severity, event.Type, event.SourceAddress)
	input := &ses.SendEmailInput{
		Source: aws.String(w.fromAddress),
		Destination: &types.Destination{
			ToAddresses: w.toAddresses,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(alertBody(event))},
			},
		},
	}

	result, err := w.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	w.logger.Info("security alert email sent",
		slog.String("event_id", event.ID),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

func alertBody(event models.SecurityEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Security event %s\n\n", event.ID)
	fmt.Fprintf(&b, "Type:     %s\n", event.Type)
	fmt.Fprintf(&b, "Severity: %s\n", event.Severity)
	fmt.Fprintf(&b, "Time:     %s\n", event.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Source:   %s\n", event.SourceAddress)
	if event.Identity != "" {
		fmt.Fprintf(&b, "Identity: %s\n", pkglogger.SanitizedEmail(event.Identity))
	}

	if len(event.Details) > 0 {
		keys := make([]string, 0, len(event.Details))
		for k := range event.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, event.Details[k])
		}
	}

	b.WriteString("\nThis is an automated message.\n")
	return b.String()
}
