package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

// SESAPI is the subset of the SES v2 client used for delivery.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier sends email via AWS SES.
type SESNotifier struct {
	client    SESAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// NewSESNotifier returns nil without a client.
func NewSESNotifier(client SESAPI, cfg SESConfig, logger *logging.Logger) *SESNotifier {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Cobrança"
	}
	return &SESNotifier{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SESNotifier) Send(ctx context.Context, msg Message) error {
	if s == nil || s.client == nil {
		return &NotificationError{Provider: "ses", Channel: ChannelEmail, Detail: "client not configured"}
	}
	if len(msg.To) == 0 {
		return Permanent("ses", 0, "no recipient")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination: &types.Destination{
			ToAddresses: msg.To,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subjectOrDefault(msg.Subject)),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{},
			},
		},
	}
	if msg.Body != "" {
		input.Content.Simple.Body.Text = &types.Content{
			Data:    aws.String(msg.Body),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.HTML != "" {
		input.Content.Simple.Body.Html = &types.Content{
			Data:    aws.String(msg.HTML),
			Charset: aws.String("UTF-8"),
		}
	}

	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return classifySESError(err)
	}
	s.logger.Debug("email sent via SES", "to", msg.To, "message_id", aws.ToString(output.MessageId))
	return nil
}

func classifySESError(err error) error {
	var (
		rejected   *types.MessageRejected
		badRequest *types.BadRequestException
		notVerif   *types.MailFromDomainNotVerifiedException
		suspended  *types.AccountSuspendedException
		throttled  *types.TooManyRequestsException
		limited    *types.LimitExceededException
		paused     *types.SendingPausedException
	)
	switch {
	case errors.As(err, &rejected), errors.As(err, &badRequest), errors.As(err, &notVerif), errors.As(err, &suspended):
		return &PermanentError{&NotificationError{Provider: "ses", Detail: err.Error(), Err: err}}
	case errors.As(err, &throttled), errors.As(err, &limited), errors.As(err, &paused):
		return Temporary("ses", 0, err.Error(), err)
	default:
		return ClassifyTransport("ses", err)
	}
}

var _ Notifier = (*SESNotifier)(nil)
