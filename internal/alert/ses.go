package alert

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESAPI is the subset of the SES v2 client used by SESSink.
type SESAPI interface {
	SendEmail(ctx context.Context, input *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSink sends messages as plain-text email through Amazon SES.
type SESSink struct {
	client SESAPI
}

// SESSinkOption configures an SESSink.
type SESSinkOption func(*SESSink)

// WithSESClient sets a custom SES client.
func WithSESClient(c SESAPI) SESSinkOption {
	return func(s *SESSink) { s.client = c }
}

// NewSESSink creates an SES sink. region overrides the default AWS region.
func NewSESSink(ctx context.Context, region string, opts ...SESSinkOption) (*SESSink, error) {
	s := &SESSink{}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = sesv2.NewFromConfig(cfg)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *SESSink) Name() string { return "ses" }

// Send emails msg to its recipient.
func (s *SESSink) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("ses: recipient required")
	}
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &sestypes.Destination{ToAddresses: []string{msg.Recipient}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses SendEmail: %w", err)
	}
	return nil
}
