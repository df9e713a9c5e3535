// Package ses adapts the canonical email model to the Amazon SES v2
// API and normalizes SES event notifications delivered through SNS.
package ses

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/mailbridge/internal/backend"
	appconfig "github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/email"
)

const providerName = "ses"

// sesAPI is the slice of the SES v2 client the backend uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Backend sends mail through the Amazon SES v2 SendEmail API.
type Backend struct {
	client  sesAPI
	caps    backend.Caps
	confSet string
}

// NewBackend creates an SES send backend. Empty access keys fall back
// to the default AWS credential chain (IAM role on ECS).
func NewBackend(ctx context.Context, cfg appconfig.SESConfig, caps backend.Caps) (*Backend, error) {
	caps.Provider = providerName

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Backend{
		client:  sesv2.NewFromConfig(awsCfg),
		caps:    caps,
		confSet: cfg.ConfigurationSet,
	}, nil
}

func (b *Backend) Name() string { return providerName }

// SupportsBatch is false: SendEmail has no per-recipient merge.
func (b *Backend) SupportsBatch() bool { return false }

// Send submits one SendEmail call. Messages that fit the Simple
// content shape use it; attachments or extra headers switch to a raw
// MIME document.
func (b *Backend) Send(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	if msg.HasMergeData() || len(msg.MergeGlobalData) > 0 {
		if err := b.caps.Unsupported("merge_data"); err != nil {
			return nil, err
		}
	}
	if msg.TemplateID != "" {
		if err := b.caps.Unsupported("template_id"); err != nil {
			return nil, err
		}
	}
	if msg.TrackOpens != nil || msg.TrackClicks != nil {
		if err := b.caps.Unsupported("tracking overrides"); err != nil {
			return nil, err
		}
	}
	if !msg.SendAt.IsZero() {
		if err := b.caps.Unsupported("send_at"); err != nil {
			return nil, err
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From.String()),
		Destination: &types.Destination{
			ToAddresses:  formatAddresses(msg.To),
			CcAddresses:  formatAddresses(msg.CC),
			BccAddresses: formatAddresses(msg.BCC),
		},
	}
	if b.confSet != "" {
		input.ConfigurationSetName = aws.String(b.confSet)
	}
	if len(msg.ReplyTo) > 0 {
		input.ReplyToAddresses = formatAddresses(msg.ReplyTo)
	}
	if msg.EnvelopeSender != "" {
		input.FeedbackForwardingEmailAddress = aws.String(msg.EnvelopeSender)
	}

	tags, err := b.messageTags(msg)
	if err != nil {
		return nil, err
	}
	input.EmailTags = tags

	if len(msg.Attachments) > 0 || len(msg.Headers) > 0 {
		raw, err := email.BuildRawMIME(msg)
		if err != nil {
			return nil, fmt.Errorf("building raw message: %w", err)
		}
		input.Content = &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		}
	} else {
		simple := &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body:    &types.Body{},
		}
		if msg.Text != "" {
			simple.Body.Text = &types.Content{Data: aws.String(msg.Text)}
		}
		if msg.HTML != "" {
			simple.Body.Html = &types.Content{Data: aws.String(msg.HTML)}
		}
		input.Content = &types.EmailContent{Simple: simple}
	}

	if len(msg.ESPExtra) > 0 {
		if err := b.caps.Unsupported("esp_extra"); err != nil {
			return nil, err
		}
	}

	out, err := b.client.SendEmail(ctx, input)
	if err != nil {
		return nil, &email.APIError{Provider: providerName, Kind: email.ErrKindTransport, Err: err}
	}

	result := email.NewSendResult(providerName)
	result.SetAll(msg.AllRecipients(), aws.ToString(out.MessageId), email.StatusQueued)
	return result, nil
}

// messageTags converts metadata and the (single) tag into SES message
// tags. SES tag names must be unique, so only one canonical tag fits.
func (b *Backend) messageTags(msg *email.Message) ([]types.MessageTag, error) {
	var tags []types.MessageTag
	if len(msg.Tags) > 0 {
		if len(msg.Tags) > 1 {
			if err := b.caps.Unsupported("multiple tags"); err != nil {
				return nil, err
			}
		}
		tags = append(tags, types.MessageTag{
			Name:  aws.String("Tag"),
			Value: aws.String(msg.Tags[0]),
		})
	}
	for k, v := range msg.Metadata {
		tags = append(tags, types.MessageTag{
			Name:  aws.String(k),
			Value: aws.String(stringify(v)),
		})
	}
	return tags, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatAddresses(addrs []email.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
