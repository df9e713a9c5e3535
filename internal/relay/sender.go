// Package relay orchestrates sends: it routes a canonical message to
// the named provider backend and decides how per-recipient merge data
// reaches providers that cannot express it natively.
package relay

import (
	"context"
	"fmt"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/logger"
)

// Sender routes messages to provider backends.
type Sender struct {
	registry    *backend.Registry
	localRender bool
	permissive  bool
	renderer    *Renderer
}

// New creates a Sender. With localRender and permissive both on, merge
// data for providers without native batch support is rendered locally
// with Liquid and fanned out one API call per recipient. In strict
// mode the message reaches the backend untouched so the backend's
// capability check decides.
func New(registry *backend.Registry, localRender, permissive bool) *Sender {
	s := &Sender{
		registry:    registry,
		localRender: localRender,
		permissive:  permissive,
	}
	if localRender {
		s.renderer = NewRenderer()
	}
	return s
}

// Send delivers msg through the named provider. Exactly one send
// attempt is made per provider API call; there is no retry policy at
// this layer.
func (s *Sender) Send(ctx context.Context, provider string, msg *email.Message) (*email.SendResult, error) {
	b, ok := s.registry.Backend(provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if s.needsFanOut(b, msg) {
		return s.fanOut(ctx, b, msg)
	}
	return b.Send(ctx, msg)
}

// needsFanOut reports whether msg carries per-recipient merge data the
// backend cannot deliver in one call. Fan-out is a permissive-mode
// degradation: strict mode never rewrites the message.
func (s *Sender) needsFanOut(b backend.Backend, msg *email.Message) bool {
	if !msg.HasMergeData() {
		return false
	}
	if bc, ok := b.(backend.BatchCapable); ok && bc.SupportsBatch() {
		return false
	}
	return s.localRender && s.permissive
}

// fanOut renders subject and bodies per recipient and issues one
// provider call each, so recipients never see one another. Individual
// failures mark that recipient failed without aborting the rest.
func (s *Sender) fanOut(ctx context.Context, b backend.Backend, msg *email.Message) (*email.SendResult, error) {
	result := email.NewSendResult(b.Name())

	if len(msg.CC) > 0 || len(msg.BCC) > 0 {
		logger.Warn("fan-out drops cc and bcc recipients",
			"provider", b.Name(),
			"cc", fmt.Sprintf("%d", len(msg.CC)),
			"bcc", fmt.Sprintf("%d", len(msg.BCC)))
	}

	for _, rcpt := range msg.To {
		single, err := s.renderFor(msg, rcpt)
		if err != nil {
			return nil, err
		}
		part, err := b.Send(ctx, single)
		if err != nil {
			logger.Error("fan-out send failed",
				"provider", b.Name(),
				"recipient", rcpt.Email,
				"error", err.Error())
			result.Recipients[rcpt.Email] = email.RecipientStatus{Status: email.StatusFailed}
			continue
		}
		result.Merge(part)
	}
	return result, nil
}

// renderFor produces the single-recipient copy of msg with merge data
// applied locally.
func (s *Sender) renderFor(msg *email.Message, rcpt email.Address) (*email.Message, error) {
	bindings := make(map[string]any, len(msg.MergeGlobalData))
	for k, v := range msg.MergeGlobalData {
		bindings[k] = v
	}
	for k, v := range msg.MergeData[rcpt.Email] {
		bindings[k] = v
	}

	single := *msg
	single.To = []email.Address{rcpt}
	// One copy per To recipient only; keeping cc/bcc would deliver
	// them a copy per fan-out call.
	single.CC = nil
	single.BCC = nil
	single.MergeData = nil
	single.MergeGlobalData = nil
	single.MergeMetadata = nil
	single.MergeHeaders = nil

	var err error
	if single.Subject, err = s.renderer.Render(msg.Subject, bindings); err != nil {
		return nil, fmt.Errorf("rendering subject: %w", err)
	}
	if single.Text, err = s.renderer.Render(msg.Text, bindings); err != nil {
		return nil, fmt.Errorf("rendering text body: %w", err)
	}
	if single.HTML, err = s.renderer.Render(msg.HTML, bindings); err != nil {
		return nil, fmt.Errorf("rendering html body: %w", err)
	}

	if meta, ok := msg.MergeMetadata[rcpt.Email]; ok {
		merged := make(map[string]any, len(msg.Metadata)+len(meta))
		for k, v := range msg.Metadata {
			merged[k] = v
		}
		for k, v := range meta {
			merged[k] = v
		}
		single.Metadata = merged
	}
	if hdrs, ok := msg.MergeHeaders[rcpt.Email]; ok {
		merged := make(map[string]string, len(msg.Headers)+len(hdrs))
		for k, v := range msg.Headers {
			merged[k] = v
		}
		for k, v := range hdrs {
			merged[k] = v
		}
		single.Headers = merged
	}
	return &single, nil
}
