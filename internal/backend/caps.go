package backend

import (
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/logger"
)

// Caps decides what happens when a message uses a feature the provider
// cannot express. In strict mode the send fails before any network
// call; in permissive mode the feature is dropped with a warning.
type Caps struct {
	Provider   string
	Permissive bool
}

// Unsupported reports an unsupported feature. It returns nil in
// permissive mode (after logging) and a CapabilityError otherwise.
func (c Caps) Unsupported(feature string) error {
	if c.Permissive {
		logger.Warn("dropping unsupported feature",
			"provider", c.Provider,
			"feature", feature)
		return nil
	}
	return &email.CapabilityError{Provider: c.Provider, Feature: feature}
}

// MergeExtra deep-merges extra into dst. Nested map[string]any values
// merge recursively; anything else overwrites, so ESPExtra always wins
// over canonical fields.
func MergeExtra(dst, extra map[string]any) {
	for key, val := range extra {
		if sub, ok := val.(map[string]any); ok {
			if cur, ok := dst[key].(map[string]any); ok {
				MergeExtra(cur, sub)
				continue
			}
		}
		dst[key] = val
	}
}
