package relay

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer renders Liquid templates against merge data, with parsed
// templates cached by source.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the default filter set plus a
// default-value filter for missing merge fields.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "Friend" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	return &Renderer{engine: engine}
}

// Render renders source against bindings. Sources without Liquid
// markup pass through unchanged.
func (r *Renderer) Render(source string, bindings map[string]any) (string, error) {
	if source == "" {
		return "", nil
	}

	var tmpl *liquid.Template
	if cached, ok := r.cache.Load(source); ok {
		tmpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(source)
		if err != nil {
			return "", fmt.Errorf("parsing template: %w", err)
		}
		r.cache.Store(source, parsed)
		tmpl = parsed
	}

	out, err := tmpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return out, nil
}
