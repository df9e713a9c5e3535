package relay

import "testing"

func TestRenderBindings(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("Hello {{ name }}", map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hello Alice" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderDefaultFilter(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render(`Hello {{ name | default: "Friend" }}`, map[string]any{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hello Friend" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderPlainTextPassthrough(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("no markup here", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "no markup here" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderCachesTemplates(t *testing.T) {
	r := NewRenderer()
	if _, err := r.Render("Hi {{ name }}", map[string]any{"name": "A"}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if _, ok := r.cache.Load("Hi {{ name }}"); !ok {
		t.Error("template not cached")
	}
	out, err := r.Render("Hi {{ name }}", map[string]any{"name": "B"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hi B" {
		t.Errorf("out = %q", out)
	}
}
