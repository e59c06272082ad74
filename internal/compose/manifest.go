package compose

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TemplateSpec holds the render parameters of one frame template.
type TemplateSpec struct {
	Font      string `yaml:"font"`
	FontSize  int    `yaml:"font_size"`
	TitleSize int    `yaml:"title_size"`
	TextColor string `yaml:"text_color"`
	BoxColor  string `yaml:"box_color"`
	MarginPx  int    `yaml:"margin_px"`
}

// Manifest maps template identifiers (e.g. "1080x1920/default.html") to
// their render parameters.
type Manifest struct {
	Templates map[string]TemplateSpec `yaml:"templates"`
}

func defaultSpec() TemplateSpec {
	return TemplateSpec{
		FontSize:  48,
		TitleSize: 64,
		TextColor: "white",
		BoxColor:  "black@0.45",
		MarginPx:  96,
	}
}

// DefaultManifest returns a manifest with no named templates; every lookup
// falls back to the default spec.
func DefaultManifest() *Manifest {
	return &Manifest{Templates: map[string]TemplateSpec{}}
}

// LoadManifest reads the YAML template manifest. A missing or empty file
// yields the default manifest with no error so a bare checkout still renders.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return DefaultManifest(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultManifest(), nil
		}
		return nil, fmt.Errorf("compose: read manifest: %w", err)
	}
	if len(data) == 0 {
		return DefaultManifest(), nil
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("compose: parse manifest: %w", err)
	}
	if m.Templates == nil {
		m.Templates = map[string]TemplateSpec{}
	}
	return &m, nil
}

// Spec returns the template's parameters, filling unset fields from the
// defaults.
func (m *Manifest) Spec(name string) TemplateSpec {
	spec, ok := m.Templates[name]
	if !ok {
		return defaultSpec()
	}
	def := defaultSpec()
	if spec.FontSize <= 0 {
		spec.FontSize = def.FontSize
	}
	if spec.TitleSize <= 0 {
		spec.TitleSize = def.TitleSize
	}
	if spec.TextColor == "" {
		spec.TextColor = def.TextColor
	}
	if spec.BoxColor == "" {
		spec.BoxColor = def.BoxColor
	}
	if spec.MarginPx <= 0 {
		spec.MarginPx = def.MarginPx
	}
	return spec
}

// withOverrides applies per-task template params on top of the manifest spec.
// Unknown keys are ignored.
func (spec TemplateSpec) withOverrides(params map[string]any) TemplateSpec {
	if len(params) == 0 {
		return spec
	}
	if v, ok := asInt(params["font_size"]); ok && v > 0 {
		spec.FontSize = v
	}
	if v, ok := asInt(params["title_size"]); ok && v > 0 {
		spec.TitleSize = v
	}
	if v, ok := params["text_color"].(string); ok && v != "" {
		spec.TextColor = v
	}
	if v, ok := params["box_color"].(string); ok && v != "" {
		spec.BoxColor = v
	}
	if v, ok := asInt(params["margin_px"]); ok && v > 0 {
		spec.MarginPx = v
	}
	return spec
}

// asInt tolerates the numeric types JSON and YAML decoding produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
