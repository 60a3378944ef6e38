package image

import (
	"strings"

	"github.com/samber/lo"
)

const (
	DefaultSteps         = 40
	DefaultWidth         = 1024
	DefaultHeight        = 1024
	DefaultCfgScale      = 5
	DefaultSamples       = 1
	DefaultStyle         = "None"
	DefaultImageStrength = 0.35

	MinSteps = 10
)

type TextPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// Payload is the JSON body of a text-to-image call.
type Payload struct {
	Steps       int          `json:"steps"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Seed        int64        `json:"seed"`
	CfgScale    float64      `json:"cfg_scale"`
	Samples     int          `json:"samples"`
	Style       string       `json:"style"`
	TextPrompts []TextPrompt `json:"text_prompts"`
}

func Validate(req Request) error {
	if !lo.Contains(Modes, req.mode()) {
		return &ValidationError{Field: "mode", Reason: "must be one of " + strings.Join(lo.Map(Modes, func(m Mode, _ int) string {
			return string(m)
		}), ", ")}
	}
	if strings.TrimSpace(req.Model) == "" {
		return &ValidationError{Field: "model", Reason: "a model must be selected"}
	}
	if !lo.Contains(Models, req.Model) {
		return &ValidationError{Field: "model", Reason: "unknown model " + req.Model}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if req.Steps != nil && *req.Steps < MinSteps {
		return &ValidationError{Field: "steps", Reason: "must be at least 10"}
	}
	if req.Style != nil && !lo.Contains(Styles, *req.Style) {
		return &ValidationError{Field: "style", Reason: "unknown style " + *req.Style}
	}
	if req.mode() == ImageToImage && len(req.SourceImage) == 0 {
		return &ValidationError{Field: "image", Reason: "a source image is required for image-to-image"}
	}
	return nil
}

// BuildPayload overlays the request's optional fields onto the defaults.
func BuildPayload(req Request) Payload {
	p := Payload{
		Steps:    lo.FromPtrOr(req.Steps, DefaultSteps),
		Width:    DefaultWidth,
		Height:   DefaultHeight,
		Seed:     lo.FromPtr(req.Seed),
		CfgScale: lo.FromPtrOr(req.CfgScale, DefaultCfgScale),
		Samples:  DefaultSamples,
		Style:    lo.FromPtrOr(req.Style, DefaultStyle),
		TextPrompts: []TextPrompt{
			{Text: req.Prompt, Weight: 1},
		},
	}
	if req.NegativePrompt != "" {
		p.TextPrompts = append(p.TextPrompts, TextPrompt{Text: req.NegativePrompt, Weight: -1})
	}
	return p
}
