package image

import "context"

type Mode string

const (
	TextToImage  Mode = "text-to-image"
	ImageToImage Mode = "image-to-image"
)

var Modes = []Mode{TextToImage, ImageToImage}

const (
	StableDiffusionXL  = "stable-diffusion-xl-1024-v1-0"
	StableDiffusionV16 = "stable-diffusion-v1-6"
)

var Models = []string{StableDiffusionXL, StableDiffusionV16}

var Styles = []string{
	"3d-model",
	"analog-film",
	"anime",
	"cinematic",
	"comic-book",
	"digital-art",
	"enhance-fantasy-art",
	"isometric",
	"line-art",
	"low-poly",
	"modeling-compound",
	"neon-punk",
	"origami",
}

// Request is a single generation. Optional fields are nil when the workflow left them unset.
type Request struct {
	Mode           Mode     `json:"mode,omitempty"`
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Style          *string  `json:"style,omitempty"`
	Steps          *int     `json:"steps,omitempty"`
	CfgScale       *float64 `json:"cfg_scale,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	ImageStrength  *float64 `json:"image_strength,omitempty"`

	SourceImage     []byte `json:"-"`
	SourceImageName string `json:"-"`
}

func (r Request) mode() Mode {
	if r.Mode == "" {
		return TextToImage
	}
	return r.Mode
}

type Artifact struct {
	Base64       string `json:"base64"`
	Seed         int64  `json:"seed"`
	FinishReason string `json:"finishReason,omitempty"`
}

type Response struct {
	Artifacts []Artifact `json:"artifacts"`
}

// Result carries the decoded first artifact alongside every artifact the API returned.
type Result struct {
	Artifacts []Artifact
	Image     []byte
	FileName  string
	Seed      int64
}

type Generator interface {
	Generate(context.Context, Request) (*Result, error)
}
