package handler

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/dmorgan81/stabilitynode/internal/binary"
	"github.com/dmorgan81/stabilitynode/internal/image"
	"github.com/dmorgan81/stabilitynode/internal/log"
	"github.com/dmorgan81/stabilitynode/internal/store"
	"github.com/samber/do"
	"github.com/samber/lo"
)

// BinaryKey is the property the generated image is attached under.
const BinaryKey = "data"

type MoreOptions struct {
	Style         *string  `json:"style,omitempty"`
	Steps         *int     `json:"steps,omitempty"`
	CfgScale      *float64 `json:"cfgScale,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	ImageStrength *float64 `json:"imageStrength,omitempty"`
}

// Input holds the node parameters as the workflow engine sends them.
type Input struct {
	Mode               image.Mode   `json:"mode,omitempty"`
	Model              string       `json:"model"`
	TextPrompt         string       `json:"text_prompt"`
	NegativeTextPrompt string       `json:"negative_text_prompt,omitempty"`
	MoreOptions        MoreOptions  `json:"moreOptions"`
	Image              *binary.Data `json:"image,omitempty"`
}

func (i Input) toImageRequest() (image.Request, error) {
	style := i.MoreOptions.Style
	if lo.FromPtr(style) == "" {
		style = nil
	}

	req := image.Request{
		Mode:           i.Mode,
		Model:          i.Model,
		Prompt:         i.TextPrompt,
		NegativePrompt: i.NegativeTextPrompt,
		Style:          style,
		Steps:          i.MoreOptions.Steps,
		CfgScale:       i.MoreOptions.CfgScale,
		Seed:           i.MoreOptions.Seed,
		ImageStrength:  i.MoreOptions.ImageStrength,
	}
	if i.Image != nil {
		data, err := i.Image.Bytes()
		if err != nil {
			return req, &image.ValidationError{Field: "image", Reason: err.Error()}
		}
		req.SourceImage = data
		req.SourceImageName = i.Image.FileName
	}
	return req, nil
}

func (i Input) mode() image.Mode {
	return lo.Ternary(i.Mode != "", i.Mode, image.TextToImage)
}

// toMetadata only carries header-safe values; free text goes in the sidecar.
func (i Input) toMetadata(seed int64) map[string]string {
	return map[string]string{
		"mode":  string(i.mode()),
		"model": i.Model,
		"seed":  strconv.FormatInt(seed, 10),
	}
}

// Sidecar is the JSON document published next to each generated image.
type Sidecar struct {
	Mode           image.Mode       `json:"mode"`
	Model          string           `json:"model"`
	Prompt         string           `json:"prompt"`
	NegativePrompt string           `json:"negative_prompt,omitempty"`
	Seed           int64            `json:"seed"`
	Artifacts      []image.Artifact `json:"artifacts"`
}

func (i Input) toSidecar(result *image.Result) Sidecar {
	return Sidecar{
		Mode:           i.mode(),
		Model:          i.Model,
		Prompt:         i.TextPrompt,
		NegativePrompt: i.NegativeTextPrompt,
		Seed:           result.Seed,
		Artifacts: lo.Map(result.Artifacts, func(a image.Artifact, _ int) image.Artifact {
			a.Base64 = ""
			return a
		}),
	}
}

// Output is the item handed back to the workflow: the artifact list plus one PNG attachment.
type Output struct {
	JSON   []image.Artifact       `json:"json"`
	Binary map[string]binary.Data `json:"binary"`
}

type Handler struct {
	generator image.Generator
	publisher *store.Publisher
}

func NewHandler(i *do.Injector) (*Handler, error) {
	return &Handler{
		generator: do.MustInvoke[image.Generator](i),
		publisher: do.MustInvoke[*store.Publisher](i),
	}, nil
}

func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Handler").With(
		"mode", input.Mode,
		"model", input.Model,
		"prompt", input.TextPrompt,
	)
	log.Info("handling node execution")

	req, err := input.toImageRequest()
	if err != nil {
		return Output{}, err
	}

	result, err := h.generator.Generate(ctx, req)
	if err != nil {
		return Output{}, err
	}

	// The image is already generated and billed, so a publish failure is logged, not returned.
	if h.publisher != nil {
		if err := h.publish(ctx, input, result); err != nil {
			log.Error("publishing generated image", "file", result.FileName, "error", err)
		}
	}

	log.Info("generated image", "file", result.FileName, "seed", result.Seed)
	return Output{
		JSON: result.Artifacts,
		Binary: map[string]binary.Data{
			BinaryKey: binary.Prepare(result.Image, result.FileName, "image/png"),
		},
	}, nil
}

func (h *Handler) publish(ctx context.Context, input Input, result *image.Result) error {
	sidecar, err := json.Marshal(input.toSidecar(result))
	if err != nil {
		return err
	}
	return h.publisher.Publish(ctx, store.Publication{
		Name:     result.FileName,
		Image:    result.Image,
		Sidecar:  sidecar,
		Metadata: input.toMetadata(result.Seed),
	})
}
