package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmorgan81/stabilitynode/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const (
	DefaultBaseURL    = "https://api.stability.ai"
	DefaultFilePrefix = "nik"

	initImageMode = "IMAGE_STRENGTH"
)

type StabilityGenerator struct {
	Client     *http.Client
	Key        string
	BaseURL    string
	FilePrefix string
	TempDir    string
}

func NewStabilityGenerator(i *do.Injector) (Generator, error) {
	return &StabilityGenerator{
		Client:     do.MustInvoke[*http.Client](i),
		Key:        do.MustInvokeNamed[string](i, "stability_key"),
		BaseURL:    do.MustInvokeNamed[string](i, "stability_base_url"),
		FilePrefix: do.MustInvokeNamed[string](i, "file_prefix"),
	}, nil
}

func (g *StabilityGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("stability").With("mode", req.mode(), "model", req.Model)

	if err := Validate(req); err != nil {
		log.Warn("rejecting request", "error", err)
		return nil, err
	}

	log.Info("generating image via api.stability.ai")
	var (
		result *Result
		err    error
	)
	switch req.mode() {
	case ImageToImage:
		result, err = g.imageToImage(ctx, log, req)
	default:
		result, err = g.textToImage(ctx, log, req)
	}
	if err != nil {
		log.Error("generation failed", "error", err)
		return nil, err
	}

	log.Info("received image via api.stability.ai", "seed", result.Seed, "artifacts", len(result.Artifacts))
	return result, nil
}

func (g *StabilityGenerator) textToImage(ctx context.Context, log *slog.Logger, req Request) (*Result, error) {
	payload := BuildPayload(req)
	log.Debug("built payload", "payload", payload)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(req), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return g.send(httpReq)
}

func (g *StabilityGenerator) imageToImage(ctx context.Context, log *slog.Logger, req Request) (*Result, error) {
	staged, err := g.stage(req.SourceImage)
	if err != nil {
		return nil, fmt.Errorf("staging source image: %w", err)
	}
	defer func() {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			log.Warn("removing staged source image", "file", staged, "error", err)
		}
	}()
	log.Debug("staged source image", "file", staged, "bytes", len(req.SourceImage))

	payload := BuildPayload(req)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writeInitImage(writer, staged, lo.Ternary(req.SourceImageName != "", req.SourceImageName, "init_image.png")); err != nil {
		return nil, err
	}

	strength := lo.FromPtrOr(req.ImageStrength, DefaultImageStrength)
	fields := [][2]string{
		{"init_image_mode", initImageMode},
		{"image_strength", formatFloat(strength)},
	}
	for idx, prompt := range payload.TextPrompts {
		fields = append(fields,
			[2]string{fmt.Sprintf("text_prompts[%d][text]", idx), prompt.Text},
			[2]string{fmt.Sprintf("text_prompts[%d][weight]", idx), formatFloat(prompt.Weight)},
		)
	}
	fields = append(fields,
		[2]string{"cfg_scale", formatFloat(payload.CfgScale)},
		[2]string{"samples", strconv.Itoa(payload.Samples)},
		[2]string{"steps", strconv.Itoa(payload.Steps)},
	)
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(req), &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	return g.send(httpReq)
}

// stage writes the source image to a temporary file and returns its path.
func (g *StabilityGenerator) stage(data []byte) (string, error) {
	f, err := os.CreateTemp(g.TempDir, "init_image_*.png")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), f.Close()
}

func writeInitImage(writer *multipart.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := writer.CreateFormFile("init_image", filepath.Base(name))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func (g *StabilityGenerator) send(httpReq *http.Request) (*Result, error) {
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.Key)

	client := lo.Ternary(g.Client != nil, g.Client, http.DefaultClient)
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return g.result(out)
}

// result maps the first artifact only, even when more samples were returned.
func (g *StabilityGenerator) result(resp Response) (*Result, error) {
	if len(resp.Artifacts) == 0 {
		return nil, &DecodeError{Err: ErrNoArtifacts}
	}

	first := resp.Artifacts[0]
	img, err := base64.StdEncoding.DecodeString(first.Base64)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("artifact image: %w", err)}
	}

	return &Result{
		Artifacts: resp.Artifacts,
		Image:     img,
		FileName:  FileName(lo.Ternary(g.FilePrefix != "", g.FilePrefix, DefaultFilePrefix), first.Seed),
		Seed:      first.Seed,
	}, nil
}

func (g *StabilityGenerator) endpoint(req Request) string {
	base := strings.TrimRight(lo.Ternary(g.BaseURL != "", g.BaseURL, DefaultBaseURL), "/")
	return fmt.Sprintf("%s/v1/generation/%s/%s", base, url.PathEscape(req.Model), req.mode())
}

func FileName(prefix string, seed int64) string {
	return fmt.Sprintf("%s_%d.png", prefix, seed)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
