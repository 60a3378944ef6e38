package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "sk-test123"

func newTestGenerator(t *testing.T, handler http.HandlerFunc) (*StabilityGenerator, *int32) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	return &StabilityGenerator{
		Client:  server.Client(),
		Key:     testKey,
		BaseURL: server.URL,
		TempDir: t.TempDir(),
	}, &hits
}

func writeArtifacts(w http.ResponseWriter, artifacts ...Artifact) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Response{Artifacts: artifacts})
}

func TestGenerateRejectsLowStepsWithoutSending(t *testing.T) {
	g, hits := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		writeArtifacts(w, Artifact{Base64: "QQ==", Seed: 1})
	})

	_, err := g.Generate(context.Background(), Request{Model: StableDiffusionXL, Prompt: "a dog", Steps: lo.ToPtr(5)})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "steps", verr.Field)
	assert.Zero(t, atomic.LoadInt32(hits))
}

func TestGenerateRejectsMissingModelAndPrompt(t *testing.T) {
	g, hits := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := g.Generate(context.Background(), Request{Prompt: "a dog"})
	assert.ErrorContains(t, err, "model")

	_, err = g.Generate(context.Background(), Request{Model: StableDiffusionXL})
	assert.ErrorContains(t, err, "prompt")

	_, err = g.Generate(context.Background(), Request{Model: "stable-diffusion-512-v2-1", Prompt: "a dog"})
	assert.ErrorContains(t, err, "unknown model")

	assert.Zero(t, atomic.LoadInt32(hits))
}

func TestGenerateTextToImage(t *testing.T) {
	req := Request{Model: StableDiffusionXL, Prompt: "a dog in the forest", NegativePrompt: "cat"}

	g, hits := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generation/stable-diffusion-xl-1024-v1-0/text-to-image", r.URL.Path)
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		var got Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, BuildPayload(req), got)

		writeArtifacts(w, Artifact{Base64: "QQ==", Seed: 42, FinishReason: "SUCCESS"})
	})

	result, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.Equal(t, []byte{0x41}, result.Image)
	assert.Equal(t, "nik_42.png", result.FileName)
	assert.Equal(t, int64(42), result.Seed)
	assert.Equal(t, []Artifact{{Base64: "QQ==", Seed: 42, FinishReason: "SUCCESS"}}, result.Artifacts)
}

func TestGenerateUsesFirstArtifactOnly(t *testing.T) {
	g, _ := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		writeArtifacts(w, Artifact{Base64: "QQ==", Seed: 7}, Artifact{Base64: "Qg==", Seed: 8})
	})
	g.FilePrefix = "kitten"

	result, err := g.Generate(context.Background(), Request{Model: StableDiffusionV16, Prompt: "a dog"})
	require.NoError(t, err)

	assert.Equal(t, []byte("A"), result.Image)
	assert.Equal(t, "kitten_7.png", result.FileName)
	assert.Len(t, result.Artifacts, 2)
}

func TestGenerateSeedRoundTrip(t *testing.T) {
	for _, seed := range []int64{0, 1, 42, 4294967295} {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			g, _ := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				var got Payload
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				writeArtifacts(w, Artifact{Base64: "QQ==", Seed: got.Seed})
			})

			result, err := g.Generate(context.Background(), Request{Model: StableDiffusionXL, Prompt: "a dog", Seed: lo.ToPtr(seed)})
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("nik_%d.png", seed), result.FileName)
		})
	}
}

func TestGenerateImageToImage(t *testing.T) {
	source := []byte("\x89PNG fake image bytes")

	g, hits := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generation/stable-diffusion-v1-6/image-to-image", r.URL.Path)
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "IMAGE_STRENGTH", r.FormValue("init_image_mode"))
		assert.Equal(t, "0.35", r.FormValue("image_strength"))
		assert.Equal(t, "a dog", r.FormValue("text_prompts[0][text]"))
		assert.Equal(t, "1", r.FormValue("text_prompts[0][weight]"))
		assert.Equal(t, "cat", r.FormValue("text_prompts[1][text]"))
		assert.Equal(t, "-1", r.FormValue("text_prompts[1][weight]"))
		assert.Equal(t, "9", r.FormValue("cfg_scale"))
		assert.Equal(t, "1", r.FormValue("samples"))
		assert.Equal(t, "40", r.FormValue("steps"))

		file, header, err := r.FormFile("init_image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "dog.png", header.Filename)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, source, data)

		writeArtifacts(w, Artifact{Base64: "QQ==", Seed: 99})
	})

	result, err := g.Generate(context.Background(), Request{
		Mode:            ImageToImage,
		Model:           StableDiffusionV16,
		Prompt:          "a dog",
		NegativePrompt:  "cat",
		CfgScale:        lo.ToPtr(9.0),
		SourceImage:     source,
		SourceImageName: "dog.png",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.Equal(t, "nik_99.png", result.FileName)

	entries, err := os.ReadDir(g.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged source image should be removed")
}

func TestGenerateImageToImageRemovesStagedFileOnFailure(t *testing.T) {
	g, _ := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := g.Generate(context.Background(), Request{
		Mode:          ImageToImage,
		Model:         StableDiffusionXL,
		Prompt:        "a dog",
		ImageStrength: lo.ToPtr(0.8),
		SourceImage:   []byte("img"),
	})
	require.Error(t, err)

	entries, err := os.ReadDir(g.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateSurfacesAPIErrors(t *testing.T) {
	g, hits := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"id":"abc123","name":"unauthorized","message":"missing authorization header"}`))
	})

	_, err := g.Generate(context.Background(), Request{Model: StableDiffusionXL, Prompt: "a dog"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "abc123", apiErr.ID)
	assert.Equal(t, "unauthorized", apiErr.Name)
	assert.Equal(t, "missing authorization header", apiErr.Message)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), atomic.LoadInt32(hits), "errors are not retried")
}

func TestGenerateSurfacesNonJSONErrors(t *testing.T) {
	g, _ := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	})

	_, err := g.Generate(context.Background(), Request{Model: StableDiffusionXL, Prompt: "a dog"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "slow down", apiErr.Body)
	assert.Contains(t, err.Error(), "slow down")
}

func TestGenerateDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		is   error
	}{
		{"no artifacts", `{"artifacts":[]}`, ErrNoArtifacts},
		{"missing artifacts", `{}`, ErrNoArtifacts},
		{"invalid base64", `{"artifacts":[{"base64":"not base64!","seed":1}]}`, nil},
		{"invalid json", `{"artifacts":`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := g.Generate(context.Background(), Request{Model: StableDiffusionXL, Prompt: "a dog"})

			var derr *DecodeError
			require.True(t, errors.As(err, &derr), "expected DecodeError, got %v", err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}
