package param

import (
	"context"
	"fmt"
	"os"

	"github.com/dmorgan81/stabilitynode/internal/log"
)

// Fetcher resolves a named secret such as the Stability API key.
type Fetcher interface {
	Fetch(context.Context, string) (string, error)
}

// EnvFetcher reads secrets from environment variables, for local runs without Parameter Store.
type EnvFetcher struct{}

func (EnvFetcher) Fetch(ctx context.Context, name string) (string, error) {
	log.FromContextOrDiscard(ctx).WithGroup("env").Info("fetching parameter", "name", name)
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}
