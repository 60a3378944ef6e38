package inject

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/stabilitynode/internal/handler"
	"github.com/dmorgan81/stabilitynode/internal/image"
	"github.com/dmorgan81/stabilitynode/internal/log"
	"github.com/dmorgan81/stabilitynode/internal/param"
	"github.com/dmorgan81/stabilitynode/internal/store"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const apiKeyEnv = "STABILITY_API_KEY"

func getenv(name, fallback string) string {
	v := os.Getenv(name)
	return lo.Ternary(v != "", v, fallback)
}

func Setup(ctx context.Context) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return config.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	keyParam := os.Getenv("STABILITY_KEY_PARAM")
	if keyParam != "" {
		do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	} else {
		do.ProvideValue[param.Fetcher](injector, param.EnvFetcher{})
	}
	do.ProvideNamed[string](injector, "stability_key", func(i *do.Injector) (string, error) {
		return do.MustInvoke[param.Fetcher](i).Fetch(ctx, lo.Ternary(keyParam != "", keyParam, apiKeyEnv))
	})
	do.ProvideNamedValue[string](injector, "stability_base_url", getenv("STABILITY_BASE_URL", image.DefaultBaseURL))
	do.ProvideNamedValue[string](injector, "file_prefix", getenv("FILE_PREFIX", image.DefaultFilePrefix))
	do.ProvideNamedValue[string](injector, "bucket", os.Getenv("BUCKET"))
	do.ProvideNamedValue[string](injector, "distribution", os.Getenv("DISTRIBUTION"))

	do.Provide[image.Generator](injector, image.NewStabilityGenerator)
	do.Provide[store.Uploader](injector, func(i *do.Injector) (store.Uploader, error) {
		if do.MustInvokeNamed[string](i, "bucket") != "" {
			return store.NewS3Uploader(i)
		}
		if dir := os.Getenv("OUTPUT_DIR"); dir != "" {
			return &store.FileUploader{Dir: dir}, nil
		}
		return store.NopUploader{}, nil
	})
	do.Provide[store.Invalidator](injector, func(i *do.Injector) (store.Invalidator, error) {
		if do.MustInvokeNamed[string](i, "distribution") != "" {
			return store.NewCloudFrontInvalidator(i)
		}
		return store.NopInvalidator{}, nil
	})
	do.Provide[*store.Publisher](injector, store.NewPublisher)

	do.Provide[*handler.Handler](injector, handler.NewHandler)

	return injector
}
