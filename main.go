package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/stabilitynode/internal/handler"
	"github.com/dmorgan81/stabilitynode/internal/inject"
	"github.com/dmorgan81/stabilitynode/internal/log"
	"github.com/samber/do"
)

func main() {
	ctx := log.NewContext(context.Background(), log.New(os.Stderr, os.Getenv("LOG_LEVEL")))
	injector := inject.Setup(ctx)
	handler := do.MustInvoke[*handler.Handler](injector)
	lambda.StartWithOptions(handler.Handle, lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
		_ = injector.Shutdown()
	}))
}
