package store

import (
	"context"
	"strings"

	"github.com/dmorgan81/stabilitynode/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Publication is a generated image plus a JSON sidecar describing it.
type Publication struct {
	Name     string
	Image    []byte
	Sidecar  []byte
	Metadata map[string]string
}

func (p Publication) sidecarName() string {
	return strings.TrimSuffix(p.Name, ".png") + ".json"
}

type Publisher struct {
	uploader    Uploader
	invalidator Invalidator
}

func NewPublisher(i *do.Injector) (*Publisher, error) {
	return &Publisher{
		uploader:    do.MustInvoke[Uploader](i),
		invalidator: do.MustInvoke[Invalidator](i),
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, pub Publication) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("publisher").With("name", pub.Name)
	log.Info("publishing generated image")

	uploads := []UploadParams{
		{Name: pub.Name, Data: pub.Image, ContentType: "image/png", Metadata: pub.Metadata},
		{Name: pub.sidecarName(), Data: pub.Sidecar, ContentType: "application/json", Metadata: pub.Metadata},
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, u := range uploads {
		u := u
		group.Go(func() error {
			return p.uploader.Upload(gctx, u)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	return p.invalidator.Invalidate(ctx, lo.Map(uploads, func(u UploadParams, _ int) string {
		return "/" + u.Name
	}))
}
