package fingerprint

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DocumentUpload is a single uploaded file as handed over by the transport layer.
type DocumentUpload struct {
	Slot      string
	FileName  string
	MediaType string
	Content   []byte
}

// Documents fingerprints uploads in parallel. Results are in input order.
func Documents(ctx context.Context, uploads []DocumentUpload) ([]Digest, error) {
	digests := make([]Digest, len(uploads))
	if len(uploads) == 0 {
		return digests, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range uploads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digests[i] = Bytes(uploads[i].Content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return digests, nil
}
