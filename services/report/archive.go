package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"

	"kull-server/pkg/config"
)

// Archiver stores finished reports as JSON objects in a bucket so runs can
// be revisited after the response is gone. A nil client disables archiving.
type Archiver struct {
	client *minio.Client
	bucket string
}

type ArchiverParams struct {
	fx.In

	Client *minio.Client `optional:"true"`
	Config *config.Config
}

func NewArchiver(p ArchiverParams) *Archiver {
	return &Archiver{
		client: p.Client,
		bucket: p.Config.Minio.BucketName,
	}
}

func (a *Archiver) Enabled() bool {
	return a != nil && a.client != nil && a.bucket != ""
}

// Store writes the report under reports/{shootID}/{generatedAt}.json and
// returns the object key.
func (a *Archiver) Store(ctx context.Context, shootID string, rep *Report) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	if rep == nil {
		return "", fmt.Errorf("nil report")
	}

	payload, err := json.Marshal(rep)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	key := fmt.Sprintf("reports/%s/%s.json", shootID, rep.GeneratedAt.UTC().Format("20060102T150405Z"))
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	return key, nil
}
