package builds3

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/k11v/buildbox/internal/build"
	"github.com/k11v/buildbox/internal/s3util"
)

var _ build.Storage = (*Storage)(nil)

// Storage mirrors build directories under <prefix>/<relative path> keys.
type Storage struct {
	client *s3.Client

	// uploadPartSize should be greater than or equal 5MB.
	// See github.com/aws/aws-sdk-go-v2/feature/s3/manager.
	uploadPartSize int

	uploadConcurrency int
}

func NewStorage(client *s3.Client) *Storage {
	return &Storage{
		client:            client,
		uploadPartSize:    10 * 1024 * 1024, // 10MB
		uploadConcurrency: 4,
	}
}

// UploadDir implements build.Storage.
// A missing directory uploads nothing.
func (s *Storage) UploadDir(ctx context.Context, prefix string, dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = int64(s.uploadPartSize)
	})

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.uploadConcurrency)

	err := filepath.WalkDir(dir, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, name)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))

		g.Go(func() error {
			return s.uploadFile(ctx, uploader, key, name)
		})
		return ctx.Err()
	})
	if waitErr := g.Wait(); waitErr != nil {
		return fmt.Errorf("builds3.Storage: %w", waitErr)
	}
	if err != nil {
		return fmt.Errorf("builds3.Storage: %w", err)
	}
	return nil
}

func (s *Storage) uploadFile(ctx context.Context, uploader *manager.Uploader, key string, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s3util.BucketName,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// DeleteDir implements build.Storage.
func (s *Storage) DeleteDir(ctx context.Context, prefix string) error {
	dirPrefix := prefix + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s3util.BucketName,
		Prefix: &dirPrefix,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("builds3.Storage: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, object := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: object.Key})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &s3util.BucketName,
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return fmt.Errorf("builds3.Storage: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("builds3.Storage: delete %s: %s", deref(e.Key), deref(e.Message))
		}
	}

	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
