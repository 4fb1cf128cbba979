package state

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"DealScanner/internal/ports"
)

// GCSStore persists the state document as a single object in a Cloud
// Storage bucket, using generation preconditions so that concurrent runs
// never overwrite each other blindly.
type GCSStore struct {
	bucket *storage.BucketHandle
	object string
}

var _ ports.BlobStore = (*GCSStore)(nil)

// NewGCSStore opens a storage client for the given bucket and object name.
func NewGCSStore(ctx context.Context, bucket, object string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return &GCSStore{bucket: client.Bucket(bucket), object: object}, nil
}

// Load reads the current object bytes and the generation they belong to.
// An absent object is not an error; it reports generation 0 so the first
// Save requires the object to still not exist.
func (s *GCSStore) Load(ctx context.Context) ([]byte, int64, error) {
	r, err := s.bucket.Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("gcs: open %s: %w", s.object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("gcs: read %s: %w", s.object, err)
	}
	return data, r.Attrs.Generation, nil
}

// Save writes data with an if-generation-match precondition. Generation 0
// means the object must not exist yet. A failed precondition surfaces as
// ports.ErrConflict.
func (s *GCSStore) Save(ctx context.Context, data []byte, generation int64) (int64, error) {
	obj := s.bucket.Object(s.object)
	if generation == 0 {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		obj = obj.If(storage.Conditions{GenerationMatch: generation})
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("gcs: write %s: %w", s.object, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return 0, ports.ErrConflict
		}
		return 0, fmt.Errorf("gcs: commit %s: %w", s.object, err)
	}
	return w.Attrs().Generation, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 412
}
