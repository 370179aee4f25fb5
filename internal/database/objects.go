package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"infra-rag-platform/models"
)

const (
	ObjectsBucket = "objects"
	ObjectsRoute  = "/objects/"

	memoryScheme = "memory://"
)

// GridFSObjectStore keeps binary objects in a GridFS bucket and hands out public URLs
// served by the objects route.
type GridFSObjectStore struct {
	bucket  *gridfs.Bucket
	baseURL string
}

func NewGridFSObjectStore(db *mongo.Database, baseURL string) (*GridFSObjectStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(ObjectsBucket))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFSObjectStore{bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload stores data under path. Uploading the same path again adds a newer revision.
func (s *GridFSObjectStore) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", fmt.Errorf("%w: object path is required", models.ErrInvalidInput)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetWriteDeadline(deadline); err != nil {
			return "", err
		}
	}

	opts := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "content_type", Value: contentType},
		{Key: "uploaded_at", Value: time.Now().UTC()},
	})
	if _, err := s.bucket.UploadFromStream(path, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return objectURL(s.baseURL, path), nil
}

func (s *GridFSObjectStore) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	stream, contentType, _, err := s.Open(ctx, ObjectPath(ref))
	if err != nil {
		return nil, "", err
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", ref, err)
	}
	return data, contentType, nil
}

// Open streams the latest revision of the object at path.
func (s *GridFSObjectStore) Open(ctx context.Context, path string) (io.ReadCloser, string, int64, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetReadDeadline(deadline); err != nil {
			return nil, "", 0, err
		}
	}

	stream, err := s.bucket.OpenDownloadStreamByName(strings.TrimLeft(path, "/"))
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, "", 0, fmt.Errorf("object %s: %w", path, models.ErrNotFound)
		}
		return nil, "", 0, fmt.Errorf("open %s: %w", path, err)
	}

	file := stream.GetFile()
	contentType := "application/octet-stream"
	if file.Metadata != nil {
		if v, err := file.Metadata.LookupErr("content_type"); err == nil {
			if ct, ok := v.StringValueOK(); ok && ct != "" {
				contentType = ct
			}
		}
	}
	return stream, contentType, file.Length, nil
}

// Open serves objects held in memory, mirroring GridFSObjectStore.Open.
func (m *MemoryStore) Open(ctx context.Context, path string) (io.ReadCloser, string, int64, error) {
	data, contentType, err := m.Fetch(ctx, path)
	if err != nil {
		return nil, "", 0, err
	}
	return io.NopCloser(bytes.NewReader(data)), contentType, int64(len(data)), nil
}

func objectURL(baseURL, path string) string {
	return baseURL + ObjectsRoute + path
}

// ObjectPath recovers the storage path from a reference returned by Upload.
func ObjectPath(ref string) string {
	if strings.HasPrefix(ref, memoryScheme) {
		return strings.TrimPrefix(ref, memoryScheme)
	}
	if i := strings.Index(ref, ObjectsRoute); i >= 0 {
		return ref[i+len(ObjectsRoute):]
	}
	return strings.TrimLeft(ref, "/")
}
