package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// BlobStore keeps uploaded files in a GridFS bucket. Storage paths have the
// form "uploads/<file id hex>".
type BlobStore struct{ bucket *mongo.GridFSBucket }

func NewBlobStore(db *mongo.Database) *BlobStore {
	return &BlobStore{bucket: db.GridFSBucket(options.GridFSBucket().SetName(BucketUploads))}
}

func (b *BlobStore) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	filename := uuid.NewString() + "/" + path.Base(name)
	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "contentType", Value: contentType}})
	id, err := b.bucket.UploadFromStream(ctx, filename, r, opts)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return BucketUploads + "/" + id.Hex(), nil
}

// Open streams the blob. The caller must close the reader.
func (b *BlobStore) Open(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	id, err := blobID(storagePath)
	if err != nil {
		return nil, err
	}
	stream, err := b.bucket.OpenDownloadStream(ctx, id)
	if errors.Is(err, mongo.ErrFileNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (b *BlobStore) Delete(ctx context.Context, storagePath string) error {
	id, err := blobID(storagePath)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	err = b.bucket.Delete(ctx, id)
	if errors.Is(err, mongo.ErrFileNotFound) {
		return ErrNotFound
	}
	return err
}

func blobID(storagePath string) (bson.ObjectID, error) {
	hex, ok := strings.CutPrefix(storagePath, BucketUploads+"/")
	if !ok {
		return bson.ObjectID{}, ErrNotFound
	}
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return bson.ObjectID{}, ErrNotFound
	}
	return id, nil
}
