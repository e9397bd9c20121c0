// Package store holds the MongoDB repositories behind the portal: partners,
// the document and template libraries, portal settings and GridFS blobs.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"partner_portal/internal/models"
)

const (
	MongoTimeout = 20 * time.Second

	CollectionPartners  = "partners"
	CollectionDocuments = "documents"
	CollectionTemplates = "templates"
	CollectionSettings  = "settings"
	BucketUploads       = "uploads"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type Store struct {
	Partners  *PartnerStore
	Documents *LibraryStore
	Templates *LibraryStore
	Settings  *SettingsStore
	Blobs     *BlobStore

	db *mongo.Database
}

func New(db *mongo.Database) *Store {
	return &Store{
		Partners:  &PartnerStore{coll: db.Collection(CollectionPartners)},
		Documents: &LibraryStore{coll: db.Collection(CollectionDocuments), kind: models.KindDocument},
		Templates: &LibraryStore{coll: db.Collection(CollectionTemplates), kind: models.KindTemplate},
		Settings:  &SettingsStore{coll: db.Collection(CollectionSettings)},
		Blobs:     NewBlobStore(db),
		db:        db,
	}
}

// EnsureIndexes creates the indexes the portal queries rely on. It is safe
// to call on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	_, err := s.db.Collection(CollectionPartners).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "partnerId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "name", Value: 1}}},
		{Keys: bson.D{{Key: "onboardingStatus", Value: 1}}},
	})
	if err != nil {
		return err
	}

	for _, name := range []string{CollectionDocuments, CollectionTemplates} {
		_, err := s.db.Collection(name).Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "partnerId", Value: 1}, {Key: "folder", Value: 1}}},
			{Keys: bson.D{{Key: "name", Value: 1}}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Library returns the store for kind.
func (s *Store) Library(kind models.LibraryKind) *LibraryStore {
	if kind == models.KindTemplate {
		return s.Templates
	}
	return s.Documents
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// and joins non-empty filters with $and.
func and(filters ...bson.M) bson.M {
	parts := bson.A{}
	for _, f := range filters {
		if len(f) > 0 {
			parts = append(parts, f)
		}
	}
	switch len(parts) {
	case 0:
		return bson.M{}
	case 1:
		return parts[0].(bson.M)
	}
	return bson.M{"$and": parts}
}
