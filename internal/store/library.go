package store

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"partner_portal/internal/models"
)

// LibraryStore serves one library collection (documents or templates).
type LibraryStore struct {
	coll *mongo.Collection
	kind models.LibraryKind
}

func (s *LibraryStore) Kind() models.LibraryKind { return s.kind }

// List returns favorites first, then by name.
func (s *LibraryStore) List(ctx context.Context, filter bson.M) ([]models.LibraryItem, error) {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "isFavorite", Value: -1}, {Key: "name", Value: 1}})
	cur, err := s.coll.Find(ctx, and(filter), opts)
	if err != nil {
		return nil, err
	}
	items := []models.LibraryItem{}
	if err := cur.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Folders returns the distinct folder names visible under filter.
func (s *LibraryStore) Folders(ctx context.Context, filter bson.M) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	var folders []string
	if err := s.coll.Distinct(ctx, "folder", and(filter)).Decode(&folders); err != nil {
		return nil, err
	}
	sort.Strings(folders)
	return folders, nil
}

func (s *LibraryStore) Get(ctx context.Context, id string) (models.LibraryItem, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return models.LibraryItem{}, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	var item models.LibraryItem
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&item)
	return item, notFound(err)
}

func (s *LibraryStore) Create(ctx context.Context, item *models.LibraryItem) error {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	if item.ID.IsZero() {
		item.ID = bson.NewObjectID()
	}
	_, err := s.coll.InsertOne(ctx, item)
	return err
}

func (s *LibraryStore) Update(ctx context.Context, id string, set bson.M) (models.LibraryItem, error) {
	fields := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range set {
		fields[k] = v
	}
	return s.findAndUpdate(ctx, id, bson.M{"$set": fields})
}

// ToggleFavorite flips isFavorite server-side so concurrent toggles do not
// read-modify-write over each other.
func (s *LibraryStore) ToggleFavorite(ctx context.Context, id string) (models.LibraryItem, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "isFavorite", Value: bson.D{{Key: "$not", Value: bson.A{"$isFavorite"}}}},
			{Key: "updatedAt", Value: "$$NOW"},
		}}},
	}
	return s.findAndUpdate(ctx, id, pipeline)
}

func (s *LibraryStore) Delete(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMany removes every item matching filter and returns what it removed
// so the caller can release the blobs.
func (s *LibraryStore) DeleteMany(ctx context.Context, filter bson.M) ([]models.LibraryItem, error) {
	items, err := s.List(ctx, filter)
	if err != nil || len(items) == 0 {
		return items, err
	}

	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	ids := make(bson.A, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if _, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *LibraryStore) findAndUpdate(ctx context.Context, id string, update any) (models.LibraryItem, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return models.LibraryItem{}, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var item models.LibraryItem
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&item)
	return item, notFound(err)
}
