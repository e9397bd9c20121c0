package store

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"partner_portal/internal/models"
)

// PartnerQuery narrows a roster listing on top of the access filter.
type PartnerQuery struct {
	Search string
	Status string
}

func (q PartnerQuery) Filter() bson.M {
	f := bson.M{}
	if s := strings.TrimSpace(q.Search); s != "" {
		rx := bson.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
		f["$or"] = bson.A{
			bson.M{"name": rx},
			bson.M{"partnerId": rx},
			bson.M{"contactEmail": rx},
			bson.M{"psm": rx},
		}
	}
	if s := strings.TrimSpace(q.Status); s != "" {
		f["onboardingStatus"] = s
	}
	return f
}

type PartnerStore struct{ coll *mongo.Collection }

func (s *PartnerStore) List(ctx context.Context, filter bson.M, q PartnerQuery) ([]models.Partner, error) {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cur, err := s.coll.Find(ctx, and(filter, q.Filter()), opts)
	if err != nil {
		return nil, err
	}
	partners := []models.Partner{}
	if err := cur.All(ctx, &partners); err != nil {
		return nil, err
	}
	return partners, nil
}

func (s *PartnerStore) Get(ctx context.Context, partnerID string) (models.Partner, error) {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	var p models.Partner
	err := s.coll.FindOne(ctx, bson.M{"partnerId": partnerID}).Decode(&p)
	return p, notFound(err)
}

func (s *PartnerStore) Create(ctx context.Context, p *models.Partner) error {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	now := time.Now().UTC()
	p.CreatedAt, p.LastUpdated = now, now
	if p.Comments == nil {
		p.Comments = []models.Comment{}
	}
	res, err := s.coll.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if id, ok := res.InsertedID.(bson.ObjectID); ok {
		p.ID = id
	}
	return nil
}

// Update sets the given fields and bumps lastUpdated.
func (s *PartnerStore) Update(ctx context.Context, partnerID string, set bson.M) (models.Partner, error) {
	fields := bson.M{"lastUpdated": time.Now().UTC()}
	for k, v := range set {
		fields[k] = v
	}
	return s.findAndUpdate(ctx, bson.M{"partnerId": partnerID}, bson.M{"$set": fields})
}

func (s *PartnerStore) Delete(ctx context.Context, partnerID string) error {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	res, err := s.coll.DeleteOne(ctx, bson.M{"partnerId": partnerID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChecklistItem marks the checklist entry at index. A missing partner or
// an index past the end both report ErrNotFound.
func (s *PartnerStore) SetChecklistItem(ctx context.Context, partnerID string, index int, completed bool) (models.Partner, error) {
	path := "csGuideStatus." + strconv.Itoa(index)
	filter := bson.M{"partnerId": partnerID, path: bson.M{"$exists": true}}
	update := bson.M{"$set": bson.M{
		path + ".completed": completed,
		"lastUpdated":       time.Now().UTC(),
	}}
	return s.findAndUpdate(ctx, filter, update)
}

func (s *PartnerStore) AddComment(ctx context.Context, partnerID string, c models.Comment) (models.Partner, error) {
	update := bson.M{
		"$push": bson.M{"comments": c},
		"$set":  bson.M{"lastUpdated": time.Now().UTC()},
	}
	return s.findAndUpdate(ctx, bson.M{"partnerId": partnerID}, update)
}

// RenameStatus moves every partner on stage from to stage to.
func (s *PartnerStore) RenameStatus(ctx context.Context, from, to string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	res, err := s.coll.UpdateMany(ctx,
		bson.M{"onboardingStatus": from},
		bson.M{"$set": bson.M{"onboardingStatus": to, "lastUpdated": time.Now().UTC()}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *PartnerStore) CountStatus(ctx context.Context, status string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	return s.coll.CountDocuments(ctx, bson.M{"onboardingStatus": status})
}

func (s *PartnerStore) findAndUpdate(ctx context.Context, filter, update bson.M) (models.Partner, error) {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var p models.Partner
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&p)
	return p, notFound(err)
}
