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

// SettingsStore is the stages.Source backed by the settings collection.
type SettingsStore struct{ coll *mongo.Collection }

func (s *SettingsStore) LoadStages(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	var doc models.StageSettings
	err := s.coll.FindOne(ctx, bson.M{"_id": models.StagesSettingsID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Stages == nil {
		doc.Stages = []string{}
	}
	return doc.Stages, nil
}

func (s *SettingsStore) SaveStages(ctx context.Context, names []string) error {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": models.StagesSettingsID},
		bson.M{"$set": bson.M{"stages": names, "updatedAt": time.Now().UTC()}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}
