package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// LibraryKind separates partner documents from shared templates. Both are
// stored with the same shape in their own collection.
type LibraryKind string

const (
	KindDocument LibraryKind = "documents"
	KindTemplate LibraryKind = "templates"
)

// LibraryItem is a document or template. PartnerID is always stored; an
// empty value on a template means it is shared with every partner.
type LibraryItem struct {
	ID          bson.ObjectID `json:"id" bson:"_id,omitempty"`
	Name        string        `json:"name" bson:"name"`
	FileName    string        `json:"fileName" bson:"fileName,omitempty"` // as uploaded
	Type        string        `json:"type" bson:"type"`
	Folder      string        `json:"folder" bson:"folder"`
	URL         string        `json:"url" bson:"url"`
	StoragePath string        `json:"storagePath" bson:"storagePath"`
	ContentType string        `json:"contentType" bson:"contentType"`
	Size        int64         `json:"size" bson:"size"`
	IsFavorite  bool          `json:"isFavorite" bson:"isFavorite"`
	PartnerID   string        `json:"partnerId" bson:"partnerId"`
	UploadedBy  string        `json:"uploadedBy" bson:"uploadedBy"`
	CreatedAt   time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt" bson:"updatedAt"`
}

const RootFolder = "General"
