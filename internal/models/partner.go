package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type ChecklistItem struct {
	Label     string `json:"label" bson:"label"`
	Completed bool   `json:"completed" bson:"completed"`
}

type Comment struct {
	Author string    `json:"author" bson:"author"`
	Text   string    `json:"text" bson:"text"`
	Date   time.Time `json:"date" bson:"date"`
}

// Partner is keyed for access control by PartnerID, not by the document id.
type Partner struct {
	ID               bson.ObjectID   `json:"id" bson:"_id,omitempty"`
	Name             string          `json:"name" bson:"name"`
	PartnerID        string          `json:"partnerId" bson:"partnerId"`
	OnboardingStatus string          `json:"onboardingStatus" bson:"onboardingStatus"`
	PSM              string          `json:"psm" bson:"psm"`
	IntegrationType  string          `json:"integrationType" bson:"integrationType"`
	ContactEmail     string          `json:"contactEmail" bson:"contactEmail"`
	Notes            string          `json:"notes" bson:"notes"`
	CSGuideStatus    []ChecklistItem `json:"csGuideStatus" bson:"csGuideStatus"`
	Comments         []Comment       `json:"comments" bson:"comments"`
	CreatedAt        time.Time       `json:"createdAt" bson:"createdAt"`
	LastUpdated      time.Time       `json:"lastUpdated" bson:"lastUpdated"`
}

// Progress reports completed and total checklist items.
func (p Partner) Progress() (done, total int) {
	for _, item := range p.CSGuideStatus {
		if item.Completed {
			done++
		}
	}
	return done, len(p.CSGuideStatus)
}

// Checklist builds an all-open checklist from labels.
func Checklist(labels []string) []ChecklistItem {
	items := make([]ChecklistItem, 0, len(labels))
	for _, l := range labels {
		items = append(items, ChecklistItem{Label: l})
	}
	return items
}
