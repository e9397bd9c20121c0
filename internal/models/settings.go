package models

import "time"

const StagesSettingsID = "onboardingStages"

// StageSettings is the single globally shared settings document holding
// the ordered onboarding stages.
type StageSettings struct {
	ID        string    `bson:"_id"`
	Stages    []string  `bson:"stages"`
	UpdatedAt time.Time `bson:"updatedAt"`
}
