package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"partner_portal/internal/auth"
	"partner_portal/internal/models"
	"partner_portal/internal/stages"
)

const DefaultAdminEmail = "admin@example.com"

type Options struct {
	AdminEmail    string
	AdminPassword string // generated and logged when empty
	Stages        []string
}

type Result struct {
	AdminCreated  bool
	AdminPassword string // set only when a password was generated
	StagesSeeded  bool
}

// FirstSetup makes sure an admin account and the onboarding stage list
// exist. Running it again changes nothing.
func FirstSetup(ctx context.Context, db *gorm.DB, settings stages.Source, opts Options, log *zap.Logger) (Result, error) {
	var res Result

	email := strings.ToLower(strings.TrimSpace(opts.AdminEmail))
	if email == "" {
		email = DefaultAdminEmail
	}

	var admin models.User
	err := db.WithContext(ctx).Where("email = ?", email).First(&admin).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		password := opts.AdminPassword
		if password == "" {
			password = strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
			res.AdminPassword = password
		}
		passHash, err := auth.HashPassword(password)
		if err != nil {
			return res, fmt.Errorf("hash admin password: %w", err)
		}
		admin = models.User{
			Email:        email,
			Name:         "Admin User",
			Role:         models.RoleAdmin,
			Status:       models.UserActive,
			PasswordHash: passHash,
		}
		if err := db.WithContext(ctx).Create(&admin).Error; err != nil {
			return res, fmt.Errorf("create admin user: %w", err)
		}
		res.AdminCreated = true
	case err != nil:
		return res, fmt.Errorf("load admin user: %w", err)
	}

	current, err := settings.LoadStages(ctx)
	if err != nil {
		return res, fmt.Errorf("load stages: %w", err)
	}
	if current == nil {
		names, err := stages.Normalize(opts.Stages)
		if err != nil {
			return res, fmt.Errorf("default stages: %w", err)
		}
		if err := settings.SaveStages(ctx, names); err != nil {
			return res, fmt.Errorf("save stages: %w", err)
		}
		res.StagesSeeded = true
	}

	fields := []zap.Field{
		zap.String("admin", email),
		zap.Bool("admin_created", res.AdminCreated),
		zap.Bool("stages_seeded", res.StagesSeeded),
	}
	if res.AdminPassword != "" {
		fields = append(fields, zap.String("generated_password", res.AdminPassword))
	}
	log.Info("seed ok", fields...)
	return res, nil
}
