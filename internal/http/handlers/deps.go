package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"partner_portal/internal/auth"
	"partner_portal/internal/config"
	"partner_portal/internal/live"
	"partner_portal/internal/models"
	"partner_portal/internal/rbac"
	"partner_portal/internal/stages"
	"partner_portal/internal/store"
)

type PartnerRepo interface {
	List(ctx context.Context, filter bson.M, q store.PartnerQuery) ([]models.Partner, error)
	Get(ctx context.Context, partnerID string) (models.Partner, error)
	Create(ctx context.Context, p *models.Partner) error
	Update(ctx context.Context, partnerID string, set bson.M) (models.Partner, error)
	Delete(ctx context.Context, partnerID string) error
	SetChecklistItem(ctx context.Context, partnerID string, index int, completed bool) (models.Partner, error)
	AddComment(ctx context.Context, partnerID string, c models.Comment) (models.Partner, error)
	RenameStatus(ctx context.Context, from, to string) (int64, error)
	CountStatus(ctx context.Context, status string) (int64, error)
}

type LibraryRepo interface {
	List(ctx context.Context, filter bson.M) ([]models.LibraryItem, error)
	Folders(ctx context.Context, filter bson.M) ([]string, error)
	Get(ctx context.Context, id string) (models.LibraryItem, error)
	Create(ctx context.Context, item *models.LibraryItem) error
	Update(ctx context.Context, id string, set bson.M) (models.LibraryItem, error)
	ToggleFavorite(ctx context.Context, id string) (models.LibraryItem, error)
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, filter bson.M) ([]models.LibraryItem, error)
}

type BlobRepo interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
	Open(ctx context.Context, storagePath string) (io.ReadCloser, error)
	Delete(ctx context.Context, storagePath string) error
}

type Publisher interface {
	Publish(e live.Event)
}

// Deps is everything the handlers reach for.
type Deps struct {
	DB        *gorm.DB
	Partners  PartnerRepo
	Documents LibraryRepo
	Templates LibraryRepo
	Blobs     BlobRepo
	Stages    *stages.Cache
	Live      Publisher
	Sessions  *auth.Sessions
	Checker   rbac.Checker
	Log       *zap.Logger
	Portal    config.Portal

	JWTSecret      string
	SecureCookies  bool
	UploadMaxBytes int64
	LoginRateLimit int64
}

func (d *Deps) library(kind models.LibraryKind) LibraryRepo {
	if kind == models.KindTemplate {
		return d.Templates
	}
	return d.Documents
}

// inputError is a validation failure reported back to the caller as-is.
type inputError string

func (e inputError) Error() string { return string(e) }

func invalid(format string, args ...any) error {
	return inputError(fmt.Sprintf(format, args...))
}

// fail maps domain errors onto HTTP statuses. Anything unexpected is
// logged and reported as msg.
func (d *Deps) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, new(inputError)):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, rbac.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, stages.ErrEmpty),
		errors.Is(err, stages.ErrBlank),
		errors.Is(err, stages.ErrDuplicate),
		errors.Is(err, stages.ErrOutOfRange),
		errors.Is(err, stages.ErrUnknown):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		d.Log.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// audit records an action by the current user.
func (d *Deps) audit(c *gin.Context, action, resourceType, resourceID, partnerID string, meta map[string]any) {
	u, _ := auth.CurrentUser(c)
	d.auditAs(c, u, action, resourceType, resourceID, partnerID, meta)
}

func (d *Deps) auditAs(c *gin.Context, actor models.User, action, resourceType, resourceID, partnerID string, meta map[string]any) {
	var metaJSON datatypes.JSON
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err == nil {
			metaJSON = datatypes.JSON(raw)
		}
	}
	entry := models.AuditLog{
		UserID:        actor.ID,
		PartnerID:     partnerID,
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Metadata:      metaJSON,
		IP:            c.ClientIP(),
		UserAgent:     c.GetHeader("User-Agent"),
		InitiatorName: actor.DisplayName(),
		CreatedAt:     time.Now(),
	}
	if err := d.DB.Create(&entry).Error; err != nil {
		d.Log.Warn("write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (d *Deps) publish(action, collection, id, partnerID string) {
	if d.Live == nil {
		return
	}
	d.Live.Publish(live.Event{Action: action, Collection: collection, ID: id, PartnerID: partnerID})
}

func currentUser(c *gin.Context) models.User {
	u, _ := auth.CurrentUser(c)
	return u
}
