package handlers

import (
	"fmt"
	"net/http"
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"partner_portal/internal/auth"
	"partner_portal/internal/models"
	"partner_portal/internal/stages"
	"partner_portal/internal/store"
)

const (
	collPartners   = "partners"
	maxCommentLen  = 2000
	maxPartnerName = 200
)

// PartnerView is a partner with its checklist progress.
type PartnerView struct {
	models.Partner
	Done    int `json:"done"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

func viewPartner(p models.Partner) PartnerView {
	done, total := p.Progress()
	v := PartnerView{Partner: p, Done: done, Total: total}
	if total > 0 {
		v.Percent = done * 100 / total
	}
	return v
}

// ListPartners returns the roster rows visible to the current user.
func ListPartners(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := auth.Scope(c).Filter(bson.M{})
		if err != nil {
			d.fail(c, err, "failed to list partners")
			return
		}
		q := store.PartnerQuery{Search: c.Query("q"), Status: c.Query("status")}
		partners, err := d.Partners.List(c, filter, q)
		if err != nil {
			d.fail(c, err, "failed to list partners")
			return
		}
		views := make([]PartnerView, 0, len(partners))
		for _, p := range partners {
			views = append(views, viewPartner(p))
		}
		c.JSON(http.StatusOK, gin.H{"partners": views})
	}
}

// GetPartner returns one partner. Rows outside the caller's scope are
// reported as missing.
func GetPartner(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := d.loadPartner(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"partner": viewPartner(p)})
	}
}

type partnerInput struct {
	Name             *string `json:"name"`
	PartnerID        *string `json:"partnerId"`
	OnboardingStatus *string `json:"onboardingStatus"`
	PSM              *string `json:"psm"`
	IntegrationType  *string `json:"integrationType"`
	ContactEmail     *string `json:"contactEmail"`
	Notes            *string `json:"notes"`
}

// partnerFields validates the input and returns the document fields it sets.
// partnerFields validates the submitted fields. A stage equal to current is
// left alone even when it is no longer configured.
func (d *Deps) partnerFields(c *gin.Context, in partnerInput, current string) (bson.M, error) {
	set := bson.M{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || len(name) > maxPartnerName {
			return nil, invalid("name must be 1-%d characters", maxPartnerName)
		}
		set["name"] = name
	}
	if in.OnboardingStatus != nil && (current == "" || *in.OnboardingStatus != current) {
		list, err := d.Stages.Get(c)
		if err != nil {
			return nil, err
		}
		i := stages.Index(list, *in.OnboardingStatus)
		if i < 0 {
			return nil, fmt.Errorf("%w: %q", stages.ErrUnknown, *in.OnboardingStatus)
		}
		set["onboardingStatus"] = list[i]
	}
	if in.PSM != nil {
		set["psm"] = strings.TrimSpace(*in.PSM)
	}
	if in.IntegrationType != nil {
		it := strings.TrimSpace(*in.IntegrationType)
		if it != "" && !slices.Contains(d.Portal.IntegrationTypes, it) {
			return nil, invalid("unknown integration type %q", it)
		}
		set["integrationType"] = it
	}
	if in.ContactEmail != nil {
		email := strings.TrimSpace(*in.ContactEmail)
		if email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				return nil, invalid("invalid contact email %q", email)
			}
		}
		set["contactEmail"] = email
	}
	if in.Notes != nil {
		set["notes"] = strings.TrimSpace(*in.Notes)
	}
	return set, nil
}

// CreatePartner adds a roster entry with a fresh checklist.
func CreatePartner(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in partnerInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		pid := ""
		if in.PartnerID != nil {
			pid = strings.TrimSpace(*in.PartnerID)
		}
		if pid == "" || strings.ContainsAny(pid, "/ ") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "partnerId is required and may not contain spaces or slashes"})
			return
		}
		if in.Name == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		if in.OnboardingStatus == nil || strings.TrimSpace(*in.OnboardingStatus) == "" {
			list, err := d.Stages.Get(c)
			if err != nil {
				d.fail(c, err, "failed to load stages")
				return
			}
			in.OnboardingStatus = &list[0]
		}
		set, err := d.partnerFields(c, in, "")
		if err != nil {
			d.fail(c, err, "failed to create partner")
			return
		}

		p := models.Partner{
			PartnerID:     pid,
			CSGuideStatus: models.Checklist(d.Portal.CSGuide),
			Comments:      []models.Comment{},
		}
		p.Name, _ = set["name"].(string)
		p.OnboardingStatus, _ = set["onboardingStatus"].(string)
		p.PSM, _ = set["psm"].(string)
		p.IntegrationType, _ = set["integrationType"].(string)
		p.ContactEmail, _ = set["contactEmail"].(string)
		p.Notes, _ = set["notes"].(string)

		if err := d.Partners.Create(c, &p); err != nil {
			d.fail(c, err, "failed to create partner")
			return
		}
		d.audit(c, "partner.create", "partner", p.PartnerID, p.PartnerID, map[string]any{"name": p.Name})
		d.publish("created", collPartners, p.PartnerID, p.PartnerID)
		c.JSON(http.StatusCreated, gin.H{"partner": viewPartner(p)})
	}
}

// UpdatePartner patches roster fields. The partnerId itself is immutable.
func UpdatePartner(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := d.loadPartner(c)
		if !ok {
			return
		}
		var in partnerInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if in.PartnerID != nil && strings.TrimSpace(*in.PartnerID) != p.PartnerID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "partnerId cannot be changed"})
			return
		}
		set, err := d.partnerFields(c, in, p.OnboardingStatus)
		if err != nil {
			d.fail(c, err, "failed to update partner")
			return
		}
		if len(set) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
			return
		}

		updated, err := d.Partners.Update(c, p.PartnerID, set)
		if err != nil {
			d.fail(c, err, "failed to update partner")
			return
		}
		meta := map[string]any{}
		for k, v := range set {
			meta[k] = v
		}
		d.audit(c, "partner.update", "partner", p.PartnerID, p.PartnerID, meta)
		d.publish("updated", collPartners, p.PartnerID, p.PartnerID)
		c.JSON(http.StatusOK, gin.H{"partner": viewPartner(updated)})
	}
}

// DeletePartner removes the partner together with its documents, its
// partner-specific templates and their blobs. Partner users scoped to it
// fall back to the default role.
func DeletePartner(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := d.loadPartner(c)
		if !ok {
			return
		}
		if err := d.Partners.Delete(c, p.PartnerID); err != nil {
			d.fail(c, err, "failed to delete partner")
			return
		}

		users := d.DB.Model(&models.User{}).
			Where("partner_id = ? AND role = ?", p.PartnerID, models.RolePartner).
			Updates(map[string]any{"role": models.RoleDefault, "partner_id": ""})
		if users.Error != nil {
			d.Log.Error("unscope partner users", zap.String("partner", p.PartnerID), zap.Error(users.Error))
		}

		removed := 0
		for _, kind := range []models.LibraryKind{models.KindDocument, models.KindTemplate} {
			items, err := d.library(kind).DeleteMany(c, bson.M{"partnerId": p.PartnerID})
			if err != nil {
				d.Log.Error("delete partner library", zap.String("partner", p.PartnerID),
					zap.String("kind", string(kind)), zap.Error(err))
				continue
			}
			for _, it := range items {
				d.deleteBlob(c, it.StoragePath)
			}
			removed += len(items)
		}

		d.audit(c, "partner.delete", "partner", p.PartnerID, p.PartnerID,
			map[string]any{"name": p.Name, "files": removed, "users": users.RowsAffected})
		d.publish("deleted", collPartners, p.PartnerID, p.PartnerID)
		c.JSON(http.StatusOK, gin.H{"message": "partner deleted", "files": removed, "users": users.RowsAffected})
	}
}

// SetChecklistItem toggles one CS guide entry by index.
func SetChecklistItem(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := d.loadPartner(c)
		if !ok {
			return
		}
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil || index < 0 || index >= len(p.CSGuideStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": stages.ErrOutOfRange.Error()})
			return
		}
		var in struct {
			Completed *bool `json:"completed"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		completed := !p.CSGuideStatus[index].Completed
		if in.Completed != nil {
			completed = *in.Completed
		}

		updated, err := d.Partners.SetChecklistItem(c, p.PartnerID, index, completed)
		if err != nil {
			d.fail(c, err, "failed to update checklist")
			return
		}
		d.audit(c, "partner.checklist", "partner", p.PartnerID, p.PartnerID, map[string]any{
			"label":     p.CSGuideStatus[index].Label,
			"completed": completed,
		})
		d.publish("updated", collPartners, p.PartnerID, p.PartnerID)
		c.JSON(http.StatusOK, gin.H{"partner": viewPartner(updated)})
	}
}

// AddComment appends a comment signed with the current user's display name.
func AddComment(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := d.loadPartner(c)
		if !ok {
			return
		}
		var in struct {
			Text string `json:"text" form:"text"`
		}
		if err := c.ShouldBind(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		text := strings.TrimSpace(in.Text)
		if text == "" || len(text) > maxCommentLen {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("comment must be 1-%d characters", maxCommentLen)})
			return
		}

		comment := models.Comment{
			Author: currentUser(c).DisplayName(),
			Text:   text,
			Date:   time.Now().UTC(),
		}
		updated, err := d.Partners.AddComment(c, p.PartnerID, comment)
		if err != nil {
			d.fail(c, err, "failed to add comment")
			return
		}
		d.audit(c, "partner.comment", "partner", p.PartnerID, p.PartnerID, nil)
		d.publish("commented", collPartners, p.PartnerID, p.PartnerID)
		c.JSON(http.StatusCreated, gin.H{"comment": comment, "partner": viewPartner(updated)})
	}
}

// loadPartner fetches the :pid partner, hiding rows outside scope.
func (d *Deps) loadPartner(c *gin.Context) (models.Partner, bool) {
	pid := c.Param("pid")
	if !auth.Scope(c).Owns(pid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return models.Partner{}, false
	}
	p, err := d.Partners.Get(c, pid)
	if err != nil {
		d.fail(c, err, "failed to load partner")
		return models.Partner{}, false
	}
	return p, true
}

func (d *Deps) deleteBlob(c *gin.Context, storagePath string) {
	if storagePath == "" {
		return
	}
	if err := d.Blobs.Delete(c, storagePath); err != nil {
		d.Log.Warn("delete blob", zap.String("path", storagePath), zap.Error(err))
	}
}
