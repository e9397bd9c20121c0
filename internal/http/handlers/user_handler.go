package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"partner_portal/internal/auth"
	"partner_portal/internal/models"
	"partner_portal/internal/store"
)

// ListUsers returns all users, optionally filtered by role or partner.
func ListUsers(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := d.DB.Model(&models.User{}).Order("email ASC")
		if r := c.Query("role"); r != "" {
			query = query.Where("role = ?", models.ParseRole(r))
		}
		if pid := strings.TrimSpace(c.Query("partnerId")); pid != "" {
			query = query.Where("partner_id = ?", pid)
		}
		if q := strings.TrimSpace(c.Query("q")); q != "" {
			like := "%" + q + "%"
			query = query.Where("(email LIKE ? OR name LIKE ?)", like, like)
		}

		var users []models.User
		if err := query.Find(&users).Error; err != nil {
			d.Log.Error("list users", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

// CreateUser inserts a new user.
func CreateUser(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Email     string `json:"email" binding:"required,email"`
			Name      string `json:"name"`
			Password  string `json:"password" binding:"required"`
			Role      string `json:"role"`
			PartnerID string `json:"partnerId"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		in.Email = strings.TrimSpace(strings.ToLower(in.Email))
		in.Name = strings.TrimSpace(in.Name)
		role := models.ParseRole(in.Role)
		pid, ok := d.partnerScope(c, role, in.PartnerID)
		if !ok {
			return
		}

		var existing int64
		if err := d.DB.Model(&models.User{}).Where("email = ?", in.Email).Count(&existing).Error; err != nil {
			d.Log.Error("count users", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
			return
		}
		if existing > 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
			return
		}

		hash, err := auth.HashPassword(in.Password)
		if errors.Is(err, auth.ErrWeakPassword) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			d.Log.Error("hash password", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
			return
		}

		user := models.User{
			Email:        in.Email,
			Name:         in.Name,
			Role:         role,
			PartnerID:    pid,
			Status:       models.UserActive,
			PasswordHash: hash,
		}
		if err := d.DB.Create(&user).Error; err != nil {
			d.Log.Error("create user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
			return
		}

		d.audit(c, "user.create", "user", strconv.FormatInt(user.ID, 10), user.PartnerID,
			map[string]any{"email": user.Email, "role": user.Role})
		c.JSON(http.StatusCreated, gin.H{"user": user})
	}
}

// UpdateUser changes a user's name, role and partner scope.
func UpdateUser(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := d.loadUser(c)
		if !ok {
			return
		}
		var in struct {
			Name      *string `json:"name"`
			Role      *string `json:"role"`
			PartnerID *string `json:"partnerId"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		role, pid := user.Role, user.PartnerID
		if in.Role != nil {
			role = models.ParseRole(*in.Role)
		}
		if in.PartnerID != nil {
			pid = *in.PartnerID
		}
		if user.ID == currentUser(c).ID && role != models.RoleAdmin {
			c.JSON(http.StatusBadRequest, gin.H{"error": "you cannot remove your own admin role"})
			return
		}
		pid, ok = d.partnerScope(c, role, pid)
		if !ok {
			return
		}

		user.Role, user.PartnerID = role, pid
		if in.Name != nil {
			user.Name = strings.TrimSpace(*in.Name)
		}
		updates := map[string]any{"role": user.Role, "partner_id": user.PartnerID, "name": user.Name}
		if err := d.DB.Model(&user).Updates(updates).Error; err != nil {
			d.Log.Error("update user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}

		d.audit(c, "user.update", "user", strconv.FormatInt(user.ID, 10), pid,
			map[string]any{"role": role, "partnerId": pid})
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

func ActivateUser(d *Deps) gin.HandlerFunc {
	return setUserStatus(d, models.UserActive, "user.activate")
}

func DeactivateUser(d *Deps) gin.HandlerFunc {
	return setUserStatus(d, models.UserSuspended, "user.deactivate")
}

func setUserStatus(d *Deps, status models.UserStatus, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := d.loadUser(c)
		if !ok {
			return
		}
		if user.ID == currentUser(c).ID && status != models.UserActive {
			c.JSON(http.StatusBadRequest, gin.H{"error": "you cannot deactivate yourself"})
			return
		}
		if err := d.DB.Model(&user).Update("status", status).Error; err != nil {
			d.Log.Error("set user status", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}
		user.Status = status
		d.audit(c, action, "user", strconv.FormatInt(user.ID, 10), user.PartnerID, nil)
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// ChangePassword sets a new password for any user.
func ChangePassword(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := d.loadUser(c)
		if !ok {
			return
		}
		var in struct {
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !d.setPassword(c, &user, in.Password) {
			return
		}
		d.audit(c, "user.password", "user", strconv.FormatInt(user.ID, 10), user.PartnerID, nil)
		c.JSON(http.StatusOK, gin.H{"message": "password updated"})
	}
}

// ChangeOwnPassword lets any signed-in user replace their password after
// confirming the current one.
func ChangeOwnPassword(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Current  string `json:"current" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user := currentUser(c)
		if !auth.CheckPassword(user.PasswordHash, in.Current) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "current password is incorrect"})
			return
		}
		if !d.setPassword(c, &user, in.Password) {
			return
		}
		d.audit(c, "user.password", "user", strconv.FormatInt(user.ID, 10), user.PartnerID, nil)
		c.JSON(http.StatusOK, gin.H{"message": "password updated"})
	}
}

func (d *Deps) setPassword(c *gin.Context, user *models.User, password string) bool {
	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrWeakPassword) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err == nil {
		err = d.DB.Model(user).Update("password_hash", hash).Error
	}
	if err != nil {
		d.Log.Error("change password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to change password"})
		return false
	}
	return true
}

func (d *Deps) loadUser(c *gin.Context) (models.User, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return models.User{}, false
	}
	var user models.User
	if err := d.DB.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		} else {
			d.Log.Error("load user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		}
		return models.User{}, false
	}
	return user, true
}

// partnerScope validates the partner id paired with role. Partner users
// need an existing partner; other roles carry no scope.
func (d *Deps) partnerScope(c *gin.Context, role models.Role, pid string) (string, bool) {
	pid = strings.TrimSpace(pid)
	if role != models.RolePartner {
		return "", true
	}
	if pid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "partner users need a partnerId"})
		return "", false
	}
	if !d.knownPartner(c, pid) {
		return "", false
	}
	return pid, true
}

// knownPartner answers 400 when pid names no partner.
func (d *Deps) knownPartner(c *gin.Context, pid string) bool {
	if _, err := d.Partners.Get(c, pid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown partnerId " + pid})
		} else {
			d.fail(c, err, "failed to check partner")
		}
		return false
	}
	return true
}
