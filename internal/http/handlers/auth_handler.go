package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"partner_portal/internal/auth"
	"partner_portal/internal/models"
	"partner_portal/internal/portal"
)

const loginWindow = time.Minute

// Login authenticates the user and returns a JWT, also set as a cookie.
func Login(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Email    string `json:"email" form:"email" binding:"required,email"`
			Password string `json:"password" form:"password" binding:"required"`
		}
		if err := c.ShouldBind(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		email := strings.ToLower(strings.TrimSpace(input.Email))

		ok, retry, err := d.Sessions.Allow(c, email+"|"+c.ClientIP(), d.LoginRateLimit, loginWindow)
		if err != nil {
			d.Log.Warn("login rate limit unavailable", zap.Error(err))
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts, try again later"})
			return
		}

		var user models.User
		if err := d.DB.Where("email = ?", email).First(&user).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				d.Log.Error("load user", zap.Error(err))
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		if !auth.CheckPassword(user.PasswordHash, input.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		if user.Status != models.UserActive {
			c.JSON(http.StatusForbidden, gin.H{"error": "account suspended"})
			return
		}

		token, _, err := auth.IssueToken(d.JWTSecret, user, time.Now())
		if err != nil {
			d.Log.Error("issue token", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
			return
		}
		auth.SetCookie(c, token, d.SecureCookies)
		d.auditAs(c, user, "auth.login", "user", strconv.FormatInt(user.ID, 10), user.PartnerID, nil)

		c.JSON(http.StatusOK, gin.H{
			"token":    token,
			"user":     user,
			"redirect": portal.Landing(d.Checker, user),
		})
	}
}

// Logout revokes the current token and clears the cookie. Browser requests
// are sent back to the login page.
func Logout(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cl, ok := auth.CurrentClaims(c); ok && cl.ExpiresAt != nil {
			if err := d.Sessions.Revoke(c, cl.ID, cl.ExpiresAt.Time); err != nil {
				d.Log.Warn("revoke token", zap.Error(err))
			}
			d.audit(c, "auth.logout", "user", strconv.FormatInt(cl.UserID, 10), cl.PartnerID, nil)
		}
		auth.ClearCookie(c, d.SecureCookies)

		if c.Request.Method == http.MethodGet {
			c.Redirect(http.StatusSeeOther, portal.PathLogin)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "logged out"})
	}
}

// Me returns the current user with permissions and navigation.
func Me(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		c.JSON(http.StatusOK, gin.H{
			"user":        u,
			"role":        u.Role,
			"partnerId":   u.PartnerID,
			"permissions": d.Checker.Permissions(u.Role),
			"nav":         portal.Nav(d.Checker, u, ""),
			"landing":     portal.Landing(d.Checker, u),
		})
	}
}
