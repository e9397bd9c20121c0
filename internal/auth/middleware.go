package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"partner_portal/internal/models"
	"partner_portal/internal/rbac"
)

const (
	CookieName = "token"

	ctxClaims = "claims"
	ctxUser   = "user"
	ctxUID    = "uid"
)

// JWT returns a Gin middleware that validates JWT tokens from
// either the Authorization header or a "token" cookie and verifies
// that the user is still active in the database. The role and partner
// scope placed in the context come from the user row, so role changes
// apply without a new login.
func JWT(db *gorm.DB, secret string, sessions *Sessions, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if status, msg := authenticate(c, db, secret, sessions, log); status != 0 {
			deny(c, status, msg)
			return
		}
		c.Next()
	}
}

// Optional authenticates when a valid token is present and otherwise lets
// the request through anonymously. Page routes use it so the dispatcher
// can decide between rendering and redirecting.
func Optional(db *gorm.DB, secret string, sessions *Sessions, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, db, secret, sessions, log)
		c.Next()
	}
}

// authenticate stores the user and claims on success and returns a zero
// status; otherwise it returns the status and message to deny with.
func authenticate(c *gin.Context, db *gorm.DB, secret string, sessions *Sessions, log *zap.Logger) (int, string) {
	tokenStr := c.GetHeader("Authorization")

	// Fallback: read from cookie if no Authorization header
	if tokenStr == "" {
		if cookie, err := c.Cookie(CookieName); err == nil {
			tokenStr = "Bearer " + cookie
		}
	}
	if tokenStr == "" {
		return http.StatusUnauthorized, "missing bearer token"
	}

	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	claims, err := ParseToken(secret, tokenStr)
	if err != nil {
		return http.StatusUnauthorized, "invalid or expired token"
	}

	revoked, err := sessions.Revoked(c, claims.ID)
	if err != nil {
		log.Warn("revocation check failed", zap.Error(err))
	}
	if revoked {
		return http.StatusUnauthorized, "session ended"
	}

	var user models.User
	if err := db.First(&user, claims.UserID).Error; err != nil {
		return http.StatusUnauthorized, "user not found"
	}
	if user.Status != models.UserActive {
		return http.StatusForbidden, "account suspended"
	}
	if !user.Role.Valid() {
		user.Role = models.RoleDefault
	}

	c.Set(ctxClaims, claims)
	c.Set(ctxUser, user)
	c.Set(ctxUID, user.ID)
	return 0, ""
}

// deny redirects browser navigations to the login page and answers API
// calls with JSON.
func deny(c *gin.Context, status int, msg string) {
	if wantsHTML(c) {
		c.Redirect(http.StatusSeeOther, "/login")
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func wantsHTML(c *gin.Context) bool {
	return c.Request.Method == http.MethodGet &&
		strings.Contains(c.GetHeader("Accept"), "text/html")
}

// CurrentUser returns the user stored by JWT.
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(ctxUser)
	if !ok {
		return models.User{}, false
	}
	u, ok := v.(models.User)
	return u, ok
}

func CurrentClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*Claims)
	return cl, ok
}

// Scope is the row scope of the current user; unauthenticated requests get
// the empty default scope, which sees nothing.
func Scope(c *gin.Context) rbac.Scope {
	u, _ := CurrentUser(c)
	if u.Role == "" {
		u.Role = models.RoleDefault
	}
	return rbac.ScopeFor(u)
}

// Require aborts with 403 unless the current user's role grants permKey.
func Require(chk rbac.Checker, permKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok || !chk.Can(u.Role, permKey) {
			if wantsHTML(c) {
				c.Redirect(http.StatusSeeOther, "/")
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "missing": permKey})
			return
		}
		c.Next()
	}
}

// SetCookie stores the token as an HttpOnly cookie.
func SetCookie(c *gin.Context, token string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(TokenTTL.Seconds()), "/", "", secure, true)
}

func ClearCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", secure, true)
}
