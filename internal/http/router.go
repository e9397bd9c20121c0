package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"partner_portal/internal/auth"
	"partner_portal/internal/http/handlers"
	"partner_portal/internal/live"
	"partner_portal/internal/logger"
	"partner_portal/internal/models"
	"partner_portal/internal/portal"
	"partner_portal/internal/rbac"
)

type Options struct {
	ViewsGlob string // empty skips loading HTML templates
	StaticDir string
	Hub       *live.Hub
}

func NewRouter(d *handlers.Deps, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Requests(d.Log))
	r.SetFuncMap(handlers.TemplateFuncs)
	if opts.ViewsGlob != "" {
		r.LoadHTMLGlob(opts.ViewsGlob)
	}
	if opts.StaticDir != "" {
		r.Static("/static", opts.StaticDir)
	}
	// favicon fix
	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	chk := d.Checker
	authMW := auth.JWT(d.DB, d.JWTSecret, d.Sessions, d.Log)
	optional := auth.Optional(d.DB, d.JWTSecret, d.Sessions, d.Log)

	// Pages go through the portal dispatcher, which redirects instead of
	// answering 401/403.
	render := handlers.RenderPage(d)
	for _, p := range portal.Pages {
		r.GET(p.Path, optional, render)
	}
	r.GET("/logout", optional, handlers.Logout(d))
	r.NoRoute(optional, handlers.NotFound(d))

	// Public routes
	r.POST("/api/v1/auth/login", handlers.Login(d))

	api := r.Group("/api/v1", authMW)
	{
		api.POST("/auth/logout", handlers.Logout(d))
		api.GET("/me", handlers.Me(d))
		api.POST("/me/password", handlers.ChangeOwnPassword(d))

		// Users
		api.GET("/users", auth.Require(chk, rbac.UsersRead), handlers.ListUsers(d))
		api.POST("/users", auth.Require(chk, rbac.UsersWrite), handlers.CreateUser(d))
		api.PATCH("/users/:id", auth.Require(chk, rbac.UsersWrite), handlers.UpdateUser(d))
		api.POST("/users/:id/deactivate", auth.Require(chk, rbac.UsersWrite), handlers.DeactivateUser(d))
		api.POST("/users/:id/activate", auth.Require(chk, rbac.UsersWrite), handlers.ActivateUser(d))
		api.POST("/users/:id/password", auth.Require(chk, rbac.UsersWrite), handlers.ChangePassword(d))

		// Partners
		partners := api.Group("/partners")
		partners.GET("", auth.Require(chk, rbac.PartnersRead), handlers.ListPartners(d))
		partners.POST("", auth.Require(chk, rbac.PartnersWrite), handlers.CreatePartner(d))
		partners.GET("/:pid", auth.Require(chk, rbac.PartnersRead), handlers.GetPartner(d))
		partners.PATCH("/:pid", auth.Require(chk, rbac.PartnersWrite), handlers.UpdatePartner(d))
		partners.DELETE("/:pid", auth.Require(chk, rbac.PartnersDelete), handlers.DeletePartner(d))
		partners.PUT("/:pid/checklist/:index", auth.Require(chk, rbac.PartnersWrite), handlers.SetChecklistItem(d))
		partners.POST("/:pid/comments", auth.Require(chk, rbac.PartnersComment), handlers.AddComment(d))

		// Documents and templates
		for _, kind := range []models.LibraryKind{models.KindDocument, models.KindTemplate} {
			read := auth.Require(chk, rbac.Key(string(kind), "read"))
			write := auth.Require(chk, rbac.Key(string(kind), "write"))
			g := api.Group("/" + string(kind))
			g.GET("", read, handlers.ListLibrary(d, kind))
			g.POST("", write, handlers.Upload(d, kind))
			g.GET("/:id/download", read, handlers.Download(d, kind))
			g.PATCH("/:id", write, handlers.UpdateItem(d, kind))
			g.POST("/:id/favorite", write, handlers.ToggleFavorite(d, kind))
			g.DELETE("/:id", write, handlers.DeleteItem(d, kind))
		}

		// Onboarding stages
		st := api.Group("/settings/stages")
		st.GET("", auth.Require(chk, rbac.SettingsRead), handlers.GetStages(d))
		st.PUT("", auth.Require(chk, rbac.SettingsWrite), handlers.SaveStages(d))
		st.POST("", auth.Require(chk, rbac.SettingsWrite), handlers.AddStage(d))
		st.POST("/reset", auth.Require(chk, rbac.SettingsWrite), handlers.ResetStages(d))
		st.PATCH("/:index", auth.Require(chk, rbac.SettingsWrite), handlers.RenameStage(d))
		st.DELETE("/:index", auth.Require(chk, rbac.SettingsWrite), handlers.RemoveStage(d))
		st.POST("/:index/move", auth.Require(chk, rbac.SettingsWrite), handlers.MoveStage(d))

		// Audit Trail
		api.GET("/audit", auth.Require(chk, rbac.AuditRead), handlers.ListAudit(d))

		if opts.Hub != nil {
			api.GET("/ws", live.Handler(opts.Hub, auth.Scope))
		}
	}

	return r
}
