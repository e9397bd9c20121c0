package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"partner_portal/internal/auth"
	"partner_portal/internal/models"
	"partner_portal/internal/portal"
	"partner_portal/internal/rbac"
	"partner_portal/internal/store"
)

// TemplateFuncs are available to every view.
var TemplateFuncs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04")
	},
	"lower": strings.ToLower,
	"add":   func(a, b int) int { return a + b },
	"sub":   func(a, b int) int { return a - b },
	"bytes": humanBytes,
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	units := []string{"KB", "MB", "GB"}
	v, i := float64(n)/unit, 0
	for v >= unit && i < len(units)-1 {
		v /= unit
		i++
	}
	return strconv.FormatFloat(v, 'f', 1, 64) + " " + units[i]
}

type pageRenderer func(d *Deps, c *gin.Context, u models.User, params map[string]string) (gin.H, error)

var renderers = map[string]pageRenderer{
	portal.PagePartners: renderPartners,
	portal.PagePartner:  renderPartner,
	portal.PageDocs:     renderLibrary(models.KindDocument),
	portal.PageTmpls:    renderLibrary(models.KindTemplate),
	portal.PageSettings: renderSettings,
	portal.PageUsers:    renderUsers,
}

// RenderPage resolves the request path against the page table and renders
// the page, or redirects when the user may not see it. It expects
// auth.Optional to have run.
func RenderPage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var user *models.User
		if u, ok := auth.CurrentUser(c); ok {
			user = &u
		}

		res := portal.Resolve(d.Checker, user, c.Request.URL.Path)
		switch {
		case res.NotFound:
			NotFound(d)(c)
			return
		case res.Redirect != "":
			c.Redirect(http.StatusSeeOther, res.Redirect)
			return
		}

		data := gin.H{"title": res.Page.Title, "page": res.Page.Name}
		if user != nil {
			data["User"] = *user
			data["Nav"] = portal.Nav(d.Checker, *user, res.Page.Name)
			data["Can"] = permSet(d, *user)
		}
		if render, ok := renderers[res.Page.Name]; ok && user != nil {
			extra, err := render(d, c, *user, res.Params)
			if err != nil {
				d.renderError(c, err, user)
				return
			}
			for k, v := range extra {
				data[k] = v
			}
		}
		c.HTML(http.StatusOK, res.Page.Template, data)
	}
}

// NotFound renders the HTML 404 page for browsers and JSON otherwise.
func NotFound(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept"), "text/html") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		data := gin.H{"title": "Not found", "status": http.StatusNotFound, "message": "This page does not exist."}
		if u, ok := auth.CurrentUser(c); ok {
			data["User"] = u
			data["Nav"] = portal.Nav(d.Checker, u, "")
		}
		c.HTML(http.StatusNotFound, "error.tmpl", data)
	}
}

func (d *Deps) renderError(c *gin.Context, err error, u *models.User) {
	status, msg := http.StatusInternalServerError, "Something went wrong loading this page."
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, rbac.ErrForbidden) {
		status, msg = http.StatusNotFound, "This page does not exist."
	} else {
		d.Log.Error("render page", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	data := gin.H{"title": http.StatusText(status), "status": status, "message": msg}
	if u != nil {
		data["User"] = *u
		data["Nav"] = portal.Nav(d.Checker, *u, "")
	}
	c.HTML(status, "error.tmpl", data)
}

func permSet(d *Deps, u models.User) map[string]bool {
	set := map[string]bool{}
	for _, p := range d.Checker.Permissions(u.Role) {
		set[p] = true
	}
	return set
}

func renderPartners(d *Deps, c *gin.Context, u models.User, _ map[string]string) (gin.H, error) {
	filter, err := auth.Scope(c).Filter(bson.M{})
	if err != nil {
		return nil, err
	}
	q := store.PartnerQuery{Search: c.Query("q"), Status: c.Query("status")}
	partners, err := d.Partners.List(c, filter, q)
	if err != nil {
		return nil, err
	}
	views := make([]PartnerView, 0, len(partners))
	for _, p := range partners {
		views = append(views, viewPartner(p))
	}
	list, err := d.Stages.Get(c)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"Partners":         views,
		"Stages":           list,
		"IntegrationTypes": d.Portal.IntegrationTypes,
		"Query":            q,
	}, nil
}

func renderPartner(d *Deps, c *gin.Context, u models.User, params map[string]string) (gin.H, error) {
	scope := auth.Scope(c)
	pid := params["pid"]
	if !scope.Owns(pid) {
		return nil, store.ErrNotFound
	}
	p, err := d.Partners.Get(c, pid)
	if err != nil {
		return nil, err
	}
	list, err := d.Stages.Get(c)
	if err != nil {
		return nil, err
	}
	if p.OnboardingStatus != "" && !slices.Contains(list, p.OnboardingStatus) {
		list = append(list, p.OnboardingStatus)
	}
	data := gin.H{
		"title":            p.Name,
		"Partner":          viewPartner(p),
		"Stages":           list,
		"IntegrationTypes": d.Portal.IntegrationTypes,
	}
	if d.Checker.Can(u.Role, rbac.DocumentsRead) {
		docs, err := d.Documents.List(c, bson.M{"partnerId": pid})
		if err != nil {
			return nil, err
		}
		data["Documents"] = docs
	}
	return data, nil
}

func renderLibrary(kind models.LibraryKind) pageRenderer {
	return func(d *Deps, c *gin.Context, u models.User, _ map[string]string) (gin.H, error) {
		scope := auth.Scope(c)
		all, err := libraryFilter(kind, scope, bson.M{})
		if err != nil {
			return nil, err
		}
		folder := strings.TrimSpace(c.Query("folder"))
		filter := all
		if folder != "" {
			filter = bson.M{"$and": bson.A{all, bson.M{"folder": folder}}}
		}
		repo := d.library(kind)
		items, err := repo.List(c, filter)
		if err != nil {
			return nil, err
		}
		folders, err := repo.Folders(c, all)
		if err != nil {
			return nil, err
		}
		data := gin.H{
			"Kind":          string(kind),
			"Items":         items,
			"Folders":       folders,
			"Folder":        folder,
			"DocumentTypes": d.Portal.DocumentTypes,
			"WritePerm":     string(kind) + ":write",
		}
		if scope.Global() {
			partners, err := d.Partners.List(c, bson.M{}, store.PartnerQuery{})
			if err != nil {
				return nil, err
			}
			data["Partners"] = partners
		}
		return data, nil
	}
}

func renderSettings(d *Deps, c *gin.Context, _ models.User, _ map[string]string) (gin.H, error) {
	list, err := d.Stages.Get(c)
	if err != nil {
		return nil, err
	}
	return gin.H{"Stages": list, "Defaults": d.Stages.Defaults()}, nil
}

func renderUsers(d *Deps, c *gin.Context, _ models.User, _ map[string]string) (gin.H, error) {
	var users []models.User
	if err := d.DB.Order("email ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	partners, err := d.Partners.List(c, bson.M{}, store.PartnerQuery{})
	if err != nil {
		return nil, err
	}
	return gin.H{"Users": users, "Roles": models.Roles, "Partners": partners}, nil
}
