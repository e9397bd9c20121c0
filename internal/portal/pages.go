// Package portal maps request paths to page renderers and decides, per
// role, which pages a user may open and where they land after login.
package portal

import (
	"strings"

	"partner_portal/internal/models"
	"partner_portal/internal/rbac"
)

type Page struct {
	Name     string
	Path     string // gin pattern, ":name" segments are parameters
	Title    string
	Template string
	Perm     string // required permission; empty means any signed-in user
	Public   bool
	InNav    bool
}

const (
	PageLogin    = "login"
	PageHome     = "home"
	PagePartners = "partners"
	PagePartner  = "partner"
	PageDocs     = "documents"
	PageTmpls    = "templates"
	PageSettings = "settings"
	PageUsers    = "users"
	PageAudit    = "audit"
	PagePending  = "pending"
	PageProfile  = "profile"

	PathLogin   = "/login"
	PathPending = "/pending"
)

// Pages is the dispatch table. Order is navigation order.
var Pages = []Page{
	{Name: PageLogin, Path: PathLogin, Title: "Login", Template: "login.tmpl", Public: true},
	{Name: PageHome, Path: "/", Title: "Home"},
	{Name: PagePartners, Path: "/partners", Title: "Partners", Template: "partners.tmpl", Perm: rbac.PartnersRead, InNav: true},
	{Name: PagePartner, Path: "/partners/:pid", Title: "Partner", Template: "partner.tmpl", Perm: rbac.PartnersRead},
	{Name: PageDocs, Path: "/documents", Title: "Documents", Template: "documents.tmpl", Perm: rbac.DocumentsRead, InNav: true},
	{Name: PageTmpls, Path: "/templates", Title: "Templates", Template: "templates.tmpl", Perm: rbac.TemplatesRead, InNav: true},
	{Name: PageSettings, Path: "/settings", Title: "Settings", Template: "settings.tmpl", Perm: rbac.SettingsRead, InNav: true},
	{Name: PageUsers, Path: "/users", Title: "Users", Template: "users.tmpl", Perm: rbac.UsersRead, InNav: true},
	{Name: PageAudit, Path: "/audit", Title: "Audit", Template: "audit.tmpl", Perm: rbac.AuditRead, InNav: true},
	{Name: PagePending, Path: PathPending, Title: "Access pending", Template: "pending.tmpl"},
	{Name: PageProfile, Path: "/profile", Title: "Profile", Template: "profile.tmpl"},
}

func PageByName(name string) (Page, bool) {
	for _, p := range Pages {
		if p.Name == name {
			return p, true
		}
	}
	return Page{}, false
}

// Landing is where a signed-in user goes when opening "/".
func Landing(chk rbac.Checker, u models.User) string {
	switch {
	case chk.Can(u.Role, rbac.PartnersWrite):
		return "/partners"
	case u.Role == models.RolePartner && u.PartnerID != "":
		return "/partners/" + u.PartnerID
	}
	return PathPending
}

// Match finds the page whose pattern matches path and extracts its
// parameters.
func Match(path string) (Page, map[string]string, bool) {
	path = "/" + strings.Trim(path, "/")
	segs := split(path)
	for _, p := range Pages {
		if params, ok := matchPattern(split(p.Path), segs); ok {
			return p, params, true
		}
	}
	return Page{}, nil, false
}

func split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchPattern(pattern, segs []string) (map[string]string, bool) {
	if len(pattern) != len(segs) {
		return nil, false
	}
	params := map[string]string{}
	for i, want := range pattern {
		if name, ok := strings.CutPrefix(want, ":"); ok {
			if segs[i] == "" {
				return nil, false
			}
			params[name] = segs[i]
			continue
		}
		if want != segs[i] {
			return nil, false
		}
	}
	return params, true
}

type Resolution struct {
	Page     Page
	Params   map[string]string
	Redirect string
	NotFound bool
}

// Resolve decides what a request for path renders for u. A nil user is
// anonymous.
func Resolve(chk rbac.Checker, u *models.User, path string) Resolution {
	page, params, ok := Match(path)
	if !ok {
		return Resolution{NotFound: true}
	}
	if page.Public {
		if u != nil && page.Name == PageLogin {
			return Resolution{Page: page, Redirect: Landing(chk, *u)}
		}
		return Resolution{Page: page, Params: params}
	}
	if u == nil {
		return Resolution{Page: page, Redirect: PathLogin}
	}
	if page.Name == PageHome {
		return Resolution{Page: page, Redirect: Landing(chk, *u)}
	}
	if page.Perm != "" && !chk.Can(u.Role, page.Perm) {
		return Resolution{Page: page, Redirect: Landing(chk, *u)}
	}
	// A partner may only open its own detail page.
	if page.Name == PagePartner && !rbac.ScopeFor(*u).Owns(params["pid"]) {
		return Resolution{Page: page, Redirect: Landing(chk, *u)}
	}
	return Resolution{Page: page, Params: params}
}

type NavItem struct {
	Title  string
	Path   string
	Active bool
}

// Nav lists the pages u may open from the layout, marking the current one.
func Nav(chk rbac.Checker, u models.User, current string) []NavItem {
	items := []NavItem{}
	if u.Role == models.RolePartner && u.PartnerID != "" {
		items = append(items, NavItem{
			Title:  "My onboarding",
			Path:   "/partners/" + u.PartnerID,
			Active: current == PagePartner,
		})
	}
	for _, p := range Pages {
		if !p.InNav || !chk.Can(u.Role, p.Perm) {
			continue
		}
		// Partners reach their roster row through "My onboarding".
		if p.Name == PagePartners && !chk.Can(u.Role, rbac.PartnersWrite) {
			continue
		}
		items = append(items, NavItem{Title: p.Title, Path: p.Path, Active: p.Name == current})
	}
	return items
}
