package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"partner_portal/internal/auth"
	"partner_portal/internal/config"
	"partner_portal/internal/db/dbtest"
	"partner_portal/internal/http/handlers"
	"partner_portal/internal/live"
	"partner_portal/internal/models"
	"partner_portal/internal/rbac"
	"partner_portal/internal/stages"
	"partner_portal/internal/store/storetest"
)

const (
	testSecret = "test-secret"
	viewsGlob  = "../ui/views/*.tmpl"
)

func init() { gin.SetMode(gin.TestMode) }

type events struct {
	mu   sync.Mutex
	list []live.Event
}

func (e *events) Publish(ev live.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ev)
}

func (e *events) last() live.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.list) == 0 {
		return live.Event{}
	}
	return e.list[len(e.list)-1]
}

type env struct {
	t        *testing.T
	r        *gin.Engine
	d        *handlers.Deps
	partners *storetest.Partners
	docs     *storetest.Library
	tmpls    *storetest.Library
	blobs    *storetest.Blobs
	settings *storetest.Settings
	events   *events

	admin, staff, partner, nobody models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		t:        t,
		blobs:    storetest.NewBlobs(),
		settings: &storetest.Settings{},
		events:   &events{},
	}
	e.partners = storetest.NewPartners(
		models.Partner{Name: "Acme Transfers", PartnerID: "p-1", OnboardingStatus: "Kick-off",
			CSGuideStatus: models.Checklist([]string{"Welcome call held", "Contract signed"})},
		models.Partner{Name: "Beta Rides", PartnerID: "p-2", OnboardingStatus: "Live"},
	)
	e.docs = storetest.NewLibrary(
		models.LibraryItem{Name: "acme-contract.pdf", Folder: "Contracts", Type: "contract", PartnerID: "p-1", StoragePath: e.putBlob("acme-contract.pdf", "%PDF acme")},
		models.LibraryItem{Name: "beta-contract.pdf", Folder: "Contracts", Type: "contract", PartnerID: "p-2", StoragePath: e.putBlob("beta-contract.pdf", "%PDF beta")},
	)
	e.tmpls = storetest.NewLibrary(
		models.LibraryItem{Name: "Shared checklist", Folder: models.RootFolder, Type: "other"},
		models.LibraryItem{Name: "Beta pricing", Folder: models.RootFolder, Type: "other", PartnerID: "p-2"},
	)

	gdb := dbtest.New(t)
	e.d = &handlers.Deps{
		DB:        gdb,
		Partners:  e.partners,
		Documents: e.docs,
		Templates: e.tmpls,
		Blobs:     e.blobs,
		Stages:    stages.NewCache(e.settings, config.DefaultPortal.DefaultStages, zap.NewNop()),
		Live:      e.events,
		Sessions:  auth.NewSessions(nil),
		Checker:   rbac.NewChecker(),
		Log:       zap.NewNop(),
		Portal:    config.DefaultPortal,

		JWTSecret:      testSecret,
		UploadMaxBytes: 1 << 10,
	}
	e.r = NewRouter(e.d, Options{ViewsGlob: viewsGlob})

	e.admin = e.user("admin@example.com", models.RoleAdmin, "")
	e.staff = e.user("staff@example.com", models.RoleTransferz, "")
	e.partner = e.user("ana@acme.example", models.RolePartner, "p-1")
	e.nobody = e.user("new@example.com", models.RoleDefault, "")
	return e
}

func (e *env) putBlob(name, content string) string {
	p, err := e.blobs.Put(context.Background(), name, "application/pdf", strings.NewReader(content))
	require.NoError(e.t, err)
	return p
}

func (e *env) user(email string, role models.Role, pid string) models.User {
	hash, err := auth.HashPassword("password123")
	require.NoError(e.t, err)
	u := models.User{Email: email, Name: strings.Split(email, "@")[0], Role: role, PartnerID: pid,
		Status: models.UserActive, PasswordHash: hash}
	require.NoError(e.t, e.d.DB.Create(&u).Error)
	return u
}

func (e *env) token(u models.User) string {
	tok, _, err := auth.IssueToken(testSecret, u, time.Now())
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(u *models.User, method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(*u))
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *env) page(u *models.User, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "text/html")
	if u != nil {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: e.token(*u)})
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *env) upload(u models.User, path string, fields map[string]string, filename, content string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(e.t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(e.t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(e.t, err)
	require.NoError(e.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.token(u))
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func names(t *testing.T, w *httptest.ResponseRecorder, key, field string) []string {
	t.Helper()
	out := []string{}
	for _, row := range decode(t, w)[key].([]any) {
		out = append(out, row.(map[string]any)[field].(string))
	}
	return out
}

func TestPartnersAreScoped(t *testing.T) {
	e := newEnv(t)

	w := e.do(&e.admin, http.MethodGet, "/api/v1/partners", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"p-1", "p-2"}, names(t, w, "partners", "partnerId"))

	w = e.do(&e.partner, http.MethodGet, "/api/v1/partners", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"p-1"}, names(t, w, "partners", "partnerId"))

	w = e.do(&e.nobody, http.MethodGet, "/api/v1/partners", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(nil, http.MethodGet, "/api/v1/partners", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	t.Run("search and status filter", func(t *testing.T) {
		w := e.do(&e.staff, http.MethodGet, "/api/v1/partners?q=beta", nil)
		assert.Equal(t, []string{"p-2"}, names(t, w, "partners", "partnerId"))

		w = e.do(&e.staff, http.MethodGet, "/api/v1/partners?status=Kick-off", nil)
		assert.Equal(t, []string{"p-1"}, names(t, w, "partners", "partnerId"))
	})

	t.Run("detail outside scope is not found", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, e.do(&e.partner, http.MethodGet, "/api/v1/partners/p-2", nil).Code)

		w := e.do(&e.partner, http.MethodGet, "/api/v1/partners/p-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		p := decode(t, w)["partner"].(map[string]any)
		assert.Equal(t, float64(2), p["total"])
		assert.Equal(t, float64(0), p["done"])
	})
}

func TestCreatePartner(t *testing.T) {
	e := newEnv(t)

	w := e.do(&e.staff, http.MethodPost, "/api/v1/partners", gin.H{"name": "Gamma", "partnerId": "p-3"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decode(t, w)["partner"].(map[string]any)
	assert.Equal(t, "Kick-off", p["onboardingStatus"])
	assert.Len(t, p["csGuideStatus"], len(config.DefaultPortal.CSGuide))
	assert.Equal(t, live.Event{Action: "created", Collection: "partners", ID: "p-3", PartnerID: "p-3"}, e.events.last())

	t.Run("duplicate partnerId", func(t *testing.T) {
		w := e.do(&e.staff, http.MethodPost, "/api/v1/partners", gin.H{"name": "Again", "partnerId": "p-3"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown stage", func(t *testing.T) {
		w := e.do(&e.staff, http.MethodPost, "/api/v1/partners",
			gin.H{"name": "Delta", "partnerId": "p-4", "onboardingStatus": "Dreaming"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		w := e.do(&e.staff, http.MethodPost, "/api/v1/partners", gin.H{"name": "No id"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("partners cannot create", func(t *testing.T) {
		w := e.do(&e.partner, http.MethodPost, "/api/v1/partners", gin.H{"name": "Mine", "partnerId": "p-9"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	var n int64
	e.d.DB.Model(&models.AuditLog{}).Where("action = ?", "partner.create").Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestUpdatePartner(t *testing.T) {
	e := newEnv(t)

	w := e.do(&e.staff, http.MethodPatch, "/api/v1/partners/p-1", gin.H{"onboardingStatus": "testing", "notes": " call back "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode(t, w)["partner"].(map[string]any)
	assert.Equal(t, "Testing", p["onboardingStatus"])
	assert.Equal(t, "call back", p["notes"])

	w = e.do(&e.staff, http.MethodPatch, "/api/v1/partners/p-1", gin.H{"onboardingStatus": "Nowhere"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(&e.staff, http.MethodPatch, "/api/v1/partners/p-1", gin.H{"partnerId": "p-7"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(&e.staff, http.MethodPatch, "/api/v1/partners/p-1", gin.H{"contactEmail": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(&e.partner, http.MethodPatch, "/api/v1/partners/p-1", gin.H{"notes": "mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	t.Run("stage must exist after rename", func(t *testing.T) {
		w := e.do(&e.admin, http.MethodPatch, "/api/v1/settings/stages/3", gin.H{"name": "QA"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = e.do(&e.staff, http.MethodPatch, "/api/v1/partners/p-1", gin.H{"onboardingStatus": "Testing"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = e.do(&e.staff, http.MethodPatch, "/api/v1/partners/p-1", gin.H{"onboardingStatus": "QA"})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestChecklistAndComments(t *testing.T) {
	e := newEnv(t)

	w := e.do(&e.staff, http.MethodPut, "/api/v1/partners/p-1/checklist/1", gin.H{"completed": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode(t, w)["partner"].(map[string]any)
	assert.Equal(t, float64(1), p["done"])
	assert.Equal(t, float64(50), p["percent"])

	// no body toggles
	w = e.do(&e.staff, http.MethodPut, "/api/v1/partners/p-1/checklist/1", gin.H{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["partner"].(map[string]any)["done"])

	assert.Equal(t, http.StatusBadRequest, e.do(&e.staff, http.MethodPut, "/api/v1/partners/p-1/checklist/9", gin.H{}).Code)
	assert.Equal(t, http.StatusForbidden, e.do(&e.partner, http.MethodPut, "/api/v1/partners/p-1/checklist/0", gin.H{}).Code)

	t.Run("partner comments on own row", func(t *testing.T) {
		w := e.do(&e.partner, http.MethodPost, "/api/v1/partners/p-1/comments", gin.H{"text": "  Contract sent back  "})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		c := decode(t, w)["comment"].(map[string]any)
		assert.Equal(t, "ana", c["author"])
		assert.Equal(t, "Contract sent back", c["text"])
	})

	t.Run("not on someone else's", func(t *testing.T) {
		w := e.do(&e.partner, http.MethodPost, "/api/v1/partners/p-2/comments", gin.H{"text": "hi"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("blank or long comments", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest,
			e.do(&e.staff, http.MethodPost, "/api/v1/partners/p-1/comments", gin.H{"text": "   "}).Code)
		assert.Equal(t, http.StatusBadRequest,
			e.do(&e.staff, http.MethodPost, "/api/v1/partners/p-1/comments", gin.H{"text": strings.Repeat("x", 2001)}).Code)
	})
}

func TestDeletePartnerRemovesFiles(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, 2, e.blobs.Len())
	beta := e.user("bo@beta.example", models.RolePartner, "p-2")

	assert.Equal(t, http.StatusForbidden, e.do(&e.staff, http.MethodDelete, "/api/v1/partners/p-2", nil).Code)

	w := e.do(&e.admin, http.MethodDelete, "/api/v1/partners/p-2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), decode(t, w)["files"])

	assert.Equal(t, 1, e.blobs.Len())
	for _, it := range e.docs.Items() {
		assert.NotEqual(t, "p-2", it.PartnerID)
	}
	assert.Len(t, e.tmpls.Items(), 1)
	assert.Equal(t, http.StatusNotFound, e.do(&e.admin, http.MethodGet, "/api/v1/partners/p-2", nil).Code)

	t.Run("partner users lose the scope", func(t *testing.T) {
		var got models.User
		require.NoError(t, e.d.DB.First(&got, beta.ID).Error)
		assert.Equal(t, models.RoleDefault, got.Role)
		assert.Empty(t, got.PartnerID)

		require.NoError(t, e.d.DB.First(&got, e.partner.ID).Error)
		assert.Equal(t, "p-1", got.PartnerID)

		page := e.page(&beta, "/")
		assert.Equal(t, http.StatusSeeOther, page.Code)
		assert.Equal(t, "/pending", page.Header().Get("Location"))
	})
}

func TestLibraryScope(t *testing.T) {
	e := newEnv(t)

	w := e.do(&e.partner, http.MethodGet, "/api/v1/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"acme-contract.pdf"}, names(t, w, "items", "name"))

	w = e.do(&e.partner, http.MethodGet, "/api/v1/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Shared checklist"}, names(t, w, "items", "name"))

	w = e.do(&e.staff, http.MethodGet, "/api/v1/documents?partnerId=p-2", nil)
	assert.Equal(t, []string{"beta-contract.pdf"}, names(t, w, "items", "name"))

	// partnerId narrowing is ignored for partner users
	w = e.do(&e.partner, http.MethodGet, "/api/v1/documents?partnerId=p-2", nil)
	assert.Equal(t, []string{"acme-contract.pdf"}, names(t, w, "items", "name"))

	w = e.do(&e.staff, http.MethodGet, "/api/v1/documents?folder=Contracts", nil)
	assert.Len(t, decode(t, w)["items"], 2)
	assert.Equal(t, []any{"Contracts"}, decode(t, w)["folders"])

	assert.Equal(t, http.StatusForbidden, e.do(&e.nobody, http.MethodGet, "/api/v1/documents", nil).Code)

	beta := e.docs.Items()[1]
	assert.Equal(t, http.StatusNotFound,
		e.do(&e.partner, http.MethodGet, "/api/v1/documents/"+beta.ID.Hex()+"/download", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		e.do(&e.partner, http.MethodDelete, "/api/v1/documents/"+beta.ID.Hex(), nil).Code)
}

func TestUploadDownloadDelete(t *testing.T) {
	e := newEnv(t)

	w := e.upload(e.partner, "/api/v1/documents",
		map[string]string{"partnerId": "p-2", "folder": "Invoices", "type": "invoice"}, "march.pdf", "%PDF march")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	item := decode(t, w)["item"].(map[string]any)
	assert.Equal(t, "p-1", item["partnerId"], "partner uploads are pinned to their own partner")
	assert.Equal(t, "Invoices", item["folder"])
	assert.Equal(t, "march.pdf", item["name"])
	assert.Equal(t, "ana", item["uploadedBy"])
	id := item["id"].(string)
	assert.Equal(t, "/api/v1/documents/"+id+"/download", item["url"])
	assert.Equal(t, live.Event{Action: "created", Collection: "documents", ID: id, PartnerID: "p-1"}, e.events.last())

	w = e.do(&e.partner, http.MethodGet, "/api/v1/documents/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF march", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename=march.pdf`)

	w = e.do(&e.partner, http.MethodPost, "/api/v1/documents/"+id+"/favorite", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["item"].(map[string]any)["isFavorite"])

	w = e.do(&e.partner, http.MethodPatch, "/api/v1/documents/"+id, gin.H{"name": "March invoice", "folder": "/Billing/"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Billing", decode(t, w)["item"].(map[string]any)["folder"])

	w = e.do(&e.partner, http.MethodGet, "/api/v1/documents/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="March invoice.pdf"`)

	w = e.do(&e.partner, http.MethodPatch, "/api/v1/documents/"+id, gin.H{"partnerId": "p-2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	before := e.blobs.Len()
	w = e.do(&e.partner, http.MethodDelete, "/api/v1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, before-1, e.blobs.Len())

	t.Run("rejects oversized files", func(t *testing.T) {
		w := e.upload(e.staff, "/api/v1/documents", map[string]string{"partnerId": "p-1"},
			"big.bin", strings.Repeat("x", 2<<10))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		w := e.upload(e.staff, "/api/v1/documents", map[string]string{"partnerId": "p-1", "type": "poem"},
			"a.txt", "x")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("staff documents need an existing partner", func(t *testing.T) {
		w := e.upload(e.staff, "/api/v1/documents", map[string]string{"partnerId": "p-9"}, "a.txt", "x")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		doc := e.docs.Items()[0]
		w = e.do(&e.staff, http.MethodPatch, "/api/v1/documents/"+doc.ID.Hex(), gin.H{"partnerId": "p-9"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "p-1", e.docs.Items()[0].PartnerID)

		w = e.do(&e.staff, http.MethodPatch, "/api/v1/documents/"+doc.ID.Hex(), gin.H{"partnerId": "p-2"})
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("staff documents need a partner", func(t *testing.T) {
		w := e.upload(e.staff, "/api/v1/documents", nil, "a.txt", "x")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("staff templates default to shared", func(t *testing.T) {
		w := e.upload(e.staff, "/api/v1/templates", nil, "welcome.docx", "hello")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		item := decode(t, w)["item"].(map[string]any)
		assert.Equal(t, "", item["partnerId"])
		assert.Equal(t, models.RootFolder, item["folder"])
		assert.Equal(t, "other", item["type"])
	})

	t.Run("partners cannot write templates", func(t *testing.T) {
		tmpl := e.tmpls.Items()[0]
		assert.Equal(t, http.StatusForbidden,
			e.do(&e.partner, http.MethodPost, "/api/v1/templates/"+tmpl.ID.Hex()+"/favorite", nil).Code)
		assert.Equal(t, http.StatusForbidden, e.upload(e.partner, "/api/v1/templates", nil, "a.txt", "x").Code)
	})
}

func TestStageSettings(t *testing.T) {
	e := newEnv(t)
	defaults := config.DefaultPortal.DefaultStages

	w := e.do(&e.staff, http.MethodGet, "/api/v1/settings/stages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaults, names2(decode(t, w)["stages"]))

	assert.Equal(t, http.StatusForbidden,
		e.do(&e.staff, http.MethodPost, "/api/v1/settings/stages", gin.H{"name": "Extra"}).Code)
	assert.Equal(t, http.StatusForbidden, e.do(&e.partner, http.MethodGet, "/api/v1/settings/stages", nil).Code)

	w = e.do(&e.admin, http.MethodPost, "/api/v1/settings/stages", gin.H{"name": " Review "})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Review", last(names2(decode(t, w)["stages"])))
	assert.Equal(t, "Review", last(e.settings.Stages))

	w = e.do(&e.admin, http.MethodPost, "/api/v1/settings/stages", gin.H{"name": "review"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(&e.admin, http.MethodPost, "/api/v1/settings/stages/0/move", gin.H{"direction": "down"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{defaults[1], defaults[0]}, names2(decode(t, w)["stages"])[:2])

	w = e.do(&e.admin, http.MethodPost, "/api/v1/settings/stages/0/move", gin.H{"direction": "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(&e.admin, http.MethodDelete, "/api/v1/settings/stages/42", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(&e.admin, http.MethodPut, "/api/v1/settings/stages", gin.H{"stages": []string{"One", " one ", "", "Two"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"One", "Two"}, names2(decode(t, w)["stages"]))

	w = e.do(&e.admin, http.MethodPut, "/api/v1/settings/stages", gin.H{"stages": []string{" "}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, e.do(&e.admin, http.MethodDelete, "/api/v1/settings/stages/1", nil).Code)
	w = e.do(&e.admin, http.MethodDelete, "/api/v1/settings/stages/0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "the last stage stays")

	w = e.do(&e.admin, http.MethodPost, "/api/v1/settings/stages/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaults, e.settings.Stages)
	assert.Equal(t, live.Event{Action: "updated", Collection: "settings", ID: models.StagesSettingsID}, e.events.last())
}

func TestStageChangesKeepPartnersOnAStage(t *testing.T) {
	e := newEnv(t)
	status := func(pid string) string {
		w := e.do(&e.admin, http.MethodGet, "/api/v1/partners/"+pid, nil)
		require.Equal(t, http.StatusOK, w.Code)
		return decode(t, w)["partner"].(map[string]any)["onboardingStatus"].(string)
	}

	t.Run("rename moves partners along", func(t *testing.T) {
		w := e.do(&e.admin, http.MethodPatch, "/api/v1/settings/stages/0", gin.H{"name": "Discovery"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "Discovery", status("p-1"))
		assert.Equal(t, "Live", status("p-2"))

		page := e.page(&e.admin, "/partners/p-1")
		require.Equal(t, http.StatusOK, page.Code)
		assert.Contains(t, page.Body.String(), "<option selected>Discovery</option>")
	})

	t.Run("remove refuses a stage in use", func(t *testing.T) {
		i := strconv.Itoa(len(config.DefaultPortal.DefaultStages) - 1)
		w := e.do(&e.admin, http.MethodDelete, "/api/v1/settings/stages/"+i, nil)
		require.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, float64(1), decode(t, w)["partners"])
		assert.Contains(t, e.settings.Stages, "Live")
	})

	t.Run("a status dropped from the list is kept on save", func(t *testing.T) {
		w := e.do(&e.admin, http.MethodPut, "/api/v1/settings/stages", gin.H{"stages": []string{"Discovery", "Testing"}})
		require.Equal(t, http.StatusOK, w.Code)

		page := e.page(&e.admin, "/partners/p-2")
		require.Equal(t, http.StatusOK, page.Code)
		assert.Contains(t, page.Body.String(), "<option selected>Live</option>")

		w = e.do(&e.admin, http.MethodPatch, "/api/v1/partners/p-2",
			gin.H{"onboardingStatus": "Live", "notes": "waiting on invoices"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "Live", status("p-2"))

		w = e.do(&e.admin, http.MethodPatch, "/api/v1/partners/p-2", gin.H{"onboardingStatus": "Go-Live"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func names2(v any) []string {
	out := []string{}
	for _, s := range v.([]any) {
		out = append(out, s.(string))
	}
	return out
}

func last(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func TestLoginLogout(t *testing.T) {
	e := newEnv(t)

	w := e.do(nil, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "ANA@acme.example", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "/partners/p-1", body["redirect"])
	assert.NotEmpty(t, body["token"])
	assert.Contains(t, w.Header().Get("Set-Cookie"), auth.CookieName+"=")

	w = e.do(nil, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "ana@acme.example", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(nil, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "not-an-email", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(&e.partner, http.MethodPost, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")

	w = e.page(&e.partner, "/logout")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestMe(t *testing.T) {
	e := newEnv(t)

	w := e.do(&e.partner, http.MethodGet, "/api/v1/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "partner", body["role"])
	assert.Equal(t, "p-1", body["partnerId"])
	assert.Equal(t, "/partners/p-1", body["landing"])
	assert.Contains(t, body["permissions"], rbac.DocumentsWrite)
	assert.NotContains(t, body["permissions"], rbac.PartnersWrite)
}

func TestUserManagement(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusForbidden, e.do(&e.staff, http.MethodGet, "/api/v1/users", nil).Code)

	w := e.do(&e.admin, http.MethodGet, "/api/v1/users?role=partner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"ana@acme.example"}, names(t, w, "users", "email"))
	assert.NotContains(t, w.Body.String(), "password")

	w = e.do(&e.admin, http.MethodPost, "/api/v1/users",
		gin.H{"email": "bob@beta.example", "password": "password123", "role": "partner", "partnerId": "p-404"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(&e.admin, http.MethodPost, "/api/v1/users",
		gin.H{"email": "Bob@Beta.example", "password": "password123", "role": "partner", "partnerId": "p-2"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)["user"].(map[string]any)
	assert.Equal(t, "bob@beta.example", created["email"])
	assert.Equal(t, "p-2", created["partner_id"])

	w = e.do(&e.admin, http.MethodPost, "/api/v1/users",
		gin.H{"email": "bob@beta.example", "password": "password123"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(&e.admin, http.MethodPost, "/api/v1/users", gin.H{"email": "weak@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	t.Run("role change applies without new login", func(t *testing.T) {
		tok := e.token(e.nobody)
		w := e.do(&e.admin, http.MethodPatch, "/api/v1/users/"+itoa(e.nobody.ID), gin.H{"role": "transferz"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/partners", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		e.r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("admins cannot lock themselves out", func(t *testing.T) {
		id := itoa(e.admin.ID)
		assert.Equal(t, http.StatusBadRequest, e.do(&e.admin, http.MethodPatch, "/api/v1/users/"+id, gin.H{"role": "default"}).Code)
		assert.Equal(t, http.StatusBadRequest, e.do(&e.admin, http.MethodPost, "/api/v1/users/"+id+"/deactivate", nil).Code)
	})

	t.Run("deactivated users are locked out", func(t *testing.T) {
		id := itoa(e.staff.ID)
		require.Equal(t, http.StatusOK, e.do(&e.admin, http.MethodPost, "/api/v1/users/"+id+"/deactivate", nil).Code)
		assert.Equal(t, http.StatusForbidden, e.do(&e.staff, http.MethodGet, "/api/v1/partners", nil).Code)

		w := e.do(nil, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "staff@example.com", "password": "password123"})
		assert.Equal(t, http.StatusForbidden, w.Code)

		require.Equal(t, http.StatusOK, e.do(&e.admin, http.MethodPost, "/api/v1/users/"+id+"/activate", nil).Code)
		assert.Equal(t, http.StatusOK, e.do(&e.staff, http.MethodGet, "/api/v1/partners", nil).Code)
	})

	t.Run("passwords", func(t *testing.T) {
		id := itoa(e.partner.ID)
		require.Equal(t, http.StatusOK,
			e.do(&e.admin, http.MethodPost, "/api/v1/users/"+id+"/password", gin.H{"password": "new-password"}).Code)

		w := e.do(&e.partner, http.MethodPost, "/api/v1/me/password", gin.H{"current": "password123", "password": "another-one"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = e.do(&e.partner, http.MethodPost, "/api/v1/me/password", gin.H{"current": "new-password", "password": "another-one"})
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func TestAuditTrail(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		w := e.do(&e.staff, http.MethodPost, "/api/v1/partners/p-1/comments", gin.H{"text": "note"})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	assert.Equal(t, http.StatusForbidden, e.do(&e.staff, http.MethodGet, "/api/v1/audit", nil).Code)

	w := e.do(&e.admin, http.MethodGet, "/api/v1/audit?limit=2&q=comment", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Len(t, body["logs"], 2)
	cursor := body["next_cursor"].(float64)
	first := body["logs"].([]any)[0].(map[string]any)
	assert.Equal(t, "partner.comment", first["action"])
	assert.Equal(t, "staff", first["initiator_name"])

	w = e.do(&e.admin, http.MethodGet, "/api/v1/audit?limit=2&q=comment&after_id="+itoa(int64(cursor)), nil)
	body = decode(t, w)
	assert.Len(t, body["logs"], 1)
	assert.Nil(t, body["next_cursor"])
}

func TestPages(t *testing.T) {
	e := newEnv(t)

	redirects := []struct {
		name string
		user *models.User
		path string
		want string
	}{
		{"anonymous is sent to login", nil, "/partners", "/login"},
		{"staff land on the roster", &e.staff, "/", "/partners"},
		{"partners land on their row", &e.partner, "/", "/partners/p-1"},
		{"default users wait", &e.nobody, "/", "/pending"},
		{"partner cannot open another row", &e.partner, "/partners/p-2", "/partners/p-1"},
		{"partner cannot open settings", &e.partner, "/settings", "/partners/p-1"},
		{"signed-in login goes home", &e.admin, "/login", "/partners"},
	}
	for _, tc := range redirects {
		t.Run(tc.name, func(t *testing.T) {
			w := e.page(tc.user, tc.path)
			assert.Equal(t, http.StatusSeeOther, w.Code)
			assert.Equal(t, tc.want, w.Header().Get("Location"))
		})
	}

	rendered := []struct {
		name     string
		user     *models.User
		path     string
		contains []string
	}{
		{"login", nil, "/login", []string{"Sign in"}},
		{"roster", &e.staff, "/partners", []string{"Acme Transfers", "Beta Rides", "Add partner"}},
		{"detail for partner", &e.partner, "/partners/p-1", []string{"Acme Transfers", "Contract signed", "acme-contract.pdf", "My onboarding"}},
		{"documents", &e.partner, "/documents", []string{"acme-contract.pdf", "Upload"}},
		{"templates", &e.partner, "/templates", []string{"Shared checklist"}},
		{"settings", &e.admin, "/settings", []string{"Kick-off", "Reset to defaults"}},
		{"users", &e.admin, "/users", []string{"ana@acme.example"}},
		{"audit", &e.admin, "/audit", []string{"Audit trail"}},
		{"pending", &e.nobody, "/pending", []string{"Access pending"}},
		{"profile", &e.partner, "/profile", []string{"ana@acme.example"}},
	}
	for _, tc := range rendered {
		t.Run(tc.name, func(t *testing.T) {
			w := e.page(tc.user, tc.path)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			for _, s := range tc.contains {
				assert.Contains(t, w.Body.String(), s)
			}
		})
	}

	t.Run("partner detail hides other partners' files", func(t *testing.T) {
		w := e.page(&e.partner, "/documents")
		assert.NotContains(t, w.Body.String(), "beta-contract.pdf")
		w = e.page(&e.partner, "/templates")
		assert.NotContains(t, w.Body.String(), "Beta pricing")
	})

	t.Run("unknown path", func(t *testing.T) {
		w := e.page(&e.admin, "/nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = e.do(&e.admin, http.MethodGet, "/api/v1/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing partner renders not found", func(t *testing.T) {
		w := e.page(&e.admin, "/partners/p-404")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestStoreFailuresAre500(t *testing.T) {
	e := newEnv(t)
	e.partners.Err = assert.AnError

	w := e.do(&e.staff, http.MethodGet, "/api/v1/partners", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to list partners", decode(t, w)["error"])

	e.docs.Err = assert.AnError
	w = e.do(&e.staff, http.MethodGet, "/api/v1/documents", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
