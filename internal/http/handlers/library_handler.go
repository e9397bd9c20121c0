package handlers

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"

	"partner_portal/internal/auth"
	"partner_portal/internal/models"
	"partner_portal/internal/rbac"
	"partner_portal/internal/store"
)

const (
	maxItemName   = 255
	maxFolderName = 100
	formOverhead  = 1 << 20
)

// libraryFilter applies the caller's scope. Templates with an empty
// partnerId are shared with every partner.
func libraryFilter(kind models.LibraryKind, scope rbac.Scope, base bson.M) (bson.M, error) {
	if kind == models.KindTemplate {
		return scope.SharedFilter(base)
	}
	return scope.Filter(base)
}

func libraryVisible(kind models.LibraryKind, scope rbac.Scope, partnerID string) bool {
	if kind == models.KindTemplate {
		return scope.Shares(partnerID)
	}
	return scope.Owns(partnerID)
}

// ListLibrary lists items of kind, optionally narrowed to one folder, to
// favorites, or (for staff) to one partner. Folder names come back too.
func ListLibrary(d *Deps, kind models.LibraryKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := auth.Scope(c)
		base := bson.M{}
		if pid := strings.TrimSpace(c.Query("partnerId")); pid != "" && scope.Global() {
			base["partnerId"] = pid
		}
		all, err := libraryFilter(kind, scope, base)
		if err != nil {
			d.fail(c, err, "failed to list "+string(kind))
			return
		}

		narrowed := bson.M{}
		if folder := strings.TrimSpace(c.Query("folder")); folder != "" {
			narrowed["folder"] = folder
		}
		if fav, _ := strconv.ParseBool(c.Query("favorites")); fav {
			narrowed["isFavorite"] = true
		}
		filter := all
		if len(narrowed) > 0 {
			filter = bson.M{"$and": bson.A{all, narrowed}}
		}

		repo := d.library(kind)
		items, err := repo.List(c, filter)
		if err != nil {
			d.fail(c, err, "failed to list "+string(kind))
			return
		}
		folders, err := repo.Folders(c, all)
		if err != nil {
			d.fail(c, err, "failed to list folders")
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "folders": folders})
	}
}

// Upload stores a multipart file in the blob store and records it.
func Upload(d *Deps, kind models.LibraryKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, d.UploadMaxBytes+formOverhead)
		fh, err := c.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fh.Size > d.UploadMaxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}

		user := currentUser(c)
		scope := auth.Scope(c)
		pid := strings.TrimSpace(c.PostForm("partnerId"))
		if !scope.Global() {
			pid = scope.PartnerID
		}
		if kind == models.KindDocument && pid == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "documents need a partnerId"})
			return
		}
		if !libraryVisible(kind, scope, pid) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if pid != "" && scope.Global() && !d.knownPartner(c, pid) {
			return
		}

		fileName := path.Base(strings.ReplaceAll(fh.Filename, "\\", "/"))
		name := strings.TrimSpace(c.PostForm("name"))
		if name == "" {
			name = fileName
		}
		folder, err := folderName(c.PostForm("folder"))
		if err != nil {
			d.fail(c, err, "")
			return
		}
		docType, err := d.documentType(c.PostForm("type"))
		if err != nil {
			d.fail(c, err, "")
			return
		}
		if len(name) > maxItemName {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name too long"})
			return
		}

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
			return
		}
		defer f.Close()

		storagePath, err := d.Blobs.Put(c, fh.Filename, contentType, f)
		if err != nil {
			d.fail(c, err, "failed to store file")
			return
		}

		item := models.LibraryItem{
			ID:          bson.NewObjectID(),
			Name:        name,
			FileName:    fileName,
			Type:        docType,
			Folder:      folder,
			StoragePath: storagePath,
			ContentType: contentType,
			Size:        fh.Size,
			PartnerID:   pid,
			UploadedBy:  user.DisplayName(),
		}
		item.URL = downloadURL(kind, item.ID.Hex())
		if err := d.library(kind).Create(c, &item); err != nil {
			d.deleteBlob(c, storagePath)
			d.fail(c, err, "failed to save "+string(kind))
			return
		}

		d.audit(c, string(kind)+".upload", string(kind), item.ID.Hex(), pid,
			map[string]any{"name": item.Name, "folder": item.Folder, "size": item.Size})
		d.publish("created", string(kind), item.ID.Hex(), pid)
		c.JSON(http.StatusCreated, gin.H{"item": item})
	}
}

// Download streams the stored blob as an attachment.
func Download(d *Deps, kind models.LibraryKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, ok := d.loadItem(c, kind)
		if !ok {
			return
		}
		r, err := d.Blobs.Open(c, item.StoragePath)
		if err != nil {
			d.fail(c, err, "failed to open file")
			return
		}
		defer r.Close()

		filename := item.Name
		if path.Ext(filename) == "" {
			filename += path.Ext(item.FileName)
		}
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
		contentType := item.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		size := item.Size
		if size <= 0 {
			size = -1
		}
		c.DataFromReader(http.StatusOK, size, contentType, r, map[string]string{
			"Content-Disposition": disposition,
		})
	}
}

// UpdateItem renames, moves or retypes an item. Staff may also reassign
// it to another partner.
func UpdateItem(d *Deps, kind models.LibraryKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, ok := d.loadItem(c, kind)
		if !ok {
			return
		}
		var in struct {
			Name      *string `json:"name"`
			Folder    *string `json:"folder"`
			Type      *string `json:"type"`
			PartnerID *string `json:"partnerId"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		set := bson.M{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" || len(name) > maxItemName {
				c.JSON(http.StatusBadRequest, gin.H{"error": "name must be 1-255 characters"})
				return
			}
			set["name"] = name
		}
		if in.Folder != nil {
			folder, err := folderName(*in.Folder)
			if err != nil {
				d.fail(c, err, "")
				return
			}
			set["folder"] = folder
		}
		if in.Type != nil {
			docType, err := d.documentType(*in.Type)
			if err != nil {
				d.fail(c, err, "")
				return
			}
			set["type"] = docType
		}
		if in.PartnerID != nil {
			pid := strings.TrimSpace(*in.PartnerID)
			if !auth.Scope(c).Global() {
				if pid != item.PartnerID {
					c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
					return
				}
			} else if kind == models.KindDocument && pid == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "documents need a partnerId"})
				return
			} else if pid != "" && pid != item.PartnerID && !d.knownPartner(c, pid) {
				return
			}
			set["partnerId"] = pid
		}
		if len(set) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
			return
		}

		updated, err := d.library(kind).Update(c, item.ID.Hex(), set)
		if err != nil {
			d.fail(c, err, "failed to update "+string(kind))
			return
		}
		d.audit(c, string(kind)+".update", string(kind), item.ID.Hex(), updated.PartnerID, map[string]any(set))
		d.publish("updated", string(kind), item.ID.Hex(), updated.PartnerID)
		if updated.PartnerID != item.PartnerID {
			d.publish("updated", string(kind), item.ID.Hex(), item.PartnerID)
		}
		c.JSON(http.StatusOK, gin.H{"item": updated})
	}
}

func ToggleFavorite(d *Deps, kind models.LibraryKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, ok := d.loadItem(c, kind)
		if !ok {
			return
		}
		updated, err := d.library(kind).ToggleFavorite(c, item.ID.Hex())
		if err != nil {
			d.fail(c, err, "failed to update favorite")
			return
		}
		d.publish("updated", string(kind), item.ID.Hex(), item.PartnerID)
		c.JSON(http.StatusOK, gin.H{"item": updated})
	}
}

// DeleteItem removes the record, then its blob.
func DeleteItem(d *Deps, kind models.LibraryKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, ok := d.loadItem(c, kind)
		if !ok {
			return
		}
		if err := d.library(kind).Delete(c, item.ID.Hex()); err != nil {
			d.fail(c, err, "failed to delete "+string(kind))
			return
		}
		d.deleteBlob(c, item.StoragePath)

		d.audit(c, string(kind)+".delete", string(kind), item.ID.Hex(), item.PartnerID,
			map[string]any{"name": item.Name})
		d.publish("deleted", string(kind), item.ID.Hex(), item.PartnerID)
		c.JSON(http.StatusOK, gin.H{"message": "deleted"})
	}
}

// loadItem fetches the :id item, hiding rows outside scope.
func (d *Deps) loadItem(c *gin.Context, kind models.LibraryKind) (models.LibraryItem, bool) {
	item, err := d.library(kind).Get(c, c.Param("id"))
	if err == nil && !libraryVisible(kind, auth.Scope(c), item.PartnerID) {
		err = store.ErrNotFound
	}
	if err != nil {
		d.fail(c, err, "failed to load "+string(kind))
		return models.LibraryItem{}, false
	}
	return item, true
}

func (d *Deps) documentType(t string) (string, error) {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		t = "other"
		if !slices.Contains(d.Portal.DocumentTypes, t) && len(d.Portal.DocumentTypes) > 0 {
			t = d.Portal.DocumentTypes[0]
		}
	}
	if !slices.Contains(d.Portal.DocumentTypes, t) {
		return "", invalid("unknown document type %q", t)
	}
	return t, nil
}

func folderName(f string) (string, error) {
	f = strings.Trim(strings.TrimSpace(f), "/")
	if f == "" {
		return models.RootFolder, nil
	}
	if len(f) > maxFolderName || strings.Contains(f, "..") {
		return "", invalid("invalid folder name %q", f)
	}
	return f, nil
}

func downloadURL(kind models.LibraryKind, id string) string {
	return "/api/v1/" + string(kind) + "/" + id + "/download"
}
