// Package storetest provides in-memory stand-ins for the Mongo
// repositories. They evaluate the same bson filters the portal builds
// (equality, $and, $or, $in, $exists and case-insensitive regex), so tests
// exercise real access filters without a database.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"partner_portal/internal/models"
	"partner_portal/internal/store"
)

type Partners struct {
	mu         sync.Mutex
	rows       []models.Partner
	LastFilter bson.M
	Err        error
}

func NewPartners(rows ...models.Partner) *Partners {
	return &Partners{rows: rows}
}

func partnerDoc(p models.Partner) map[string]any {
	return map[string]any{
		"name":             p.Name,
		"partnerId":        p.PartnerID,
		"onboardingStatus": p.OnboardingStatus,
		"contactEmail":     p.ContactEmail,
		"psm":              p.PSM,
		"integrationType":  p.IntegrationType,
	}
}

func (s *Partners) List(_ context.Context, filter bson.M, q store.PartnerQuery) ([]models.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastFilter = filter
	if s.Err != nil {
		return nil, s.Err
	}
	out := []models.Partner{}
	for _, p := range s.rows {
		doc := partnerDoc(p)
		if Match(doc, filter) && Match(doc, q.Filter()) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Partners) Get(_ context.Context, partnerID string) (models.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return models.Partner{}, s.Err
	}
	if i := s.index(partnerID); i >= 0 {
		return s.rows[i], nil
	}
	return models.Partner{}, store.ErrNotFound
}

func (s *Partners) Create(_ context.Context, p *models.Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.index(p.PartnerID) >= 0 {
		return store.ErrConflict
	}
	now := time.Now().UTC()
	p.ID, p.CreatedAt, p.LastUpdated = bson.NewObjectID(), now, now
	if p.Comments == nil {
		p.Comments = []models.Comment{}
	}
	s.rows = append(s.rows, *p)
	return nil
}

// Update understands the flat field names the handlers set.
func (s *Partners) Update(_ context.Context, partnerID string, set bson.M) (models.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return models.Partner{}, s.Err
	}
	i := s.index(partnerID)
	if i < 0 {
		return models.Partner{}, store.ErrNotFound
	}
	p := &s.rows[i]
	for k, v := range set {
		switch k {
		case "name":
			p.Name = v.(string)
		case "onboardingStatus":
			p.OnboardingStatus = v.(string)
		case "psm":
			p.PSM = v.(string)
		case "integrationType":
			p.IntegrationType = v.(string)
		case "contactEmail":
			p.ContactEmail = v.(string)
		case "notes":
			p.Notes = v.(string)
		case "csGuideStatus":
			p.CSGuideStatus = v.([]models.ChecklistItem)
		default:
			return models.Partner{}, fmt.Errorf("storetest: unsupported field %q", k)
		}
	}
	p.LastUpdated = time.Now().UTC()
	return *p, nil
}

func (s *Partners) Delete(_ context.Context, partnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	i := s.index(partnerID)
	if i < 0 {
		return store.ErrNotFound
	}
	s.rows = append(s.rows[:i], s.rows[i+1:]...)
	return nil
}

func (s *Partners) SetChecklistItem(_ context.Context, partnerID string, index int, completed bool) (models.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(partnerID)
	if i < 0 || index < 0 || index >= len(s.rows[i].CSGuideStatus) {
		return models.Partner{}, store.ErrNotFound
	}
	items := append([]models.ChecklistItem(nil), s.rows[i].CSGuideStatus...)
	items[index].Completed = completed
	s.rows[i].CSGuideStatus = items
	return s.rows[i], nil
}

func (s *Partners) AddComment(_ context.Context, partnerID string, c models.Comment) (models.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(partnerID)
	if i < 0 {
		return models.Partner{}, store.ErrNotFound
	}
	s.rows[i].Comments = append(append([]models.Comment(nil), s.rows[i].Comments...), c)
	return s.rows[i], nil
}

func (s *Partners) RenameStatus(_ context.Context, from, to string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for i := range s.rows {
		if s.rows[i].OnboardingStatus == from {
			s.rows[i].OnboardingStatus = to
			s.rows[i].LastUpdated = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (s *Partners) CountStatus(_ context.Context, status string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, p := range s.rows {
		if p.OnboardingStatus == status {
			n++
		}
	}
	return n, nil
}

func (s *Partners) index(partnerID string) int {
	for i, p := range s.rows {
		if p.PartnerID == partnerID {
			return i
		}
	}
	return -1
}

type Library struct {
	mu         sync.Mutex
	rows       []models.LibraryItem
	LastFilter bson.M
	Err        error
}

func NewLibrary(rows ...models.LibraryItem) *Library {
	for i := range rows {
		if rows[i].ID.IsZero() {
			rows[i].ID = bson.NewObjectID()
		}
	}
	return &Library{rows: rows}
}

func libraryDoc(it models.LibraryItem) map[string]any {
	return map[string]any{
		"name":       it.Name,
		"type":       it.Type,
		"folder":     it.Folder,
		"isFavorite": it.IsFavorite,
		"partnerId":  it.PartnerID,
	}
}

// Items returns a snapshot of every stored row.
func (s *Library) Items() []models.LibraryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LibraryItem(nil), s.rows...)
}

func (s *Library) List(_ context.Context, filter bson.M) ([]models.LibraryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastFilter = filter
	if s.Err != nil {
		return nil, s.Err
	}
	return s.match(filter), nil
}

func (s *Library) match(filter bson.M) []models.LibraryItem {
	out := []models.LibraryItem{}
	for _, it := range s.rows {
		if Match(libraryDoc(it), filter) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsFavorite != out[j].IsFavorite {
			return out[i].IsFavorite
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Library) Folders(_ context.Context, filter bson.M) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	seen := map[string]bool{}
	folders := []string{}
	for _, it := range s.match(filter) {
		if !seen[it.Folder] {
			seen[it.Folder] = true
			folders = append(folders, it.Folder)
		}
	}
	sort.Strings(folders)
	return folders, nil
}

func (s *Library) Get(_ context.Context, id string) (models.LibraryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(id); i >= 0 {
		return s.rows[i], nil
	}
	return models.LibraryItem{}, store.ErrNotFound
}

func (s *Library) Create(_ context.Context, it *models.LibraryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if it.ID.IsZero() {
		it.ID = bson.NewObjectID()
	}
	now := time.Now().UTC()
	it.CreatedAt, it.UpdatedAt = now, now
	s.rows = append(s.rows, *it)
	return nil
}

func (s *Library) Update(_ context.Context, id string, set bson.M) (models.LibraryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return models.LibraryItem{}, store.ErrNotFound
	}
	it := &s.rows[i]
	for k, v := range set {
		switch k {
		case "name":
			it.Name = v.(string)
		case "folder":
			it.Folder = v.(string)
		case "type":
			it.Type = v.(string)
		case "partnerId":
			it.PartnerID = v.(string)
		default:
			return models.LibraryItem{}, fmt.Errorf("storetest: unsupported field %q", k)
		}
	}
	it.UpdatedAt = time.Now().UTC()
	return *it, nil
}

func (s *Library) ToggleFavorite(_ context.Context, id string) (models.LibraryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return models.LibraryItem{}, store.ErrNotFound
	}
	s.rows[i].IsFavorite = !s.rows[i].IsFavorite
	return s.rows[i], nil
}

func (s *Library) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return store.ErrNotFound
	}
	s.rows = append(s.rows[:i], s.rows[i+1:]...)
	return nil
}

func (s *Library) DeleteMany(_ context.Context, filter bson.M) ([]models.LibraryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept, removed []models.LibraryItem
	for _, it := range s.rows {
		if Match(libraryDoc(it), filter) {
			removed = append(removed, it)
		} else {
			kept = append(kept, it)
		}
	}
	s.rows = kept
	return removed, nil
}

func (s *Library) index(id string) int {
	for i, it := range s.rows {
		if it.ID.Hex() == id {
			return i
		}
	}
	return -1
}

// Blobs is an in-memory BlobStore.
type Blobs struct {
	mu    sync.Mutex
	files map[string][]byte
	next  int
}

func NewBlobs() *Blobs { return &Blobs{files: map[string][]byte{}} }

func (b *Blobs) Put(_ context.Context, name, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	p := fmt.Sprintf("%s/%d-%s", store.BucketUploads, b.next, name)
	b.files[p] = data
	return p, nil
}

func (b *Blobs) Open(_ context.Context, storagePath string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[storagePath]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Blobs) Delete(_ context.Context, storagePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[storagePath]; !ok {
		return store.ErrNotFound
	}
	delete(b.files, storagePath)
	return nil
}

func (b *Blobs) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

// Settings is an in-memory stages.Source.
type Settings struct {
	mu     sync.Mutex
	Stages []string
	Loads  int
}

func (s *Settings) LoadStages(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Loads++
	if s.Stages == nil {
		return nil, nil
	}
	return append([]string(nil), s.Stages...), nil
}

func (s *Settings) SaveStages(_ context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stages = append([]string(nil), names...)
	return nil
}

// Match reports whether doc satisfies filter.
func Match(doc map[string]any, filter bson.M) bool {
	for k, v := range filter {
		switch k {
		case "$and":
			for _, sub := range v.(bson.A) {
				if !Match(doc, sub.(bson.M)) {
					return false
				}
			}
		case "$or":
			matched := false
			for _, sub := range v.(bson.A) {
				if Match(doc, sub.(bson.M)) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			if !cond(doc, k, v) {
				return false
			}
		}
	}
	return true
}

func cond(doc map[string]any, field string, want any) bool {
	got, present := doc[field]
	switch w := want.(type) {
	case bson.Regex:
		s, _ := got.(string)
		flags := ""
		if strings.Contains(w.Options, "i") {
			flags = "(?i)"
		}
		return regexp.MustCompile(flags + w.Pattern).MatchString(s)
	case bson.M:
		for op, arg := range w {
			switch op {
			case "$in":
				found := false
				for _, candidate := range arg.(bson.A) {
					if candidate == got {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			case "$exists":
				if present != arg.(bool) {
					return false
				}
			default:
				panic("storetest: unsupported operator " + op)
			}
		}
		return true
	}
	return got == want
}
