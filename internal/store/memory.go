package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"example.com/photoposts/internal/models"
	"example.com/photoposts/internal/validator"
)

var (
	// ErrInvalidID is returned when an operation is given an empty post id.
	ErrInvalidID = errors.New("store: invalid post id")
	// ErrInvalidPost is returned when a candidate post fails validation.
	ErrInvalidPost = errors.New("store: invalid post")
	// ErrInvalidPatch is returned when an edit is given no patch.
	ErrInvalidPatch = errors.New("store: invalid patch")
	// ErrInvalidUser is returned when a like is given an empty username.
	ErrInvalidUser = errors.New("store: invalid user")
	// ErrPostNotFound is returned when no post has the requested id.
	ErrPostNotFound = errors.New("store: post not found")
	// ErrPostAlreadyExists is returned when adding a post whose id is taken.
	ErrPostAlreadyExists = errors.New("store: post already exists")
)

// Order is the direction of the store's createdAt ordering.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// ParseOrder maps a config value to an Order, defaulting to Ascending.
func ParseOrder(s string) Order {
	if Order(s) == Descending {
		return Descending
	}
	return Ascending
}

// PostStore owns the photo post collection.
//
// A nil error from a mutation means it was committed; any error means the
// collection is exactly as it was before the call.
type PostStore interface {
	List(skip, top int, filter *models.Filter) []models.Post
	Get(id string) (models.Post, bool)
	Add(candidate models.Record) (models.Post, error)
	Edit(id string, patch models.Record) (models.Post, error)
	Remove(id string) error
	Like(id, user string) (models.Post, error)
	Len() int
}

// Memory is the in-memory PostStore. Mutations are serialised by a single
// write lock; reads share a read lock and return deep copies, so callers
// can never change stored posts without going through validation.
type Memory struct {
	mu     sync.RWMutex
	posts  []models.Post
	order  Order
	schema validator.Schema
}

// NewMemory returns a store holding copies of seed, sorted by order.
// Seed posts are trusted and not validated.
func NewMemory(order Order, seed []models.Post) *Memory {
	m := &Memory{
		posts:  make([]models.Post, 0, len(seed)),
		order:  order,
		schema: validator.PostSchema,
	}
	for _, p := range seed {
		m.posts = append(m.posts, p.Clone())
	}
	m.sort()
	return m
}

// List returns the posts matching filter within the page [skip, skip+top).
// The upper page bound is capped by the size of the whole collection, not
// by the number of matches, so a filtered page may come back short.
func (m *Memory) List(skip, top int, filter *models.Filter) []models.Post {
	if skip < 0 || top < 0 {
		return []models.Post{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	total := len(m.posts)
	if skip >= total {
		return []models.Post{}
	}
	end := total
	if top < total-skip {
		end = skip + top
	}

	matched := m.posts
	if filter != nil {
		matched = make([]models.Post, 0, total)
		for _, p := range m.posts {
			if filter.Match(p) {
				matched = append(matched, p)
			}
		}
	}

	if end > len(matched) {
		end = len(matched)
	}
	if skip >= end {
		return []models.Post{}
	}

	res := make([]models.Post, 0, end-skip)
	for _, p := range matched[skip:end] {
		res = append(res, p.Clone())
	}
	return res
}

// Get returns a copy of the post with the given id.
func (m *Memory) Get(id string) (models.Post, bool) {
	if id == "" {
		return models.Post{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.indexOf(id)
	if i < 0 {
		return models.Post{}, false
	}
	return m.posts[i].Clone(), true
}

// Add validates candidate as given and inserts it, keeping the collection
// ordered by createdAt. It returns a copy of the post as stored.
func (m *Memory) Add(candidate models.Record) (models.Post, error) {
	if candidate == nil {
		return models.Post{}, ErrInvalidPost
	}
	if err := m.schema.Check(candidate); err != nil {
		logg.Info("store", "Add rejected: "+err.Error())
		return models.Post{}, fmt.Errorf("%w: %w", ErrInvalidPost, err)
	}
	p := models.PostFromRecord(candidate)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(p.ID) >= 0 {
		logg.Info("store", "Add rejected: duplicate post id="+p.ID)
		return models.Post{}, ErrPostAlreadyExists
	}
	m.posts = append(m.posts, p)
	m.sort()

	logg.Debug("store", "Post added id="+p.ID)
	return p.Clone(), nil
}

// Edit merges patch into the post with the given id and returns the
// result. Protected fields in the patch are ignored. The merged post must
// validate, otherwise nothing changes.
func (m *Memory) Edit(id string, patch models.Record) (models.Post, error) {
	if id == "" {
		return models.Post{}, ErrInvalidID
	}
	if patch == nil {
		return models.Post{}, ErrInvalidPatch
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return models.Post{}, ErrPostNotFound
	}

	merged := m.posts[i].Record().Merge(patch.Without(models.ProtectedFields...))
	if err := m.schema.Check(merged); err != nil {
		logg.Info("store", "Edit rejected for id="+id+": "+err.Error())
		return models.Post{}, fmt.Errorf("%w: %w", ErrInvalidPost, err)
	}
	m.posts[i] = models.PostFromRecord(merged)

	logg.Debug("store", "Post edited id="+id)
	return m.posts[i].Clone(), nil
}

// Remove deletes the post with the given id.
func (m *Memory) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return ErrPostNotFound
	}
	m.posts = slices.Delete(m.posts, i, i+1)

	logg.Debug("store", "Post removed id="+id)
	return nil
}

// Like toggles user's like on the post and returns the updated post.
func (m *Memory) Like(id, user string) (models.Post, error) {
	if id == "" {
		return models.Post{}, ErrInvalidID
	}
	if user == "" {
		return models.Post{}, ErrInvalidUser
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return models.Post{}, ErrPostNotFound
	}

	cur := m.posts[i]
	var likes []string
	if j := slices.Index(cur.Likes, user); j >= 0 {
		likes = slices.Delete(slices.Clone(cur.Likes), j, j+1)
	} else {
		likes = append(slices.Clone(cur.Likes), user)
	}

	merged := cur.Record().Merge(models.Record{models.FieldLikes: likes})
	if err := m.schema.Check(merged); err != nil {
		return models.Post{}, fmt.Errorf("%w: %w", ErrInvalidPost, err)
	}
	m.posts[i] = models.PostFromRecord(merged)
	return m.posts[i].Clone(), nil
}

// Len returns the number of posts held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.posts)
}

func (m *Memory) indexOf(id string) int {
	return slices.IndexFunc(m.posts, func(p models.Post) bool {
		return p.ID == id
	})
}

func (m *Memory) sort() {
	slices.SortStableFunc(m.posts, func(a, b models.Post) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if m.order == Descending {
			return -c
		}
		return c
	})
}
