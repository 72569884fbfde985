package models

import (
	"time"
)

// Post is a single photo post held by the store.
type Post struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	Author      string    `json:"author"`
	PhotoLink   string    `json:"photoLink"`
	Likes       []string  `json:"likes"`
	HashTags    []string  `json:"hashTags"`
}

// Field names as they appear in records and JSON payloads.
const (
	FieldID          = "id"
	FieldDescription = "description"
	FieldCreatedAt   = "createdAt"
	FieldAuthor      = "author"
	FieldPhotoLink   = "photoLink"
	FieldLikes       = "likes"
	FieldHashTags    = "hashTags"
)

// ProtectedFields cannot be changed once a post exists.
var ProtectedFields = []string{FieldID, FieldAuthor, FieldCreatedAt}

// Clone returns a deep copy so callers never share slices with the store.
func (p Post) Clone() Post {
	c := p
	c.Likes = cloneStrings(p.Likes)
	c.HashTags = cloneStrings(p.HashTags)
	return c
}

// HasTag reports whether tag is one of the post's hashtags.
func (p Post) HasTag(tag string) bool {
	for _, t := range p.HashTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Filter narrows a list query. Zero-valued fields do not filter.
type Filter struct {
	Author string     `json:"author,omitempty"`
	Date   *time.Time `json:"date,omitempty"`
	Tags   []string   `json:"tags,omitempty"`
}

// Match reports whether p satisfies every criterion set on f.
func (f *Filter) Match(p Post) bool {
	if f == nil {
		return true
	}
	if f.Author != "" && p.Author != f.Author {
		return false
	}
	if f.Date != nil && !p.CreatedAt.Equal(*f.Date) {
		return false
	}
	for _, tag := range f.Tags {
		if !p.HasTag(tag) {
			return false
		}
	}
	return true
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
