package models

import (
	"fmt"
	"reflect"
	"time"
)

// Record is an untyped post candidate or patch. Keys are the JSON field
// names; a missing key and a key holding the wrong kind of value are both
// representable, which a typed Post cannot express.
type Record map[string]any

// Record returns the post as a fresh Record.
func (p Post) Record() Record {
	c := p.Clone()
	return Record{
		FieldID:          c.ID,
		FieldDescription: c.Description,
		FieldCreatedAt:   c.CreatedAt,
		FieldAuthor:      c.Author,
		FieldPhotoLink:   c.PhotoLink,
		FieldLikes:       c.Likes,
		FieldHashTags:    c.HashTags,
	}
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Without returns a copy of r with the given keys removed.
func (r Record) Without(keys ...string) Record {
	out := r.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Merge overlays patch onto a copy of r.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// PostFromRecord builds a Post from a record that already passed
// validation. Sequence elements that are not strings are formatted with
// fmt so that likes and hashTags stay string slices.
func PostFromRecord(r Record) Post {
	var p Post
	p.ID, _ = r[FieldID].(string)
	p.Description, _ = r[FieldDescription].(string)
	p.Author, _ = r[FieldAuthor].(string)
	p.PhotoLink, _ = r[FieldPhotoLink].(string)
	switch t := r[FieldCreatedAt].(type) {
	case time.Time:
		p.CreatedAt = t
	case *time.Time:
		if t != nil {
			p.CreatedAt = *t
		}
	}
	p.Likes = toStrings(r[FieldLikes])
	p.HashTags = toStrings(r[FieldHashTags])
	return p
}

// RecordFromJSON normalises an object decoded by encoding/json: an RFC3339
// createdAt string becomes a time.Time and arrays made only of strings
// become []string. Values of any other shape are kept as they are so that
// validation can reject them.
func RecordFromJSON(raw map[string]any) Record {
	if raw == nil {
		return nil
	}
	r := make(Record, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			if k == FieldCreatedAt {
				if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
					r[k] = t
					continue
				}
			}
			r[k] = val
		case []any:
			if s, ok := allStrings(val); ok {
				r[k] = s
				continue
			}
			r[k] = val
		default:
			r[k] = val
		}
	}
	return r
}

func allStrings(in []any) ([]string, bool) {
	out := make([]string, 0, len(in))
	for _, v := range in {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func toStrings(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case []string:
		return cloneStrings(s)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]string, rv.Len())
	for i := range out {
		elem := rv.Index(i).Interface()
		if str, ok := elem.(string); ok {
			out[i] = str
			continue
		}
		out[i] = fmt.Sprint(elem)
	}
	return out
}
