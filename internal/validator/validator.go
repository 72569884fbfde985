package validator

import (
	"errors"
	"fmt"
	"reflect"
	"time"
	"unicode/utf16"

	"example.com/photoposts/internal/models"
)

// MaxDescriptionLength is the longest description accepted, in UTF-16 code
// units, which is how the browser client measures it.
const MaxDescriptionLength = 200

// Rule checks a single field value. A missing field is passed as nil.
type Rule func(v any) bool

// Field binds a record key to the rule its value must satisfy.
type Field struct {
	Name    string
	Rule    Rule
	Message string
}

// Schema is an ordered list of field rules. Rules are evaluated in order
// and the first failure is reported.
type Schema []Field

// PostSchema describes a valid photo post.
var PostSchema = Schema{
	{Name: models.FieldID, Rule: IsString, Message: "must be a string"},
	{Name: models.FieldDescription, Rule: StringLength(1, MaxDescriptionLength), Message: fmt.Sprintf("must be 1-%d characters", MaxDescriptionLength)},
	{Name: models.FieldCreatedAt, Rule: IsTimestamp, Message: "must be a valid timestamp"},
	{Name: models.FieldAuthor, Rule: NonEmptyString, Message: "must be a non-empty string"},
	{Name: models.FieldPhotoLink, Rule: NonEmptyString, Message: "must be a non-empty string"},
	{Name: models.FieldLikes, Rule: IsSequence, Message: "must be a list"},
	{Name: models.FieldHashTags, Rule: IsSequence, Message: "must be a list"},
}

// ValidationError names the field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (%s): %s", e.Field, e.Message)
}

// IsValidationError checks if err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// Check returns the first rule r violates, or nil.
func (s Schema) Check(r models.Record) error {
	if r == nil {
		return &ValidationError{Field: "", Message: "record is missing"}
	}
	for _, f := range s {
		if !f.Rule(r[f.Name]) {
			return &ValidationError{Field: f.Name, Message: f.Message}
		}
	}
	return nil
}

// Validate reports whether r satisfies every rule.
func (s Schema) Validate(r models.Record) bool {
	return s.Check(r) == nil
}

// Check validates r against PostSchema.
func Check(r models.Record) error {
	return PostSchema.Check(r)
}

// Validate reports whether r is a valid post.
func Validate(r models.Record) bool {
	return PostSchema.Validate(r)
}

// --- Rules ---

func IsString(v any) bool {
	_, ok := v.(string)
	return ok
}

func NonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}

// StringLength accepts strings whose UTF-16 length lies in [min, max].
// Characters outside the BMP count twice, combining marks count on their own.
func StringLength(min, max int) Rule {
	return func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		n := len(utf16.Encode([]rune(s)))
		return n >= min && n <= max
	}
}

func IsTimestamp(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return !t.IsZero()
	case *time.Time:
		return t != nil && !t.IsZero()
	}
	return false
}

// IsSequence accepts any slice or array; element types are not checked.
func IsSequence(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}
