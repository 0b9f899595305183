/*Package query translates caller-supplied filter, sort and pagination
parameters into a validated Spec.

The translator never produces SQL text from caller input. Field names are
checked against the entity's declared columns and operators against a fixed
set; values travel as bound parameters all the way to the row store.
*/
package query

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pantrybase/pantrybase/core/entity"
)

// ErrInvalidQuery is returned when a filter or sort references an unknown
// field or an unsupported operator.
var ErrInvalidQuery = errors.New("invalid query")

// operators in matching order, longest first
var operators = []string{"!=", ">=", "<=", "=", "~", "<", ">"}

// Condition is one field-level filter.
type Condition struct {
	Field    string
	Operator string
	Value    string
}

// Sort is one sort key. Text ordering is case-insensitive.
type Sort struct {
	Field      string
	Descending bool
}

// Spec is a validated query against one entity.
type Spec struct {
	Conditions []Condition
	Sort       []Sort
	Limit      int
	Offset     int
}

// Translate parses the URL query parameters of a list request. Filters use
// the form query[]=field<op>value with operators =, !=, <, <=, >, >= and ~
// (pattern match); sorting uses order=field or order=field:desc; pagination
// uses limit and offset. Unknown parameters, fields and operators are
// rejected, never ignored.
func Translate(params url.Values, desc entity.Descriptor) (Spec, error) {
	var spec Spec
	for key, array := range params {
		switch key {
		case "query[]":
			for _, value := range array {
				condition, err := parseCondition(value, desc)
				if err != nil {
					return Spec{}, err
				}
				spec.Conditions = append(spec.Conditions, condition)
			}
		case "order":
			if len(array) > 1 {
				return Spec{}, fmt.Errorf("%w: illegal parameter array 'order'", ErrInvalidQuery)
			}
			sort, err := parseSort(array[0], desc)
			if err != nil {
				return Spec{}, err
			}
			spec.Sort = append(spec.Sort, sort)
		case "limit", "offset":
			if len(array) > 1 {
				return Spec{}, fmt.Errorf("%w: illegal parameter array '%s'", ErrInvalidQuery, key)
			}
			n, err := strconv.Atoi(array[0])
			if err != nil || n < 0 {
				return Spec{}, fmt.Errorf("%w: parameter '%s' out of range", ErrInvalidQuery, key)
			}
			if key == "limit" {
				spec.Limit = n
			} else {
				spec.Offset = n
			}
		default:
			return Spec{}, fmt.Errorf("%w: unknown query parameter '%s'", ErrInvalidQuery, key)
		}
	}
	return spec, nil
}

func parseCondition(value string, desc entity.Descriptor) (Condition, error) {
	i := strings.IndexAny(value, "=!<>~")
	if i < 1 {
		return Condition{}, fmt.Errorf("%w: cannot parse filter '%s', must be of type field<operator>value", ErrInvalidQuery, value)
	}
	field := value[:i]
	rest := value[i:]

	var operator string
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			operator = op
			break
		}
	}
	if operator == "" {
		return Condition{}, fmt.Errorf("%w: unsupported filter operator in '%s'", ErrInvalidQuery, value)
	}
	if !desc.HasColumn(field) {
		return Condition{}, fmt.Errorf("%w: unknown filter field '%s'", ErrInvalidQuery, field)
	}
	return Condition{
		Field:    field,
		Operator: operator,
		Value:    rest[len(operator):],
	}, nil
}

func parseSort(value string, desc entity.Descriptor) (Sort, error) {
	field := value
	descending := false
	if i := strings.IndexRune(value, ':'); i >= 0 {
		field = value[:i]
		switch value[i+1:] {
		case "asc":
		case "desc":
			descending = true
		default:
			return Sort{}, fmt.Errorf("%w: sort direction must be asc or desc", ErrInvalidQuery)
		}
	}
	if !desc.HasColumn(field) {
		return Sort{}, fmt.Errorf("%w: unknown sort field '%s'", ErrInvalidQuery, field)
	}
	return Sort{Field: field, Descending: descending}, nil
}
