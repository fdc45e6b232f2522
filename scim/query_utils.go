package scim

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseQueryParams parses the list-request query string into typed
// inputs. Multi-valued keys take the first value. Validation failures
// map to invalidFilter (for the filter) or invalidValue (everything
// else).
func ParseQueryParams(values url.Values) (QueryParams, error) {
	params := QueryParams{
		StartIndex: 1,
		Count:      -1,
		SortOrder:  "ascending",
	}

	if filter := values.Get("filter"); filter != "" {
		expr, err := ParseFilter(filter)
		if err != nil {
			return params, ErrInvalidFilter(err.Error())
		}
		params.Filter = filter
		params.FilterExpr = expr
	}

	if attrs := values.Get("attributes"); attrs != "" {
		params.Attributes = splitAttrList(attrs)
	}
	if excluded := values.Get("excludedAttributes"); excluded != "" {
		params.ExcludedAttr = splitAttrList(excluded)
	}

	if sortBy := values.Get("sortBy"); sortBy != "" {
		params.SortBy = sortBy
	}
	if sortOrder := values.Get("sortOrder"); sortOrder != "" {
		lower := strings.ToLower(sortOrder)
		if lower != "ascending" && lower != "descending" {
			return params, ErrInvalidValue(fmt.Sprintf("invalid sortOrder %q", sortOrder))
		}
		params.SortOrder = lower
	}

	if raw := values.Get("startIndex"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 1 {
			return params, ErrInvalidValue(fmt.Sprintf("invalid startIndex %q", raw))
		}
		params.StartIndex = idx
	}
	if raw := values.Get("count"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count < 0 {
			return params, ErrInvalidValue(fmt.Sprintf("invalid count %q", raw))
		}
		params.Count = count
	}

	return params, nil
}

func splitAttrList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
