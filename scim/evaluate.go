package scim

import (
	"reflect"
	"strings"
	"time"
)

// Matches evaluates a filter expression against a resource document.
// The expression is never mutated; subjects are read only.
func Matches(expr Expression, subject any) bool {
	switch e := expr.(type) {
	case *AttributeExpression:
		return matchesAttribute(e, subject)
	case *ValuePathExpression:
		target := resolvePath(subject, e.Path)
		arr, ok := target.([]any)
		if !ok {
			return false
		}
		for _, elem := range arr {
			if Matches(e.Filter, elem) {
				return true
			}
		}
		return false
	case *LogicalExpression:
		if e.Operator == "and" {
			return Matches(e.Left, subject) && Matches(e.Right, subject)
		}
		return Matches(e.Left, subject) || Matches(e.Right, subject)
	case *NotExpression:
		return !Matches(e.Inner, subject)
	}
	return false
}

// FilterResources keeps the documents matching the filter. A nil
// expression keeps everything. The result is always a subset of the
// input, in input order.
func FilterResources(resources []Resource, expr Expression) []Resource {
	if expr == nil {
		return resources
	}
	out := make([]Resource, 0, len(resources))
	for _, doc := range resources {
		if Matches(expr, doc) {
			out = append(out, doc)
		}
	}
	return out
}

func matchesAttribute(e *AttributeExpression, subject any) bool {
	target := resolvePath(subject, e.Path)

	if e.Present {
		return isPresent(target)
	}

	// A comparison against a multi-valued target matches when any
	// element matches.
	if arr, ok := target.([]any); ok {
		for _, elem := range arr {
			if compareValues(e.Operator, elem, e.Value) {
				return true
			}
		}
		return false
	}

	return compareValues(e.Operator, target, e.Value)
}

// resolvePath resolves an attribute path against a subject. A URI
// qualifier selects the schema-extension sub-object stored under the
// URI key (e.g. the enterprise extension).
func resolvePath(subject any, path AttrPath) any {
	doc, ok := subject.(map[string]any)
	if !ok {
		return nil
	}

	if path.URI != "" {
		_, ext, found := lookupKey(doc, path.URI)
		if !found {
			return nil
		}
		doc, ok = ext.(map[string]any)
		if !ok {
			return nil
		}
	}

	_, value, found := lookupKey(doc, path.Name)
	if !found {
		return nil
	}
	if path.Sub == "" {
		return value
	}

	switch v := value.(type) {
	case map[string]any:
		_, sub, _ := lookupKey(v, path.Sub)
		return sub
	case []any:
		// Sub-attribute of a multi-valued attribute: collect the
		// sub-values of every element.
		out := make([]any, 0, len(v))
		for _, elem := range v {
			if m, ok := elem.(map[string]any); ok {
				if _, sub, found := lookupKey(m, path.Sub); found {
					out = append(out, sub)
				}
			}
		}
		return out
	default:
		return nil
	}
}

// resolveDotted resolves a dotted path like "name.familyName" against a
// document, used by sorting. The path may carry a URI qualifier.
func resolveDotted(doc Resource, dotted string) any {
	path, ok := splitAttrPath(dotted)
	if !ok {
		return nil
	}
	return resolvePath(doc, path)
}

// isPresent implements the "pr" operator: the target must be non-null,
// and non-empty for multi-valued attributes.
func isPresent(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case []any:
		return len(val) > 0
	case string:
		return val != ""
	default:
		return true
	}
}

func compareValues(op string, target, value any) bool {
	switch op {
	case "eq":
		return equalValues(target, value)
	case "ne":
		return !equalValues(target, value)
	case "co":
		a, b, ok := bothStrings(target, value)
		return ok && strings.Contains(a, b)
	case "sw":
		a, b, ok := bothStrings(target, value)
		return ok && strings.HasPrefix(a, b)
	case "ew":
		a, b, ok := bothStrings(target, value)
		return ok && strings.HasSuffix(a, b)
	case "gt":
		cmp, ok := orderValues(target, value)
		return ok && cmp > 0
	case "ge":
		cmp, ok := orderValues(target, value)
		return ok && cmp >= 0
	case "lt":
		cmp, ok := orderValues(target, value)
		return ok && cmp < 0
	case "le":
		cmp, ok := orderValues(target, value)
		return ok && cmp <= 0
	}
	return false
}

// equalValues implements "eq": strict equality, with null and absent
// comparing equal to each other.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if aStr, ok := a.(string); ok {
		bStr, ok := b.(string)
		return ok && aStr == bStr
	}
	if aBool, ok := a.(bool); ok {
		bBool, ok := b.(bool)
		return ok && aBool == bBool
	}

	aNum, aOK := toFloat64(a)
	bNum, bOK := toFloat64(b)
	if aOK && bOK {
		return aNum == bNum
	}

	return reflect.DeepEqual(a, b)
}

// orderValues compares two values for the ordering operators. Defined
// for string pairs (ISO-8601 date-times compare as instants, other
// strings lexicographically) and numeric pairs; anything else is
// unordered and every ordering operator yields false.
func orderValues(a, b any) (int, bool) {
	if aStr, ok := a.(string); ok {
		bStr, ok := b.(string)
		if !ok {
			return 0, false
		}
		if aTime, err := time.Parse(time.RFC3339, aStr); err == nil {
			if bTime, err := time.Parse(time.RFC3339, bStr); err == nil {
				return aTime.Compare(bTime), true
			}
		}
		return strings.Compare(aStr, bStr), true
	}

	aNum, aOK := toFloat64(a)
	bNum, bOK := toFloat64(b)
	if aOK && bOK {
		switch {
		case aNum < bNum:
			return -1, true
		case aNum > bNum:
			return 1, true
		default:
			return 0, true
		}
	}

	return 0, false
}

func bothStrings(a, b any) (string, string, bool) {
	aStr, aOK := a.(string)
	bStr, bOK := b.(string)
	return aStr, bStr, aOK && bOK
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}
