package scim

import (
	"sort"
	"strings"
	"time"
)

// SortResources orders documents by the dotted sortBy path. Undefined
// values sort before defined values ascending; descending reverses the
// full order. The input slice is not modified.
func SortResources(resources []Resource, sortBy, sortOrder string) []Resource {
	if sortBy == "" || len(resources) == 0 {
		return resources
	}

	ascending := !strings.EqualFold(sortOrder, "descending")

	type pair struct {
		doc   Resource
		value any
	}
	pairs := make([]pair, len(resources))
	for i, doc := range resources {
		pairs[i] = pair{doc: doc, value: resolveDotted(doc, sortBy)}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		cmp := compareForSort(pairs[i].value, pairs[j].value)
		if ascending {
			return cmp < 0
		}
		return cmp > 0
	})

	out := make([]Resource, len(pairs))
	for i := range pairs {
		out[i] = pairs[i].doc
	}
	return out
}

// compareForSort returns -1, 0 or 1. Nil sorts first; strings compare
// as instants when both parse as ISO-8601 date-times, otherwise by
// codepoint; booleans order false before true.
func compareForSort(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	if aStr, ok := a.(string); ok {
		if bStr, ok := b.(string); ok {
			if aTime, err := time.Parse(time.RFC3339, aStr); err == nil {
				if bTime, err := time.Parse(time.RFC3339, bStr); err == nil {
					return aTime.Compare(bTime)
				}
			}
			return strings.Compare(aStr, bStr)
		}
	}

	aNum, aOK := toFloat64(a)
	bNum, bOK := toFloat64(b)
	if aOK && bOK {
		switch {
		case aNum < bNum:
			return -1
		case aNum > bNum:
			return 1
		default:
			return 0
		}
	}

	aBool, aOK := a.(bool)
	bBool, bOK := b.(bool)
	if aOK && bOK {
		switch {
		case !aBool && bBool:
			return -1
		case aBool && !bBool:
			return 1
		default:
			return 0
		}
	}

	return 0
}

// ApplyPagination slices a result set with 1-based startIndex. A count
// of -1 means unbounded; a count of 0 yields an empty page. Returns the
// page, the echoed startIndex, and the actual page size.
func ApplyPagination(resources []Resource, startIndex, count int) ([]Resource, int, int) {
	total := len(resources)

	if startIndex < 1 {
		startIndex = 1
	}

	start := startIndex - 1
	if start >= total || count == 0 {
		return []Resource{}, startIndex, 0
	}

	end := total
	if count > 0 && start+count < total {
		end = start + count
	}

	paged := resources[start:end]
	return paged, startIndex, len(paged)
}

// coreAttributes are always returned when an include-list is supplied,
// unless explicitly excluded.
var coreAttributes = map[string]bool{
	"schemas":    true,
	"id":         true,
	"externalid": true,
	"meta":       true,
}

// AttributeSelection is a compiled attributes / excludedAttributes
// pair. An attribute path in the include-list implies inclusion of its
// descendants and of its ancestors along the path; an excluded path
// removes the subtree.
type AttributeSelection struct {
	Attributes []string
	Excluded   []string

	include map[string]*attrNode
	exclude map[string]*attrNode
}

// attrNode is one level of a compiled attribute-path tree. A node with
// no children selects (or removes) the whole subtree.
type attrNode struct {
	children map[string]*attrNode
}

// NewAttributeSelection compiles the two attribute lists. Returns nil
// when both are empty, meaning no projection at all.
func NewAttributeSelection(attributes, excluded []string) *AttributeSelection {
	if len(attributes) == 0 && len(excluded) == 0 {
		return nil
	}
	sel := &AttributeSelection{
		Attributes: attributes,
		Excluded:   excluded,
	}
	if len(attributes) > 0 {
		sel.include = compileAttrPaths(attributes)
	}
	if len(excluded) > 0 {
		sel.exclude = compileAttrPaths(excluded)
	}
	return sel
}

// compileAttrPaths turns dotted (and optionally URI-qualified)
// attribute paths into a lookup tree keyed by lowercased segments.
func compileAttrPaths(paths []string) map[string]*attrNode {
	root := make(map[string]*attrNode)
	for _, raw := range paths {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		segments := attrPathSegments(raw)
		level := root
		for i, seg := range segments {
			node, ok := level[seg]
			if !ok {
				node = &attrNode{children: make(map[string]*attrNode)}
				level[seg] = node
			}
			if i == len(segments)-1 {
				// Leaf: select the whole subtree, overriding any
				// narrower paths registered earlier.
				node.children = make(map[string]*attrNode)
				break
			}
			if len(node.children) == 0 && ok {
				// An earlier path already selected this whole subtree.
				break
			}
			level = node.children
		}
	}
	return root
}

// attrPathSegments splits "uri:name.sub" into lowercased lookup
// segments, with the URI (when present) as the leading segment.
func attrPathSegments(raw string) []string {
	path, ok := splitAttrPath(raw)
	if !ok {
		return []string{strings.ToLower(raw)}
	}
	var segments []string
	if path.URI != "" {
		segments = append(segments, strings.ToLower(path.URI+":"+path.Name))
	} else {
		segments = append(segments, strings.ToLower(path.Name))
	}
	if path.Sub != "" {
		segments = append(segments, strings.ToLower(path.Sub))
	}
	return segments
}

// Project applies the selection to a document, returning a new
// document. The input is not modified.
func (sel *AttributeSelection) Project(doc Resource) Resource {
	if sel == nil {
		return doc
	}
	out := doc
	if sel.include != nil {
		projected := make(Resource, len(doc))
		for key, value := range doc {
			lower := strings.ToLower(key)
			if coreAttributes[lower] {
				projected[key] = value
				continue
			}
			node, ok := sel.include[lower]
			if !ok {
				continue
			}
			if kept, keep := includeSubtree(value, node); keep {
				projected[key] = kept
			}
		}
		out = projected
	}
	if sel.exclude != nil {
		out = excludeTree(out, sel.exclude).(Resource)
	}
	return out
}

// ProjectAll applies the selection to every document.
func (sel *AttributeSelection) ProjectAll(resources []Resource) []Resource {
	if sel == nil {
		return resources
	}
	out := make([]Resource, len(resources))
	for i, doc := range resources {
		out[i] = sel.Project(doc)
	}
	return out
}

func includeSubtree(value any, node *attrNode) (any, bool) {
	if len(node.children) == 0 {
		return value, true
	}
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any)
		for key, item := range v {
			child, ok := node.children[strings.ToLower(key)]
			if !ok {
				continue
			}
			if kept, keep := includeSubtree(item, child); keep {
				out[key] = kept
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if kept, keep := includeSubtree(item, node); keep {
				out = append(out, kept)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	default:
		// A sub-attribute was requested of a scalar; nothing matches.
		return nil, false
	}
}

func excludeTree(value any, exclusions map[string]*attrNode) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			node, ok := exclusions[strings.ToLower(key)]
			if !ok {
				out[key] = item
				continue
			}
			if len(node.children) == 0 {
				continue
			}
			out[key] = excludeTree(item, node.children)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = excludeTree(item, exclusions)
		}
		return out
	default:
		return value
	}
}
