package scim

import (
	"fmt"
	"slices"
	"strings"
)

// knownStringAttrs and knownBoolAttrs form the known-attribute table
// used to validate the JSON type of PATCH values targeting scalar
// attributes. Names are lowercased.
var knownStringAttrs = map[string]bool{
	"username":          true,
	"displayname":       true,
	"nickname":          true,
	"profileurl":        true,
	"title":             true,
	"usertype":          true,
	"preferredlanguage": true,
	"locale":            true,
	"timezone":          true,
	"externalid":        true,
	"password":          true,
}

var knownBoolAttrs = map[string]bool{
	"active": true,
}

func validateScalarType(name string, value any) error {
	if value == nil {
		return nil
	}
	lower := strings.ToLower(name)
	if knownStringAttrs[lower] {
		if _, ok := value.(string); !ok {
			return ErrInvalidValue(fmt.Sprintf("attribute %s requires a string value", name))
		}
	}
	if knownBoolAttrs[lower] {
		if _, ok := value.(bool); !ok {
			return ErrInvalidValue(fmt.Sprintf("attribute %s requires a boolean value", name))
		}
	}
	return nil
}

// PatchProcessor applies SCIM PATCH requests (RFC 7644 section 3.5.2)
// to resource documents. It is stateless and safe for concurrent use.
type PatchProcessor struct{}

// NewPatchProcessor creates a new patch processor
func NewPatchProcessor() *PatchProcessor {
	return &PatchProcessor{}
}

// Apply applies a PATCH request and returns a new document; the input
// is never modified. Operations apply in declared order to a working
// copy; on any per-operation error the error is returned and the
// partial result is discarded, so the caller's resource is unchanged.
func (pp *PatchProcessor) Apply(doc Resource, patch *PatchOp) (Resource, error) {
	if !slices.Contains(patch.Schemas, SchemaPatchOp) {
		return nil, ErrInvalidSyntax("PATCH request must declare the PatchOp schema")
	}

	out := CloneResource(doc)
	for _, op := range patch.Operations {
		var err error
		switch strings.ToLower(op.Op) {
		case "add":
			err = pp.applyAdd(out, op)
		case "replace":
			err = pp.applyReplace(out, op)
		case "remove":
			err = pp.applyRemove(out, op)
		default:
			err = ErrInvalidValue(fmt.Sprintf("invalid operation: %s", op.Op))
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// applyAdd applies an ADD operation
func (pp *PatchProcessor) applyAdd(doc Resource, op PatchOperation) error {
	if strings.TrimSpace(op.Path) == "" {
		return mergeIntoRoot(doc, op.Value)
	}

	path, err := parsePatchPath(op.Path)
	if err != nil {
		return err
	}

	parent, found, err := navigateToParent(doc, path, true)
	if err != nil || !found {
		return err
	}

	seg := path.segments[len(path.segments)-1]
	if seg.filter != nil {
		return addWithFilter(parent, seg, op.Value)
	}

	key, current, exists := lookupKey(parent, seg.name)
	if exists {
		if arr, ok := current.([]any); ok {
			parent[key] = appendValues(arr, op.Value)
			return nil
		}
		if err := validateScalarType(seg.name, op.Value); err != nil {
			return err
		}
		parent[key] = op.Value
		return nil
	}

	if isPluralName(seg.name) {
		if arr, ok := op.Value.([]any); ok {
			parent[key] = arr
		} else {
			parent[key] = []any{op.Value}
		}
		return nil
	}

	if err := validateScalarType(seg.name, op.Value); err != nil {
		return err
	}
	parent[key] = op.Value
	return nil
}

// applyReplace applies a REPLACE operation
func (pp *PatchProcessor) applyReplace(doc Resource, op PatchOperation) error {
	if strings.TrimSpace(op.Path) == "" {
		return mergeIntoRoot(doc, op.Value)
	}

	path, err := parsePatchPath(op.Path)
	if err != nil {
		return err
	}

	parent, found, err := navigateToParent(doc, path, true)
	if err != nil || !found {
		return err
	}

	seg := path.segments[len(path.segments)-1]
	if seg.filter != nil {
		return replaceWithFilter(parent, seg, op.Value)
	}

	if err := validateScalarType(seg.name, op.Value); err != nil {
		return err
	}
	key, _, _ := lookupKey(parent, seg.name)
	parent[key] = op.Value
	return nil
}

// applyRemove applies a REMOVE operation
func (pp *PatchProcessor) applyRemove(doc Resource, op PatchOperation) error {
	if strings.TrimSpace(op.Path) == "" {
		return ErrInvalidSyntax("path is required for remove operation")
	}

	path, err := parsePatchPath(op.Path)
	if err != nil {
		return err
	}

	parent, found, err := navigateToParent(doc, path, false)
	if err != nil || !found {
		return err
	}

	seg := path.segments[len(path.segments)-1]
	key, current, exists := lookupKey(parent, seg.name)
	if !exists {
		return nil
	}

	if seg.filter != nil {
		arr, ok := current.([]any)
		if !ok {
			return ErrInvalidValue(fmt.Sprintf("filter selector on non-array attribute %s", seg.name))
		}
		kept := make([]any, 0, len(arr))
		for _, elem := range arr {
			if !Matches(seg.filter, elem) {
				kept = append(kept, elem)
			}
		}
		parent[key] = kept
		return nil
	}

	if arr, ok := current.([]any); ok {
		if op.Value == nil {
			// The attribute is emptied, not dropped from the document.
			parent[key] = []any{}
			return nil
		}
		kept := make([]any, 0, len(arr))
		for _, elem := range arr {
			if !elementEquals(elem, op.Value) {
				kept = append(kept, elem)
			}
		}
		parent[key] = kept
		return nil
	}

	delete(parent, key)
	return nil
}

// mergeIntoRoot shallow-merges an object value into the resource root.
func mergeIntoRoot(doc Resource, value any) error {
	vm, ok := value.(map[string]any)
	if !ok {
		return ErrInvalidValue("a pathless operation requires an object value")
	}
	for name, v := range vm {
		if err := validateScalarType(name, v); err != nil {
			return err
		}
		key, _, _ := lookupKey(doc, name)
		doc[key] = v
	}
	return nil
}

// addWithFilter implements add on a filtered path: matching elements
// suppress the add as a duplicate; otherwise the value is appended.
func addWithFilter(parent map[string]any, seg pathSegment, value any) error {
	key, current, exists := lookupKey(parent, seg.name)
	var arr []any
	if exists {
		var ok bool
		arr, ok = current.([]any)
		if !ok {
			return ErrInvalidValue(fmt.Sprintf("filter selector on non-array attribute %s", seg.name))
		}
	}
	for _, elem := range arr {
		if Matches(seg.filter, elem) {
			return nil
		}
	}
	parent[key] = append(arr, value)
	return nil
}

// replaceWithFilter substitutes or merges the value into every element
// matching the segment filter.
func replaceWithFilter(parent map[string]any, seg pathSegment, value any) error {
	key, current, exists := lookupKey(parent, seg.name)
	if !exists {
		return nil
	}
	arr, ok := current.([]any)
	if !ok {
		return ErrInvalidValue(fmt.Sprintf("filter selector on non-array attribute %s", seg.name))
	}

	vm, valueIsObject := value.(map[string]any)
	out := make([]any, len(arr))
	for i, elem := range arr {
		if !Matches(seg.filter, elem) {
			out[i] = elem
			continue
		}
		em, elemIsObject := elem.(map[string]any)
		if valueIsObject && elemIsObject {
			merged := make(map[string]any, len(em)+len(vm))
			for k, v := range em {
				merged[k] = v
			}
			for k, v := range vm {
				mk, _, _ := lookupKey(merged, k)
				merged[mk] = v
			}
			out[i] = merged
		} else {
			out[i] = value
		}
	}
	parent[key] = out
	return nil
}

// navigateToParent walks every path segment but the last. With create
// set, absent intermediate objects are created; otherwise an absent
// target reports found=false, which callers treat as a no-op.
func navigateToParent(doc Resource, path *patchPath, create bool) (map[string]any, bool, error) {
	current := doc
	for _, seg := range path.segments[:len(path.segments)-1] {
		key, value, exists := lookupKey(current, seg.name)

		if seg.filter != nil {
			if !exists {
				if create {
					return nil, false, ErrNoTarget(fmt.Sprintf("attribute %s not found", seg.name))
				}
				return nil, false, nil
			}
			arr, ok := value.([]any)
			if !ok {
				return nil, false, ErrInvalidValue(fmt.Sprintf("filter selector on non-array attribute %s", seg.name))
			}
			var match map[string]any
			for _, elem := range arr {
				if m, ok := elem.(map[string]any); ok && Matches(seg.filter, m) {
					match = m
					break
				}
			}
			if match == nil {
				if create {
					return nil, false, ErrNoTarget(fmt.Sprintf("no element of %s matches the filter", seg.name))
				}
				return nil, false, nil
			}
			current = match
			continue
		}

		if !exists {
			if !create {
				return nil, false, nil
			}
			next := make(map[string]any)
			current[key] = next
			current = next
			continue
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false, ErrInvalidValue(fmt.Sprintf("attribute %s is not a complex attribute", seg.name))
		}
		current = next
	}
	return current, true, nil
}

// appendValues appends a value, or every element of an array value, to
// an existing array attribute.
func appendValues(arr []any, value any) []any {
	if items, ok := value.([]any); ok {
		return append(arr, items...)
	}
	return append(arr, value)
}

// elementEquals implements the remove-by-value match: for object
// values, every key present in the value must equal the element's; for
// scalars, plain equality.
func elementEquals(elem, value any) bool {
	vm, ok := value.(map[string]any)
	if !ok {
		return equalValues(elem, value)
	}
	em, ok := elem.(map[string]any)
	if !ok {
		return false
	}
	for k, v := range vm {
		_, ev, found := lookupKey(em, k)
		if !found || !equalValues(ev, v) {
			return false
		}
	}
	return true
}

// isPluralName is the heuristic for creating an absent attribute as a
// single-element array: the name ends in "s" and is not "schemas".
func isPluralName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, "s") && lower != "schemas"
}

// pathSegment is one dotted step of a PATCH path, optionally carrying a
// bracketed filter selector.
type pathSegment struct {
	name   string
	filter Expression
}

type patchPath struct {
	segments []pathSegment
}

// parsePatchPath parses a PATCH path: an attribute path (URI qualifier
// allowed, dots separate segments) with optional bracketed filter
// selectors, e.g. emails[type eq "work"].value or
// urn:ietf:params:scim:schemas:extension:enterprise:2.0:User:manager.
func parsePatchPath(raw string) (*patchPath, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return nil, ErrInvalidSyntax("empty path")
	}

	path := &patchPath{}
	pos := 0

	// Leading attribute path, possibly URI-qualified. The URI keys the
	// extension sub-object, so it becomes a segment of its own.
	start := pos
	for pos < len(input) {
		ch := input[pos]
		if isAttrChar(ch) || ch == '.' || ch == ':' {
			pos++
			continue
		}
		break
	}
	token := input[start:pos]
	if token == "" {
		return nil, ErrInvalidSyntax(fmt.Sprintf("invalid path %q", raw))
	}
	attr, ok := splitAttrPath(token)
	if !ok {
		return nil, ErrInvalidSyntax(fmt.Sprintf("invalid attribute path %q", token))
	}
	if attr.URI != "" {
		path.segments = append(path.segments, pathSegment{name: attr.URI})
	}
	path.segments = append(path.segments, pathSegment{name: attr.Name})
	if attr.Sub != "" {
		path.segments = append(path.segments, pathSegment{name: attr.Sub})
	}

	for pos < len(input) {
		switch input[pos] {
		case '[':
			last := &path.segments[len(path.segments)-1]
			if last.filter != nil {
				return nil, ErrInvalidSyntax(fmt.Sprintf("invalid path %q", raw))
			}
			end, err := findClosingBracket(input, pos)
			if err != nil {
				return nil, err
			}
			expr, perr := ParseFilter(input[pos+1 : end])
			if perr != nil {
				return nil, ErrInvalidSyntax(fmt.Sprintf("invalid filter selector in path %q: %v", raw, perr))
			}
			last.filter = expr
			pos = end + 1
		case '.':
			pos++
			nameStart := pos
			for pos < len(input) && isAttrChar(input[pos]) {
				pos++
			}
			name := input[nameStart:pos]
			if !attrNameRe.MatchString(name) {
				return nil, ErrInvalidSyntax(fmt.Sprintf("invalid path %q", raw))
			}
			path.segments = append(path.segments, pathSegment{name: name})
		default:
			return nil, ErrInvalidSyntax(fmt.Sprintf("invalid path %q", raw))
		}
	}

	return path, nil
}

// findClosingBracket scans for the ] matching the [ at start,
// skipping over quoted strings.
func findClosingBracket(input string, start int) (int, error) {
	inString := false
	for i := start + 1; i < len(input); i++ {
		switch input[i] {
		case '\\':
			if inString {
				i++
			}
		case '"':
			inString = !inString
		case ']':
			if !inString {
				return i, nil
			}
		}
	}
	return 0, ErrInvalidSyntax(fmt.Sprintf("unterminated filter selector in path %q", input))
}
