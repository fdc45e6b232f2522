package mongo

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marcelom97/scimcore/scim"
)

// canonicalFields maps lowercased SCIM attribute names to the field
// casing documents are stored under. Only attributes listed here are
// pushed down; anything else stays residual.
var canonicalFields = map[string]string{
	"id":          "_id",
	"externalid":  "externalId",
	"username":    "userName",
	"displayname": "displayName",
	"nickname":    "nickName",
	"title":       "title",
	"usertype":    "userType",
	"locale":      "locale",
	"timezone":    "timezone",
	"active":      "active",
}

// translateFilter splits a filter into a native MongoDB predicate and a
// residual expression. Pushable pieces are equality and presence tests
// on canonical top-level attributes, joined by top-level and. Returns a
// nil bson.D when nothing is pushable and a nil residual when the whole
// filter translated.
func translateFilter(expr scim.Expression) (bson.D, scim.Expression) {
	if expr == nil {
		return nil, nil
	}

	conjuncts := splitConjuncts(expr)

	var pushed bson.D
	var residual scim.Expression
	for _, conjunct := range conjuncts {
		if clause, ok := translateConjunct(conjunct); ok {
			pushed = append(pushed, clause...)
			continue
		}
		residual = conjoin(residual, conjunct)
	}
	return pushed, residual
}

// splitConjuncts flattens a top-level chain of and into its operands.
func splitConjuncts(expr scim.Expression) []scim.Expression {
	logical, ok := expr.(*scim.LogicalExpression)
	if !ok || !strings.EqualFold(logical.Operator, "and") {
		return []scim.Expression{expr}
	}
	return append(splitConjuncts(logical.Left), splitConjuncts(logical.Right)...)
}

func conjoin(left, right scim.Expression) scim.Expression {
	if left == nil {
		return right
	}
	return &scim.LogicalExpression{Left: left, Operator: "and", Right: right}
}

func translateConjunct(expr scim.Expression) (bson.D, bool) {
	attr, ok := expr.(*scim.AttributeExpression)
	if !ok {
		return nil, false
	}
	if attr.Path.URI != "" || attr.Path.Sub != "" {
		return nil, false
	}
	field, ok := canonicalFields[strings.ToLower(attr.Path.Name)]
	if !ok {
		return nil, false
	}

	if attr.Present {
		return bson.D{{Key: field, Value: bson.D{
			{Key: "$exists", Value: true},
			{Key: "$ne", Value: nil},
		}}}, true
	}
	if attr.Operator == "eq" {
		return bson.D{{Key: field, Value: attr.Value}}, true
	}
	return nil, false
}
