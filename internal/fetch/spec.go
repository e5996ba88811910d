// Package fetch extracts structured values from the current page's HTML.
// CSS rules go through goquery, XPath rules through htmlquery; both share one
// parsed document.
package fetch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/antchfx/xpath"
)

// ErrInvalidSpec is wrapped by every spec validation error.
var ErrInvalidSpec = errors.New("invalid fetch spec")

// Rule extracts one output field.
type Rule struct {
	Field string
	CSS   string
	XPath string
	Attr  string
	All   bool
	HTML  bool
	Trim  bool

	compiled *xpath.Expr
}

// ParseSpec turns a fetch command's arguments into rules. The spec is a
// mapping of output field to either a CSS selector string or a mapping with
// css|selector, xpath, attr, all, html and trim keys. Rules are sorted by field.
func ParseSpec(spec any) ([]Rule, error) {
	fields, ok := spec.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a mapping of field to rule, got %T", ErrInvalidSpec, spec)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrInvalidSpec)
	}

	rules := make([]Rule, 0, len(fields))
	for field, raw := range fields {
		rule, err := parseRule(field, raw)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Field < rules[j].Field })
	return rules, nil
}

func parseRule(field string, raw any) (Rule, error) {
	rule := Rule{Field: field, Trim: true}
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return rule, fmt.Errorf("%w: field %q has an empty selector", ErrInvalidSpec, field)
		}
		rule.CSS = v
		return rule, nil
	case map[string]any:
		for key, val := range v {
			var err error
			switch key {
			case "css", "selector":
				rule.CSS, err = stringOpt(field, key, val)
			case "xpath":
				rule.XPath, err = stringOpt(field, key, val)
			case "attr":
				rule.Attr, err = stringOpt(field, key, val)
			case "all":
				rule.All, err = boolOpt(field, key, val)
			case "html":
				rule.HTML, err = boolOpt(field, key, val)
			case "trim":
				rule.Trim, err = boolOpt(field, key, val)
			default:
				err = fmt.Errorf("%w: field %q has unknown option %q", ErrInvalidSpec, field, key)
			}
			if err != nil {
				return rule, err
			}
		}
	default:
		return rule, fmt.Errorf("%w: field %q must be a selector or a mapping, got %T", ErrInvalidSpec, field, raw)
	}

	switch {
	case rule.CSS == "" && rule.XPath == "":
		return rule, fmt.Errorf("%w: field %q needs css or xpath", ErrInvalidSpec, field)
	case rule.CSS != "" && rule.XPath != "":
		return rule, fmt.Errorf("%w: field %q sets both css and xpath", ErrInvalidSpec, field)
	case rule.HTML && rule.Attr != "":
		return rule, fmt.Errorf("%w: field %q sets both html and attr", ErrInvalidSpec, field)
	}

	if rule.XPath != "" {
		expr, err := xpath.Compile(rule.XPath)
		if err != nil {
			return rule, fmt.Errorf("%w: field %q: %v", ErrInvalidSpec, field, err)
		}
		rule.compiled = expr
	}
	return rule, nil
}

func stringOpt(field, key string, val any) (string, error) {
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q option %q must be a string", ErrInvalidSpec, field, key)
	}
	return s, nil
}

func boolOpt(field, key string, val any) (bool, error) {
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("%w: field %q option %q must be a boolean", ErrInvalidSpec, field, key)
	}
	return b, nil
}
