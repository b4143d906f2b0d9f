// Package maca evaluates audience matching rules against event data.
//
// A rule is a JSON object with exactly one key. The logical keys "and" and
// "or" take an array of sub-rules and "not" takes a single sub-rule. Any
// other key names a variable in the data map and maps to a single
// comparison, for example {"fb_currency": {"i_str_eq": "usd"}}.
package maca

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"appevents/pkg/models"
)

// Match reports whether the JSON encoded rule matches data. Malformed rules
// never match.
func Match(rule string, data models.Params) bool {
	var tree map[string]any
	if err := json.Unmarshal([]byte(rule), &tree); err != nil {
		return false
	}
	return matchTree(tree, data)
}

func matchTree(tree map[string]any, data models.Params) bool {
	op, operand, ok := firstEntry(tree)
	if !ok {
		return false
	}

	switch op {
	case "and":
		items, ok := operand.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if !matchAny(item, data) {
				return false
			}
		}
		return true
	case "or":
		items, ok := operand.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if matchAny(item, data) {
				return true
			}
		}
		return false
	case "not":
		return !matchAny(operand, data)
	default:
		cmp, ok := operand.(map[string]any)
		if !ok {
			return false
		}
		return Compare(op, cmp, data)
	}
}

func matchAny(item any, data models.Params) bool {
	tree, ok := item.(map[string]any)
	if !ok {
		return false
	}
	return matchTree(tree, data)
}

// firstEntry returns the entry of a single-key object. Objects with more
// than one key use the lexically smallest key so evaluation is stable.
func firstEntry(obj map[string]any) (string, any, bool) {
	if len(obj) == 0 {
		return "", nil, false
	}
	var key string
	first := true
	for k := range obj {
		if first || k < key {
			key = k
			first = false
		}
	}
	return key, obj[key], true
}

// Compare evaluates one comparison such as {"gt": 10} for variable against
// data. A missing variable never matches, except for the "exists" operator.
func Compare(variable string, comparison map[string]any, data models.Params) bool {
	op, expected, ok := firstEntry(comparison)
	if !ok {
		return false
	}

	if op == "exists" {
		want, ok := expected.(bool)
		if !ok {
			return false
		}
		_, present := data[variable]
		return present == want
	}

	value, ok := data[strings.ToLower(variable)]
	if !ok {
		value, ok = data[variable]
	}
	if !ok {
		return false
	}

	expectedString, isString := expected.(string)
	expectedList, isList := stringList(expected)

	switch op {
	case "contains":
		s, ok := scalarText(value)
		return ok && isString && strings.Contains(s, expectedString)
	case "i_contains":
		s, ok := scalarText(value)
		return ok && isString && strings.Contains(strings.ToLower(s), strings.ToLower(expectedString))
	case "not_contains":
		s, ok := scalarText(value)
		return ok && isString && !strings.Contains(s, expectedString)
	case "i_not_contains":
		s, ok := scalarText(value)
		return ok && isString && !strings.Contains(strings.ToLower(s), strings.ToLower(expectedString))
	case "starts_with":
		s, ok := scalarText(value)
		return ok && isString && strings.HasPrefix(s, expectedString)
	case "i_starts_with":
		s, ok := scalarText(value)
		return ok && isString && strings.HasPrefix(strings.ToLower(s), strings.ToLower(expectedString))
	case "i_str_eq":
		s, ok := scalarText(value)
		return ok && isString && strings.EqualFold(s, expectedString)
	case "i_str_neq":
		s, ok := scalarText(value)
		return ok && isString && !strings.EqualFold(s, expectedString)
	case "in", "is_any":
		s, ok := scalarText(value)
		return ok && isList && containsString(expectedList, s, false)
	case "i_str_in", "i_is_any":
		s, ok := scalarText(value)
		return ok && isList && containsString(expectedList, s, true)
	case "not_in", "is_not_any":
		s, ok := scalarText(value)
		return ok && isList && !containsString(expectedList, s, false)
	case "i_str_not_in", "i_is_not_any":
		s, ok := scalarText(value)
		return ok && isList && !containsString(expectedList, s, true)
	case "regex_match":
		s, ok := scalarText(value)
		if !ok || !isString {
			return false
		}
		re, err := regexp.Compile(expectedString)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case "eq", "=", "==":
		s, ok := scalarText(value)
		return ok && isString && s == expectedString
	case "neq", "ne", "!=":
		s, ok := scalarText(value)
		return ok && isString && s != expectedString
	case "lt", "<":
		return numberOf(value) < numberOfAny(expected)
	case "lte", "le", "<=":
		return numberOf(value) <= numberOfAny(expected)
	case "gt", ">":
		return numberOf(value) > numberOfAny(expected)
	case "gte", "ge", ">=":
		return numberOf(value) >= numberOfAny(expected)
	default:
		return false
	}
}

// scalarText only stringifies strings and numbers.
func scalarText(v models.Value) (string, bool) {
	switch v.Kind() {
	case models.KindString, models.KindNumber:
		return v.Text(), true
	default:
		return "", false
	}
}

func numberOf(v models.Value) float64 {
	if n, ok := v.AsNumber(); ok {
		return n
	}
	if s, ok := v.AsString(); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}

func numberOfAny(raw any) float64 {
	switch t := raw.(type) {
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return 0
}

func stringList(raw any) ([]string, bool) {
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func containsString(list []string, s string, foldCase bool) bool {
	for _, item := range list {
		if item == s || (foldCase && strings.EqualFold(item, s)) {
			return true
		}
	}
	return false
}
