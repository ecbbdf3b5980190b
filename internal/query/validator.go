// Package query turns untrusted model output into validated search queries.
// It is the injection-safety boundary between free-form LLM text and the
// storage layer: everything that fails its allow-lists is dropped.
package query

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bontafix/equipsearch/internal/llm"
	"github.com/bontafix/equipsearch/internal/models"
)

const (
	maxTextLen       = 500
	maxFilterLen     = 100
	maxParamKeyLen   = 100
	maxParamValueLen = 200
	minLimit         = 1
	maxLimit         = 100
)

// paramKeyPattern allows Latin, digits, underscore and Cyrillic. Anything
// else (separators, quotes, SQL punctuation) rejects the key outright.
var paramKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_\p{Cyrillic}]+$`)

// Issue describes one non-fatal coercion the validator performed: a
// truncated string, a dropped key, a clamped limit.
type Issue struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// Validate sanitizes an arbitrary value the model claims is a search query.
// It returns a *llm.SchemaError when the candidate is not an object or when
// no recognized field survives coercion; everything else is reported as
// issues, not errors.
func Validate(candidate any) (*models.SearchQuery, []Issue, error) {
	obj, ok := candidate.(map[string]any)
	if !ok {
		return nil, nil, &llm.SchemaError{Detail: fmt.Sprintf("query is %T, not an object", candidate)}
	}

	var (
		q      models.SearchQuery
		issues []Issue
		kept   int
	)

	if s, keep := validateString(obj, "text", maxTextLen, &issues); keep {
		q.Text = s
		kept++
	}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"category", &q.Category},
		{"subcategory", &q.Subcategory},
		{"brand", &q.Brand},
		{"region", &q.Region},
	} {
		if s, keep := validateString(obj, f.name, maxFilterLen, &issues); keep {
			*f.dst = s
			kept++
		}
	}

	if raw, present := obj["parameters"]; present {
		params, paramIssues := validateParameters(raw)
		issues = append(issues, paramIssues...)
		if len(params) > 0 {
			q.Parameters = params
			kept++
		}
	}

	if raw, present := obj["limit"]; present {
		if limit, keep := validateLimit(raw, &issues); keep {
			q.Limit = limit
			kept++
		}
	}

	if kept == 0 {
		return nil, issues, &llm.SchemaError{Detail: "no recognized field survived validation"}
	}
	return &q, issues, nil
}

func validateString(obj map[string]any, field string, maxLen int, issues *[]Issue) (string, bool) {
	raw, present := obj[field]
	if !present {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		*issues = append(*issues, Issue{Field: field, Detail: fmt.Sprintf("dropped: %T is not a string", raw)})
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if truncated := truncate(s, maxLen); truncated != s {
		*issues = append(*issues, Issue{Field: field, Detail: fmt.Sprintf("truncated to %d chars", maxLen)})
		s = truncated
	}
	return s, true
}

func validateParameters(raw any) (map[string]any, []Issue) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, []Issue{{Field: "parameters", Detail: fmt.Sprintf("dropped: %T is not an object", raw)}}
	}

	var issues []Issue
	params := make(map[string]any, len(obj))
	for key, value := range obj {
		if utf8.RuneCountInString(key) > maxParamKeyLen || !paramKeyPattern.MatchString(key) {
			issues = append(issues, Issue{Field: "parameters." + key, Detail: "dropped: key fails allow-list"})
			continue
		}
		switch v := value.(type) {
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				issues = append(issues, Issue{Field: "parameters." + key, Detail: "dropped: value is not finite"})
				continue
			}
			params[key] = v
		case int:
			params[key] = float64(v)
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				issues = append(issues, Issue{Field: "parameters." + key, Detail: "dropped: empty string value"})
				continue
			}
			if truncated := truncate(s, maxParamValueLen); truncated != s {
				issues = append(issues, Issue{Field: "parameters." + key, Detail: fmt.Sprintf("value truncated to %d chars", maxParamValueLen)})
				s = truncated
			}
			params[key] = s
		default:
			issues = append(issues, Issue{Field: "parameters." + key, Detail: fmt.Sprintf("dropped: unsupported value type %T", value)})
		}
	}
	if len(params) == 0 {
		return nil, issues
	}
	return params, issues
}

func validateLimit(raw any, issues *[]Issue) (int, bool) {
	var limit int
	switch v := raw.(type) {
	case float64:
		limit = int(v)
	case int:
		limit = v
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			*issues = append(*issues, Issue{Field: "limit", Detail: "dropped: not numeric"})
			return 0, false
		}
		limit = n
	default:
		*issues = append(*issues, Issue{Field: "limit", Detail: fmt.Sprintf("dropped: %T is not numeric", raw)})
		return 0, false
	}
	if limit < minLimit {
		*issues = append(*issues, Issue{Field: "limit", Detail: fmt.Sprintf("clamped to %d", minLimit)})
		limit = minLimit
	}
	if limit > maxLimit {
		*issues = append(*issues, Issue{Field: "limit", Detail: fmt.Sprintf("clamped to %d", maxLimit)})
		limit = maxLimit
	}
	return limit, true
}

// truncate cuts s to at most max runes without splitting a rune.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
