package expression

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/routing/pkg/template"
)

const (
	// Prefix marks an authored value that must be evaluated rather than used literally.
	Prefix = "expr:"

	templateStart = "{{"
)

// IsExpression reports whether value carries the expression prefix.
func IsExpression(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// ValueOrExpression returns value unchanged unless it starts with Prefix.
// A prefixed value containing "{{" is rendered as a template, any other
// prefixed value is evaluated by evaluator.
func ValueOrExpression(ctx context.Context, evaluator Evaluator, value string, vars map[string]any) (any, error) {
	if !IsExpression(value) {
		return value, nil
	}

	body := strings.TrimSpace(strings.TrimPrefix(value, Prefix))
	if strings.Contains(body, templateStart) {
		return template.Render(body, vars)
	}

	return evaluator.Evaluate(ctx, body, vars)
}

// AsString converts an evaluation result to a string.
func AsString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("value of type %T is not a string", value)
	}
}

// AsStrings converts an evaluation result that is a string or a list of
// strings to a slice.
func AsStrings(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}

		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list item of type %T is not a string", item)
			}

			out = append(out, s)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a string list", value)
	}
}

// AsTime converts an evaluation result that is a timestamp or an RFC 3339
// string to a time.
func AsTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}

		return *v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse date %q: %w", v, err)
		}

		return t, nil
	default:
		return time.Time{}, fmt.Errorf("value of type %T is not a date", value)
	}
}
