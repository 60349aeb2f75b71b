package tokenizer

import (
	"fmt"
	"reflect"

	"github.com/lumenfold/cacheflow/types"
)

// CountValue estimates the token cost of an arbitrary structured value:
// strings count directly, maps count every key and value, slices and arrays
// count every element, nil counts as zero. Message values use the tokenizer's
// message accounting. Anything else is counted through its fmt.Sprint form.
//
// CountValue never fails and never panics; counting errors degrade to the
// string-form fallback. Identical input always yields an identical count
// within one process.
func CountValue(tok Tokenizer, v any) int {
	if tok == nil {
		tok = NewEstimator()
	}
	return countValue(tok, v)
}

func countValue(tok Tokenizer, v any) int {
	switch val := v.(type) {
	case nil:
		return 0
	case string:
		return countText(tok, val)
	case types.Message:
		n, err := tok.CountMessages([]types.Message{val})
		if err != nil {
			return countText(tok, val.Content)
		}
		return n
	case []types.Message:
		n, err := tok.CountMessages(val)
		if err != nil {
			total := 0
			for _, m := range val {
				total += countText(tok, m.Content)
			}
			return total
		}
		return n
	case map[string]string:
		total := 0
		for k, item := range val {
			total += countText(tok, k) + countText(tok, item)
		}
		return total
	case map[string]any:
		total := 0
		for k, item := range val {
			total += countText(tok, k) + countValue(tok, item)
		}
		return total
	case []string:
		total := 0
		for _, item := range val {
			total += countText(tok, item)
		}
		return total
	case []any:
		total := 0
		for _, item := range val {
			total += countValue(tok, item)
		}
		return total
	}

	// Uncommon shapes: walk generically, then fall back to the string form.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return 0
		}
		return countValue(tok, rv.Elem().Interface())
	case reflect.Map:
		total := 0
		iter := rv.MapRange()
		for iter.Next() {
			total += countValue(tok, iter.Key().Interface())
			total += countValue(tok, iter.Value().Interface())
		}
		return total
	case reflect.Slice, reflect.Array:
		total := 0
		for i := 0; i < rv.Len(); i++ {
			total += countValue(tok, rv.Index(i).Interface())
		}
		return total
	default:
		return countText(tok, fmt.Sprint(v))
	}
}

func countText(tok Tokenizer, text string) int {
	n, err := tok.CountTokens(text)
	if err != nil {
		n, _ = NewEstimator().CountTokens(text)
	}
	return n
}
