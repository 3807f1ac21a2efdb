package vectorstore

import (
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// keywordFilter builds a must-match filter on one keyword field.
// Empty value means no filter.
func keywordFilter(key, value string) *qdrant.Filter {
	if value == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		}},
	}
}

// keywordsFilter builds a must-match-any filter on one keyword field.
func keywordsFilter(key string, values []string) *qdrant.Filter {
	if len(values) == 0 {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: values},
						},
					},
				},
			},
		}},
	}
}

// combineFilters merges the must-conditions of non-nil filters.
func combineFilters(filters ...*qdrant.Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	for _, f := range filters {
		if f != nil {
			must = append(must, f.Must...)
		}
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// buildPayload converts a plain map to the Qdrant payload representation.
func buildPayload(fields map[string]any) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(fields))
	for key, value := range fields {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, fmt.Errorf("convert payload field %s: %w", key, err)
		}
		payload[key] = val
	}
	return payload, nil
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func payloadBool(payload map[string]*qdrant.Value, key string) bool {
	if v, ok := payload[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

func payloadInt(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

func payloadStrings(payload map[string]*qdrant.Value, key string) []string {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.Values))
	for _, el := range list.Values {
		if s := el.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// pointID extracts the string form of a point id.
func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}
