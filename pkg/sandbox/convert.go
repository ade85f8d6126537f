package sandbox

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// toStarlarkValue converts a JSON-compatible Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a JSON-compatible Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromSequence(val)
	case starlark.Tuple:
		return fromSequence(val)
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromSequence(seq starlark.Indexable) ([]interface{}, error) {
	list := make([]interface{}, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}
