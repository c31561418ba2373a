package plugin

import (
	"fmt"
	"time"

	"github.com/vortexgw/vortex/internal/util"
)

// Helpers for reading typed values out of a plugin configuration map.
// YAML decodes into map[string]any, so numbers may arrive as int or
// int64 and durations as strings.

func optString(cfg map[string]any, key, def string) (string, error) {
	v, ok := cfg[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: plugin option %q must be a string", util.ErrConfigInvalid, key)
	}
	return s, nil
}

func optInt64(cfg map[string]any, key string, def int64) (int64, error) {
	v, ok := cfg[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: plugin option %q must be an integer", util.ErrConfigInvalid, key)
	}
}

func optDuration(cfg map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := cfg[key]
	if !ok {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("%w: plugin option %q: %v", util.ErrConfigInvalid, key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	default:
		return 0, fmt.Errorf("%w: plugin option %q must be a duration", util.ErrConfigInvalid, key)
	}
}

func optStringSlice(cfg map[string]any, key string) ([]string, error) {
	v, ok := cfg[key]
	if !ok {
		return nil, nil
	}
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: plugin option %q must be a list of strings", util.ErrConfigInvalid, key)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: plugin option %q must be a list of strings", util.ErrConfigInvalid, key)
	}
}

func optStringMap(cfg map[string]any, key string) (map[string]string, error) {
	v, ok := cfg[key]
	if !ok {
		return nil, nil
	}
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, item := range m {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: plugin option %q must map strings to strings", util.ErrConfigInvalid, key)
			}
			out[k] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: plugin option %q must be a map", util.ErrConfigInvalid, key)
	}
}
