// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package utils

import (
	"fmt"
	"strconv"
)

// Option is a loose bag of per-connection tuning values, keyed by dotted
// names (e.g. "speak.voice.id"). Providers read the keys they understand and
// fall back to their defaults for the rest.
type Option map[string]interface{}

// GetString returns the value for key as a string.
func (o Option) GetString(key string) (string, error) {
	raw, ok := o[key]
	if !ok {
		return "", fmt.Errorf("option %q not set", key)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// GetUint64 returns the value for key as a uint64, accepting numeric strings.
func (o Option) GetUint64(key string) (uint64, error) {
	raw, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("option %q not set", key)
	}
	switch v := raw.(type) {
	case uint64:
		return v, nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("option %q is negative", key)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("option %q is negative", key)
		}
		return uint64(v), nil
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("option %q is negative", key)
		}
		return uint64(v), nil
	case string:
		return strconv.ParseUint(v, 10, 64)
	default:
		return 0, fmt.Errorf("option %q has unsupported type %T", key, raw)
	}
}

// GetFloat64 returns the value for key as a float64.
func (o Option) GetFloat64(key string) (float64, error) {
	raw, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("option %q not set", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("option %q has unsupported type %T", key, raw)
	}
}

// GetBool returns the value for key as a bool.
func (o Option) GetBool(key string) (bool, error) {
	raw, ok := o[key]
	if !ok {
		return false, fmt.Errorf("option %q not set", key)
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("option %q has unsupported type %T", key, raw)
	}
}
