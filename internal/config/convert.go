package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// toString renders JSON scalars. Numbers from the config file arrive as
// json.Number and keep every digit; float64 only shows up from other
// sources, so integral values print without an exponent.
func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatFloat(t, 'f', 0, 64)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, errors.New("missing")
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, errors.Errorf("%s is not an integer", t)
		}
		return int(n), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, errors.Errorf("%v is not an integer", t)
		}
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, errors.Errorf("%q is not an integer", t)
		}
		return n, nil
	default:
		return 0, errors.Errorf("unsupported type %T", v)
	}
}
