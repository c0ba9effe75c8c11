package params

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// maxExactInt is the largest integer a float64 holds without rounding.
const maxExactInt = 1 << 53

// assign stores raw into dst, accepting the loose forms tool hosts and the
// CLI send: numbers as JSON numbers or strings, booleans as "true"/"false".
func assign(dst reflect.Value, raw any, fold bool) error {
	if dst.Kind() == reflect.Pointer {
		p := reflect.New(dst.Type().Elem())
		if err := assign(p.Elem(), raw, fold); err != nil {
			return err
		}
		dst.Set(p)
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return errors.New("must be a string")
		}
		if fold {
			s = strings.ToLower(strings.TrimSpace(s))
		}
		dst.SetString(s)

	case reflect.Bool:
		switch b := raw.(type) {
		case bool:
			dst.SetBool(b)
		case string:
			pb, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return errors.New("must be a boolean")
			}
			dst.SetBool(pb)
		default:
			return errors.New("must be a boolean")
		}

	case reflect.Int:
		n, err := toFloat(raw)
		if err != nil {
			return err
		}
		if n != math.Trunc(n) || math.Abs(n) > maxExactInt {
			return errors.New("must be an integer")
		}
		dst.SetInt(int64(n))

	case reflect.Float64:
		n, err := toFloat(raw)
		if err != nil {
			return err
		}
		dst.SetFloat(n)

	default:
		return errors.New("unsupported type")
	}
	return nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		pf, err := n.Float64()
		if err != nil {
			return 0, errors.New("must be a number")
		}
		f = pf
	case string:
		pf, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, errors.New("must be a number")
		}
		f = pf
	default:
		return 0, errors.New("must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("must be a finite number")
	}
	return f, nil
}
