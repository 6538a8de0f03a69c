package sandbox

import (
	"fmt"
	"strconv"
	"strings"
)

// defaultBuiltins returns the fixed whitelist of safe primitives sandboxed
// code may call: numeric, string, collection, and iteration helpers (spec
// §4.8). Nothing here can touch the filesystem, network, or process.
func defaultBuiltins() map[string]BuiltinFunc {
	return map[string]BuiltinFunc{
		"print": func(args []any) (any, error) {
			return nil, nil
		},
		"len": func(args []any) (any, error) {
			if err := arity("len", args, 1); err != nil {
				return nil, err
			}
			switch v := args[0].(type) {
			case string:
				return int64(len(v)), nil
			case []any:
				return int64(len(v)), nil
			case map[string]any:
				return int64(len(v)), nil
			default:
				return nil, fmt.Errorf("len: unsupported type %T", v)
			}
		},
		"upper": stringFunc(strings.ToUpper),
		"lower": stringFunc(strings.ToLower),
		"trim":  stringFunc(strings.TrimSpace),
		"split": func(args []any) (any, error) {
			if err := arity("split", args, 2); err != nil {
				return nil, err
			}
			s, sep := args[0].(string), args[1].(string)
			parts := strings.Split(s, sep)
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out, nil
		},
		"join": func(args []any) (any, error) {
			if err := arity("join", args, 2); err != nil {
				return nil, err
			}
			list, ok := args[0].([]any)
			if !ok {
				return nil, fmt.Errorf("join: first argument must be a list")
			}
			sep, _ := args[1].(string)
			parts := make([]string, len(list))
			for i, v := range list {
				parts[i] = reprOf(v)
			}
			return strings.Join(parts, sep), nil
		},
		"str": func(args []any) (any, error) {
			if err := arity("str", args, 1); err != nil {
				return nil, err
			}
			return reprOf(args[0]), nil
		},
		"int": func(args []any) (any, error) {
			if err := arity("int", args, 1); err != nil {
				return nil, err
			}
			switch v := args[0].(type) {
			case int64:
				return v, nil
			case float64:
				return int64(v), nil
			case string:
				n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
				if err != nil {
					return nil, err
				}
				return n, nil
			default:
				return nil, fmt.Errorf("int: unsupported type %T", v)
			}
		},
		"float": func(args []any) (any, error) {
			if err := arity("float", args, 1); err != nil {
				return nil, err
			}
			switch v := args[0].(type) {
			case float64:
				return v, nil
			case int64:
				return float64(v), nil
			case string:
				f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
				if err != nil {
					return nil, err
				}
				return f, nil
			default:
				return nil, fmt.Errorf("float: unsupported type %T", v)
			}
		},
		"list": func(args []any) (any, error) {
			out := make([]any, len(args))
			copy(out, args)
			return out, nil
		},
		"append": func(args []any) (any, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("append: at least one argument required")
			}
			list, ok := args[0].([]any)
			if !ok {
				return nil, fmt.Errorf("append: first argument must be a list")
			}
			out := append(append([]any(nil), list...), args[1:]...)
			return out, nil
		},
		"dict": func(args []any) (any, error) {
			if len(args)%2 != 0 {
				return nil, fmt.Errorf("dict: expected an even number of key/value arguments")
			}
			m := make(map[string]any, len(args)/2)
			for i := 0; i < len(args); i += 2 {
				k, ok := args[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict: keys must be strings")
				}
				m[k] = args[i+1]
			}
			return m, nil
		},
		"sum": func(args []any) (any, error) {
			if err := arity("sum", args, 1); err != nil {
				return nil, err
			}
			list, ok := args[0].([]any)
			if !ok {
				return nil, fmt.Errorf("sum: argument must be a list")
			}
			var total float64
			isFloat := false
			for _, v := range list {
				switch n := v.(type) {
				case int64:
					total += float64(n)
				case float64:
					total += n
					isFloat = true
				default:
					return nil, fmt.Errorf("sum: unsupported element type %T", v)
				}
			}
			if isFloat {
				return total, nil
			}
			return int64(total), nil
		},
		"range_list": func(args []any) (any, error) {
			if err := arity("range_list", args, 1); err != nil {
				return nil, err
			}
			n, ok := args[0].(int64)
			if !ok {
				return nil, fmt.Errorf("range_list: argument must be an int")
			}
			out := make([]any, n)
			for i := int64(0); i < n; i++ {
				out[i] = i
			}
			return out, nil
		},
	}
}

func stringFunc(f func(string) string) BuiltinFunc {
	return func(args []any) (any, error) {
		if err := arity("", args, 1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("expected string argument, got %T", args[0])
		}
		return f(s), nil
	}
}

func arity(name string, args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d argument(s), got %d", name, n, len(args))
	}
	return nil
}
