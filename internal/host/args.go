package host

import (
	"fmt"
)

// Args is the decoded argument object of a task or script call.
type Args map[string]any

// String returns the string argument key, or "" when absent.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %T", key, v)
	}
	return s, nil
}

// RequiredString is String that fails when key is absent or empty.
func (a Args) RequiredString(key string) (string, error) {
	s, err := a.String(key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// Strings returns a list of strings. A single string is accepted as a
// one-element list.
func (a Args) Strings(key string) ([]string, error) {
	switch v := a[key].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: expected string, got %T", key, i, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected list of strings, got %T", key, v)
	}
}

// Vec returns a vector argument given as [x, y, z] or {x, y, z}. The
// second result is false when key is absent.
func (a Args) Vec(key string) (Vec3, bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return Vec3{}, false, nil
	}
	vec, err := toVec3(v)
	if err != nil {
		return Vec3{}, false, fmt.Errorf("%s: %w", key, err)
	}
	return vec, true, nil
}

// ComponentSpec reads a component description.
func (a Args) ComponentSpec() (ComponentSpec, error) {
	var spec ComponentSpec
	var err error
	if spec.Kind, err = a.String("type"); err != nil {
		return spec, err
	}
	if spec.Kind == "" {
		if spec.Kind, err = a.String("kind"); err != nil {
			return spec, err
		}
	}
	if spec.Name, err = a.String("name"); err != nil {
		return spec, err
	}
	if spec.Material, err = a.String("material"); err != nil {
		return spec, err
	}
	if spec.Position, _, err = a.Vec("position"); err != nil {
		return spec, err
	}
	if spec.Dimensions, _, err = a.Vec("dimensions"); err != nil {
		return spec, err
	}
	if spec.Rotation, _, err = a.Vec("rotation"); err != nil {
		return spec, err
	}
	return spec, nil
}

// TransformSpec reads a transform description.
func (a Args) TransformSpec() (TransformSpec, error) {
	var t TransformSpec
	for key, dst := range map[string]**Vec3{
		"position":  &t.Position,
		"translate": &t.Translate,
		"rotate":    &t.Rotate,
		"scale":     &t.Scale,
	} {
		v, ok, err := a.Vec(key)
		if err != nil {
			return t, err
		}
		if ok {
			*dst = &v
		}
	}
	if t.Position == nil && t.Translate == nil && t.Rotate == nil && t.Scale == nil {
		return t, fmt.Errorf("transform needs one of position, translate, rotate, scale")
	}
	return t, nil
}

func toVec3(v any) (Vec3, error) {
	var out Vec3
	switch x := v.(type) {
	case []any:
		if len(x) != 3 {
			return out, fmt.Errorf("expected 3 components, got %d", len(x))
		}
		for i, e := range x {
			f, ok := toFloat(e)
			if !ok {
				return out, fmt.Errorf("component %d: expected number, got %T", i, e)
			}
			out[i] = f
		}
	case []float64:
		if len(x) != 3 {
			return out, fmt.Errorf("expected 3 components, got %d", len(x))
		}
		copy(out[:], x)
	case map[string]any:
		for i, k := range []string{"x", "y", "z"} {
			e, ok := x[k]
			if !ok {
				continue
			}
			f, ok := toFloat(e)
			if !ok {
				return out, fmt.Errorf("%s: expected number, got %T", k, e)
			}
			out[i] = f
		}
	case Vec3:
		out = x
	default:
		return out, fmt.Errorf("expected [x, y, z], got %T", v)
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
