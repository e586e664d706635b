// Package target describes the deployment target a measurement was taken on.
package target

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/tunedb/internal/ir"
)

// Target is a device kind plus its attributes, e.g. llvm with mcpu=skylake.
type Target struct {
	Kind  string
	Attrs ir.IRObject
	Host  *Target
}

const (
	keyKind = "kind"
	keyHost = "host"
)

// Parse reads the command-line form "kind -key=value -flag ...".
// Integer and boolean values are typed; a bare flag is true.
func Parse(s string) (*Target, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("target: empty string")
	}
	t := &Target{Kind: fields[0], Attrs: ir.IRObject{}}
	if strings.HasPrefix(t.Kind, "-") {
		return nil, fmt.Errorf("target %q: kind must come first", s)
	}
	for _, f := range fields[1:] {
		if !strings.HasPrefix(f, "-") {
			return nil, fmt.Errorf("target %q: attribute %q must start with '-'", s, f)
		}
		key, value, hasValue := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if key == "" || key == keyKind || key == keyHost {
			return nil, fmt.Errorf("target %q: invalid attribute %q", s, f)
		}
		if !hasValue {
			t.Attrs[key] = ir.IRBool(true)
			continue
		}
		t.Attrs[key] = parseAttr(value)
	}
	if len(t.Attrs) == 0 {
		t.Attrs = nil
	}
	return t, nil
}

func parseAttr(s string) ir.IRValue {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ir.IRInt(n)
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return ir.IRBool(b)
	}
	return ir.IRString(s)
}

// MustParse is like Parse but panics on error. Use in tests and constants only.
func MustParse(s string) *Target {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// FromConfig rebuilds a target from the object produced by Export.
func FromConfig(cfg ir.IRObject) (*Target, error) {
	kind, ok := cfg[keyKind].(ir.IRString)
	if !ok || kind == "" {
		return nil, fmt.Errorf("target config: kind: expected non-empty string, got %s", ir.KindOf(cfg[keyKind]))
	}
	t := &Target{Kind: string(kind)}
	for k, v := range cfg {
		switch k {
		case keyKind:
		case keyHost:
			host, err := hostFromValue(v)
			if err != nil {
				return nil, fmt.Errorf("target config: host: %w", err)
			}
			t.Host = host
		default:
			if t.Attrs == nil {
				t.Attrs = ir.IRObject{}
			}
			t.Attrs[k] = v
		}
	}
	return t, nil
}

func hostFromValue(v ir.IRValue) (*Target, error) {
	switch h := v.(type) {
	case ir.IRObject:
		return FromConfig(h)
	case ir.IRString:
		return Parse(string(h))
	default:
		return nil, fmt.Errorf("expected object or string, got %s", ir.KindOf(v))
	}
}

// Export returns the config object: attributes plus "kind" and, when set, "host".
func (t *Target) Export() ir.IRObject {
	out := make(ir.IRObject, len(t.Attrs)+2)
	for k, v := range t.Attrs {
		out[k] = v
	}
	out[keyKind] = ir.IRString(t.Kind)
	if t.Host != nil {
		out[keyHost] = t.Host.Export()
	}
	return out
}

// String returns the command-line form with attributes in sorted order.
func (t *Target) String() string {
	var sb strings.Builder
	sb.WriteString(t.Kind)
	for _, k := range t.Attrs.SortedKeys() {
		sb.WriteString(" -")
		sb.WriteString(k)
		switch v := t.Attrs[k].(type) {
		case ir.IRBool:
			if !v {
				sb.WriteString("=false")
			}
		case ir.IRString:
			sb.WriteString("=" + string(v))
		case ir.IRInt:
			sb.WriteString("=" + strconv.FormatInt(int64(v), 10))
		default:
			data, err := ir.MarshalValue(v)
			if err == nil {
				sb.WriteString("=" + string(data))
			}
		}
	}
	return sb.String()
}

// Equal compares exported configs.
func (t *Target) Equal(other *Target) bool {
	if t == nil || other == nil {
		return t == other
	}
	a, errA := ir.MarshalValue(t.Export())
	b, errB := ir.MarshalValue(other.Export())
	return errA == nil && errB == nil && string(a) == string(b)
}
