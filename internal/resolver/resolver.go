package resolver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/cascadeci/cascade/pkg/api"
)

type (
	// Lookup fetches node outcomes visible from an ambiance. ref names
	// the target: empty for the current node, a group alias or node
	// name for ancestors and siblings, or a dotted qualified path. ok
	// is false when the referenced node does not exist yet
	Lookup interface {
		Outcomes(
			ctx context.Context, amb *api.Ambiance, ref string,
		) (api.Args, bool)
	}

	// Resolver substitutes <+...> expressions in step parameters using
	// the ambiance's visible node outcomes and registered functors.
	// Resolution is a pure function of (ambiance, raw field); an
	// expression whose target does not exist yet resolves to its own
	// original text so forward references settle on a later pass
	Resolver struct {
		lookup   Lookup
		functors *FunctorRegistry
	}

	// session caches outcome lookups for one resolution request
	session struct {
		*Resolver
		ctx      context.Context
		ambiance *api.Ambiance
		outcomes map[string]lookupResult
	}

	lookupResult struct {
		args api.Args
		ok   bool
	}
)

const (
	exprOpen  = "<+"
	exprClose = ">"

	outcomePrefix = "outcome."
)

const maxResolvePasses = 8

// New creates a resolver over the provided lookup and functor registry
func New(lookup Lookup, functors *FunctorRegistry) *Resolver {
	return &Resolver{
		lookup:   lookup,
		functors: functors,
	}
}

// ResolveParams resolves every expression in a raw JSON parameter
// document, returning the document with substitutions applied
func (r *Resolver) ResolveParams(
	ctx context.Context, amb *api.Ambiance, raw json.RawMessage,
) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	s := r.newSession(ctx, amb)
	resolved := s.resolveValue(doc)
	return json.Marshal(resolved)
}

// ResolveString resolves a single raw field. A field that is exactly
// one expression yields the referenced value with its original type;
// a field mixing text and expressions yields interpolated text
func (r *Resolver) ResolveString(
	ctx context.Context, amb *api.Ambiance, s string,
) any {
	return r.newSession(ctx, amb).resolveString(s)
}

func (r *Resolver) newSession(
	ctx context.Context, amb *api.Ambiance,
) *session {
	return &session{
		Resolver: r,
		ctx:      ctx,
		ambiance: amb,
		outcomes: map[string]lookupResult{},
	}
}

func (s *session) resolveValue(v any) any {
	switch v := v.(type) {
	case string:
		return s.resolveString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = s.resolveValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = s.resolveValue(elem)
		}
		return out
	default:
		return v
	}
}

func (s *session) resolveString(raw string) any {
	if inner, ok := wholeExpression(raw); ok {
		if val, ok := s.evaluate(inner); ok {
			return val
		}
		return raw
	}
	return s.interpolate(raw)
}

// interpolate substitutes expressions embedded in surrounding text.
// Inner expressions are resolved before enclosing ones, bounded to
// guard against self-referential input
func (s *session) interpolate(raw string) string {
	for range maxResolvePasses {
		next, changed := s.interpolateOnce(raw)
		if !changed {
			return next
		}
		raw = next
	}
	return raw
}

func (s *session) interpolateOnce(raw string) (string, bool) {
	var b strings.Builder
	changed := false
	rest := raw
	for {
		start, end, ok := innermostExpression(rest)
		if !ok {
			b.WriteString(rest)
			return b.String(), changed
		}
		inner := rest[start+len(exprOpen) : end]

		b.WriteString(rest[:start])
		if val, ok := s.evaluate(inner); ok {
			b.WriteString(stringify(val))
			changed = true
		} else {
			b.WriteString(rest[start : end+len(exprClose)])
		}
		rest = rest[end+len(exprClose):]
	}
}

// evaluate resolves one expression body. ok is false when the target
// does not exist yet, leaving the original text in place
func (s *session) evaluate(expr string) (any, bool) {
	expr = strings.TrimSpace(expr)
	if name, args, ok := parseFunctorCall(expr); ok &&
		s.functors != nil && s.functors.Known(name) {
		val, err := s.functors.Invoke(
			s.ctx, s.ambiance.FunctorToken, name, args,
		)
		if err != nil {
			return nil, false
		}
		return val, true
	}
	return s.evaluatePath(expr)
}

// evaluatePath resolves a dotted reference. The path either starts at
// the current node's outcomes or names another node followed by an
// outcome path
func (s *session) evaluatePath(expr string) (any, bool) {
	if after, ok := strings.CutPrefix(expr, outcomePrefix); ok {
		return s.outcomeValue("", after)
	}

	// longest node reference first, so qualified paths win over a
	// shorter alias that happens to share a prefix
	segments := strings.Split(expr, ".")
	for i := len(segments) - 1; i >= 1; i-- {
		ref := strings.Join(segments[:i], ".")
		rest := strings.Join(segments[i:], ".")
		rest = strings.TrimPrefix(rest, outcomePrefix)
		if val, ok := s.outcomeValue(ref, rest); ok {
			return val, true
		}
	}
	return nil, false
}

func (s *session) outcomeValue(ref, path string) (any, bool) {
	res, hit := s.outcomes[ref]
	if !hit {
		args, ok := s.lookup.Outcomes(s.ctx, s.ambiance, ref)
		res = lookupResult{args: args, ok: ok}
		s.outcomes[ref] = res
	}
	if !res.ok {
		return nil, false
	}
	if path == "" {
		return map[string]any(res.args), true
	}

	doc, err := json.Marshal(res.args)
	if err != nil {
		return nil, false
	}
	val := gjson.GetBytes(doc, path)
	if !val.Exists() {
		return nil, false
	}
	return val.Value(), true
}

// wholeExpression reports whether the field is exactly one expression
func wholeExpression(raw string) (string, bool) {
	if !strings.HasPrefix(raw, exprOpen) ||
		!strings.HasSuffix(raw, exprClose) {
		return "", false
	}
	inner := raw[len(exprOpen) : len(raw)-len(exprClose)]
	if strings.Contains(inner, exprOpen) ||
		strings.Contains(inner, exprClose) {
		return "", false
	}
	return inner, true
}

// innermostExpression locates the first expression containing no nested
// expression, returning the offsets of its opener and closer
func innermostExpression(raw string) (int, int, bool) {
	start := -1
	for i := 0; i < len(raw); i++ {
		if strings.HasPrefix(raw[i:], exprOpen) {
			start = i
			i += len(exprOpen) - 1
			continue
		}
		if start >= 0 && strings.HasPrefix(raw[i:], exprClose) {
			return start, i, true
		}
	}
	return 0, 0, false
}

// parseFunctorCall splits name(arg, ...) into its name and arguments.
// Arguments may be double-quoted to protect commas
func parseFunctorCall(expr string) (string, []string, bool) {
	open := strings.IndexByte(expr, '(')
	if open <= 0 || !strings.HasSuffix(expr, ")") {
		return "", nil, false
	}
	name := strings.TrimSpace(expr[:open])
	body := expr[open+1 : len(expr)-1]
	if name == "" {
		return "", nil, false
	}
	if strings.TrimSpace(body) == "" {
		return name, nil, true
	}

	var args []string
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case c == ',' && !inQuote:
			args = append(args, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	if inQuote {
		return "", nil, false
	}
	args = append(args, strings.TrimSpace(b.String()))
	return name, args, true
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
