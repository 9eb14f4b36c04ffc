package resolver_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeci/cascade/internal/resolver"
	"github.com/cascadeci/cascade/pkg/api"
)

type fakeLookup struct {
	mu    sync.Mutex
	byRef map[string]api.Args
	calls []string
}

func (f *fakeLookup) Outcomes(
	_ context.Context, _ *api.Ambiance, ref string,
) (api.Args, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ref)
	args, ok := f.byRef[ref]
	return args, ok
}

func newTestAmbiance() *api.Ambiance {
	return api.NewAmbiance(
		"plan-1", api.SetupAbstractions{"env": "staging"}, "token-1",
	).WithLevel(&api.Level{
		RuntimeID: "node-exec-1",
		SetupID:   "current",
	})
}

func resolveDoc(
	t *testing.T, r *resolver.Resolver, amb *api.Ambiance, raw string,
) map[string]any {
	t.Helper()
	out, err := r.ResolveParams(
		context.Background(), amb, json.RawMessage(raw),
	)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	return doc
}

func TestResolveWholeExpressionKeepsType(t *testing.T) {
	lookup := &fakeLookup{byRef: map[string]api.Args{
		"": {"count": float64(3), "enabled": true},
	}}
	r := resolver.New(lookup, nil)
	amb := newTestAmbiance()

	doc := resolveDoc(t, r, amb, `{
		"count": "<+outcome.count>",
		"enabled": "<+outcome.enabled>"
	}`)

	assert.Equal(t, float64(3), doc["count"])
	assert.Equal(t, true, doc["enabled"])
}

func TestResolveInterpolation(t *testing.T) {
	lookup := &fakeLookup{byRef: map[string]api.Args{
		"": {"tag": "v1.2.3"},
	}}
	r := resolver.New(lookup, nil)
	amb := newTestAmbiance()

	doc := resolveDoc(t, r, amb, `{"image": "repo/app:<+outcome.tag>"}`)
	assert.Equal(t, "repo/app:v1.2.3", doc["image"])
}

func TestResolveNodeQualifiedReference(t *testing.T) {
	lookup := &fakeLookup{byRef: map[string]api.Args{
		"build": {"artifact": "app.jar"},
	}}
	r := resolver.New(lookup, nil)
	amb := newTestAmbiance()

	doc := resolveDoc(t, r, amb, `{"file": "<+build.artifact>"}`)
	assert.Equal(t, "app.jar", doc["file"])
}

func TestResolveNestedOutcomePath(t *testing.T) {
	lookup := &fakeLookup{byRef: map[string]api.Args{
		"deploy": {"result": map[string]any{"host": "a.example.com"}},
	}}
	r := resolver.New(lookup, nil)
	amb := newTestAmbiance()

	doc := resolveDoc(t, r, amb, `{"host": "<+deploy.result.host>"}`)
	assert.Equal(t, "a.example.com", doc["host"])
}

func TestUnresolvedExpressionKeepsOriginalText(t *testing.T) {
	lookup := &fakeLookup{byRef: map[string]api.Args{}}
	r := resolver.New(lookup, nil)
	amb := newTestAmbiance()

	doc := resolveDoc(t, r, amb, `{
		"whole": "<+missing.value>",
		"mixed": "prefix-<+missing.value>-suffix"
	}`)

	assert.Equal(t, "<+missing.value>", doc["whole"])
	assert.Equal(t, "prefix-<+missing.value>-suffix", doc["mixed"])
}

func TestResolveWalksNestedStructures(t *testing.T) {
	lookup := &fakeLookup{byRef: map[string]api.Args{
		"": {"tag": "v9"},
	}}
	r := resolver.New(lookup, nil)
	amb := newTestAmbiance()

	doc := resolveDoc(t, r, amb, `{
		"list": ["<+outcome.tag>", "literal"],
		"nested": {"inner": "<+outcome.tag>"},
		"number": 42
	}`)

	assert.Equal(t, []any{"v9", "literal"}, doc["list"])
	assert.Equal(t, map[string]any{"inner": "v9"}, doc["nested"])
	assert.Equal(t, float64(42), doc["number"])
}

func TestLookupCachedPerRequest(t *testing.T) {
	lookup := &fakeLookup{byRef: map[string]api.Args{
		"": {"a": "1", "b": "2"},
	}}
	r := resolver.New(lookup, nil)
	amb := newTestAmbiance()

	resolveDoc(t, r, amb, `{
		"first": "<+outcome.a>",
		"second": "<+outcome.b>"
	}`)

	assert.Len(t, lookup.calls, 1)
}

func TestResolveString(t *testing.T) {
	lookup := &fakeLookup{byRef: map[string]api.Args{
		"": {"unit": "shard-7"},
	}}
	r := resolver.New(lookup, nil)
	amb := newTestAmbiance()
	ctx := context.Background()

	assert.Equal(t, "shard-7", r.ResolveString(ctx, amb, "<+outcome.unit>"))
	assert.Equal(t, "plain", r.ResolveString(ctx, amb, "plain"))
	assert.Equal(t, "db-shard-7",
		r.ResolveString(ctx, amb, "db-<+outcome.unit>"))
}

func TestNestedFunctorExpression(t *testing.T) {
	lookup := &fakeLookup{byRef: map[string]api.Args{
		"": {"tag": "release-42"},
	}}
	functors := resolver.NewFunctorRegistry(nil)
	r := resolver.New(lookup, functors)
	amb := newTestAmbiance()

	doc := resolveDoc(t, r, amb, `{
		"num": "<+regex.extract(release-(\\d+), <+outcome.tag>)>"
	}`)
	assert.Equal(t, "42", doc["num"])
}
