package resolver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeci/cascade/internal/resolver"
	"github.com/cascadeci/cascade/pkg/api"
)

type mapSecrets struct {
	secrets map[string]string
	tokens  []api.FunctorToken
}

func (m *mapSecrets) GetSecret(
	_ context.Context, token api.FunctorToken, name string,
) (string, error) {
	m.tokens = append(m.tokens, token)
	if v, ok := m.secrets[name]; ok {
		return v, nil
	}
	return "", resolver.ErrSecretNotFound
}

func invoke(
	t *testing.T, r *resolver.FunctorRegistry, name string, args ...string,
) any {
	t.Helper()
	v, err := r.Invoke(context.Background(), "token-1", name, args)
	require.NoError(t, err)
	return v
}

func TestRegexExtract(t *testing.T) {
	r := resolver.NewFunctorRegistry(nil)

	t.Run("capture_group_preferred", func(t *testing.T) {
		v := invoke(t, r, "regex.extract", `v(\d+)`, "release v42 final")
		assert.Equal(t, "42", v)
	})

	t.Run("full_match_without_group", func(t *testing.T) {
		v := invoke(t, r, "regex.extract", `\d+`, "build 7")
		assert.Equal(t, "7", v)
	})

	t.Run("no_match_yields_empty", func(t *testing.T) {
		v := invoke(t, r, "regex.extract", `\d+`, "none")
		assert.Equal(t, "", v)
	})

	t.Run("bad_pattern", func(t *testing.T) {
		_, err := r.Invoke(
			context.Background(), "token-1", "regex.extract",
			[]string{"(", "text"},
		)
		assert.ErrorIs(t, err, resolver.ErrBadFunctorPattern)
	})

	t.Run("wrong_arity", func(t *testing.T) {
		_, err := r.Invoke(
			context.Background(), "token-1", "regex.extract",
			[]string{"only-one"},
		)
		assert.ErrorIs(t, err, resolver.ErrFunctorArgs)
	})
}

func TestJSONSelect(t *testing.T) {
	r := resolver.NewFunctorRegistry(nil)

	v := invoke(t, r, "json.select", "a.b", `{"a":{"b":"deep"}}`)
	assert.Equal(t, "deep", v)

	v = invoke(t, r, "json.select", "missing", `{"a":1}`)
	assert.Nil(t, v)
}

func TestSecretsGet(t *testing.T) {
	src := &mapSecrets{secrets: map[string]string{"api-key": "hunter2"}}
	r := resolver.NewFunctorRegistry(src)

	v := invoke(t, r, "secrets.get", "api-key")
	assert.Equal(t, "hunter2", v)

	// Functor token is forwarded to the source for scoping
	require.Len(t, src.tokens, 1)
	assert.Equal(t, api.FunctorToken("token-1"), src.tokens[0])

	_, err := r.Invoke(
		context.Background(), "token-1", "secrets.get", []string{"missing"},
	)
	assert.ErrorIs(t, err, resolver.ErrSecretNotFound)
}

func TestSecretsGetWithoutSource(t *testing.T) {
	r := resolver.NewFunctorRegistry(nil)
	_, err := r.Invoke(
		context.Background(), "token-1", "secrets.get", []string{"name"},
	)
	assert.ErrorIs(t, err, resolver.ErrNoSecretSource)
}

func TestEnvSecretSource(t *testing.T) {
	t.Setenv("CASCADE_SECRET_DB_PASSWORD", "swordfish")

	src := &resolver.EnvSecretSource{Prefix: "CASCADE_SECRET_"}
	v, err := src.GetSecret(context.Background(), "token-1", "DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "swordfish", v)

	_, err = src.GetSecret(context.Background(), "token-1", "MISSING")
	assert.ErrorIs(t, err, resolver.ErrSecretNotFound)
}

func TestUnknownFunctor(t *testing.T) {
	r := resolver.NewFunctorRegistry(nil)
	_, err := r.Invoke(
		context.Background(), "token-1", "nope.such", nil,
	)
	assert.ErrorIs(t, err, resolver.ErrUnknownFunctor)
	assert.False(t, r.Known("nope.such"))
	assert.True(t, r.Known("regex.extract"))
}
