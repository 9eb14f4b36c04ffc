package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/cascadeci/cascade/pkg/api"
)

type (
	// Functor is a process-wide function callable from expressions. The
	// functor token scopes side-effecting functors such as secret
	// dereference to the plan execution's grant
	Functor func(
		ctx context.Context, token api.FunctorToken, args []string,
	) (any, error)

	// FunctorRegistry maps functor names to implementations
	FunctorRegistry struct {
		mu sync.RWMutex
		m  map[string]Functor
	}

	// SecretSource dereferences named secrets under a functor token
	SecretSource interface {
		GetSecret(
			ctx context.Context, token api.FunctorToken, name string,
		) (string, error)
	}
)

var (
	ErrUnknownFunctor    = errors.New("unknown functor")
	ErrFunctorArgs       = errors.New("invalid functor arguments")
	ErrNoSecretSource    = errors.New("no secret source configured")
	ErrSecretNotFound    = errors.New("secret not found")
	ErrBadFunctorPattern = errors.New("invalid regex pattern")
)

// NewFunctorRegistry creates a registry with the built-in functors
func NewFunctorRegistry(secrets SecretSource) *FunctorRegistry {
	r := &FunctorRegistry{m: map[string]Functor{}}
	r.Register("regex.extract", regexExtract)
	r.Register("json.select", jsonSelect)
	r.Register("secrets.get", secretsGet(secrets))
	return r
}

// Register adds a functor under a name, replacing any existing one
func (r *FunctorRegistry) Register(name string, fn Functor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[name] = fn
}

// Invoke calls a registered functor by name
func (r *FunctorRegistry) Invoke(
	ctx context.Context, token api.FunctorToken, name string, args []string,
) (any, error) {
	r.mu.RLock()
	fn, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunctor, name)
	}
	return fn(ctx, token, args)
}

// Known returns whether a functor name is registered
func (r *FunctorRegistry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.m[name]
	return ok
}

// regexExtract returns the first match of a pattern in the given text,
// preferring the first capture group when one is present
func regexExtract(
	_ context.Context, _ api.FunctorToken, args []string,
) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: regex.extract(pattern, text)",
			ErrFunctorArgs)
	}
	re, err := regexp.Compile(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadFunctorPattern, args[0])
	}
	m := re.FindStringSubmatch(args[1])
	switch len(m) {
	case 0:
		return "", nil
	case 1:
		return m[0], nil
	default:
		return m[1], nil
	}
}

// jsonSelect extracts a path from a JSON document
func jsonSelect(
	_ context.Context, _ api.FunctorToken, args []string,
) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: json.select(path, document)",
			ErrFunctorArgs)
	}
	res := gjson.Get(args[1], args[0])
	if !res.Exists() {
		return nil, nil
	}
	return res.Value(), nil
}

// EnvSecretSource resolves secrets from process environment variables
// under a configurable prefix. It is the default source when no vault
// integration is configured
type EnvSecretSource struct {
	Prefix string
}

// GetSecret returns the environment value for the named secret
func (s *EnvSecretSource) GetSecret(
	_ context.Context, _ api.FunctorToken, name string,
) (string, error) {
	key := s.Prefix + name
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

func secretsGet(secrets SecretSource) Functor {
	return func(
		ctx context.Context, token api.FunctorToken, args []string,
	) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: secrets.get(name)", ErrFunctorArgs)
		}
		if secrets == nil {
			return nil, ErrNoSecretSource
		}
		return secrets.GetSecret(ctx, token, args[0])
	}
}
