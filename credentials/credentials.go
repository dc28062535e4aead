package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AlexAkulov/releasewatch"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/zalando/go-keyring"
)

const DefaultVariable = "GITHUB_TOKEN"

// Static is a token written in the config file.
type Static string

func (s Static) Resolve() (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// Env reads the token from the environment, then from a dotenv file.
type Env struct {
	Variable   string
	DotEnvFile string
}

func (e *Env) Resolve() (string, error) {
	variable := e.Variable
	if variable == "" {
		variable = DefaultVariable
	}
	if token := strings.TrimSpace(os.Getenv(variable)); token != "" {
		return token, nil
	}
	if e.DotEnvFile == "" {
		return "", nil
	}
	values, err := godotenv.Read(e.DotEnvFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("can't read %s with: %w", e.DotEnvFile, err)
	}
	return strings.TrimSpace(values[variable]), nil
}

// Keychain reads a password from the OS keyring: the macOS keychain, the
// Secret Service on Linux or the Windows credential manager.
type Keychain struct {
	Service string
	Account string
}

func (k *Keychain) Resolve() (string, error) {
	token, err := keyring.Get(k.Service, k.Account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("can't query keyring with: %w", err)
	}
	return strings.TrimSpace(token), nil
}

// Chain returns the first non-empty token. Failing resolvers are logged and
// skipped, no token at all means unauthenticated requests.
type Chain struct {
	Resolvers []releasewatch.ICredentialResolver
	Log       zerolog.Logger
}

func (c *Chain) Resolve() (string, error) {
	for _, resolver := range c.Resolvers {
		token, err := resolver.Resolve()
		if err != nil {
			c.Log.Warn().Str("service", "credentials").Str("resolver", fmt.Sprintf("%T", resolver)).Str("error", err.Error()).Msg("can't resolve token")
			continue
		}
		if token != "" {
			c.Log.Debug().Str("service", "credentials").Str("resolver", fmt.Sprintf("%T", resolver)).Msg("token resolved")
			return token, nil
		}
	}
	c.Log.Info().Str("service", "credentials").Msg("no github token, using unauthenticated requests")
	return "", nil
}
