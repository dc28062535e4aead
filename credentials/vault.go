package credentials

import (
	"fmt"
	"strings"

	"github.com/AlexAkulov/releasewatch/config"

	"github.com/hashicorp/vault/api"
)

const defaultVaultField = "token"

type vaultPath struct {
	Mount string
	v2    bool
	Path  string
}

func (vp vaultPath) Read() string {
	if vp.v2 {
		return strings.Join([]string{vp.Mount, "data", vp.Path}, "/")
	}
	return strings.Join([]string{vp.Mount, vp.Path}, "/")
}

func (vp vaultPath) String() string {
	return vp.Mount + "/" + vp.Path
}

func toVaultPath(path string, v2 bool) vaultPath {
	vp := vaultPath{}
	path = strings.TrimPrefix(path, "/")
	part := strings.SplitN(path, "/", 2)
	vp.Mount = part[0]
	if len(part) > 1 {
		vp.Path = part[1]
	}
	vp.v2 = v2
	return vp
}

// Vault reads the token from a KV secret. Both engine versions are
// supported, v2 is tried first.
type Vault struct {
	Config *config.Vault

	client *api.Client
}

func (v *Vault) connect() error {
	if v.client != nil {
		return nil
	}
	client, err := api.NewClient(&api.Config{Address: v.Config.VaultURL})
	if err != nil {
		return fmt.Errorf("can't create vault client with: %w", err)
	}
	client.SetToken(v.Config.Token)
	v.client = client
	return nil
}

func (v *Vault) Resolve() (string, error) {
	if err := v.connect(); err != nil {
		return "", err
	}
	field := v.Config.Field
	if field == "" {
		field = defaultVaultField
	}
	var lastErr error
	for _, v2 := range []bool{true, false} {
		vp := toVaultPath(v.Config.Path, v2)
		secrets, err := v.read(vp)
		if err != nil {
			lastErr = err
			continue
		}
		token, ok := secrets[field]
		if !ok {
			return "", fmt.Errorf("no field '%s' at %s", field, vp)
		}
		return strings.TrimSpace(token), nil
	}
	return "", lastErr
}

func (v *Vault) read(vp vaultPath) (map[string]string, error) {
	out := make(map[string]string)
	secret, err := v.client.Logical().Read(vp.Read())
	if err != nil {
		return nil, fmt.Errorf("can't read secret with: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data to read at path %s", vp.Read())
	}
	for k, value := range secret.Data {
		switch t := value.(type) {
		case string:
			out[k] = t
		case map[string]interface{}:
			if k == "data" {
				for x, y := range t {
					if z, ok := y.(string); ok {
						out[x] = z
					}
				}
			}
		}
	}
	return out, nil
}
