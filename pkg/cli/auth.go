package cli

import (
	"fmt"
	"os"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/zalando/go-keyring"
)

const (
	tokenFileName  = "bearer_token"
	tokenFileMode  = 0600
	keyringService = "mectl"
	keyringUser    = "bearer_token"

	bearerTokenEnvVar = "MECTL_BEARER_TOKEN"
)

var (
	tokenFlag = &cli.StringFlag{
		Name:     "token",
		Usage:    "Platform developer bearer token",
		Required: true,
	}

	authCmd = &cli.Command{
		Name:            "auth",
		Aliases:         []string{"a"},
		HideHelpCommand: true,
		Usage:           "Store the platform developer bearer token",
		Action:          cmdSaveToken,
		Flags: []cli.Flag{
			tokenFlag,
		},
	}
)

func cmdSaveToken(c *cli.Context) error {
	token := c.String(tokenFlag.Name)
	if token == "" {
		return cli.ShowSubcommandHelp(c)
	}

	if err := saveBearerToken(getConfig(c).Home, token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}

	fmt.Println("Token saved to OS keychain")
	return nil
}

func saveBearerToken(home, token string) error {
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		log.Warnf("keychain unavailable, falling back to file: %v", err)
		return saveBearerTokenFile(home, token)
	}

	// Clean up legacy file if it exists
	os.Remove(path.Join(home, tokenFileName))

	return nil
}

// getBearerToken resolves the platform bearer token: environment
// variable first, then OS keychain, then the legacy token file (which
// is migrated into the keychain when found).
func getBearerToken(home string) (string, error) {
	if token := os.Getenv(bearerTokenEnvVar); token != "" {
		return token, nil
	}

	token, err := keyring.Get(keyringService, keyringUser)
	if err == nil && token != "" {
		return token, nil
	}

	token, err = getBearerTokenFile(home)
	if err != nil {
		return "", err
	}

	if migrateErr := keyring.Set(keyringService, keyringUser, token); migrateErr == nil {
		log.Info("migrated token from file to OS keychain")
		os.Remove(path.Join(home, tokenFileName))
	}

	return token, nil
}

func saveBearerTokenFile(home, token string) error {
	return os.WriteFile(path.Join(home, tokenFileName), []byte(token), tokenFileMode)
}

func getBearerTokenFile(home string) (string, error) {
	tokenPath := path.Join(home, tokenFileName)
	b, err := os.ReadFile(tokenPath)
	if err != nil {
		return "", fmt.Errorf("reading token file %s: %w (run `%s auth --token ...` first)", tokenPath, err, name)
	}
	// Hand-created files commonly carry a trailing newline, which would
	// corrupt the Authorization header.
	return strings.TrimSpace(string(b)), nil
}
