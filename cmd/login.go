package cmd

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/claude-code-open/internal/auth/oauth"
	"github.com/Davincible/claude-code-open/internal/config"
)

var loginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Authorize an OAuth provider via PKCE",
	Long:  `Run the browser-based PKCE login flow for a provider configured with auth mode "oauth", storing the resulting credentials to its oauth_storage_path.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	providerName := args[0]

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	var provider *config.Provider
	for i := range cfg.Providers {
		if cfg.Providers[i].Name == providerName {
			provider = &cfg.Providers[i]
			break
		}
	}
	if provider == nil {
		return fmt.Errorf("no provider named %q in configuration", providerName)
	}
	if provider.Auth.Mode != config.AuthOAuth {
		return fmt.Errorf("provider %q is not configured for oauth (auth mode is %q)", providerName, provider.Auth.Mode)
	}

	color.Blue("Starting PKCE login for %s...", providerName)

	result, err := oauth.RunPKCELogin(context.Background(), http.DefaultClient, oauth.LoginConfig{
		ClientID:     provider.Auth.ClientID,
		AuthorizeURL: provider.Auth.AuthorizeURL,
		TokenURL:     provider.Auth.TokenURL,
		Scopes:       provider.Auth.Scopes,
		OnAuthorizeURL: func(url string) {
			color.Cyan("Open this URL in your browser to authorize:\n  %s", url)
		},
	})
	if err != nil {
		return fmt.Errorf("pkce login failed: %w", err)
	}

	storagePath := provider.Auth.OAuthStoragePath
	if !filepath.IsAbs(storagePath) {
		storagePath = filepath.Join(baseDir, storagePath)
	}
	store := oauth.NewFileStore(storagePath)
	if err := store.Save(result.Credentials); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	color.Green("Login successful, credentials saved to %s", storagePath)
	return nil
}
