// Package google adapts Google Calendar and Google Sheets to the engine's
// provider contracts. The identity provider is an OAuth token file; the
// engine only needs a usable bearer credential, never the handshake itself.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	googleauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/sheets/v4"

	"weektally/internal/fault"
)

// Credentials bundles the OAuth client files on disk.
type Credentials struct {
	// ClientSecretsFile is the downloaded OAuth client (credentials.json).
	ClientSecretsFile string
	// TokenFile holds the previously obtained user token.
	TokenFile string
}

// HTTPClient builds an authenticated *http.Client from the stored token.
// A missing client secret or token maps to the auth-required class so the
// refresh path skips Google sources instead of failing the whole refresh.
func (c Credentials) HTTPClient(ctx context.Context) (*http.Client, error) {
	secrets, err := os.ReadFile(c.ClientSecretsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.Authf("client secrets file %s not found", c.ClientSecretsFile)
		}
		return nil, err
	}

	conf, err := googleauth.ConfigFromJSON(secrets,
		calendar.CalendarReadonlyScope,
		sheets.SpreadsheetsReadonlyScope,
	)
	if err != nil {
		return nil, fault.Authf("parse client secrets: %v", err)
	}

	tok, err := loadToken(c.TokenFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.Authf("token file %s not found; run the authorization flow first", c.TokenFile)
		}
		return nil, err
	}
	if !tok.Valid() && tok.RefreshToken == "" {
		return nil, fault.Authf("stored token expired and has no refresh token")
	}

	// The client refreshes transparently through the token source.
	return conf.Client(ctx, tok), nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fault.Authf("token file %s is malformed: %v", path, err)
	}
	return &tok, nil
}

// SaveToken persists an obtained token with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
