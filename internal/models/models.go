package models

import "time"

// User is an account allowed to call the API with HTTP basic auth.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// CredentialType enumerates the yt-dlp authentication options a site may carry.
type CredentialType string

const (
	CredentialCookiesFile    CredentialType = "cookies_file"
	CredentialCookiesBrowser CredentialType = "cookies_browser"
	CredentialLogin          CredentialType = "login"
	CredentialUsername       CredentialType = "username"
	CredentialPassword       CredentialType = "password"
	CredentialVideoPassword  CredentialType = "video_password"
	CredentialHeader         CredentialType = "header"
	CredentialNetrc          CredentialType = "netrc"
	CredentialNetrcLocation  CredentialType = "netrc_location"
	CredentialAPMSO          CredentialType = "ap_mso"
	CredentialAPUsername     CredentialType = "ap_username"
	CredentialAPPassword     CredentialType = "ap_password"
)

// Credential is a single authentication value for a site. Value is ciphertext
// while Encrypted is set.
type Credential struct {
	ID        int64
	SiteID    int64
	Type      CredentialType
	Key       string
	Value     string
	Encrypted bool
}

// Site is a configured extraction target with its enablement and credentials.
type Site struct {
	ID               int64
	Name             string
	ExtractorPattern string
	Enabled          bool
	Priority         int
	ProxyStreaming   bool
	Credentials      []Credential
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
