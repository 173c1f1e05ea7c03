package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/thanhpk/randstr"
	"golang.org/x/oauth2"

	"github.com/safar/storefront-core/internal/config"
	"github.com/safar/storefront-core/internal/models"
)

var (
	ErrLinkInvalid     = errors.New("invalid or expired link token")
	ErrStateInvalid    = errors.New("invalid or expired oauth state")
	ErrAlreadyLinked   = errors.New("identity linked to another account")
	ErrLinkUnavailable = errors.New("account linking not configured")
)

const (
	linkTokenTTL  = 10 * time.Minute
	oauthStateTTL = 10 * time.Minute
)

var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/api/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

type linkEntry struct {
	userID  string
	email   string
	expires time.Time
}

type stateEntry struct {
	linkToken string
	returnURL string
	expires   time.Time
}

// Linker ties a signed-in user to a Discord authorization-code
// exchange through two short-lived in-memory token maps.
type Linker struct {
	oauth          *oauth2.Config
	users          *Users
	allowedOrigins []string

	mu     sync.Mutex
	links  map[string]linkEntry
	states map[string]stateEntry
	now    func() time.Time
}

func NewLinker(cfg config.DiscordConfig, users *Users, allowedOrigins []string) *Linker {
	l := &Linker{
		users:          users,
		allowedOrigins: allowedOrigins,
		links:          make(map[string]linkEntry),
		states:         make(map[string]stateEntry),
		now:            time.Now,
	}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		l.oauth = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"identify", "email"},
			Endpoint:     discordEndpoint,
		}
	}
	return l
}

func (l *Linker) Configured() bool { return l.oauth != nil }

// IssueLinkToken mints the short-lived token handed to the client on
// login; it is the only proof tying the OAuth round-trip to the user.
func (l *Linker) IssueLinkToken(user *models.User) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked()

	token := randstr.Hex(24)
	l.links[token] = linkEntry{
		userID:  user.ID,
		email:   user.Email,
		expires: l.now().Add(linkTokenTTL),
	}
	return token
}

// ConnectURL validates the return URL against the configured origins
// and returns the provider authorization URL with a fresh state.
func (l *Linker) ConnectURL(linkToken, returnURL string) (string, error) {
	if l.oauth == nil {
		return "", ErrLinkUnavailable
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked()

	if _, ok := l.links[linkToken]; !ok {
		return "", ErrLinkInvalid
	}

	returnURL, err := l.sanitizeReturnURL(returnURL)
	if err != nil {
		return "", err
	}

	state := randstr.Hex(24)
	l.states[state] = stateEntry{
		linkToken: linkToken,
		returnURL: returnURL,
		expires:   l.now().Add(oauthStateTTL),
	}
	return l.oauth.AuthCodeURL(state), nil
}

type discordProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Callback completes the exchange: validates state, trades the code
// for a token, fetches the provider profile, refuses identities
// already linked to another account and writes the identity fields.
// Returns the redirect target for the browser.
func (l *Linker) Callback(ctx context.Context, state, code string) (string, error) {
	if l.oauth == nil {
		return "", ErrLinkUnavailable
	}

	l.mu.Lock()
	l.purgeLocked()
	st, ok := l.states[state]
	if ok {
		delete(l.states, state)
	}
	var link linkEntry
	if ok {
		link, ok = l.links[st.linkToken]
		if ok {
			delete(l.links, st.linkToken)
		}
	}
	l.mu.Unlock()
	if !ok {
		return "", ErrStateInvalid
	}

	token, err := l.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("oauth exchange: %w", err)
	}

	profile, err := l.fetchProfile(ctx, token)
	if err != nil {
		return "", err
	}

	users, err := l.users.List(ctx)
	if err != nil {
		return "", err
	}
	for i := range users {
		if users[i].DiscordID == profile.ID && users[i].ID != link.userID {
			return "", ErrAlreadyLinked
		}
	}

	if err := l.users.Update(ctx, link.userID, func(u *models.User) {
		u.DiscordID = profile.ID
		u.DiscordUsername = profile.Username
	}); err != nil {
		return "", err
	}

	redirect, err := url.Parse(st.returnURL)
	if err != nil {
		return "", ErrStateInvalid
	}
	q := redirect.Query()
	q.Set("linked", "true")
	q.Set("discordUsername", profile.Username)
	redirect.RawQuery = q.Encode()
	return redirect.String(), nil
}

// Unlink clears the identity fields on the user record.
func (l *Linker) Unlink(ctx context.Context, userID string) error {
	return l.users.Update(ctx, userID, func(u *models.User) {
		u.DiscordID = ""
		u.DiscordUsername = ""
	})
}

func (l *Linker) fetchProfile(ctx context.Context, token *oauth2.Token) (*discordProfile, error) {
	client := l.oauth.Client(ctx, token)
	resp, err := client.Get("https://discord.com/api/users/@me")
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch profile: status %d", resp.StatusCode)
	}
	var profile discordProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

// sanitizeReturnURL allows only URLs whose origin matches the CORS
// allow-list, closing the open-redirect hole.
func (l *Linker) sanitizeReturnURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty return url", ErrStateInvalid)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: malformed return url", ErrStateInvalid)
	}
	origin := u.Scheme + "://" + u.Host
	for _, allowed := range l.allowedOrigins {
		if allowed == "*" || originMatch(allowed, origin) {
			u.Fragment = ""
			u.Path = path.Clean("/" + u.Path)
			return u.String(), nil
		}
	}
	return "", fmt.Errorf("%w: return url origin not allowed", ErrStateInvalid)
}

// originMatch supports exact origins and a leading wildcard like
// https://*.example.com.
func originMatch(pattern, origin string) bool {
	if pattern == origin {
		return true
	}
	if i := strings.Index(pattern, "*"); i >= 0 {
		prefix, suffix := pattern[:i], pattern[i+1:]
		return strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) &&
			len(origin) >= len(prefix)+len(suffix)
	}
	return false
}

func (l *Linker) purgeLocked() {
	now := l.now()
	for token, entry := range l.links {
		if now.After(entry.expires) {
			delete(l.links, token)
		}
	}
	for state, entry := range l.states {
		if now.After(entry.expires) {
			delete(l.states, state)
		}
	}
}
