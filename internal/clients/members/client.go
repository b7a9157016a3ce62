// Package members is a client for the members-area platform API that hosts
// the course content. The API is RPC-shaped with camelCase endpoints, takes
// urlencoded POST bodies and reports failures through an application-level
// success flag rather than HTTP status codes.
package members

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"funnel-server/internal/observability"
)

var ErrUserNotFound = errors.New("members user not found")

// Client talks to the members-area API. Credentials ride both in HTTP basic
// auth and in the request body; the API checks the body pair.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	clubID     string
	subdomain  string
	httpClient *http.Client
	logger     *observability.Logger
}

// User is a members-area account.
type User struct {
	ID    string
	Email string
	Name  string
}

type apiEnvelope struct {
	Success      int             `json:"success"`
	ErrorCode    string          `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
	Return       json.RawMessage `json:"return"`
}

// NewClient creates a members-area client. Empty credentials produce a
// disabled client so environments without a members area still boot.
func NewClient(baseURL, apiKey, apiSecret, clubID, subdomain string, logger *observability.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		clubID:    clubID,
		subdomain: subdomain,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// IsEnabled reports whether the client is configured to reach the platform.
func (c *Client) IsEnabled() bool {
	return c.baseURL != "" && c.apiKey != "" && c.apiSecret != "" && c.clubID != ""
}

// CreateUserParams describes a new members-area account enrolled in the
// configured club.
type CreateUserParams struct {
	Email    string
	Name     string
	Password string
}

// CreateUser creates a members-area account and enrolls it in the club.
// When the account already exists the existing user ID is resolved by email
// lookup. The returned ID falls back to the email address when the API
// response carries no usable identifier.
func (c *Client) CreateUser(ctx context.Context, params CreateUserParams) (string, error) {
	form := url.Values{}
	form.Set("am_key", c.apiKey)
	form.Set("am_secret", c.apiSecret)
	form.Set("clubId", c.clubID)
	form.Set("email", params.Email)
	form.Set("nome", params.Name) // the API uses Portuguese field names
	form.Set("password", params.Password)
	form.Set("status", "1") // 1 = active

	env, err := c.postForm(ctx, "/setClubUser", form)
	if err != nil {
		return "", err
	}

	if env.Success == 0 {
		msg := strings.ToLower(env.ErrorMessage)
		if strings.Contains(msg, "already") || strings.Contains(msg, "existe") {
			c.logger.Warn(ctx, "members user already exists, resolving by email",
				observability.Field{Key: "email", Value: params.Email},
			)
			existing, lookupErr := c.GetUserByEmail(ctx, params.Email)
			if lookupErr != nil {
				return "", fmt.Errorf("members user exists but lookup failed: %w", lookupErr)
			}
			return existing.ID, nil
		}
		return "", fmt.Errorf("members api rejected user creation: %s (%s)", env.ErrorMessage, env.ErrorCode)
	}

	userID := extractUserID(env.Return)
	if userID == "" {
		c.logger.Warn(ctx, "members api returned no user id, resolving by email",
			observability.Field{Key: "email", Value: params.Email},
		)
		if existing, lookupErr := c.GetUserByEmail(ctx, params.Email); lookupErr == nil {
			userID = existing.ID
		}
	}
	if userID == "" {
		userID = params.Email
	}

	c.logger.Info(ctx, "created members user",
		observability.Field{Key: "members_user_id", Value: userID},
		observability.Field{Key: "email", Value: params.Email},
	)
	return userID, nil
}

// AddUserToClub enrolls an existing account in the configured club. The API
// reuses the setClubUser endpoint with a userId instead of account fields.
func (c *Client) AddUserToClub(ctx context.Context, userID string) error {
	form := url.Values{}
	form.Set("am_key", c.apiKey)
	form.Set("am_secret", c.apiSecret)
	form.Set("clubId", c.clubID)
	form.Set("userId", userID)
	form.Set("status", "1")

	env, err := c.postForm(ctx, "/setClubUser", form)
	if err != nil {
		return err
	}
	if env.Success == 0 {
		return fmt.Errorf("members api rejected club enrollment: %s (%s)", env.ErrorMessage, env.ErrorCode)
	}

	c.logger.Info(ctx, "added members user to club",
		observability.Field{Key: "members_user_id", Value: userID},
	)
	return nil
}

// GetUserByEmail finds an account by email within the configured club.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (User, error) {
	query := url.Values{}
	query.Set("am_key", c.apiKey)
	query.Set("am_secret", c.apiSecret)
	query.Set("clubId", c.clubID)
	query.Set("email", email)

	env, err := c.getJSON(ctx, "/getClubUser", query)
	if err != nil {
		return User{}, err
	}
	if env.Success == 0 {
		return User{}, ErrUserNotFound
	}

	user := parseUser(env.Return)
	if user.ID == "" {
		return User{}, ErrUserNotFound
	}
	if user.Email == "" {
		user.Email = email
	}
	return user, nil
}

// GenerateMagicLoginURL asks the platform for a one-click login link. The
// endpoint is not available on every plan, so any failure falls back to the
// express sign-in URL, which only needs the email.
func (c *Client) GenerateMagicLoginURL(ctx context.Context, userID, email string) string {
	form := url.Values{}
	form.Set("am_key", c.apiKey)
	form.Set("am_secret", c.apiSecret)
	form.Set("userId", userID)
	form.Set("email", email)

	env, err := c.postForm(ctx, "/generateClubUserLoginUrl", form)
	if err == nil && env.Success == 1 {
		var result map[string]any
		if json.Unmarshal(env.Return, &result) == nil {
			for _, key := range []string{"url", "login_url", "magic_link"} {
				if link, ok := result[key].(string); ok && link != "" {
					return link
				}
			}
		}
	}

	c.logger.Info(ctx, "magic link endpoint unavailable, using express sign-in url",
		observability.Field{Key: "members_user_id", Value: userID},
	)
	return fmt.Sprintf("https://%s.astronmembers.com.br/users/express_signin?email=%s",
		c.subdomain, url.QueryEscape(email))
}

// LoginURL returns the club's static login page, used when no members
// account could be created for the buyer.
func (c *Client) LoginURL() string {
	if c.subdomain == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.astronmembers.com.br/login", c.subdomain)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (apiEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return apiEnvelope{}, fmt.Errorf("failed to build members request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(ctx, req, endpoint)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values) (apiEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return apiEnvelope{}, fmt.Errorf("failed to build members request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)

	return c.do(ctx, req, endpoint)
}

func (c *Client) do(ctx context.Context, req *http.Request, endpoint string) (apiEnvelope, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error(ctx, "members api request failed", err,
			observability.Field{Key: "endpoint", Value: endpoint},
		)
		return apiEnvelope{}, fmt.Errorf("members api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("members api returned status %d: %s", resp.StatusCode, respBody)
		c.logger.Error(ctx, "members api rejected request", err,
			observability.Field{Key: "endpoint", Value: endpoint},
		)
		return apiEnvelope{}, err
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apiEnvelope{}, fmt.Errorf("failed to decode members response: %w", err)
	}
	return env, nil
}

// extractUserID digs the account ID out of a return payload. The API is
// inconsistent about the field name and sometimes sends numbers.
func extractUserID(raw json.RawMessage) string {
	var result map[string]any
	if json.Unmarshal(raw, &result) != nil {
		return ""
	}
	for _, key := range []string{"id", "userId", "user_id"} {
		if id := stringifyID(result[key]); id != "" {
			return id
		}
	}
	return ""
}

// parseUser handles both response shapes: a bare user object and a wrapper
// with a users array.
func parseUser(raw json.RawMessage) User {
	var result map[string]any
	if json.Unmarshal(raw, &result) != nil {
		return User{}
	}

	obj := result
	if users, ok := result["users"].([]any); ok {
		if len(users) == 0 {
			return User{}
		}
		first, ok := users[0].(map[string]any)
		if !ok {
			return User{}
		}
		obj = first
	}

	user := User{ID: stringifyID(obj["id"])}
	if user.ID == "" {
		user.ID = stringifyID(obj["userId"])
	}
	if email, ok := obj["email"].(string); ok {
		user.Email = email
	}
	if name, ok := obj["nome"].(string); ok {
		user.Name = name
	} else if name, ok := obj["name"].(string); ok {
		user.Name = name
	}
	return user
}

func stringifyID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return ""
	}
}
