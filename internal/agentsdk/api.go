package agentsdk

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"minder/internal/models"
)

// Init registers (or looks up) the user on the server. Idempotent.
func (c *Client) Init(ctx context.Context, id uuid.UUID) error {
	req := map[string]string{"uuid": id.String()}
	return c.post(ctx, "/api/v1/init", req, nil)
}

// SetEmail configures the contact channel for unlock code delivery.
func (c *Client) SetEmail(ctx context.Context, id uuid.UUID, email string) error {
	req := map[string]string{"uuid": id.String(), "email": email}
	return c.post(ctx, "/api/v1/email", req, nil)
}

// ReplaceRules swaps the whole rule set on the server.
func (c *Client) ReplaceRules(ctx context.Context, id uuid.UUID, rules []models.RuleSpec) ([]models.Rule, error) {
	req := map[string]interface{}{"uuid": id.String(), "rules": rules}
	var res struct {
		Rules []models.Rule `json:"rules"`
	}
	if err := c.post(ctx, "/api/v1/rules", req, &res); err != nil {
		return nil, err
	}
	return res.Rules, nil
}

// Heartbeat reports elapsed active seconds on a domain.
func (c *Client) Heartbeat(ctx context.Context, id uuid.UUID, domain string, seconds float64) error {
	req := map[string]interface{}{"uuid": id.String(), "domain": domain, "seconds": seconds}
	return c.post(ctx, "/api/v1/heartbeat", req, nil)
}

// Config fetches the authoritative decision set.
func (c *Client) Config(ctx context.Context, id uuid.UUID) ([]models.RuleStatus, error) {
	req := map[string]string{"uuid": id.String()}
	var res struct {
		Rules []models.RuleStatus `json:"rules"`
	}
	if err := c.post(ctx, "/api/v1/config", req, &res); err != nil {
		return nil, err
	}
	return res.Rules, nil
}

// UnlockRequestResponse is the issuance result. OTP is populated only
// by non-production servers.
type UnlockRequestResponse struct {
	Sent bool   `json:"sent"`
	OTP  string `json:"otp,omitempty"`
}

// RequestUnlock asks the server to issue and deliver an unlock code.
func (c *Client) RequestUnlock(ctx context.Context, id uuid.UUID, domain string) (UnlockRequestResponse, error) {
	req := map[string]string{"uuid": id.String(), "domain": domain}
	var res UnlockRequestResponse
	if err := c.post(ctx, "/api/v1/unlock/request", req, &res); err != nil {
		return UnlockRequestResponse{}, err
	}
	return res, nil
}

// UnlockVerifyResponse is the result of a successful verification.
type UnlockVerifyResponse struct {
	Unlocked  bool      `json:"unlocked"`
	Domain    string    `json:"domain"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyUnlock submits a received code; on success the server installs
// a time-boxed override.
func (c *Client) VerifyUnlock(ctx context.Context, id uuid.UUID, otp string) (UnlockVerifyResponse, error) {
	req := map[string]string{"uuid": id.String(), "otp": otp}
	var res UnlockVerifyResponse
	if err := c.post(ctx, "/api/v1/unlock/verify", req, &res); err != nil {
		return UnlockVerifyResponse{}, err
	}
	return res, nil
}

// configPush mirrors the watch payload.
type configPush struct {
	Rules []models.RuleStatus `json:"rules"`
}

// Watch connects to the server's watch websocket and delivers pushed
// decision sets until the context is canceled or the connection drops.
// The returned channel is closed on exit; callers reconnect as needed.
func (c *Client) Watch(ctx context.Context, id uuid.UUID) (<-chan []models.RuleStatus, error) {
	u := *c.URL.JoinPath("/api/v1/watch")
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("uuid", id.String())
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: c.HTTPClient,
	})
	if err != nil {
		return nil, xerrors.Errorf("dial watch: %w", err)
	}

	ch := make(chan []models.RuleStatus)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			var push configPush
			if err := wsjson.Read(ctx, conn, &push); err != nil {
				return
			}
			select {
			case ch <- push.Rules:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
