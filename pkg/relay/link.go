package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LinkErrorKind distinguishes the ways consuming a connect link can fail.
// Each kind gets its own user-facing message; none are retried automatically
// because the one-time code is spent on first use.
type LinkErrorKind string

const (
	LinkInvalidFormat      LinkErrorKind = "invalid-link-format"
	LinkMissingParameters  LinkErrorKind = "missing-parameters"
	LinkExchangeRejected   LinkErrorKind = "exchange-rejected"
	LinkInvalidCredentials LinkErrorKind = "invalid-credentials"
)

// LinkError is a typed connect-link failure.
type LinkError struct {
	Kind    LinkErrorKind
	Message string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ConnectLink is a parsed provisioning link of the form
// scheme+transport://host/path?p=<targetId>&c=<code>&n=<name>.
type ConnectLink struct {
	TargetID string
	Code     string
	Name     string

	// Endpoint is the host:port the persistent relay socket dials.
	Endpoint string
	// ExchangeURL is the HTTP endpoint for the one-shot code exchange,
	// derived from the link's host.
	ExchangeURL string
}

// ParseConnectLink validates and decomposes a connect link.
func ParseConnectLink(raw string) (ConnectLink, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ConnectLink{}, &LinkError{Kind: LinkInvalidFormat, Message: "connect link is empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ConnectLink{}, &LinkError{Kind: LinkInvalidFormat, Message: "connect link is not a valid URI: " + err.Error()}
	}
	if !strings.Contains(u.Scheme, "+") || u.Host == "" {
		return ConnectLink{}, &LinkError{Kind: LinkInvalidFormat, Message: "connect link must look like pylon+tls://host/...?p=...&c=..."}
	}

	q := u.Query()
	targetID := q.Get("p")
	code := q.Get("c")
	if targetID == "" || code == "" {
		var missing []string
		if targetID == "" {
			missing = append(missing, "p (target id)")
		}
		if code == "" {
			missing = append(missing, "c (one-time code)")
		}
		return ConnectLink{}, &LinkError{
			Kind:    LinkMissingParameters,
			Message: "connect link is missing " + strings.Join(missing, " and "),
		}
	}

	return ConnectLink{
		TargetID:    targetID,
		Code:        code,
		Name:        q.Get("n"),
		Endpoint:    socketEndpoint(u),
		ExchangeURL: "https://" + u.Host + "/api/relay/exchange",
	}, nil
}

// socketEndpoint derives the dialable address from the link host. The
// transport half of the scheme decides the default port.
func socketEndpoint(u *url.URL) string {
	if _, _, err := net.SplitHostPort(u.Host); err == nil {
		return u.Host
	}
	transport := u.Scheme
	if i := strings.Index(transport, "+"); i >= 0 {
		transport = transport[i+1:]
	}
	switch transport {
	case "tcp", "ws":
		return net.JoinHostPort(u.Host, "80")
	default:
		return net.JoinHostPort(u.Host, "443")
	}
}

// Credentials are returned by a successful exchange.
type Credentials struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type exchangeRequest struct {
	TargetID string `json:"targetId"`
	Code     string `json:"code"`
	Name     string `json:"name,omitempty"`
}

type exchangeErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Exchanger performs the one-shot code-for-credentials exchange.
type Exchanger struct {
	httpClient *http.Client
}

// NewExchanger returns an Exchanger with a bounded request timeout.
func NewExchanger() *Exchanger {
	return &Exchanger{httpClient: &http.Client{Timeout: 20 * time.Second}}
}

// Exchange redeems the link's one-time code for long-lived credentials.
// Failures are never retried here: a rejected code is spent.
func (e *Exchanger) Exchange(ctx context.Context, link ConnectLink) (Credentials, error) {
	body, err := json.Marshal(exchangeRequest{TargetID: link.TargetID, Code: link.Code, Name: link.Name})
	if err != nil {
		return Credentials{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, link.ExchangeURL, bytes.NewReader(body))
	if err != nil {
		return Credentials{}, &LinkError{Kind: LinkInvalidFormat, Message: "bad exchange endpoint: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Credentials{}, &LinkError{Kind: LinkExchangeRejected, Message: "exchange request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, &LinkError{Kind: LinkExchangeRejected, Message: "reading exchange response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("exchange returned %d", resp.StatusCode)
		var payload exchangeErrorPayload
		if err := json.Unmarshal(data, &payload); err == nil && (payload.Error != "" || payload.Message != "") {
			msg = strings.TrimSpace(payload.Error + " " + payload.Message)
		}
		return Credentials{}, &LinkError{Kind: LinkExchangeRejected, Message: msg}
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, &LinkError{Kind: LinkInvalidCredentials, Message: "exchange response is not valid JSON"}
	}
	if creds.Token == "" || creds.RefreshToken == "" {
		return Credentials{}, &LinkError{Kind: LinkInvalidCredentials, Message: "exchange response is missing token or refresh token"}
	}
	return creds, nil
}
