package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"pigeon/internal/domain"
	"pigeon/internal/wire"
)

// API is the thin HTTP client for the central service. It speaks the /v1
// REST surface and translates error envelopes back into domain sentinels.
type API struct {
	Base string
	HTTP *http.Client

	token domain.SessionToken
}

// NewAPI returns an API rooted at base, e.g. "http://localhost:8970".
func NewAPI(base string) *API {
	return &API{Base: base, HTTP: http.DefaultClient}
}

// SetToken installs the session token sent on every authenticated call.
func (c *API) SetToken(token domain.SessionToken) { c.token = token }

func (c *API) SignUp(username, password string) (domain.SessionToken, error) {
	var out wire.TokenResponse
	err := c.post("/v1/signup", wire.Credentials{Username: username, Password: password}, &out)
	if err != nil {
		return "", err
	}
	return domain.SessionToken(out.Token), nil
}

func (c *API) Login(username, password string) (domain.SessionToken, error) {
	var out wire.TokenResponse
	err := c.post("/v1/login", wire.Credentials{Username: username, Password: password}, &out)
	if err != nil {
		return "", err
	}
	return domain.SessionToken(out.Token), nil
}

func (c *API) UpdatePassword(current, updated string) error {
	return c.post("/v1/password", wire.PasswordChange{Current: current, New: updated}, nil)
}

func (c *API) Disconnect() error {
	return c.post("/v1/disconnect", struct{}{}, nil)
}

func (c *API) Friends(filter domain.StatusType) ([]domain.RemoteUser, error) {
	path := "/v1/friends"
	if filter != "" {
		path += "?status=" + url.QueryEscape(string(filter))
	}
	var out []domain.RemoteUser
	if err := c.getJSON(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *API) RequestFriendship(username string) error {
	return c.post("/v1/friends/request", wire.UsernameRequest{Username: username}, nil)
}

func (c *API) AcceptFriendship(username string) (bool, error) {
	var out wire.AcceptResponse
	if err := c.post("/v1/friends/accept", wire.UsernameRequest{Username: username}, &out); err != nil {
		return false, err
	}
	return out.Online, nil
}

func (c *API) RejectFriendship(username string) error {
	return c.post("/v1/friends/reject", wire.UsernameRequest{Username: username}, nil)
}

func (c *API) EndFriendship(username string) error {
	return c.post("/v1/friends/end", wire.UsernameRequest{Username: username}, nil)
}

func (c *API) InitiateChat(username string, tunnel domain.TunnelHandle, publicKey []byte) (domain.NewChatData, error) {
	var out wire.ChatGrant
	err := c.post("/v1/chat/initiate", wire.ChatInitiate{
		Username:  username,
		Tunnel:    tunnel,
		PublicKey: publicKey,
	}, &out)
	if err != nil {
		return domain.NewChatData{}, err
	}
	return domain.NewChatData{Tunnel: out.Tunnel, WrappedKey: out.WrappedKey}, nil
}

// WebsocketURL derives the push channel endpoint from the base URL.
func (c *API) WebsocketURL() (string, error) {
	u, err := url.Parse(c.Base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/v1/ws"
	u.RawQuery = "token=" + url.QueryEscape(c.token.String())
	return u.String(), nil
}

func (c *API) post(path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, out)
}

func (c *API) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	return c.do(req, out)
}

func (c *API) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token.String())
	}
}

func (c *API) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, domain.ErrRemoteUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// decodeError turns an error envelope back into the matching domain sentinel.
func decodeError(resp *http.Response) error {
	var envelope wire.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error == "" {
		return fmt.Errorf("server responded %s: %w", resp.Status, domain.ErrOperationFailed)
	}

	var sentinel error
	switch envelope.Kind {
	case wire.KindAuthentication:
		sentinel = domain.ErrAuthentication
	case wire.KindInvalidToken:
		sentinel = domain.ErrInvalidToken
	case wire.KindRemoteUnavailable:
		sentinel = domain.ErrRemoteUnavailable
	default:
		sentinel = domain.ErrOperationFailed
	}
	return fmt.Errorf("%s: %w", envelope.Error, sentinel)
}
