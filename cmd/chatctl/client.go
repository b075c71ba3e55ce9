package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/sahilchouksey/school-connect/utils/response"
)

// apiClient calls the /api/v1 routes with a bearer token
type apiClient struct {
	http   *resty.Client
	server string
	token  string
}

func newAPIClient(opts *rootOptions) (*apiClient, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("no access token, pass --token or set CHATCTL_TOKEN")
	}
	server := strings.TrimRight(opts.Server, "/")
	return &apiClient{
		http: resty.New().
			SetBaseURL(server+"/api/v1").
			SetAuthToken(opts.Token).
			SetHeader("Accept", "application/json"),
		server: server,
		token:  opts.Token,
	}, nil
}

// envelope mirrors response.Response with the payload left raw
type envelope struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Data    json.RawMessage       `json:"data"`
	Error   *response.ErrorDetail `json:"error"`
}

// do sends the request and decodes the data field into out, which may be nil
func (c *apiClient) do(method, path string, body, out interface{}) error {
	req := c.http.R()
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("unexpected response (%s): %s", resp.Status(), resp.String())
	}
	if !resp.IsSuccess() || !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s (%d %s)", env.Error.Message, resp.StatusCode(), env.Error.Code)
		}
		return fmt.Errorf("request failed: %s", resp.Status())
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// dialStream opens the websocket of one conversation
func (c *apiClient) dialStream(peerID string) (*websocket.Conn, error) {
	u, err := url.Parse(c.server)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/chat/conversations/" + url.PathEscape(peerID) + "/stream"

	header := http.Header{}
	header.Add("Authorization", "Bearer "+c.token)

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to websocket: %v, status: %s", err, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to websocket: %v", err)
	}
	return conn, nil
}
