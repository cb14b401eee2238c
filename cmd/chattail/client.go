package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"

	"teamchat/internal/auth"
	"teamchat/internal/storage"
)

// apiClient talks to the HTTP API, the session cookie is kept in the jar
type apiClient struct {
	base *url.URL
	http *http.Client
}

type page struct {
	Messages   []storage.Message `json:"messages"`
	NextCursor *string           `json:"nextCursor"`
}

func newAPIClient(base string) (*apiClient, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &apiClient{base: u, http: &http.Client{Jar: jar}}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, payload)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg := fastjson.GetString(data, "message")
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, msg)
	}
	return data, nil
}

func (c *apiClient) login(ctx context.Context, email, password string) (storage.UserSummary, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password})
	if err != nil {
		return storage.UserSummary{}, err
	}

	var resp struct {
		User storage.UserSummary `json:"user"`
	}
	err = json.Unmarshal(data, &resp)
	return resp.User, err
}

func (c *apiClient) page(ctx context.Context, channel int64, cursor string) (page, error) {
	path := "/api/channels/" + strconv.FormatInt(channel, 10) + "/messages"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}

	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return page{}, err
	}

	var p page
	err = json.Unmarshal(data, &p)
	return p, err
}

// wsURL returns websocket endpoint and header carrying the session cookie
func (c *apiClient) wsURL() (string, http.Header) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"

	header := http.Header{}
	for _, cookie := range c.http.Jar.Cookies(c.base) {
		if cookie.Name == auth.CookieName {
			header.Set("Authorization", "Bearer "+cookie.Value)
		}
	}
	return u.String(), header
}
