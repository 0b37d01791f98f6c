package backend

import (
	"context"
	"errors"
	"net/http"
)

// Login exchanges credentials for a token. It carries no bearer token and a
// 401 does not clear any stored session.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, call{
		method:    http.MethodPost,
		path:      "/login",
		body:      map[string]string{"username": username, "password": password},
		out:       &out,
		anonymous: true,
	})
	if err != nil {
		if KindOf(err) == KindUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if out.Token == "" || out.User == nil {
		return nil, errors.New("invalid login response from server")
	}
	return &out, nil
}
