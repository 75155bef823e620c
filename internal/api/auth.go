package api

import (
	"context"
	"net/http"

	"github.com/fjod/go_storefront/internal/domain"
)

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, userID, password string) (domain.Session, error) {
	var out loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/token", nil, loginRequest{UserID: userID, Password: password}, &out); err != nil {
		return domain.Session{}, err
	}
	return domain.Session{UserID: out.UserID, Token: out.Token}, nil
}
