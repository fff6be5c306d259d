package api

import (
	"context"
	"fmt"
	"net/http"

	"coursechat/internal/models"
)

func (c *Client) Login(ctx context.Context, req models.LoginRequest) (models.AuthResponse, error) {
	data, err := c.do(ctx, http.MethodPost, "/auth/login", nil, req)
	if err != nil {
		return models.AuthResponse{}, err
	}
	return authResponse(data)
}

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (models.AuthResponse, error) {
	data, err := c.do(ctx, http.MethodPost, "/auth/register", nil, req)
	if err != nil {
		return models.AuthResponse{}, err
	}
	return authResponse(data)
}

func authResponse(data []byte) (models.AuthResponse, error) {
	resp, err := decode[models.AuthResponse](data)
	if err != nil {
		return resp, err
	}
	if resp.Token == "" {
		return resp, fmt.Errorf("auth response has no token")
	}
	return resp, nil
}
