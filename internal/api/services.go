package api

import (
	"context"
	"fmt"
	"net/url"
)

// GetStatus returns the status of a backend service.
func (c *Client) GetStatus(ctx context.Context, service string) (*ServiceStatus, error) {
	path, err := servicePath(service, "status")
	if err != nil {
		return nil, err
	}

	var resp ServiceStatus
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("get %s status: %w", service, err)
	}
	return &resp, nil
}

// Start asks the backend to start a service.
func (c *Client) Start(ctx context.Context, service string) (*ActionResponse, error) {
	return c.action(ctx, service, "start")
}

// Stop asks the backend to stop a service.
func (c *Client) Stop(ctx context.Context, service string) (*ActionResponse, error) {
	return c.action(ctx, service, "stop")
}

// GetPlayback returns the current Spotify playback state.
func (c *Client) GetPlayback(ctx context.Context) (*Playback, error) {
	var resp Playback
	if err := c.get(ctx, "/api/spotify/playback", &resp); err != nil {
		return nil, fmt.Errorf("get playback: %w", err)
	}
	return &resp, nil
}

func (c *Client) action(ctx context.Context, service, verb string) (*ActionResponse, error) {
	path, err := servicePath(service, verb)
	if err != nil {
		return nil, err
	}

	var resp ActionResponse
	if err := c.post(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("%s %s: %w", verb, service, err)
	}

	c.logger.Info("service action",
		"service", service,
		"action", verb,
		"status", resp.Status,
	)
	return &resp, nil
}

func servicePath(service, verb string) (string, error) {
	if service == "" {
		return "", ErrEmptyService
	}
	return "/api/" + url.PathEscape(service) + "/" + verb, nil
}
