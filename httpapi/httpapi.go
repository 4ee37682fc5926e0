// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package httpapi is the relay's HTTP side channel: the reachability
// probe issued after an unexpected disconnect, and attachment blob
// fetches. Both use HTTP Basic auth with the receiver's own credentials.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the relay's HTTP API.
type Client struct {
	baseURL    string
	number     string
	password   string
	httpClient *http.Client
}

// New constructs a Client. baseURL is the relay's HTTP base, e.g.
// "https://relay.example.org"; number/password are the HTTP Basic
// credentials.
func New(baseURL, number, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		number:   number,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient overrides the default HTTP client, e.g. in tests
// pointed at an httptest.Server.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.number, c.password)
	return c.httpClient.Do(req)
}

// ProbeReachability issues GET /v1/devices/<number> and reports whether
// the relay considers the account reachable.
func (c *Client) ProbeReachability(ctx context.Context, number string) error {
	resp, err := c.do(ctx, "/v1/devices/"+number)
	if err != nil {
		return fmt.Errorf("probe reachability: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe reachability: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// FetchAttachment retrieves the raw (still-encrypted) bytes of the
// attachment identified by id.
func (c *Client) FetchAttachment(ctx context.Context, id uint64) ([]byte, error) {
	resp, err := c.do(ctx, fmt.Sprintf("/attachments/%d", id))
	if err != nil {
		return nil, fmt.Errorf("fetch attachment %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch attachment %d: unexpected status %d", id, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment %d: read body: %w", id, err)
	}
	return data, nil
}
