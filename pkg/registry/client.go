/*
Copyright 2025 The ML Platform Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package registry is the HTTP client for the model registry service. The
// registry stores model artifacts per (name, version) and serves them as
// octet streams; the puller uses this client to fetch the artifact an
// inference pod should serve.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultTimeout = 30 * time.Second

// ModelVersion is one registry entry of a model.
type ModelVersion struct {
	ID        int       `json:"id"`
	ModelName string    `json:"model_name"`
	Version   int       `json:"version"`
	Filename  string    `json:"filename"`
	FilePath  string    `json:"file_path"`
	Metadata  string    `json:"metadata"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}

// Model is a registered model without its versions.
type Model struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Client talks to the model registry API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a registry client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Downloads stream arbitrarily large artifacts, so the timeout only
		// bounds the connection and header exchange, not the body read.
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: defaultTimeout,
			},
		},
	}
}

// Health checks that the registry answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, c.baseURL+"/health")
	if err != nil {
		return errors.Wrap(err, "fails to reach the model registry")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("model registry unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// ListModels returns every model registered in the registry.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := c.get(ctx, c.baseURL+"/models")
	if err != nil {
		return nil, errors.Wrap(err, "fails to list models")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fails to list models: status %d", resp.StatusCode)
	}
	var models []Model
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, errors.Wrap(err, "fails to decode model list")
	}
	return models, nil
}

// ListVersions returns the versions of a model, most recent first.
func (c *Client) ListVersions(ctx context.Context, modelName string) ([]ModelVersion, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/models/%s/versions", c.baseURL, modelName))
	if err != nil {
		return nil, errors.Wrapf(err, "fails to list versions of model %s", modelName)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.Errorf("model %s not found in registry", modelName)
	default:
		return nil, errors.Errorf("fails to list versions of model %s: status %d", modelName, resp.StatusCode)
	}
	var versions []ModelVersion
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, errors.Wrapf(err, "fails to decode versions of model %s", modelName)
	}
	return versions, nil
}

// DownloadModel streams the artifact of one model version. The caller owns
// the returned body and must close it.
func (c *Client) DownloadModel(ctx context.Context, modelName string, version int) (io.ReadCloser, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/models/%s/versions/%d", c.baseURL, modelName, version))
	if err != nil {
		return nil, errors.Wrapf(err, "fails to download model %s v%d", modelName, version)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, errors.Errorf("model %s v%d not found in registry", modelName, version)
	default:
		resp.Body.Close()
		return nil, errors.Errorf("fails to download model %s v%d: status %d", modelName, version, resp.StatusCode)
	}
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}
