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

package puller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ml-platform/ml-operator/pkg/registry"
)

func newTestRegistry(t *testing.T, downloads *atomic.Int32) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/models/sentiment-analyzer/versions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"model_name":"sentiment-analyzer","version":3,"filename":"model.pkl","file_path":"sentiment-analyzer/v3/model.pkl","metadata":"{}","file_size":11,"created_at":"2025-05-01T10:00:00Z"}]`))
	})
	mux.HandleFunc("/models/sentiment-analyzer/versions/3", func(w http.ResponseWriter, r *http.Request) {
		if downloads != nil {
			downloads.Add(1)
		}
		_, _ = w.Write([]byte("model-bytes"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestPuller(t *testing.T, serverURL string) *Puller {
	return &Puller{
		Client:   registry.NewClient(serverURL),
		ModelDir: t.TempDir(),
		Log:      logf.Log.WithName("puller-test"),
	}
}

func TestPullDownloadsArtifact(t *testing.T) {
	server := newTestRegistry(t, nil)
	p := newTestPuller(t, server.URL)

	require.NoError(t, p.Pull(context.Background(), "sentiment-analyzer", 3))

	artifact := filepath.Join(p.ModelDir, "sentiment-analyzer", "v3", "model.pkl")
	content, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, "model-bytes", string(content))

	_, err = os.Stat(filepath.Join(p.ModelDir, "sentiment-analyzer", "SUCCESS.3"))
	assert.NoError(t, err)
}

func TestPullSkipsWhenMarkerPresent(t *testing.T) {
	var downloads atomic.Int32
	server := newTestRegistry(t, &downloads)
	p := newTestPuller(t, server.URL)

	require.NoError(t, p.Pull(context.Background(), "sentiment-analyzer", 3))
	require.NoError(t, p.Pull(context.Background(), "sentiment-analyzer", 3))
	assert.Equal(t, int32(1), downloads.Load())
}

func TestPullUnknownVersion(t *testing.T) {
	server := newTestRegistry(t, nil)
	p := newTestPuller(t, server.URL)

	err := p.Pull(context.Background(), "sentiment-analyzer", 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestPullGivesUpWhenRegistryNeverHealthy(t *testing.T) {
	server := newTestRegistry(t, nil)
	server.Close()
	p := newTestPuller(t, server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Pull(ctx, "sentiment-analyzer", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for the model registry")
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	server := newTestRegistry(t, nil)
	p := newTestPuller(t, server.URL)

	require.NoError(t, p.Pull(context.Background(), "sentiment-analyzer", 3))

	entries, err := os.ReadDir(filepath.Join(p.ModelDir, "sentiment-analyzer", "v3"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model.pkl", entries[0].Name())
}
