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

// Package puller downloads a model artifact from the registry into a local
// model directory. It runs as an init container of the inference pod, so the
// inference server starts with the artifact already on disk.
package puller

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/ml-platform/ml-operator/pkg/registry"
)

const healthPollInterval = 2 * time.Second

// Puller fetches one model version into ModelDir.
type Puller struct {
	Client   *registry.Client
	ModelDir string
	Log      logr.Logger
}

// successMarker is written next to the artifact once a download completed, so
// a restarted pod with the artifact already in place skips the pull.
func (p *Puller) successMarker(modelName string, version int) string {
	return filepath.Join(p.ModelDir, modelName, fmt.Sprintf("SUCCESS.%d", version))
}

// Pull downloads the artifact for (modelName, version) unless a previous pull
// already completed. The artifact lands in <dir>/<model>/v<version>/ and the
// write is atomic: a partial download never shadows a complete one.
func (p *Puller) Pull(ctx context.Context, modelName string, version int) error {
	marker := p.successMarker(modelName, version)
	if _, err := os.Stat(marker); err == nil {
		p.Log.Info("Model already downloaded", "model", modelName, "version", version)
		return nil
	}

	if err := p.waitForRegistry(ctx); err != nil {
		return err
	}

	versions, err := p.Client.ListVersions(ctx, modelName)
	if err != nil {
		return err
	}
	var entry *registry.ModelVersion
	for i := range versions {
		if versions[i].Version == version {
			entry = &versions[i]
			break
		}
	}
	if entry == nil {
		return errors.Errorf("model %s v%d is not registered", modelName, version)
	}

	targetDir := filepath.Join(p.ModelDir, modelName, fmt.Sprintf("v%d", version))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return errors.Wrapf(err, "fails to create model directory %s", targetDir)
	}

	p.Log.Info("Downloading model", "model", modelName, "version", version,
		"filename", entry.Filename, "bytes", entry.FileSize)
	body, err := p.Client.DownloadModel(ctx, modelName, version)
	if err != nil {
		return err
	}
	defer body.Close()

	target := filepath.Join(targetDir, entry.Filename)
	if err := writeAtomic(target, body); err != nil {
		return errors.Wrapf(err, "fails to write model artifact %s", target)
	}

	markerFile, err := os.Create(marker)
	if err != nil {
		return errors.Wrapf(err, "fails to create success marker %s", marker)
	}
	defer markerFile.Close()

	p.Log.Info("Model download complete", "model", modelName, "version", version, "path", target)
	return nil
}

// waitForRegistry blocks until the registry answers its health endpoint or the
// context is cancelled. The registry and the inference pods roll out
// independently, so the pod may come up first.
func (p *Puller) waitForRegistry(ctx context.Context) error {
	for {
		err := p.Client.Health(ctx)
		if err == nil {
			return nil
		}
		p.Log.Info("Model registry not ready, retrying", "error", err.Error())
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "gave up waiting for the model registry")
		case <-time.After(healthPollInterval):
		}
	}
}

func writeAtomic(target string, content io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}
