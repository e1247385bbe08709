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

// The puller pulls one model artifact from the model registry and exits. It
// reads the same environment the operator injects into inference pods.
package main

import (
	"context"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/ml-platform/ml-operator/pkg/puller"
	"github.com/ml-platform/ml-operator/pkg/registry"
)

type pullerEnv struct {
	ModelName        string        `envconfig:"MODEL_NAME" required:"true"`
	ModelVersion     int           `envconfig:"MODEL_VERSION" required:"true"`
	ModelRegistryURL string        `envconfig:"MODEL_REGISTRY_URL" default:"http://model-registry-service:8000"`
	ModelDir         string        `envconfig:"MODEL_DIR" default:"/mnt/models"`
	PullTimeout      time.Duration `envconfig:"PULL_TIMEOUT" default:"10m"`
}

func main() {
	logger := zap.New()
	ctrl.SetLogger(logger)
	log := logger.WithName("puller")

	var env pullerEnv
	if err := envconfig.Process("", &env); err != nil {
		log.Error(err, "invalid puller environment")
		os.Exit(1)
	}

	// Bound the whole pull so a wedged registry fails the init container
	// instead of hanging the pod forever.
	ctx, cancel := context.WithTimeout(ctrl.SetupSignalHandler(), env.PullTimeout)
	defer cancel()

	p := &puller.Puller{
		Client:   registry.NewClient(env.ModelRegistryURL),
		ModelDir: env.ModelDir,
		Log:      log,
	}
	if err := p.Pull(ctx, env.ModelName, env.ModelVersion); err != nil {
		log.Error(err, "model pull failed", "model", env.ModelName, "version", env.ModelVersion)
		os.Exit(1)
	}
}
