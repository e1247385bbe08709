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

package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/ml-platform/ml-operator/pkg/constants"
)

// OperatorConfig carries the environment-driven settings of the operator.
// Everything has a default so the operator runs unconfigured in a dev cluster.
type OperatorConfig struct {
	// WatchNamespace limits the operator to one namespace; empty watches all.
	WatchNamespace string `envconfig:"WATCH_NAMESPACE" default:""`
	// InferenceServerImage is the container image compiled into every
	// inference deployment.
	InferenceServerImage string `envconfig:"INFERENCE_SERVER_IMAGE" default:"ml-platform/inference-server:latest"`
	// ModelRegistryURL is injected into inference pods so they can pull the
	// model artifact at startup.
	ModelRegistryURL string `envconfig:"MODEL_REGISTRY_URL" default:"http://model-registry-service:8000"`
	// MaxConcurrentReconciles bounds how many ModelDeployments are reconciled
	// in parallel.
	MaxConcurrentReconciles int `envconfig:"MAX_CONCURRENT_RECONCILES" default:"4"`
	// ProgressDeadlineSeconds is the rollout-stall threshold after which a
	// workload is reported as Failed.
	ProgressDeadlineSeconds int32 `envconfig:"PROGRESS_DEADLINE_SECONDS" default:"600"`
	// FailedRequeueInterval is how often a permanently failed ModelDeployment
	// is re-checked, instead of tight requeueing.
	FailedRequeueInterval time.Duration `envconfig:"FAILED_REQUEUE_INTERVAL" default:"5m"`
}

// GetOperatorConfig reads the operator configuration from the environment.
func GetOperatorConfig() (*OperatorConfig, error) {
	cfg := &OperatorConfig{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, errors.Wrap(err, "fails to process operator config")
	}
	if cfg.MaxConcurrentReconciles < 1 {
		cfg.MaxConcurrentReconciles = 1
	}
	if cfg.ProgressDeadlineSeconds < 1 {
		cfg.ProgressDeadlineSeconds = constants.DefaultProgressDeadlineSeconds
	}
	return cfg, nil
}
