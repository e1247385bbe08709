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

package constants

import "fmt"

// ML operator constants
const (
	MLOperatorName    = "ml-operator"
	MLOperatorAPIName = "modeldeployments"
)

// Inference server container constants
const (
	InferenceServerContainerName = "inference-server"
	InferenceServerComponent     = "inference-server"
	DefaultInferenceServerImage  = "ml-platform/inference-server:latest"
	InferenceServerPort          = 8001
	InferenceServerPortName      = "http"
	InferenceServerHealthPath    = "/health"
)

// Environment variables injected into the inference server container
const (
	ModelNameEnvVarKey        = "MODEL_NAME"
	ModelVersionEnvVarKey     = "MODEL_VERSION"
	ModelRegistryURLEnvVarKey = "MODEL_REGISTRY_URL"
	InferencePortEnvVarKey    = "INFERENCE_PORT"
	EnvironmentEnvVarKey      = "ENVIRONMENT"
)

// DefaultModelRegistryURL is the in-cluster address of the model registry
const DefaultModelRegistryURL = "http://model-registry-service:8000"

// Labels attached to every child resource for selector based discovery
const (
	AppLabel          = "app"
	ComponentLabel    = "component"
	ModelNameLabel    = "model-name"
	ModelVersionLabel = "model-version"
	EnvironmentLabel  = "environment"
	ManagedByLabel    = "managed-by"
)

// ModelDeployment spec bounds enforced at the validation boundary
const (
	MinScaleReplicas            = 1
	MaxScaleReplicas            = 10
	MinTargetUtilizationPercent = 1
	MaxTargetUtilizationPercent = 100
)

// ModelDeployment spec defaults
const (
	DefaultReplicas       int32 = 1
	DefaultMinReplicas    int32 = 1
	DefaultMaxReplicas    int32 = 5
	DefaultCPUUtilization int32 = 70
	DefaultMemoryRequest        = "256Mi"
	DefaultCPURequest           = "250m"
	DefaultMemoryLimit          = "512Mi"
	DefaultCPULimit             = "500m"
)

// DefaultProgressDeadlineSeconds bounds how long the inference deployment may
// fail to make rollout progress before the workload is considered failed.
const DefaultProgressDeadlineSeconds int32 = 600

// CheckResultType is the result of diffing a desired child resource against
// the observed one.
type CheckResultType int

const (
	CheckResultCreate  CheckResultType = 0
	CheckResultUpdate  CheckResultType = 1
	CheckResultExisted CheckResultType = 2
	CheckResultDelete  CheckResultType = 3
	CheckResultUnknown CheckResultType = 4
)

func (c CheckResultType) String() string {
	switch c {
	case CheckResultCreate:
		return "Create"
	case CheckResultUpdate:
		return "Update"
	case CheckResultExisted:
		return "Existed"
	case CheckResultDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// InferenceDeploymentName returns the deterministic name of the workload
// deployment owned by a ModelDeployment.
func InferenceDeploymentName(name string) string {
	return fmt.Sprintf("%s-inference", name)
}

// InferenceServiceName returns the deterministic name of the service owned by
// a ModelDeployment.
func InferenceServiceName(name string) string {
	return fmt.Sprintf("%s-service", name)
}

// InferenceHPAName returns the deterministic name of the autoscaler owned by
// a ModelDeployment.
func InferenceHPAName(name string) string {
	return fmt.Sprintf("%s-hpa", name)
}
