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

package v1

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// GetCondition returns the most recent condition entry of the given type, or
// nil when no entry of that type has been recorded.
func (s *ModelDeploymentStatus) GetCondition(t ConditionType) *ModelDeploymentCondition {
	for i := len(s.Conditions) - 1; i >= 0; i-- {
		if s.Conditions[i].Type == t {
			return &s.Conditions[i]
		}
	}
	return nil
}

// SetCondition appends a condition entry unless the most recent entry of the
// same type already carries the same status and reason. The condition list is
// an append-only transition log, so retried reconciliations that land on the
// same outcome never produce duplicates. Returns true if an entry was added.
func (s *ModelDeploymentStatus) SetCondition(t ConditionType, status corev1.ConditionStatus, reason, message string) bool {
	if last := s.GetCondition(t); last != nil && last.Status == status && last.Reason == reason {
		return false
	}
	s.Conditions = append(s.Conditions, ModelDeploymentCondition{
		Type:               t,
		Status:             status,
		LastTransitionTime: metav1.Now(),
		Reason:             reason,
		Message:            message,
	})
	return true
}

// IsReady reports whether the most recent Ready condition is true.
func (s *ModelDeploymentStatus) IsReady() bool {
	cond := s.GetCondition(ConditionReady)
	return cond != nil && cond.Status == corev1.ConditionTrue
}

// PropagateDeploymentStatus recomputes the replica counts, the child resource
// names and the phase from the freshly observed inference deployment. The
// phase is always derived from scratch, never incrementally mutated, so a
// missed event can never leave it diverged from the cluster.
func (s *ModelDeploymentStatus) PropagateDeploymentStatus(deployment *appsv1.Deployment, serviceName string) {
	s.DeploymentName = deployment.Name
	s.ServiceName = serviceName
	s.ReadyReplicas = deployment.Status.ReadyReplicas
	if deployment.Spec.Replicas != nil {
		s.Replicas = *deployment.Spec.Replicas
	}
	s.Phase = derivePhase(deployment)
}

// MarkFailed records a permanent failure on the status.
func (s *ModelDeploymentStatus) MarkFailed(reason, message string) {
	s.Phase = ModelDeploymentFailed
	s.SetCondition(ConditionReady, corev1.ConditionFalse, reason, message)
}

// derivePhase maps the observed deployment state onto the phase state machine:
// all desired replicas ready means Running, a rollout that exceeded its
// progress deadline or reported replica failures means Failed, zero ready
// replicas with no failure signal means Pending, and anything in between
// means Updating.
func derivePhase(deployment *appsv1.Deployment) ModelDeploymentPhase {
	var desired int32 = 1
	if deployment.Spec.Replicas != nil {
		desired = *deployment.Spec.Replicas
	}
	ready := deployment.Status.ReadyReplicas

	if deploymentFailed(deployment) {
		return ModelDeploymentFailed
	}
	if ready == desired && deployment.Status.ObservedGeneration >= deployment.Generation {
		return ModelDeploymentRunning
	}
	if ready == 0 {
		return ModelDeploymentPending
	}
	return ModelDeploymentUpdating
}

// deploymentFailed reports the workload failure signal: rollout progress
// stalled past the configured deadline, or the replica set reported a
// creation failure.
func deploymentFailed(deployment *appsv1.Deployment) bool {
	for _, cond := range deployment.Status.Conditions {
		if cond.Type == appsv1.DeploymentProgressing &&
			cond.Status == corev1.ConditionFalse &&
			cond.Reason == "ProgressDeadlineExceeded" {
			return true
		}
		if cond.Type == appsv1.DeploymentReplicaFailure && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}
