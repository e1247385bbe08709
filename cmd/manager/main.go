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

package main

import (
	"flag"
	"os"

	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	"sigs.k8s.io/controller-runtime/pkg/webhook"

	mlv1 "github.com/ml-platform/ml-operator/pkg/apis/ml/v1"
	"github.com/ml-platform/ml-operator/pkg/config"
	"github.com/ml-platform/ml-operator/pkg/constants"
	"github.com/ml-platform/ml-operator/pkg/controller/modeldeployment"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

// Options defines the manager command line flags
type Options struct {
	metricsAddr          string
	webhookPort          int
	enableLeaderElection bool
	enableWebhook        bool
	probeAddr            string
	zapOpts              zap.Options
}

// DefaultOptions returns the default values for the manager options
func DefaultOptions() Options {
	opts := Options{
		metricsAddr:          ":8080",
		webhookPort:          9443,
		enableLeaderElection: false,
		enableWebhook:        false,
		probeAddr:            ":8081",
	}
	opts.zapOpts = zap.Options{
		TimeEncoder: zapcore.ISO8601TimeEncoder,
	}
	return opts
}

// GetOptions parses the program flags and returns them as Options
func GetOptions() Options {
	opts := DefaultOptions()
	flag.StringVar(&opts.metricsAddr, "metrics-addr", opts.metricsAddr, "The address the metric endpoint binds to.")
	flag.IntVar(&opts.webhookPort, "webhook-port", opts.webhookPort, "The port that the webhook server binds to.")
	flag.BoolVar(&opts.enableLeaderElection, "leader-elect", opts.enableLeaderElection,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	flag.BoolVar(&opts.enableWebhook, "enable-webhook", opts.enableWebhook,
		"Enable the admission webhooks for defaulting and validation.")
	flag.StringVar(&opts.probeAddr, "health-probe-addr", opts.probeAddr, "The address the probe endpoint binds to.")
	opts.zapOpts.BindFlags(flag.CommandLine)
	flag.Parse()
	return opts
}

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(mlv1.AddToScheme(scheme))
}

func main() {
	options := GetOptions()
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&options.zapOpts)))

	operatorConfig, err := config.GetOperatorConfig()
	if err != nil {
		setupLog.Error(err, "unable to load the operator configuration")
		os.Exit(1)
	}

	mgrOpts := ctrl.Options{
		Scheme:  scheme,
		Metrics: metricsserver.Options{BindAddress: options.metricsAddr},
		WebhookServer: webhook.NewServer(webhook.Options{
			Port: options.webhookPort,
		}),
		HealthProbeBindAddress: options.probeAddr,
		LeaderElection:         options.enableLeaderElection,
		// The Lease lock key; replicas that lose the election idle until the
		// holder goes away.
		LeaderElectionID: constants.MLOperatorName + "-leader-lock",
	}
	if operatorConfig.WatchNamespace != "" {
		setupLog.Info("Watching a single namespace", "namespace", operatorConfig.WatchNamespace)
		mgrOpts.Cache = cache.Options{
			DefaultNamespaces: map[string]cache.Config{
				operatorConfig.WatchNamespace: {},
			},
		}
	}

	setupLog.Info("Setting up manager")
	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), mgrOpts)
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	setupLog.Info("Setting up ModelDeployment controller")
	if err = (&modeldeployment.ModelDeploymentReconciler{
		Client:   mgr.GetClient(),
		Log:      logf.Log.WithName("ModelDeploymentController"),
		Scheme:   mgr.GetScheme(),
		Recorder: mgr.GetEventRecorderFor(constants.MLOperatorName),
		Config:   operatorConfig,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "ModelDeployment")
		os.Exit(1)
	}

	if options.enableWebhook {
		setupLog.Info("Setting up ModelDeployment webhooks")
		if err = ctrl.NewWebhookManagedBy(mgr).
			For(&mlv1.ModelDeployment{}).
			WithDefaulter(&mlv1.ModelDeploymentDefaulter{}).
			WithValidator(&mlv1.ModelDeploymentValidator{}).
			Complete(); err != nil {
			setupLog.Error(err, "unable to create webhooks", "webhooks", "ModelDeployment")
			os.Exit(1)
		}
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("Starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
