package driver

import (
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClientConfig bootstraps a Kubernetes REST config either from in-cluster
// service account credentials or from the local kubeconfig, optionally
// pinned to a specific context — ported from the Python source's
// `kube_init(args)` (`load_incluster_config()` vs.
// `load_kube_config(context=args.context)`).
func NewClientConfig(inCluster bool, kubeconfigContext string) (*rest.Config, error) {
	if inCluster {
		return rest.InClusterConfig()
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	if kubeconfigContext != "" {
		overrides.CurrentContext = kubeconfigContext
	}
	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)
	return loader.ClientConfig()
}
