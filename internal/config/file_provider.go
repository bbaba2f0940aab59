package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider retrieves secrets from files (Kubernetes secret mounts)
// Follows the Kubernetes secret mount pattern where each secret is a file
// Example: /var/secrets/anthropic-api-key, /var/secrets/jwt-secret
type FileProvider struct {
	secretsPath string
}

// NewFileProvider creates a new file-based secret provider
// secretsPath is the directory where secret files are mounted (e.g., "/var/secrets")
func NewFileProvider(secretsPath string) *FileProvider {
	return &FileProvider{
		secretsPath: secretsPath,
	}
}

// GetSecret retrieves a secret from a file
// The key is converted to a filename by replacing underscores with hyphens and lowercasing
// Example: ANTHROPIC_API_KEY -> anthropic-api-key
func (f *FileProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if f.secretsPath == "" {
		return "", fmt.Errorf("secrets path not configured")
	}

	filename := strings.ToLower(strings.ReplaceAll(key, "_", "-"))
	path := filepath.Join(f.secretsPath, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Not found is not an error, just return empty string
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	// Trim whitespace/newlines that might be in the file
	return strings.TrimSpace(string(data)), nil
}

// Name returns the provider name
func (f *FileProvider) Name() string {
	return "file"
}

// IsAvailable checks if the secrets directory exists
func (f *FileProvider) IsAvailable(ctx context.Context) bool {
	if f.secretsPath == "" {
		return false
	}

	info, err := os.Stat(f.secretsPath)
	if err != nil {
		return false
	}

	return info.IsDir()
}

// K8sProvider retrieves secrets mounted into a Kubernetes pod.
// Kubernetes mounts secrets as files, so this delegates to FileProvider
// after confirming the pod environment.
type K8sProvider struct {
	fileProvider *FileProvider
	namespace    string
}

// NewK8sProvider creates a new Kubernetes secret provider
// Custom secrets are typically mounted at /var/secrets or a custom path
func NewK8sProvider(secretsPath, namespace string) *K8sProvider {
	if secretsPath == "" {
		secretsPath = "/var/secrets"
	}
	if namespace == "" {
		// Try to detect namespace from pod
		if ns, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace"); err == nil {
			namespace = string(ns)
		} else {
			namespace = "default"
		}
	}

	return &K8sProvider{
		fileProvider: NewFileProvider(secretsPath),
		namespace:    namespace,
	}
}

// GetSecret retrieves a secret from the mounted secret files
func (k *K8sProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return k.fileProvider.GetSecret(ctx, key)
}

// Name returns the provider name
func (k *K8sProvider) Name() string {
	return "kubernetes"
}

// IsAvailable checks if running in a Kubernetes environment
func (k *K8sProvider) IsAvailable(ctx context.Context) bool {
	// Check if we're running in Kubernetes by looking for service account token
	if _, err := os.Stat("/var/run/secrets/kubernetes.io/serviceaccount/token"); err == nil {
		return k.fileProvider.IsAvailable(ctx)
	}
	return false
}

// GetNamespace returns the detected pod namespace
func (k *K8sProvider) GetNamespace() string {
	return k.namespace
}
