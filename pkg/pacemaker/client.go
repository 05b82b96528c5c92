package pacemaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/exec"
)

const (
	PCS = "/usr/sbin/pcs"

	pcsStatusXMLCommand     = PCS + " status xml"
	pcsStonithConfigCommand = PCS + " stonith config --output-format json"

	defaultExecTimeout = 10 * time.Second
)

// StatusClient queries the cluster resource manager through pcs.
type StatusClient struct {
	Runner      exec.Runner
	ExecTimeout time.Duration
}

// NewStatusClient returns a StatusClient using the given runner.
func NewStatusClient(runner exec.Runner) *StatusClient {
	return &StatusClient{Runner: runner, ExecTimeout: defaultExecTimeout}
}

// Query executes "pcs status xml" and parses the result.
func (c *StatusClient) Query(ctx context.Context) (*Status, error) {
	ctxExec, cancel := context.WithTimeout(ctx, c.execTimeout())
	defer cancel()

	stdout, stderr, err := c.Runner.Execute(ctxExec, pcsStatusXMLCommand)
	if err != nil {
		return nil, fmt.Errorf("failed to execute pcs status xml command: %w", err)
	}
	if stderr != "" {
		klog.V(4).Infof("pcs status xml command produced stderr: %s", stderr)
	}
	return ParseStatus(stdout)
}

// StonithConfig queries the configuration of all stonith devices.
// Stdout is never logged, it contains the device credentials.
func (c *StatusClient) StonithConfig(ctx context.Context) (StonithConfig, error) {
	ctxExec, cancel := context.WithTimeout(ctx, c.execTimeout())
	defer cancel()

	stdout, stderr, err := c.Runner.Execute(ctxExec, pcsStonithConfigCommand)
	if err != nil {
		klog.ErrorS(err, "Failed to get stonith config", "stderr", stderr)
		return StonithConfig{}, fmt.Errorf("failed to get stonith config: %w", err)
	}
	cfg, err := ParseStonithConfig(stdout)
	if err != nil {
		return StonithConfig{}, fmt.Errorf("failed to unmarshal stonith config: %w", err)
	}
	return cfg, nil
}

func (c *StatusClient) execTimeout() time.Duration {
	if c.ExecTimeout <= 0 {
		return defaultExecTimeout
	}
	return c.ExecTimeout
}

// ParseStonithConfig parses "pcs stonith config --output-format json".
func ParseStonithConfig(in string) (StonithConfig, error) {
	var cfg StonithConfig
	err := json.Unmarshal([]byte(in), &cfg)
	return cfg, err
}
