package orchestration

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/exec"
	"github.com/openshift/cluster-ha-controller/pkg/pacemaker"
)

// StonithConfigProvider is satisfied by *pacemaker.StatusClient.
type StonithConfigProvider interface {
	StonithConfig(ctx context.Context) (pacemaker.StonithConfig, error)
}

// FenceAgentPower powers nodes off by running the fence agent of their
// stonith device on this host.
type FenceAgentPower struct {
	Runner exec.Runner
	Config StonithConfigProvider
}

var _ PowerController = &FenceAgentPower{}

func (p *FenceAgentPower) PowerOff(ctx context.Context, node string) error {
	cfg, err := p.Config.StonithConfig(ctx)
	if err != nil {
		return err
	}
	device, ok := cfg.DeviceFor(node)
	if !ok {
		return fmt.Errorf("no stonith device configured for node %s", node)
	}
	command, err := pacemaker.FenceAgentCommand(device, "off")
	if err != nil {
		return err
	}
	klog.Infof("powering off node %s with stonith device %s (%s)", node, device.Id, device.AgentName.Type)
	if _, _, err := p.Runner.Execute(ctx, command); err != nil {
		return err
	}
	return nil
}
