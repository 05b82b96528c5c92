package main

import (
	goflag "flag"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/grpclog"
	utilflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/logs"

	"github.com/openshift/cluster-ha-controller/pkg/cmd/cluster"
	"github.com/openshift/cluster-ha-controller/pkg/cmd/controller"
)

func main() {
	// overwrite gRPC logger, to discard all gRPC info-level logging
	// https://github.com/kubernetes/kubernetes/issues/80741
	// https://github.com/kubernetes/kubernetes/pull/84061
	grpclog.SetLoggerV2(grpclog.NewLoggerV2(io.Discard, os.Stderr, os.Stderr))

	logs.InitLogs()
	defer logs.FlushLogs()

	command := NewHAControllerCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func NewHAControllerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ha-controller",
		Short: "Storage cluster HA controller",
		Long:  "Watches storage cluster members, routes health events to subscribed components and drives pacemaker recovery",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(1)
		},
	}

	cmd.PersistentFlags().SetNormalizeFunc(utilflag.WordSepNormalizeFunc)
	cmd.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	logs.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(controller.NewControllerCommand(os.Stderr))
	cmd.AddCommand(cluster.NewClusterCommand(os.Stdout))

	return cmd
}
