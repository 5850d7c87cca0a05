package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	utilexec "k8s.io/utils/exec"

	"microk8s-operator/pkg/command"
	"microk8s-operator/pkg/logging"
	"microk8s-operator/pkg/microk8s"
	"microk8s-operator/pkg/server"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Report node health over gRPC and Prometheus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			log, closer, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			run := command.NewRunner(utilexec.New(), cfg.Node.CommandTimeout, log)
			node := microk8s.New(run, afero.NewOsFs(), cfg.Node, log)

			hostname := cfg.Serve.Hostname
			if hostname == "" {
				if hostname, err = node.Hostname(ctx); err != nil {
					return err
				}
			}

			srv := server.NewServer(cfg, node, hostname, log)
			return srv.Start(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Override the gRPC listen port")
	return cmd
}
