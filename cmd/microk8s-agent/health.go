package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	client "microk8s-operator/clients/go"
	"microk8s-operator/pkg/server"
)

func healthCmd() *cobra.Command {
	var (
		serverAddr string
		service    string
		timeout    int
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running serve daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverAddr == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				serverAddr = cfg.Server.Address()
			}

			ctx, cancel := context.WithTimeout(contextOf(cmd), time.Duration(timeout)*time.Second)
			defer cancel()

			c, err := client.New(ctx, serverAddr, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.Check(ctx, service)
			if err != nil {
				return err
			}
			out, err := protojson.MarshalOptions{Multiline: true, EmitUnpopulated: true}.Marshal(resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if resp.Status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", serverAddr, resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverAddr, "server", "", "Daemon address (defaults to server.host:server.port)")
	cmd.Flags().StringVar(&service, "service", server.ServiceName, "Health service to query")
	cmd.Flags().IntVar(&timeout, "timeout", 10, "Request timeout in seconds")
	return cmd
}
