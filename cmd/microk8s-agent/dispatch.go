package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	utilexec "k8s.io/utils/exec"

	"microk8s-operator/pkg/agent"
	"microk8s-operator/pkg/command"
	"microk8s-operator/pkg/juju"
	"microk8s-operator/pkg/logging"
	"microk8s-operator/pkg/microk8s"
	"microk8s-operator/storage"
)

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Handle the event described by the hook environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closer, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer closer.Close()

			env := juju.EnvFromOS()
			ev, err := env.Event()
			if errors.Is(err, juju.ErrUnhandledHook) {
				logger.WithField("hook", env.Hook()).Debug("Ignoring hook")
				return nil
			}
			if err != nil {
				return err
			}
			log := logger.WithFields(logrus.Fields{
				"unit": env.UnitName,
				"run":  uuid.NewString(),
			})

			store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			run := command.NewRunner(utilexec.New(), cfg.Node.CommandTimeout, log)
			a := agent.New(
				microk8s.New(run, afero.NewOsFs(), cfg.Node, log),
				juju.NewClient(run, env, log),
				storage.NewStateStore(store),
				log,
			)

			ctx, cancel := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			log.WithField("hook", env.Hook()).Debug("Dispatching")
			return a.Handle(ctx, ev)
		},
	}
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
