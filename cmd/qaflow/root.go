package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	conf string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "qaflow",
		Short:         "Q&A service built on a request/reply message bridge",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.conf, "conf", "c", "", "path to the TOML config file")

	root.AddCommand(
		newGatewayCmd(flags),
		newWorkerCmd(flags),
		newStandaloneCmd(flags),
	)
	return root
}

func newGatewayCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve the HTTP API and forward requests over the command topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context(), flags.conf, "gateway")
			if err != nil {
				return err
			}
			a, err := rt.gatewayApp()
			if err != nil {
				rt.close()
				return err
			}
			return a.Run()
		},
	}
}

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume commands, apply them to the stores and publish replies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context(), flags.conf, "worker")
			if err != nil {
				return err
			}
			a, err := rt.workerApp(cmd.Context(), migrate)
			if err != nil {
				rt.close()
				return err
			}
			return a.Run()
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run SQL auto-migration and create MongoDB indexes before consuming")
	return cmd
}

func newStandaloneCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "standalone",
		Short: "Run gateway and worker in one process over an in-memory broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context(), flags.conf, "standalone")
			if err != nil {
				return err
			}
			a, err := rt.standaloneApp(cmd.Context())
			if err != nil {
				rt.close()
				return err
			}
			return a.Run()
		},
	}
}
