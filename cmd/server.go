package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"drivelog/mq/mq"
	"drivelog/web"
)

func serverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long:  `This command starts the HTTP surface that drives the journal state machine and serves reports.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			isDev, _ := cmd.Flags().GetBool("dev")
			port, _ := cmd.Flags().GetString("port")
			mqMode, _ := cmd.Flags().GetString("mq")
			watch, _ := cmd.Flags().GetDuration("watch")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := optionsFrom(cmd)
			opts.mqMode = mq.Mode(mqMode)
			opts.verbose = isDev
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if watch > 0 {
				go a.store.Watch(ctx, watch)
			}
			return web.Serve(ctx, web.ServiceConfig{
				IsDev: isDev,
				Port:  port,
			}, a.services)
		},
	}

	cmd.Flags().Bool("dev", false, "Run in development mode")
	cmd.Flags().String("port", "8080", "Port to run the web server on")
	cmd.Flags().String("mq", string(mq.ModeGoChan), "Message queue mode (go_chan, rabbitmq, gcp_pub_sub)")
	cmd.Flags().Duration("watch", 30*time.Second, "settings file poll interval, 0 disables hot reload")

	return cmd
}
