package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a queue worker",
	Long: `Polls the durable job queue and processes deferred sends. Any number
of workers may run against the same database.`,
	Run: workerServer,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func workerServer(_ *cobra.Command, _ []string) {
	runCtx, cancelRun := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[WORKER] Termination signal received, shutting down...")
		cancelRun()
	}()

	queueRunner.Run(runCtx)
	StopApp()
}
