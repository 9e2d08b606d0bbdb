package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"

	"github.com/mvanberg/mlarrays/ipc"
	"github.com/mvanberg/mlarrays/stream"
)

var (
	publishAddr     string
	publishFile     string
	publishDataset  string
	publishInterval time.Duration
	publishLoop     bool
)

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish an Arrow IPC file over ZeroMQ",
	Long: `Publish an Arrow IPC file over ZeroMQ:
  mlarrays publish --file tensors.arrow --dataset train --addr tcp://127.0.0.1:5600
  `,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if publishFile == "" {
			return errors.New("--file is required")
		}
		return runPublish()
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().StringVarP(&publishAddr, "addr", "a", "tcp://127.0.0.1:5600", "bind address")
	publishCmd.Flags().StringVarP(&publishFile, "file", "f", "", "Arrow IPC file to publish")
	publishCmd.Flags().StringVarP(&publishDataset, "dataset", "d", "default", "dataset topic")
	publishCmd.Flags().DurationVarP(&publishInterval, "interval", "i", time.Second, "delay between batches")
	publishCmd.Flags().BoolVarP(&publishLoop, "loop", "l", false, "republish forever until interrupted")
}

func runPublish() error {
	records, err := ipc.NewCodec().ReadFile(publishFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", publishFile, err)
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()

	pub := stream.NewPublisher(publishAddr, log)
	if err := pub.Start(); err != nil {
		return err
	}
	defer pub.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		for _, record := range records {
			select {
			case <-quit:
				return nil
			case <-time.After(publishInterval):
			}
			if err := pub.Publish(publishDataset, []arrow.Record{record}); err != nil {
				return err
			}
		}
		if !publishLoop {
			break
		}
	}

	log.Info().Uint64("batches", pub.Published()).Msg("publishing complete")
	return nil
}
