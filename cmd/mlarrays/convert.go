package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mvanberg/mlarrays/convert"
	"github.com/mvanberg/mlarrays/fetch"
	"github.com/mvanberg/mlarrays/ipc"
	"github.com/mvanberg/mlarrays/types"
)

var (
	convertOut   string
	convertShape string
	convertJobs  int
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert [uris...]",
	Short: "Decode images into a fixed shape tensor file",
	Long: `Decode images into a fixed shape tensor file:
  mlarrays convert img1.png img2.jpg --out tensors.arrow
  mlarrays convert https://example.com/cat.png --out tensors.arrow --shape 224x224x3
  `,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if convertOut == "" {
			return errors.New("--out is required")
		}
		return runConvert(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "", "output Arrow IPC file")
	convertCmd.Flags().StringVarP(&convertShape, "shape", "s", "", "target shape as HxWxC, inferred when empty")
	convertCmd.Flags().IntVarP(&convertJobs, "jobs", "j", runtime.NumCPU(), "parallel fetch and decode jobs")
}

func runConvert(ctx context.Context, uris []string) error {
	mem := memory.NewGoAllocator()

	images, err := fetchAll(ctx, uris)
	if err != nil {
		return err
	}

	imgArr := types.EncodedImageFromBytes(mem, images)
	defer imgArr.Release()

	opts := []convert.Option{
		convert.WithAllocator(mem),
		convert.WithParallelism(convertJobs),
		convert.WithLogger(log),
	}
	if convertShape != "" {
		shape, err := parseShape(convertShape)
		if err != nil {
			return err
		}
		opts = append(opts, convert.WithShape(shape))
	}

	tensors, err := convert.DecodeImages(ctx, imgArr, opts...)
	if err != nil {
		return fmt.Errorf("failed to decode images: %w", err)
	}
	defer tensors.Release()

	uriArr := types.ImageURIFromStrings(mem, uris)
	defer uriArr.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "uri", Type: uriArr.DataType()},
		{Name: "tensor", Type: tensors.DataType()},
	}, nil)
	record := array.NewRecord(schema, []arrow.Array{uriArr, tensors}, int64(len(uris)))
	defer record.Release()

	if err := ipc.NewCodec().WriteFile(convertOut, []arrow.Record{record}); err != nil {
		return fmt.Errorf("failed to write %s: %w", convertOut, err)
	}

	log.Info().Int("images", len(uris)).Str("shape", tensors.Shape().String()).
		Str("out", convertOut).Msg("conversion complete")
	return nil
}

// fetchAll reads every URI concurrently, preserving input order.
func fetchAll(ctx context.Context, uris []string) ([][]byte, error) {
	fetcher := fetch.New(fetch.Options{Logger: log})
	images := make([][]byte, len(uris))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(convertJobs)
	for i, uri := range uris {
		g.Go(func() error {
			data, err := fetcher.Fetch(ctx, uri)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", uri, err)
			}
			images[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}
