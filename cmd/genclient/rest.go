package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRESTCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rest",
		Short: "Use the service's HTTP endpoints",
	}
	cmd.AddCommand(
		newGenerateCmd(opts),
		newResultsCmd(opts),
		newZipCmd(opts),
		newTerminateCmd(opts),
	)
	return cmd
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var req requestFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Start a request over HTTP and print its identifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.newHTTPClient().Generate(cmd.Context(), req.build(opts.cfg.Request))
			if err != nil {
				return err
			}
			log.Info().Str("uuid", id).Msg("request started")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
	req.register(cmd)
	return cmd
}

func newResultsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "results <uuid>",
		Short: "Print the patients queued since the last call, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := opts.newHTTPClient().Results(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				line, err := json.Marshal(r)
				if err != nil {
					return errors.Wrap(err, "encode result")
				}
				if _, err := fmt.Fprintln(out, string(line)); err != nil {
					return err
				}
			}
			log.Info().Int("results", len(results)).Msg("results fetched")
			return nil
		},
	}
}

func newZipCmd(opts *rootOptions) *cobra.Command {
	var (
		output   string
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "zip <uuid>",
		Short: "Download the archive of a finished request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrap(err, "create output")
				}
				defer f.Close()
				out = f
			}

			c := opts.newHTTPClient()
			var err error
			if wait {
				err = c.WaitZip(cmd.Context(), args[0], out, interval)
			} else {
				err = c.Zip(cmd.Context(), args[0], out)
			}
			if err != nil {
				return err
			}
			log.Info().Str("uuid", args[0]).Str("output", output).Msg("archive written")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "file to write the archive to")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the request finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --wait")
	return cmd
}

func newTerminateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "terminate <uuid>",
		Short: "Stop a request and forget it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.newHTTPClient().Terminate(cmd.Context(), args[0]); err != nil {
				return err
			}
			log.Info().Str("uuid", args[0]).Msg("request terminated")
			return nil
		},
	}
}
