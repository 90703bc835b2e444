package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/synthea-ws/genclient/internal/protocol"
	"github.com/synthea-ws/genclient/internal/session"
)

type requestFlags struct {
	population int
	seed       int64
	set        map[string]string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.population, "population", "n", 0, "number of patients (overrides the config)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "generation seed (0 lets the service pick)")
	cmd.Flags().StringToStringVar(&f.set, "set", nil, "extra configuration keys, e.g. --set state=Ohio,gender=F")
}

// build layers the flags over base. Numeric --set values are sent as numbers.
func (f *requestFlags) build(base protocol.Configuration) protocol.Configuration {
	cfg := base.Clone()
	if cfg == nil {
		cfg = protocol.Configuration{}
	}
	for k, v := range f.set {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg[k] = n
			continue
		}
		cfg[k] = v
	}
	if f.population > 0 {
		cfg[protocol.KeyPopulation] = f.population
	}
	if f.seed != 0 {
		cfg[protocol.KeySeed] = f.seed
	}
	return cfg
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		req    requestFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Configure and start one request, streaming patients as NDJSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrap(err, "create output")
				}
				defer f.Close()
				out = f
			}

			sess, err := opts.newSession()
			if err != nil {
				return err
			}
			n, err := runRequest(ctx, sess, opts.cfg.Client.Endpoint, req.build(opts.cfg.Request), out)
			log.Info().Int("entities", n).Msg("run finished")
			return err
		},
	}
	req.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "-", "file to write entities to")
	return cmd
}

// runRequest connects, configures cfg, starts the request once the service
// assigns an identifier and writes every entity to out as one JSON line. It
// returns when the request completes, the connection drops or ctx ends.
func runRequest(ctx context.Context, sess *session.Session, endpoint string, cfg protocol.Configuration, out io.Writer) (int, error) {
	var (
		started atomic.Bool
		written atomic.Int64
		done    = make(chan error, 1)
	)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	sess.SetEntityHandler(func(payload json.RawMessage) {
		var line bytes.Buffer
		if err := json.Compact(&line, payload); err != nil {
			line.Reset()
			line.Write(payload)
		}
		line.WriteByte('\n')
		if _, err := out.Write(line.Bytes()); err != nil {
			finish(errors.Wrap(err, "write entity"))
			return
		}
		written.Add(1)
	})
	sess.SetMessageHandler(func(ev session.Event) {
		switch ev.Kind {
		case session.EventIdentifier:
			log.Info().Str("uuid", ev.Identifier).Msg("request configured")
			if started.CompareAndSwap(false, true) {
				if err := sess.Start(); err != nil {
					finish(err)
				}
			}
		case session.EventStatus:
			log.Info().Str("status", ev.Message).Msg("status")
			if ev.Terminal {
				finish(nil)
			}
		case session.EventError:
			log.Error().Msg(ev.Message)
			if !started.Load() {
				finish(ev.Err)
			}
		case session.EventLocalError:
			log.Warn().Err(ev.Err).Msg("local error")
		case session.EventDisconnected:
			err := errors.New(ev.Message)
			if ev.Err != nil {
				err = errors.Wrap(ev.Err, ev.Message)
			}
			finish(err)
		case session.EventConnected:
			log.Info().Str("endpoint", endpoint).Msg(ev.Message)
		}
	})

	if err := sess.Connect(ctx, endpoint); err != nil {
		return 0, err
	}
	defer sess.Close()

	if err := sess.Configure(cfg); err != nil {
		return 0, err
	}

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		if started.Load() {
			_ = sess.Stop()
		}
		err = ctx.Err()
	}
	return int(written.Load()), err
}
