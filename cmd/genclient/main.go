// Command genclient drives the synthetic patient generation service from a
// terminal: an interactive console, a headless runner, REST helpers and a
// local mock of the service.
package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/synthea-ws/genclient/internal/client"
	"github.com/synthea-ws/genclient/internal/config"
	"github.com/synthea-ws/genclient/internal/session"
	"github.com/synthea-ws/genclient/internal/transport"
)

type rootOptions struct {
	configPath string
	logLevel   string
	endpoint   string
	transport  string
	token      string

	cfg *config.Config
	// logFile is closed when the command finishes.
	logFile io.Closer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "genclient",
		Short:        "Client for the synthetic patient generation service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logFile != nil {
				return opts.logFile.Close()
			}
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	f.StringVar(&opts.endpoint, "endpoint", "", "service endpoint, e.g. ws://127.0.0.1:8080/ws")
	f.StringVar(&opts.transport, "transport", "", "transport: websocket or stomp")
	f.StringVar(&opts.token, "token", "", "bearer token sent to the service")

	root.AddCommand(
		newTUICmd(opts),
		newRunCmd(opts),
		newRESTCmd(opts),
		newMockCmd(opts),
	)
	return root
}

// load reads the config, applies flag overrides and sets up logging.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return err
	}
	if o.endpoint != "" {
		cfg.Client.Endpoint = o.endpoint
	}
	if o.transport != "" {
		cfg.Client.Transport = o.transport
	}
	if o.token != "" {
		cfg.Client.Token = o.token
		cfg.Mock.Token = o.token
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	o.cfg = cfg

	out, closer, err := logOutput(cmd.Name(), cfg.Log)
	if err != nil {
		return err
	}
	o.logFile = closer
	return setupLogging(cfg.Log.Level, out)
}

// logOutput picks where logs go. The console owns the terminal, so it logs
// to the configured file or nowhere.
func logOutput(command string, cfg config.LogConfig) (io.Writer, io.Closer, error) {
	if command != "tui" {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}, nil, nil
	}
	if cfg.File == "" {
		return io.Discard, nil, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open log file")
	}
	return f, f, nil
}

func setupLogging(level string, out io.Writer) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.Wrapf(err, "log level %q", level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// newSession builds a session over the configured transport.
func (o *rootOptions) newSession() (*session.Session, error) {
	c := o.cfg.Client
	tlog := log.Logger.With().Str("component", "transport").Logger()
	dialer, err := transport.New(transport.Kind(c.Transport), transport.Options{
		Token:            c.Token,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		PongTimeout:      c.PongTimeout,
		PingInterval:     c.PingInterval,
		HeartBeat:        c.HeartBeat,
		Logger:           &tlog,
	})
	if err != nil {
		return nil, err
	}
	return session.New(dialer, log.Logger.With().Str("component", "session").Logger()), nil
}

func (o *rootOptions) newHTTPClient() *client.HTTPClient {
	c := o.cfg.Client
	base := c.RESTBase
	if base == "" {
		base = client.DeriveHTTPBase(c.Endpoint)
	}
	return client.NewHTTPClient(base, c.Token, c.RESTTimeout)
}
