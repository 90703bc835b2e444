package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/synthea-ws/genclient/internal/app"
)

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive console for one generation request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.newSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			m := app.New(sess, app.Options{
				Endpoint:  opts.cfg.Client.Endpoint,
				Transport: opts.cfg.Client.Transport,
				Request:   opts.cfg.Request,
			})
			if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
				return errors.Wrap(err, "console")
			}
			return nil
		},
	}
}
