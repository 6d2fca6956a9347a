package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/logdrain/pkg/client"
)

func newAPIClient(f APIFlags) (*client.Client, error) {
	cfg := client.Config{BaseURL: f.URL, Token: f.Token, Timeout: f.Timeout}
	if f.CACert != "" || f.Insecure {
		cfg.TLS = &client.TLSClientConfig{CACert: f.CACert, SkipVerify: f.Insecure}
	}
	return client.New(cfg)
}

func triggerViaAPI(cmd *cobra.Command, f APIFlags) error {
	c, err := newAPIClient(f)
	if err != nil {
		return err
	}
	tick, err := c.Run(cmd.Context())
	if errors.Is(err, client.ErrBusy) {
		return errors.New("daemon is already running a pull, try again later")
	}
	if err != nil {
		return err
	}
	printJSON(cmd.OutOrStdout(), tick)
	if tick.Phase == "Failed" {
		msg := tick.Error
		if msg == "" && tick.Result != nil && tick.Result.Status.Error != nil {
			msg = tick.Result.Status.Error.Message
		}
		return fmt.Errorf("run failed: %s", msg)
	}
	return nil
}

func statusViaAPI(cmd *cobra.Command, f APIFlags) error {
	c, err := newAPIClient(f)
	if err != nil {
		return err
	}
	st, err := c.Status(cmd.Context())
	if err != nil {
		return err
	}
	printJSON(cmd.OutOrStdout(), st)
	return nil
}
