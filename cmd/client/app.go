package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/andy6609/relay-chat/internal/client"
	"github.com/andy6609/relay-chat/internal/config"
	"github.com/andy6609/relay-chat/internal/protocol"
)

// errArgumentType is reported for a port that is not a number.
var errArgumentType = errors.New("ERR - Incorrect argument type.")

func newApp(in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:            "relay-client",
		Usage:           "chat through a relay-server",
		ArgsUsage:       "ADDRESS PORT NICKNAME CLIENTID",
		HideHelpCommand: true,
		Writer:          out,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "dial-timeout",
				Usage: "give up connecting after this long",
				Value: 10 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := parseArgs(c.Args().Slice())
			if err != nil {
				return err
			}
			cfg.DialTimeout = c.Duration("dial-timeout")

			fmt.Fprintf(out, "ChatClient started with server IP: %s, port: %d, nickname: %s, client ID: %s, Date/Time: %s\n",
				cfg.Address, cfg.Port, cfg.Nickname, cfg.ClientID, protocol.Timestamp(time.Now()))
			return client.New(cfg, in, out).Run(c.Context)
		},
	}
}

// parseArgs checks the four positional arguments in order.
func parseArgs(args []string) (client.Config, error) {
	for i := 0; i < 4; i++ {
		if i >= len(args) || strings.TrimSpace(args[i]) == "" {
			return client.Config{}, &config.InvalidArgumentError{Position: i + 1}
		}
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return client.Config{}, errArgumentType
	}
	return client.Config{
		Address:  args[0],
		Port:     port,
		Nickname: args[2],
		ClientID: args[3],
	}, nil
}
