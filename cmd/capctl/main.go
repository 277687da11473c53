// Command capctl talks to a running nsecbox bridge the way a browser page
// would: it asks for the public key, signatures, relays and encryption.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Hubmakerlabs/nsecbox/pkg/bridge"
	"github.com/Hubmakerlabs/nsecbox/pkg/gateway"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/nbd-wtf/go-nostr"
	"github.com/urfave/cli/v2"
)

var app = &cli.App{
	Name:  "capctl",
	Usage: "call the nsecbox capability bridge",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Aliases: []string{"u"},
			Usage:   "bridge websocket address",
			Value:   "ws://127.0.0.1:7447/bridge",
			EnvVars: []string{"NSECBOX_BRIDGE"},
		},
		&cli.StringFlag{
			Name:  "origin",
			Usage: "Origin header to present",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "give up on a call after this long",
			Value: 10 * time.Second,
		},
		&cli.BoolFlag{
			Name:    "silent",
			Aliases: []string{"s"},
			Usage:   "do not print logs to stderr",
			Action: func(ctx *cli.Context, b bool) error {
				if b {
					slog.SetLogLevel(slog.Off)
				}
				return nil
			},
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "pubkey",
			Usage:  "print the public key of the active identity",
			Action: func(c *cli.Context) error { return call(c, bridge.GetPublicKey{}) },
		},
		{
			Name:      "sign",
			Usage:     "sign an event template given as JSON",
			ArgsUsage: `'{"kind":1,"content":"hello"}'`,
			Action: func(c *cli.Context) error {
				var ev nostr.Event
				if err := json.Unmarshal([]byte(c.Args().First()), &ev); err != nil {
					return fmt.Errorf("event template: %w", err)
				}
				return call(c, bridge.SignEvent{Event: &ev})
			},
		},
		{
			Name:   "relays",
			Usage:  "print the relay list the bridge hands out",
			Action: func(c *cli.Context) error { return call(c, bridge.GetRelays{}) },
		},
		{
			Name:      "encrypt",
			Usage:     "encrypt text for a public key",
			ArgsUsage: "<pubkey> <plaintext>",
			Flags:     []cli.Flag{schemeFlag},
			Action: func(c *cli.Context) error {
				s, err := gateway.ParseScheme(c.String("scheme"))
				if err != nil {
					return err
				}
				return call(c, bridge.Encrypt{Scheme: s, PubKey: c.Args().Get(0), Plaintext: c.Args().Get(1)})
			},
		},
		{
			Name:      "decrypt",
			Usage:     "decrypt a ciphertext from a public key",
			ArgsUsage: "<pubkey> <ciphertext>",
			Flags:     []cli.Flag{schemeFlag},
			Action: func(c *cli.Context) error {
				s, err := gateway.ParseScheme(c.String("scheme"))
				if err != nil {
					return err
				}
				return call(c, bridge.Decrypt{Scheme: s, PubKey: c.Args().Get(0), Ciphertext: c.Args().Get(1)})
			},
		},
	},
}

var schemeFlag = &cli.StringFlag{
	Name:  "scheme",
	Usage: "nip04 or nip44",
	Value: "nip04",
}

func call(c *cli.Context, req bridge.Request) (err error) {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	var header http.Header
	if o := c.String("origin"); o != "" {
		header = http.Header{"Origin": []string{o}}
	}
	var cl *bridge.Client
	if cl, err = bridge.Dial(ctx, c.String("url"), header); err != nil {
		return
	}
	defer cl.Close()
	var r bridge.Response
	if r, err = cl.Call(ctx, req); err != nil {
		return
	}
	if err = r.Err(); err != nil {
		return
	}
	if s, e := r.Text(); e == nil {
		fmt.Println(s)
		return
	}
	fmt.Println(string(r.Result))
	return
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
