package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/Hubmakerlabs/nsecbox/app"
	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/interrupt"
	"github.com/Hubmakerlabs/nsecbox/pkg/keys"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
)

var log, chk = slog.New(os.Stderr)

const configFile = "config.json"

// shortFlags maps the single letter aliases back to their long names.
var shortFlags = map[string]string{"r": "relay", "l": "listen", "q": "quiet", "p": "profile"}

// explicit reports whether flag was given on the command line, so saved
// configuration does not override it.
func explicit(flag string) bool {
	for _, a := range os.Args[1:] {
		if a == "--" {
			break
		}
		name := strings.TrimLeft(a, "-")
		if name == a {
			continue
		}
		name, _, _ = strings.Cut(name, "=")
		if long, ok := shortFlags[name]; ok && !strings.HasPrefix(a, "--") {
			name = long
		}
		if name == flag {
			return true
		}
	}
	return false
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()
	var cfg app.Config
	p := arg.MustParse(&cfg)
	if p.Subcommand() == nil {
		p.Fail("a command is required")
	}
	slog.SetLogLevel(slog.ParseLevel(cfg.LogLevel))
	dir, err := cfg.Dir()
	if chk.E(err) {
		os.Exit(1)
	}
	path := filepath.Join(dir, configFile)
	if cfg.InitCfgCmd != nil {
		if err = cfg.Save(path); chk.E(err) {
			os.Exit(1)
		}
		fmt.Println("configuration written to", path)
		return
	}
	var saved app.Config
	if err = saved.Load(path); err == nil {
		cfg.Merge(&saved, explicit)
	} else if !errors.Is(err, fs.ErrNotExist) {
		log.W.Ln("ignoring unreadable configuration:", err)
	}
	if err = run(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, errs.Reason(err))
		os.Exit(1)
	}
}

func run(cfg *app.Config) (err error) {
	st, err := app.OpenStore(cfg)
	if err != nil {
		return
	}
	var a *app.App
	if a, err = app.New(cfg, st, os.Stdout); err != nil {
		chk.E(st.Close())
		return
	}
	defer func() { chk.D(a.Close()) }()
	c, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupt.AddHandler(cancel)

	switch {
	case cfg.LoginCmd != nil:
		var pk, npub string
		if pk, err = a.Login(c, cfg.LoginCmd.Key); err != nil {
			return
		}
		if npub, err = keys.Npub(pk); err != nil {
			return
		}
		fmt.Println("logged in as", npub)
	case cfg.LogoutCmd != nil:
		if err = a.Logout(c); err != nil {
			return
		}
		fmt.Println("logged out")
	case cfg.SendCmd != nil:
		// history is nice to have before sending but not required
		if err = a.Start(c); err != nil && !errors.Is(err, errs.ErrNoIdentity) {
			log.W.Ln("could not load history:", errs.Reason(err))
		}
		if _, err = a.Send(c, cfg.SendCmd.To, cfg.SendCmd.Message); err != nil {
			return
		}
		fmt.Println("sent")
	case cfg.InboxCmd != nil:
		if err = online(c, a); err != nil {
			return
		}
		return a.PrintInbox(c, os.Stdout, cfg.InboxCmd.Peer)
	case cfg.ContactsCmd != nil:
		if err = online(c, a); err != nil {
			return
		}
		app.PrintContacts(os.Stdout, a.Contacts.List())
	case cfg.WhoamiCmd != nil:
		return a.Whoami(c, os.Stdout, true)
	case cfg.ServeCmd != nil:
		var ln net.Listener
		if ln, err = net.Listen("tcp", cfg.Listen); err != nil {
			return
		}
		var ok bool
		if ok, err = a.AutoLogin(c); err != nil {
			// keep serving; the subscription is retried in the background
			log.W.Ln("could not go online:", errs.Reason(err))
		} else if !ok {
			log.I.Ln("no identity stored, waiting for a login")
		}
		return a.Serve(c, ln)
	}
	return
}

func online(c context.Context, a *app.App) (err error) {
	var ok bool
	if ok, err = a.AutoLogin(c); err != nil {
		return
	}
	if !ok {
		return errs.New(errs.ErrNoIdentity, "inbox", "no identity stored, run login first")
	}
	return
}
