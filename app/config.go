package app

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

type LoginCmd struct {
	Key string `arg:"positional,required" help:"private key, nsec1... or 64 hex characters"`
}

type LogoutCmd struct{}

type SendCmd struct {
	To      string `arg:"positional,required" help:"recipient, npub1... or hex public key"`
	Message string `arg:"positional,required" help:"message text"`
}

type InboxCmd struct {
	Peer string `arg:"positional" help:"only show the thread with this npub or hex key"`
}

type ContactsCmd struct{}
type WhoamiCmd struct{}
type InitCfg struct{}
type ServeCmd struct{}

type Config struct {
	LoginCmd    *LoginCmd    `arg:"subcommand:login" json:"-" help:"store a private key as the active identity"`
	LogoutCmd   *LogoutCmd   `arg:"subcommand:logout" json:"-" help:"forget the active identity"`
	SendCmd     *SendCmd     `arg:"subcommand:send" json:"-" help:"send an encrypted direct message"`
	InboxCmd    *InboxCmd    `arg:"subcommand:inbox" json:"-" help:"fetch and show direct messages by conversation"`
	ContactsCmd *ContactsCmd `arg:"subcommand:contacts" json:"-" help:"list the people the identity follows"`
	WhoamiCmd   *WhoamiCmd   `arg:"subcommand:whoami" json:"-" help:"show the active public key and its QR code"`
	InitCfgCmd  *InitCfg     `arg:"subcommand:initcfg" json:"-" help:"write the configuration file for the profile"`
	ServeCmd    *ServeCmd    `arg:"subcommand:serve" json:"-" help:"stay connected, receive messages and serve the capability bridge"`
	Profile     string       `arg:"-p,--profile,env:NSECBOX_PROFILE" json:"-" default:".nsecbox" help:"profile directory under the home directory"`
	Relay       string       `arg:"-r,--relay,env:NSECBOX_RELAY" json:"relay" default:"wss://relay.damus.io" help:"relay to connect to"`
	Relays      []string     `arg:"--relays,separate,env:NSECBOX_RELAYS" json:"relays,omitempty" help:"relays handed out by getRelays (default: a built in list)"`
	Scheme      string       `arg:"--scheme,env:NSECBOX_SCHEME" json:"scheme" default:"nip04" help:"encryption for outgoing messages [nip04,nip44]"`
	Store       string       `arg:"--store,env:NSECBOX_STORE" json:"store" default:"badger" help:"credential store backend [badger,memory]"`
	Attempts    int          `arg:"--attempts" json:"attempts" default:"3" help:"relay dial attempts per connect"`
	Backoff     Duration     `arg:"--backoff" json:"backoff" default:"1s" help:"wait between relay dial attempts"`
	Listen      string       `arg:"-l,--listen,env:NSECBOX_LISTEN" json:"listen" default:"127.0.0.1:7447" help:"address the local API and bridge listen on"`
	Origins     []string     `arg:"--origin,separate" json:"origins,omitempty" help:"browser origins allowed to use the bridge"`
	RateLimit   int          `arg:"--ratelimit" json:"rate_limit" default:"600" help:"local API requests per minute per client address"`
	Quiet       bool         `arg:"-q,--quiet" json:"quiet" help:"no terminal bell on new messages"`
	LogLevel    string       `arg:"--loglevel,env:NSECBOX_LOGLEVEL" json:"-" default:"info" help:"set log level [off,fatal,error,warn,info,debug,trace] (can also use GODEBUG environment variable)"`
}

// Duration is a time.Duration that reads and writes as "1s" style text.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(b))
	return
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Dir resolves the profile directory. Absolute profiles are used as given.
func (c *Config) Dir() (dir string, err error) {
	if filepath.IsAbs(c.Profile) {
		return c.Profile, nil
	}
	var home string
	if home, err = os.UserHomeDir(); chk.E(err) {
		return
	}
	return filepath.Join(home, c.Profile), nil
}

func (c *Config) Save(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot save nil config")
		log.E.Ln(err)
		return
	}
	var b []byte
	if b, err = json.MarshalIndent(c, "", "    "); chk.E(err) {
		return
	}
	if err = os.MkdirAll(filepath.Dir(filename), 0700); chk.E(err) {
		return
	}
	if err = os.WriteFile(filename, b, 0600); chk.E(err) {
		return
	}
	return
}

func (c *Config) Load(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot load into nil config")
		chk.E(err)
		return
	}
	var b []byte
	if b, err = os.ReadFile(filename); err != nil {
		return
	}
	if err = json.Unmarshal(b, c); chk.E(err) {
		return
	}
	return
}

// Merge fills in what the command line left at its default from the saved
// configuration. explicit reports whether a flag was given.
func (c *Config) Merge(saved *Config, explicit func(flag string) bool) {
	if !explicit("relay") && saved.Relay != "" {
		c.Relay = saved.Relay
	}
	if len(c.Relays) == 0 {
		c.Relays = append(c.Relays, saved.Relays...)
	}
	if !explicit("scheme") && saved.Scheme != "" {
		c.Scheme = saved.Scheme
	}
	if !explicit("store") && saved.Store != "" {
		c.Store = saved.Store
	}
	if !explicit("attempts") && saved.Attempts > 0 {
		c.Attempts = saved.Attempts
	}
	if !explicit("backoff") && saved.Backoff.Duration > 0 {
		c.Backoff = saved.Backoff
	}
	if !explicit("listen") && saved.Listen != "" {
		c.Listen = saved.Listen
	}
	if len(c.Origins) == 0 {
		c.Origins = append(c.Origins, saved.Origins...)
	}
	if !explicit("ratelimit") && saved.RateLimit > 0 {
		c.RateLimit = saved.RateLimit
	}
	if !explicit("quiet") && saved.Quiet {
		c.Quiet = true
	}
}
