package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/chris-pikul/wormhole-mailbox-server/log"
	"github.com/urfave/cli"
)

// RelayOptions holds every setting that shapes one running relay:
// where it listens, which databases back it, and what it tells
// clients in its welcome envelope.
type RelayOptions struct {
	// Port the websocket listener binds to.
	Port uint `json:"port"`

	// ChannelDBFile is the path to the channel SQLite database.
	// Empty opens the process-wide shared in-memory database (tests only).
	ChannelDBFile string `json:"channelDBFile"`

	// UsageDBFile is the path to the optional usage SQLite database.
	// Empty disables usage recording entirely.
	UsageDBFile string `json:"usageDBFile"`

	// BlurUsage rounds every persisted usage timestamp down to a
	// multiple of this many seconds. Zero disables blurring.
	BlurUsage int64 `json:"blurUsage"`

	// AdvertiseVersion is sent to clients as current_cli_version.
	AdvertiseVersion string `json:"advertiseVersion"`

	// SignalError, if set, is sent to every client as the welcome
	// "error" field, telling them to fail immediately.
	SignalError string `json:"signalError"`

	// MOTD is sent to clients as the welcome "motd" field.
	MOTD string `json:"motd"`

	// AllowList controls whether the "list" command is honored.
	AllowList bool `json:"allowList"`

	// WebsocketProtocolOptions carries arbitrary K=V pairs, V being a
	// JSON value. They are parsed and kept here only; the websocket
	// upgrader does not receive them.
	WebsocketProtocolOptions map[string]interface{} `json:"websocketProtocolOptions"`

	// PruneInterval is how often the pruner sweeps all apps, in seconds.
	PruneInterval uint `json:"pruneInterval"`

	// PruneOld is the staleness threshold passed to each prune pass,
	// in seconds.
	PruneOld uint `json:"pruneOld"`
}

// Options is a JSON serializable object holding the configuration
// settings for running a wormhole mailbox relay.
//
// These options can be loaded from file, or filled in from command
// line. The intended hierarchy is CLI options > file > defaults.
type Options struct {
	Relay RelayOptions `json:"relay"`

	Logging log.Options `json:"logging"`
}

// DefaultOptions contains the preset default options for a server.
var DefaultOptions = Options{
	Relay: RelayOptions{
		Port:          4000,
		ChannelDBFile: "./wormhole-relay.sqlite",
		UsageDBFile:   "",
		AllowList:     true,
		PruneInterval: 5 * 60,
		PruneOld:      11 * 60,
	},

	Logging: log.DefaultOptions,
}

var (
	// ErrOptionsPrune validation error that the prune interval exceeds
	// the staleness threshold, which would prune channels that never
	// had a chance to go idle.
	ErrOptionsPrune = errors.New("prune interval should be less than prune old threshold")
)

// Equals returns true if the supplied options matches these ones
// (this). Performs this as a deep-equals operation.
func (o Options) Equals(opts Options) bool {
	if len(o.Relay.WebsocketProtocolOptions) != len(opts.Relay.WebsocketProtocolOptions) {
		return false
	}
	for k, v := range o.Relay.WebsocketProtocolOptions {
		ov, err1 := json.Marshal(v)
		nv, err2 := json.Marshal(opts.Relay.WebsocketProtocolOptions[k])
		if err1 != nil || err2 != nil || string(ov) != string(nv) {
			return false
		}
	}

	return o.Relay.Port == opts.Relay.Port &&
		o.Relay.ChannelDBFile == opts.Relay.ChannelDBFile &&
		o.Relay.UsageDBFile == opts.Relay.UsageDBFile &&
		o.Relay.BlurUsage == opts.Relay.BlurUsage &&
		o.Relay.AdvertiseVersion == opts.Relay.AdvertiseVersion &&
		o.Relay.SignalError == opts.Relay.SignalError &&
		o.Relay.MOTD == opts.Relay.MOTD &&
		o.Relay.AllowList == opts.Relay.AllowList &&
		o.Relay.PruneInterval == opts.Relay.PruneInterval &&
		o.Relay.PruneOld == opts.Relay.PruneOld &&
		o.Logging.Equals(opts.Logging)
}

// Verify checks the Options fields for validity. Returns an error if
// a problem is encountered.
func (o Options) Verify() error {
	if o.Relay.PruneInterval > 0 && o.Relay.PruneOld > 0 && o.Relay.PruneInterval > o.Relay.PruneOld {
		return ErrOptionsPrune
	}

	return o.Logging.Verify()
}

// MergeFrom combines the fields from the supplied Options parameter
// into this object and runs Verify on itself, returning the
// validation error if any happened.
func (o *Options) MergeFrom(opt Options) error {
	o.Relay = opt.Relay

	if err := o.Logging.MergeFrom(opt.Logging); err != nil {
		return err
	}
	return o.Verify()
}

// ReadOptionsFromFile opens the provided JSON file and marshals the
// data into an Options object. Returns the results, and the first
// error encountered — either validation or JSON decoding.
func ReadOptionsFromFile(filename string) (Options, error) {
	res := DefaultOptions

	file, err := ioutil.ReadFile(filename)
	if err != nil {
		return res, err
	}

	if err := json.Unmarshal(file, &res); err != nil {
		return res, err
	}

	return res, res.Verify()
}

// NewOptions compiles the Options object from the provided sources.
// Uses custom defaults if given, otherwise DefaultOptions. Then
// searches the fileName json file (if provided) for options. Then
// combines the CLI options provided from main(). These cascade in
// order where applicable for the option.
func NewOptions(defaults *Options, filename string, ctx *cli.Context) (Options, error) {
	res := DefaultOptions
	if defaults != nil {
		res = *defaults
	}

	if len(filename) > 0 {
		fmt.Printf("reading configuration from '%s'\n", filename)
		file, err := ReadOptionsFromFile(filename)
		if err != nil {
			return res, err
		}
		if err := res.MergeFrom(file); err != nil {
			return res, err
		}
	}

	if ctx != nil {
		fmt.Printf("applying CLI options to configuration\n")
		if err := applyCLIOptions(ctx, &res); err != nil {
			return res, err
		}
	}

	return res, res.Verify()
}

// applyCLIOptions writes the options presented in the CLI arguments
// to the provided Options object, overriding anything there
// previously.
func applyCLIOptions(c *cli.Context, opts *Options) error {
	if c == nil || opts == nil {
		return nil
	}

	if p := c.Uint("port"); p > 0 {
		opts.Relay.Port = p
	}
	if db := c.String("channel-db"); db != "" {
		opts.Relay.ChannelDBFile = db
	}
	if db := c.String("usage-db"); db != "" {
		opts.Relay.UsageDBFile = db
	}
	if b := c.Int64("blur-usage"); b > 0 {
		opts.Relay.BlurUsage = b
	}
	if v := c.String("advertise-version"); v != "" {
		opts.Relay.AdvertiseVersion = v
	}
	if e := c.String("signal-error"); e != "" {
		opts.Relay.SignalError = e
	}
	if m := c.String("motd"); m != "" {
		opts.Relay.MOTD = m
	}
	if c.Bool("disallow-list") {
		opts.Relay.AllowList = false
	}

	for _, kv := range c.StringSlice("websocket-protocol-option") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid --websocket-protocol-option %q, want K=V", kv)
		}

		var value interface{}
		if err := json.Unmarshal([]byte(parts[1]), &value); err != nil {
			return fmt.Errorf("invalid --websocket-protocol-option %q, V must be JSON: %w", kv, err)
		}

		if opts.Relay.WebsocketProtocolOptions == nil {
			opts.Relay.WebsocketProtocolOptions = make(map[string]interface{})
		}
		opts.Relay.WebsocketProtocolOptions[parts[0]] = value
	}

	opts.Logging.Path = c.String("log-fd")
	if str := c.String("log-level"); str != "" {
		opts.Logging.Level = str
	}
	opts.Logging.BlurTimes = c.Uint("log-blur")

	return nil
}
