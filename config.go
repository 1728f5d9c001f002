package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind         string
	messageBurst int
	messageRate  float64
	port         int
	prefix       string
	profile      bool
	redisChannel string
	redisURL     string
	tlsCert      string
	tlsKey       string
	verbose      bool
	version      bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.messageRate < 0 {
		return fmt.Errorf("invalid message rate (must be >= 0): %f", c.messageRate)
	}
	if c.messageRate > 0 && c.messageBurst < 1 {
		return fmt.Errorf("invalid message burst (must be >= 1 when rate limiting is enabled): %d", c.messageBurst)
	}
	if c.redisURL != "" && c.redisChannel == "" {
		return errors.New("--redis-channel must not be empty when --redis-url is set")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BIRDSFLY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "birdsfly",
		Short:         "A real-time \"does it fly?\" reaction game for groups, served from a single binary.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BIRDSFLY_BIND)")
	fs.IntVar(&cfg.messageBurst, "message-burst", 40, "per-connection inbound message burst (env: BIRDSFLY_MESSAGE_BURST)")
	fs.Float64Var(&cfg.messageRate, "message-rate", 20, "per-connection inbound messages per second, 0 to disable (env: BIRDSFLY_MESSAGE_RATE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: BIRDSFLY_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: BIRDSFLY_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: BIRDSFLY_PROFILE)")
	fs.StringVar(&cfg.redisChannel, "redis-channel", "birdsfly:events", "redis pub/sub channel for the broadcast backplane (env: BIRDSFLY_REDIS_CHANNEL)")
	fs.StringVar(&cfg.redisURL, "redis-url", "", "redis url enabling the multi-process broadcast backplane (env: BIRDSFLY_REDIS_URL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: BIRDSFLY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: BIRDSFLY_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BIRDSFLY_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: BIRDSFLY_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("birdsfly v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
