package main

import (
	"io"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadgen-cli/internal/config"
)

const redacted = "REDACTED"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfig(os.Stdout, cfg)
	},
}

func writeConfig(out io.Writer, c *config.Config) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(redactConfig(*c)); err != nil {
		return eris.Wrap(err, "config show")
	}
	return enc.Close()
}

// redactConfig blanks API keys and URL passwords.
func redactConfig(c config.Config) config.Config {
	if c.Jina.Key != "" {
		c.Jina.Key = redacted
	}
	if c.Google.Key != "" {
		c.Google.Key = redacted
	}
	c.Store.DatabaseURL = redactURL(c.Store.DatabaseURL)
	c.Queue.RedisURL = redactURL(c.Queue.RedisURL)
	c.Monitoring.WebhookURL = redactURL(c.Monitoring.WebhookURL)
	proxies := make([]string, len(c.Scrape.Proxies))
	for i, p := range c.Scrape.Proxies {
		proxies[i] = redactURL(p)
	}
	c.Scrape.Proxies = proxies
	return c
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
		}
	}
	return u.String()
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
