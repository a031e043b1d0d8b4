// Package config loads the kwalarm YAML configuration and turns it into the
// components the commands wire together.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/kwalarm/alarm"
	"github.com/hazyhaar/kwalarm/alert"
	"github.com/hazyhaar/kwalarm/browser"
	"github.com/hazyhaar/kwalarm/keystore"
	"github.com/hazyhaar/kwalarm/resolver"
)

// Config is the top-level kwalarm configuration.
type Config struct {
	Store    StoreConfig              `yaml:"store"`
	Site     SiteConfig               `yaml:"site"`
	Keywords []string                 `yaml:"keywords"` // defaults for sites with no stored list
	Delays   map[string]time.Duration `yaml:"delays"`   // signal name -> debounce delay
	Alert    AlertConfig              `yaml:"alert"`
	Browser  BrowserConfig            `yaml:"browser"`
	HTTP     HTTPConfig               `yaml:"http"`
}

// StoreConfig locates the keyword database and tunes the edit watcher.
type StoreConfig struct {
	Path          string        `yaml:"path"`
	WatchInterval time.Duration `yaml:"watch_interval"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// SiteConfig controls scan target resolution.
type SiteConfig struct {
	Force        string          `yaml:"force"`         // resolve every page as this site
	RequireKnown bool            `yaml:"require_known"` // no body fallback on unknown hosts
	Extra        []resolver.Site `yaml:"extra"`         // appended to the built-in sites
}

// AlertConfig controls alert presentation.
type AlertConfig struct {
	TopN       int               `yaml:"top_n"`
	Bell       bool              `yaml:"bell"`
	Presenters []PresenterConfig `yaml:"presenters"`
}

// PresenterConfig defines one alert output.
type PresenterConfig struct {
	Type    string        `yaml:"type"` // log | lines | text | webhook
	URL     string        `yaml:"url"`  // webhook
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

// BrowserConfig controls the Chrome tab of the watch command.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Headful          bool          `yaml:"headful"`
	NoStealth        bool          `yaml:"no_stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// HTTPConfig controls the control surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a YAML configuration file. An empty path returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath()
	}
	if c.Store.WatchInterval <= 0 {
		c.Store.WatchInterval = time.Second
	}
	if len(c.Keywords) == 0 {
		c.Keywords = keystore.DefaultKeywords()
	}
	if c.Alert.TopN <= 0 {
		c.Alert.TopN = alert.DefaultTop
	}
	if len(c.Alert.Presenters) == 0 {
		c.Alert.Presenters = []PresenterConfig{{Type: "log"}}
	}
	for i := range c.Alert.Presenters {
		p := &c.Alert.Presenters[i]
		if p.Type == "webhook" && p.Retries <= 0 {
			p.Retries = 3
		}
		if p.Type == "webhook" && p.Backoff <= 0 {
			p.Backoff = time.Second
		}
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8765"
	}
}

func (c *Config) validate() error {
	if len(keystore.Clean(c.Keywords)) == 0 {
		return fmt.Errorf("config: keywords: %w", alarm.ErrEmptyKeywords)
	}
	if _, err := c.AlarmDelays(); err != nil {
		return err
	}
	for _, p := range c.Alert.Presenters {
		switch p.Type {
		case "log", "lines", "text":
		case "webhook":
			if p.URL == "" {
				return fmt.Errorf("config: webhook presenter needs a url")
			}
		default:
			return fmt.Errorf("config: unknown presenter type %q", p.Type)
		}
	}
	return nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "kwalarm.db"
	}
	return filepath.Join(dir, "kwalarm", "keywords.db")
}

// AlarmDelays converts the named delay overrides.
func (c *Config) AlarmDelays() (alarm.Delays, error) {
	d := alarm.Delays{}
	for name, v := range c.Delays {
		s, err := alarm.ParseSignal(name)
		if err != nil {
			return nil, fmt.Errorf("config: delays: %w", err)
		}
		d[s] = v
	}
	return d, nil
}

// Resolver builds the container resolver.
func (c *Config) Resolver() (*resolver.Resolver, error) {
	var opts []resolver.Option
	if c.Site.RequireKnown {
		opts = append(opts, resolver.WithRequireKnownSite())
	}
	if c.Site.Force != "" {
		opts = append(opts, resolver.WithSite(c.Site.Force))
	}
	sites := append(append([]resolver.Site{}, resolver.Sites...), c.Site.Extra...)
	return resolver.New(sites, opts...)
}

// Presenter builds the alert presenters. lines and text write to out.
func (c *Config) Presenter(logger *slog.Logger, out io.Writer) alarm.Presenter {
	ps := make([]alert.Presenter, 0, len(c.Alert.Presenters))
	for _, p := range c.Alert.Presenters {
		switch p.Type {
		case "log":
			ps = append(ps, alert.NewLog(logger))
		case "lines":
			ps = append(ps, alert.NewLines(out))
		case "text":
			ps = append(ps, alert.NewText(out))
		case "webhook":
			ps = append(ps, alert.NewWebhook(p.URL,
				alert.WithRetries(p.Retries),
				alert.WithBackoff(p.Backoff),
				alert.WithWebhookLogger(logger)))
		}
	}
	if len(ps) == 1 {
		return ps[0]
	}
	return alert.NewRouter(logger, ps...)
}

// BrowserManager returns the browser manager configuration.
func (c *Config) BrowserManager(logger *slog.Logger) browser.Config {
	return browser.Config{
		RemoteURL:        c.Browser.Remote,
		Headful:          c.Browser.Headful,
		NoStealth:        c.Browser.NoStealth,
		ResourceBlocking: c.Browser.ResourceBlocking,
		NavigateTimeout:  c.Browser.NavigateTimeout,
		Logger:           logger,
	}
}
