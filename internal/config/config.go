package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"scoutline/internal/apperror"
	"scoutline/internal/ghost"
)

// FileName is the config file looked up in a workspace.
const FileName = "scoutline.yml"

// DefaultQueries are the rotating search terms used when none are configured.
var DefaultQueries = []string{
	"MacBook Pro logic board",
	"iPhone screen replacement OEM",
	"laptop battery replacement",
	"iPad logic board",
	"Samsung Galaxy screen",
	"Dell laptop motherboard",
	"iPhone charging port flex",
	"MacBook keyboard replacement",
	"Apple Watch screen",
	"PS5 HDMI port repair",
}

// Config models scoutline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret  string   `yaml:"jwt_secret"`
		CronSecret string   `yaml:"cron_secret"`
		Operators  []string `yaml:"operators"`
	} `yaml:"auth"`
	Marketplace Marketplace `yaml:"marketplace"`
	Ingest      struct {
		Queries       []string      `yaml:"queries"`
		QueriesPerRun int           `yaml:"queries_per_run"`
		Pace          time.Duration `yaml:"pace"`
		ScoutAgent    string        `yaml:"scout_agent"`
		GhostAgent    string        `yaml:"ghost_agent"`
	} `yaml:"ingest"`
	Ghost      GhostRules `yaml:"ghost"`
	Escalation struct {
		Reviewer string `yaml:"reviewer"`
	} `yaml:"escalation"`
	Notify struct {
		Telegram struct {
			Token   string `yaml:"token"`
			ChatID  string `yaml:"chat_id"`
			APIBase string `yaml:"api_base"`
		} `yaml:"telegram"`
		Webhooks []Webhook `yaml:"webhooks"`
	} `yaml:"notify"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Poll struct {
		Interval time.Duration `yaml:"interval"`
		MaxWait  time.Duration `yaml:"max_wait"`
	} `yaml:"poll"`
}

// Marketplace holds the eBay Browse API settings.
type Marketplace struct {
	TokenURL     string   `yaml:"token_url"`
	SearchURL    string   `yaml:"search_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Excludes     []string `yaml:"excludes"`
	Conditions   []string `yaml:"conditions"`
	Country      string   `yaml:"country"`
	MinPrice     float64  `yaml:"min_price"`
	MaxPrice     float64  `yaml:"max_price"`
	Limit        int      `yaml:"limit"`
}

// GhostRules mirrors ghost.Rules in config-friendly units. Zero values fall
// back to the filter defaults.
type GhostRules struct {
	RedFlags             []string `yaml:"red_flags"`
	MinSellerRating      float64  `yaml:"min_seller_rating"`
	MinSellerFeedback    int      `yaml:"min_seller_feedback"`
	MaxShippingRatio     float64  `yaml:"max_shipping_ratio"`
	MinROI               float64  `yaml:"min_roi"`
	MinROINonElectronics float64  `yaml:"min_roi_non_electronics"`
}

// Webhook is a change-feed subscriber.
type Webhook struct {
	ID     string   `yaml:"id"`
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

// Rules converts the configured thresholds into ghost.Rules.
func (g GhostRules) Rules() ghost.Rules {
	return ghost.Rules{
		RedFlags:             g.RedFlags,
		MinSellerRating:      g.MinSellerRating,
		MinSellerFeedback:    g.MinSellerFeedback,
		MaxShippingRatio:     decimal.NewFromFloat(g.MaxShippingRatio),
		MinROI:               decimal.NewFromFloat(g.MinROI),
		MinROINonElectronics: decimal.NewFromFloat(g.MinROINonElectronics),
	}
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperror.New(apperror.CodeConfigurationError,
				apperror.WithMessage(fmt.Sprintf("config %s not found; create one with sl config init", path)))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	if _, err := os.Stat(Path(workspace)); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(workspace)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	cfg.applyDefaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("invalid config yaml"), apperror.WithCause(err))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Secrets are checked
// where they are used, not here.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperror.New(apperror.CodeConfigurationError, apperror.WithMessage(fmt.Sprintf(format, args...)))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return invalid("config.server.base_path must start with /")
	}
	for i, op := range c.Auth.Operators {
		if strings.TrimSpace(op) == "" {
			return invalid("config.auth.operators[%d] is empty", i)
		}
	}
	m := c.Marketplace
	if m.MinPrice < 0 || m.MaxPrice < m.MinPrice {
		return invalid("config.marketplace price range [%v..%v] is invalid", m.MinPrice, m.MaxPrice)
	}
	if m.Limit <= 0 || m.Limit > 200 {
		return invalid("config.marketplace.limit must be between 1 and 200")
	}
	if c.Ingest.QueriesPerRun < 0 {
		return invalid("config.ingest.queries_per_run must be >= 0")
	}
	for i, q := range c.Ingest.Queries {
		if strings.TrimSpace(q) == "" {
			return invalid("config.ingest.queries[%d] is empty", i)
		}
	}
	if c.Ingest.Pace < 0 {
		return invalid("config.ingest.pace must be >= 0")
	}
	g := c.Ghost
	if g.MinSellerRating < 0 || g.MinSellerRating > 100 {
		return invalid("config.ghost.min_seller_rating must be a percentage")
	}
	if g.MaxShippingRatio < 0 {
		return invalid("config.ghost.max_shipping_ratio must be >= 0")
	}
	if c.Escalation.Reviewer == "" {
		return invalid("config.escalation.reviewer is required")
	}
	for i, wh := range c.Notify.Webhooks {
		if wh.URL == "" {
			return invalid("config.notify.webhooks[%d].url is required", i)
		}
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return invalid("config.logging.format must be json or text")
	}
	if c.Poll.Interval <= 0 || c.Poll.MaxWait < c.Poll.Interval {
		return invalid("config.poll requires 0 < interval <= max_wait")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	m := &c.Marketplace
	if m.TokenURL == "" {
		m.TokenURL = "https://api.ebay.com/identity/v1/oauth2/token"
	}
	if m.SearchURL == "" {
		m.SearchURL = "https://api.ebay.com/buy/browse/v1/item_summary/search"
	}
	if m.Excludes == nil {
		m.Excludes = []string{"water", "liquid", "spill", "corrosion", "icloud locked", "bios locked", "blacklisted", "cracked screen lot"}
	}
	if m.Conditions == nil {
		m.Conditions = []string{"3000", "7000"}
	}
	if m.Country == "" {
		m.Country = "US"
	}
	if m.MinPrice == 0 && m.MaxPrice == 0 {
		m.MinPrice, m.MaxPrice = 5, 500
	}
	if m.Limit == 0 {
		m.Limit = 50
	}
	if c.Ingest.Queries == nil {
		c.Ingest.Queries = append([]string(nil), DefaultQueries...)
	}
	if c.Ingest.Pace == 0 {
		c.Ingest.Pace = time.Second
	}
	if c.Ingest.ScoutAgent == "" {
		c.Ingest.ScoutAgent = "scout"
	}
	if c.Ingest.GhostAgent == "" {
		c.Ingest.GhostAgent = "ghost"
	}
	if c.Escalation.Reviewer == "" {
		c.Escalation.Reviewer = "jay"
	}
	if c.Notify.Telegram.APIBase == "" {
		c.Notify.Telegram.APIBase = "https://api.telegram.org"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = 15 * time.Second
	}
	if c.Poll.MaxWait == 0 {
		c.Poll.MaxWait = 180 * time.Second
	}
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080

auth:
  # jwt_secret and cron_secret are usually supplied through
  # SCOUTLINE_JWT_SECRET and SCOUTLINE_CRON_SECRET.
  operators: [shuki]

marketplace:
  country: US
  conditions: ["3000", "7000"]
  min_price: 5
  max_price: 500
  limit: 50

ingest:
  queries_per_run: 3
  pace: 1s

ghost:
  min_seller_rating: 90
  min_seller_feedback: 50
  max_shipping_ratio: 0.3
  min_roi: 20
  min_roi_non_electronics: 100

escalation:
  reviewer: jay

logging:
  level: info
  format: json

metrics:
  enabled: true
  path: /metrics

poll:
  interval: 15s
  max_wait: 180s
`
