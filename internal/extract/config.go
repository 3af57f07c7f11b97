package extract

import "github.com/sells-group/leadgen-cli/internal/validate"

// Config holds the confidence priors and heuristics for one extraction
// pass. It is passed by value and never mutated by the extractor.
type Config struct {
	TitleConfidence           float64  `yaml:"title_confidence" mapstructure:"title_confidence"`
	HeadingConfidence         float64  `yaml:"heading_confidence" mapstructure:"heading_confidence"`
	SelectorConfidence        float64  `yaml:"selector_confidence" mapstructure:"selector_confidence"`
	EmailConfidence           float64  `yaml:"email_confidence" mapstructure:"email_confidence"`
	PhoneParsedConfidence     float64  `yaml:"phone_parsed_confidence" mapstructure:"phone_parsed_confidence"`
	PhoneRawConfidence        float64  `yaml:"phone_raw_confidence" mapstructure:"phone_raw_confidence"`
	AddressStrictConfidence   float64  `yaml:"address_strict_confidence" mapstructure:"address_strict_confidence"`
	AddressFallbackConfidence float64  `yaml:"address_fallback_confidence" mapstructure:"address_fallback_confidence"`
	WebsiteConfidence         float64  `yaml:"website_confidence" mapstructure:"website_confidence"`
	NameMinLen                int      `yaml:"name_min_len" mapstructure:"name_min_len"`
	NameMaxLen                int      `yaml:"name_max_len" mapstructure:"name_max_len"`
	Region                    string   `yaml:"region" mapstructure:"region"`
	NameSelectors             []string `yaml:"name_selectors" mapstructure:"name_selectors"`
}

// DefaultNameSelectors are the class-name heuristics used to find
// business names.
var DefaultNameSelectors = []string{
	".company-name",
	".business-name",
	".org-name",
	".company",
	".organization",
	`[class*="company"]`,
	`[class*="business"]`,
	`[class*="org"]`,
}

// DefaultConfig returns the standard confidence priors.
func DefaultConfig() Config {
	return Config{
		TitleConfidence:           0.9,
		HeadingConfidence:         0.8,
		SelectorConfidence:        0.7,
		EmailConfidence:           0.95,
		PhoneParsedConfidence:     0.9,
		PhoneRawConfidence:        0.7,
		AddressStrictConfidence:   0.8,
		AddressFallbackConfidence: 0.6,
		WebsiteConfidence:         0.9,
		NameMinLen:                3,
		NameMaxLen:                100,
		Region:                    validate.DefaultRegion,
		NameSelectors:             append([]string(nil), DefaultNameSelectors...),
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TitleConfidence == 0 {
		c.TitleConfidence = d.TitleConfidence
	}
	if c.HeadingConfidence == 0 {
		c.HeadingConfidence = d.HeadingConfidence
	}
	if c.SelectorConfidence == 0 {
		c.SelectorConfidence = d.SelectorConfidence
	}
	if c.EmailConfidence == 0 {
		c.EmailConfidence = d.EmailConfidence
	}
	if c.PhoneParsedConfidence == 0 {
		c.PhoneParsedConfidence = d.PhoneParsedConfidence
	}
	if c.PhoneRawConfidence == 0 {
		c.PhoneRawConfidence = d.PhoneRawConfidence
	}
	if c.AddressStrictConfidence == 0 {
		c.AddressStrictConfidence = d.AddressStrictConfidence
	}
	if c.AddressFallbackConfidence == 0 {
		c.AddressFallbackConfidence = d.AddressFallbackConfidence
	}
	if c.WebsiteConfidence == 0 {
		c.WebsiteConfidence = d.WebsiteConfidence
	}
	if c.NameMinLen == 0 {
		c.NameMinLen = d.NameMinLen
	}
	if c.NameMaxLen == 0 {
		c.NameMaxLen = d.NameMaxLen
	}
	if c.Region == "" {
		c.Region = d.Region
	}
	if len(c.NameSelectors) == 0 {
		c.NameSelectors = d.NameSelectors
	}
	return c
}
