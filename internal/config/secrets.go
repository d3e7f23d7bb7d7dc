package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Kalshi
	redact(&out.Kalshi.ApiKey)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Kinds = append([]string(nil), cfg.Notify.Kinds...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Postgres.AuditLevels = append([]string(nil), cfg.Postgres.AuditLevels...)
	out.Postgres.AuditKinds = append([]string(nil), cfg.Postgres.AuditKinds...)

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Coins != nil {
		out.Coins = make(map[string]CoinConfig, len(cfg.Coins))
		for k, v := range cfg.Coins {
			out.Coins[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
