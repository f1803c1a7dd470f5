package config

import "slices"

// RedactedConfig returns a copy of cfg with secrets replaced by "***", safe
// to log or print.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.OKX.APIKey)
	redact(&out.OKX.SecretKey)
	redact(&out.OKX.Passphrase)
	redact(&out.OKX.SecretPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so the redacted copy cannot alias the original.
	out.Strategies = slices.Clone(cfg.Strategies)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Regime.ReferenceInstruments = slices.Clone(cfg.Regime.ReferenceInstruments)
	out.Regime.PanelLive = slices.Clone(cfg.Regime.PanelLive)
	out.Regime.PanelSimulated = slices.Clone(cfg.Regime.PanelSimulated)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
