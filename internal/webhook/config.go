package webhook

import "time"

// Config holds configuration for the webhook verification module,
// populated from SENDGRID__* environment variables (see spec §6).
type Config struct {
	VerificationKey string        `env:"VERIFICATIONKEY"`
	AllowedSkew     time.Duration `env:"ALLOWEDSKEW" envDefault:"5m"`
	MaxBodyBytes    int64         `env:"MAXBODYBYTES" envDefault:"1048576"`
}
