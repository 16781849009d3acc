package geo

import (
	"context"
	"log/slog"
)

// Location is what an IP lookup can tell us about a client. All fields are
// best-effort; a nil country simply disables geo-based risk signals.
type Location struct {
	CountryCode *string
	City        *string
	Proxy       bool
	VPN         bool
}

// Lookup resolves an IP address to geolocation and reputation data. The risk
// engine treats a failed or empty lookup as "unknown", never as risky.
type Lookup interface {
	Resolve(ctx context.Context, ipAddress string) (Location, error)
}

// NoopLookup returns empty locations. Used when no geolocation provider is
// configured.
type NoopLookup struct {
	logger *slog.Logger
}

func NewNoopLookup(logger *slog.Logger) *NoopLookup {
	return &NoopLookup{logger: logger}
}

func (n *NoopLookup) Resolve(ctx context.Context, ipAddress string) (Location, error) {
	return Location{}, nil
}
