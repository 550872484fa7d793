// Package commsutil provides COMMS connection helpers, subject builders and the
// JSON codec shared by the content bridge and the remote providers.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Connection tuning for a bridge that shares its host with the shell. A lost
// shell link must surface within a minute; shutdown drains outstanding
// envelopes for at most DrainTimeout.
const (
	ConnectTimeout = 10 * time.Second
	ReconnectWait  = 2 * time.Second
	PingInterval   = 20 * time.Second
	MaxPingsOut    = 3
	DrainTimeout   = 5 * time.Second
)

// connectOptions returns the client options Connect applies for name.
func connectOptions(name string) []comms.Option {
	return []comms.Option{
		comms.Name(name),
		comms.Timeout(ConnectTimeout),
		comms.ReconnectWait(ReconnectWait),
		comms.MaxReconnects(-1),
		comms.PingInterval(PingInterval),
		comms.MaxPingsOutstanding(MaxPingsOut),
		comms.DrainTimeout(DrainTimeout),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - %s lost COMMS: %v", logPrefix, name, err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s reconnected to %s", logPrefix, name, nc.ConnectedUrl()))
		}),
		comms.ErrorHandler(func(_ *comms.Conn, sub *comms.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error(fmt.Sprintf("%s - async error on %q: %v", logPrefix, subject, err))
		}),
	}
}

// Connect dials url as client name and reconnects indefinitely afterwards.
func Connect(url, name string) (*comms.Conn, error) {
	nc, err := comms.Connect(url, connectOptions(name)...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS at %s: %w", logPrefix, url, err)
	}
	slog.Info(fmt.Sprintf("%s - %s connected to COMMS at %s", logPrefix, name, nc.ConnectedUrl()))
	return nc, nil
}
