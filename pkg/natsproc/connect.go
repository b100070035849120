package natsproc

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const connectLogPrefix = "natsproc:connect"

// Connect creates a bus connection to the given URL.
func Connect(url, name string) (*nats.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to bus at %s as %s", connectLogPrefix, url, name))

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - bus disconnected: %v", connectLogPrefix, err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info(fmt.Sprintf("%s - bus reconnected to %s", connectLogPrefix, nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info(fmt.Sprintf("%s - bus connection closed", connectLogPrefix))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to bus: %w", connectLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to bus at %s", connectLogPrefix, nc.ConnectedUrl()))
	return nc, nil
}
