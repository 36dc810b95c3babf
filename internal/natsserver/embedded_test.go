package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/voiceform/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Enabled: true}, newLogger())
	require.NoError(t, err)
	require.Nil(t, srv)
	srv.Shutdown()
}

func TestStartAcceptsClients(t *testing.T) {
	srv, err := Start(config.BusConfig{Enabled: true, Embedded: true, Port: server.RANDOM_PORT, Token: "s3cret"}, newLogger())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	_, err = nats.Connect(srv.ClientURL())
	require.Error(t, err)

	conn, err := nats.Connect(srv.ClientURL(), nats.Token("s3cret"))
	require.NoError(t, err)
	defer conn.Close()
	require.True(t, conn.IsConnected())
}
