package titanconn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-titan/titan"
)

func TestNewConnectionConfig(t *testing.T) {
	require := require.New(t)

	t.Run("Defaults", func(t *testing.T) {
		cfg, err := NewConnectionConfig("192.168.1.50", 0)
		require.NoError(err)
		require.Equal("192.168.1.50", cfg.Host())
		require.Equal(titan.DefaultPort, cfg.Port())
		require.Equal("192.168.1.50:20036", cfg.Addr())
		require.Equal(7*time.Minute, cfg.KeepAliveInterval())
		require.Equal(3*time.Second, cfg.ConnectTimeout())
		require.Equal(10*time.Second, cfg.HandshakeTimeout())
		require.Equal(5*time.Second, cfg.WriteTimeout())
		require.Equal(3*time.Second, cfg.CloseConnTimeout())
		require.Equal(byte(titan.DefaultModuleID), cfg.moduleID)
		require.Equal(titan.FixedFrameID, cfg.frameIDMode)
	})

	t.Run("IPv6", func(t *testing.T) {
		cfg, err := NewConnectionConfig("::1", 20036)
		require.NoError(err)
		require.Equal("[::1]:20036", cfg.Addr())
	})

	t.Run("Invalid host", func(t *testing.T) {
		for _, host := range []string{"", "titan", "300.1.1.1", "10.0.0.1:20036"} {
			_, err := NewConnectionConfig(host, 0)
			require.ErrorIs(err, ErrInvalidHost, host)
		}
	})

	t.Run("Invalid port", func(t *testing.T) {
		_, err := NewConnectionConfig("10.0.0.1", 65536)
		require.Error(err)
		_, err = NewConnectionConfig("10.0.0.1", -1)
		require.Error(err)
	})

	t.Run("Options", func(t *testing.T) {
		cfg, err := NewConnectionConfig("10.0.0.1", 20036,
			WithKeepAliveInterval(time.Minute),
			WithConnectTimeout(5*time.Second),
			WithHandshakeTimeout(20*time.Second),
			WithWriteTimeout(2*time.Second),
			WithCloseConnTimeout(10*time.Second),
			WithModuleID(0x01),
			WithMonotonicFrameID(),
		)
		require.NoError(err)
		require.Equal(time.Minute, cfg.KeepAliveInterval())
		require.Equal(5*time.Second, cfg.ConnectTimeout())
		require.Equal(20*time.Second, cfg.HandshakeTimeout())
		require.Equal(2*time.Second, cfg.WriteTimeout())
		require.Equal(10*time.Second, cfg.CloseConnTimeout())
		require.Equal(byte(0x01), cfg.moduleID)
		require.Equal(titan.MonotonicFrameID, cfg.frameIDMode)
	})

	t.Run("Out of range options", func(t *testing.T) {
		opts := []ConnOption{
			WithKeepAliveInterval(0),
			WithKeepAliveInterval(2 * time.Hour),
			WithConnectTimeout(time.Millisecond),
			WithHandshakeTimeout(time.Hour),
			WithWriteTimeout(0),
			WithCloseConnTimeout(time.Minute),
			WithClock(nil),
			WithLogger(nil),
		}
		for _, opt := range opts {
			_, err := NewConnectionConfig("10.0.0.1", 0, opt)
			require.Error(err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		cfg, err := NewConnectionConfig("10.0.0.1", 0)
		require.NoError(err)

		require.NoError(cfg.Update(WithKeepAliveInterval(30 * time.Second)))
		require.Equal(30*time.Second, cfg.KeepAliveInterval())

		require.Error(cfg.Update(WithModuleID(0x02)))
		require.Equal(byte(titan.DefaultModuleID), cfg.moduleID)
	})

	t.Run("Nil config", func(t *testing.T) {
		require.ErrorIs(WithModuleID(1).apply(nil), titan.ErrConnConfigNil)

		_, err := NewConnection(context.Background(), nil)
		require.ErrorIs(err, titan.ErrConnConfigNil)
	})
}
