package database

import (
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

var NATSConn *nats.Conn

// ConnectNATS connects with unlimited reconnects so a broker restart does not
// drop the fan-out subscription.
func ConnectNATS(url string) error {
	log := logger.Global()
	conn, err := nats.Connect(url,
		nats.Name("chatrelay"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return err
	}

	NATSConn = conn
	log.Info("connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return nil
}

// DisconnectNATS drains pending messages then closes.
func DisconnectNATS() error {
	if NATSConn == nil {
		return nil
	}
	return NATSConn.Drain()
}
