package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// NewClient builds a client that keeps reconnecting on its own and
// re-subscribes to Topic every time a connection comes up.
func NewClient(config Config, handler paho.MessageHandler) paho.Client {
	clientID := config.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("sensorhub-%s", uuid.NewString()[:8])
	}

	opts := paho.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetKeepAlive(30 * time.Second).
		SetOrderMatters(false)

	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetOnConnectHandler(func(c paho.Client) {
		log.Info().Str("broker", config.Broker).Msg("MQTT connection up")
		token := c.Subscribe(config.Topic, config.QoS, handler)
		if token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", config.Topic).Msg("MQTT subscribe failed")
			return
		}
		log.Info().Str("topic", config.Topic).Msg("MQTT subscription made")
	})

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		log.Info().Str("broker", config.Broker).Msg("MQTT reconnecting")
	})

	return paho.NewClient(opts)
}
