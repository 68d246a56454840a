package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	MQTT binding for set-requests and telemetry.
 *
 * Description: Topics, under a configurable prefix:
 *
 *		  service/<prefix>/set/<name>        <- set-requests
 *		  service/<prefix>/display_status/<name>
 *		  service/<prefix>/control_status/<name>
 *		  service/<prefix>/update_status
 *		  service/<prefix>/cp_plus_status
 *		  service/<prefix>/error
 *
 *		Status topics are retained so a dashboard reconnecting
 *		at 3am sees the current state immediately; errors are
 *		not retained.
 *
 *		Inbound messages arrive on paho's goroutines and only
 *		ever touch the coordinator's bounded queue - protocol
 *		state stays single-writer.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const MQTT_CONNECT_TIMEOUT = 10 * time.Second

type mqtt_client_t struct {
	client mqtt.Client
	prefix string
}

/*-------------------------------------------------------------------
 *
 * Name:        mqtt_start
 *
 * Purpose:     Connect to the broker and subscribe to set-requests.
 *
 * Description:	Auto-reconnect is left to paho; subscriptions are
 *		re-established from the OnConnect hook so they survive
 *		broker restarts.
 *
 *-----------------------------------------------------------------*/

func mqtt_start(cfg *mqtt_config_s, co *coordinator_t) (*mqtt_client_t, error) {
	var mc = &mqtt_client_t{prefix: cfg.Topic_prefix}

	var set_topic = fmt.Sprintf("service/%s/set/+", cfg.Topic_prefix)

	var opts = mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("inetboxd").
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	opts.OnConnect = func(client mqtt.Client) {
		log.Info("MQTT connected", "broker", cfg.Broker)
		client.Subscribe(set_topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			var key = msg.Topic()[strings.LastIndexByte(msg.Topic(), '/')+1:]
			co.coordinator_submit(key, string(msg.Payload()))
		})
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost", "err", err)
	}

	mc.client = mqtt.NewClient(opts)

	var token = mc.client.Connect()
	if !token.WaitTimeout(MQTT_CONNECT_TIMEOUT) || token.Error() != nil {
		/* Not fatal: the bus side works without a broker and paho
		 * keeps retrying in the background. */
		log.Warn("MQTT not connected yet", "broker", cfg.Broker, "err", token.Error())
	}

	return mc, nil
}

/*-------------------------------------------------------------------
 *
 * Name:        mqtt_publish
 *
 * Purpose:     Telemetry publish hook, in the coordinator's
 *		(stream, key, value) shape.
 *
 *-----------------------------------------------------------------*/

func (mc *mqtt_client_t) mqtt_publish(stream string, key string, value string) {
	if mc == nil || mc.client == nil {
		return
	}

	var topic = fmt.Sprintf("service/%s/%s", mc.prefix, stream)
	var payload = value
	var retained = true

	switch stream {
	case "display_status", "control_status":
		topic += "/" + key
	case "error":
		retained = false
		if key != "" {
			payload = key + ": " + value
		}
	}

	mc.client.Publish(topic, 0, retained, payload)
}

func (mc *mqtt_client_t) mqtt_stop() {
	if mc != nil && mc.client != nil {
		mc.client.Disconnect(250)
	}
}
