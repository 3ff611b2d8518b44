package main

import (
	"flag"
	"log"
	"os"
	"reflect"
	"strings"

	"github.com/robotalks/capno.go/pkg/comm/mqtt"
	"github.com/robotalks/capno.go/pkg/msgs"
)

var (
	mqttURL = "mqtt://localhost:1883/capno/"
)

func init() {
	if val := os.Getenv("CAPNO_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}

	q.Sub("#", func(topic string, payload []byte) {
		if strings.HasSuffix(topic, "/"+mqtt.TopicMeta) {
			log.Printf("%s: %s", topic, string(payload))
			return
		}
		env, err := msgs.DecodeEnvelope(payload)
		if err != nil {
			log.Printf("%s: bad message: %v", topic, err)
			return
		}
		msg, err := env.Decode()
		if err != nil {
			log.Printf("%s: decode error: (type_id=%x) %v", topic, env.TypeId, err)
			return
		}
		log.Printf("%s: [%s] %s", topic,
			reflect.Indirect(reflect.ValueOf(msg)).Type().Name(),
			msg.Serializable().String())
	})
	<-(chan struct{})(nil)
}
