package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/capno.go/pkg/comm/mqtt"
	"github.com/robotalks/capno.go/pkg/comm/serial"
	"github.com/robotalks/capno.go/pkg/comm/websocket"
	"github.com/robotalks/capno.go/pkg/env"
	"github.com/robotalks/capno.go/pkg/legacy"
	"github.com/robotalks/capno.go/pkg/maco2"
	"github.com/robotalks/capno.go/pkg/monitor"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.MustNewConfig()
	port, err := serial.Open(conf.Port, conf.BaudRate)
	if err != nil {
		glog.Exitf("open %s: %v", conf.Port, err)
	}
	defer port.Close()

	parser := maco2.NewParser()
	parser.PumpActiveHigh = conf.PumpActiveHigh
	if !conf.SkipHandshake {
		if err := parser.Initialize(context.Background(), port, conf.HandshakeTimeout); err != nil {
			glog.Warningf("handshake failed, streaming anyway: %v", err)
		}
	}

	m := monitor.New(parser, port)
	m.Interval = conf.PollInterval
	m.StatsInterval = conf.StatsInterval

	if conf.MQTTBrokerURL != "" {
		b, err := mqtt.NewBroadcaster(conf.MQTTBrokerURL, conf.DeviceID, mqtt.DeviceMeta{
			Description: conf.Description,
			Port:        conf.Port,
			BaudRate:    conf.BaudRate,
		})
		if err != nil {
			glog.Exitln(err)
		}
		b.Commands = m.Commands
		m.AddSink(b).AddStatsSink(b)
	}
	if conf.HTTPAddr != "" {
		m.AddSink(websocket.NewHub(conf.HTTPAddr, m.Commands))
	}
	if conf.PIC {
		m.AddSink(legacy.NewWriter(os.Stdout))
	}

	glog.Infof("capnod %s on %s@%d", conf.DeviceID, conf.Port, conf.BaudRate)
	if err := monitor.NewRunner().HandleSignals().Go(m).Wait(); err != nil && err != monitor.ErrForcedExit {
		glog.Errorf("exit: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}
