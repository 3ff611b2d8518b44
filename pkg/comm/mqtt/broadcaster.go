package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/capno.go/pkg/maco2"
	"github.com/robotalks/capno.go/pkg/msgs"
)

// Topic suffixes under <prefix><device-id>/.
const (
	TopicMeasurement = "measurement"
	TopicStats       = "stats"
	TopicMeta        = "meta"
	TopicCommand     = "cmd"
)

// PublishTimeout bounds waiting for retained publishes.
const PublishTimeout = time.Second

// CommandEnqueuer accepts commands for the sensor.
type CommandEnqueuer interface {
	Enqueue(maco2.Command) error
}

// DeviceMeta is published retained on the meta topic while connected.
type DeviceMeta struct {
	Description string            `json:"description,omitempty"`
	Port        string            `json:"port,omitempty"`
	BaudRate    int               `json:"baud_rate,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Broadcaster publishes measurements and statistics of one device and
// receives commands for it.
type Broadcaster struct {
	Queue    *Queue
	DeviceID string
	Commands CommandEnqueuer

	metaJSON []byte
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(brokerURL, deviceID string, meta DeviceMeta) (*Broadcaster, error) {
	metaJSON, err := json.Marshal(&meta)
	if err != nil {
		return nil, err
	}
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("mqtt url: %w", err)
	}
	opts.SetBinaryWill(topicPrefix+deviceID+"/"+TopicMeta, nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("capno:" + deviceID)
	}
	b := &Broadcaster{
		Queue:    NewQueue(opts, topicPrefix),
		DeviceID: deviceID,
		metaJSON: metaJSON,
	}
	b.Queue.OnConnect = func(*Queue) { b.onConnected() }
	b.Queue.Sub(b.topic(TopicCommand), b.handleCommand)
	return b, nil
}

// HandleMeasurement implements monitor.Sink.
func (b *Broadcaster) HandleMeasurement(ctx context.Context, m maco2.Measurement) error {
	if !b.Queue.IsConnected() {
		return nil
	}
	data, err := msgs.Encode(msgs.NewMeasurementEvent(m))
	if err != nil {
		return err
	}
	b.Queue.Pub(b.topic(TopicMeasurement), data)
	return nil
}

// HandleStatistics implements monitor.StatsSink. The publish is not
// awaited; failures are logged.
func (b *Broadcaster) HandleStatistics(ctx context.Context, s maco2.Statistics) error {
	if !b.Queue.IsConnected() {
		return nil
	}
	data, err := msgs.Encode(msgs.NewStatisticsEvent(s))
	if err != nil {
		return err
	}
	token := b.Queue.PubWith(b.topic(TopicStats), data, 1, true)
	go func() {
		if !token.WaitTimeout(PublishTimeout) {
			glog.Warningf("publish %s: timeout", TopicStats)
		} else if err := token.Error(); err != nil {
			glog.Warningf("publish %s: %v", TopicStats, err)
		}
	}()
	return nil
}

// Run implements Runnable.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.Queue.Connect()
	<-ctx.Done()
	if b.Queue.IsConnected() {
		b.Queue.PubWith(b.topic(TopicMeta), nil, 1, true).WaitTimeout(PublishTimeout)
	}
	return b.Queue.Close()
}

func (b *Broadcaster) onConnected() {
	b.Queue.PubWith(b.topic(TopicMeta), b.metaJSON, 1, true)
}

func (b *Broadcaster) handleCommand(topic string, payload []byte) {
	msg, err := msgs.Decode(payload)
	if err != nil {
		glog.Warningf("invalid command message on %s: %v", topic, err)
		return
	}
	req, ok := msg.(*msgs.CommandRequest)
	if !ok {
		glog.Warningf("unexpected message %T on %s", msg, topic)
		return
	}
	cmd, err := maco2.ParseCommand(req.Command)
	if err != nil {
		glog.Warningf("command from %s: %v", topic, err)
		return
	}
	if b.Commands == nil {
		glog.Warningf("command %s from %s ignored: no command queue", cmd, topic)
		return
	}
	// queue full is logged by the queue
	b.Commands.Enqueue(cmd)
}

func (b *Broadcaster) topic(suffix string) string {
	return b.DeviceID + "/" + suffix
}
