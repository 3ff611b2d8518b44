package maco2

import (
	"fmt"

	"github.com/golang/glog"
)

// Command is a single-byte command to the sensor.
type Command byte

// Commands.
const (
	CommandStartPump       Command = 0xA5
	CommandZeroCalibration Command = 0x5A
)

var commandNames = map[Command]string{
	CommandStartPump:       "start_pump",
	CommandZeroCalibration: "zero_cal",
}

// IsValid checks if it's a defined command.
func (c Command) IsValid() bool {
	_, ok := commandNames[c]
	return ok
}

// String returns the command name used by telemetry clients.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cmd(0x%02X)", byte(c))
}

// ParseCommand parses a command name, e.g. "start_pump".
func ParseCommand(name string) (Command, error) {
	for cmd, n := range commandNames {
		if n == name {
			return cmd, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}

// SendCommand writes the command byte. No reply is expected.
func SendCommand(t Transport, cmd Command) error {
	if !cmd.IsValid() {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, byte(cmd))
	}
	if _, err := t.Write([]byte{byte(cmd)}); err != nil {
		return err
	}
	glog.Infof("sent command %s (0x%02X)", cmd, byte(cmd))
	return nil
}
