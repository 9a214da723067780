package device

import "fmt"

// ConnectionError reports that the serial endpoint could not be opened or
// the REPL could not be brought into a usable state.
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DeviceIOError reports a remote operation that faulted after the
// connection was established. Tolerated conditions (removing an absent
// entry) are handled device-side and never surface as this error.
type DeviceIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *DeviceIOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("device %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceIOError) Unwrap() error { return e.Err }
