package device

import "time"

// SetSleep replaces the settle-time sleep so tests can observe it
func SetSleep(s *Sensor, fn func(time.Duration)) {
	s.sleep = fn
}
