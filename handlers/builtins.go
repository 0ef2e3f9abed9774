package handlers

// Built-in file names
const (
	LuxFile = "lux"
)

// Builtins returns the static file table served under the sensor directory.
// The lux file is read-only and exclusive-open.
func Builtins(sensor LuxReader) Table {
	return Table{
		{Name: LuxFile, Perms: 0o444, Exclusive: true, Handler: NewLux(sensor)},
	}
}
