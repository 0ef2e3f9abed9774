package config

// CLI verbosity values accepted by -v/--verbose and the log_lvl config key
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)
