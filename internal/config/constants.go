package config

// Application constants
const (
	AppName    = "stagectl"
	AppVersion = "0.3.0"

	// DefaultConfigFile is looked up in the working directory when --config
	// is not given.
	DefaultConfigFile = "stagectl.yaml"
)
