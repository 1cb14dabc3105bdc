package peer

// Defines structs describing peer session configuration.

// Config defines properties that configure peer session behaviour.
type Config struct {
	// Defines the time in seconds that the session will wait to receive a
	// greeting message from the peer.
	SetupTimeoutSecs int
	// Number of garbage events tolerated before the session disconnects.
	MaxGarbageEvents int
	// Software identifies this implementation in greeting messages.
	Software string
	// Protocol versions advertised in greeting messages.
	ProtocolVersions []int
}

var DefaultConfig = &Config{
	SetupTimeoutSecs: 5,
	MaxGarbageEvents: 8,
	Software:         "clearskies-core-go",
	ProtocolVersions: []int{1},
}
