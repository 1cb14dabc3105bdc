package peer

import (
	"context"

	"github.com/imdario/mergo"

	"github.com/clearskies/core/share"
)

// Defines factory methods for instantiating peer sessions.

// NewPeerSession connects to the target over TCP and establishes a peer
// session with default configuration.
func NewPeerSession(ctx context.Context, target string, sh *share.Share) (s Session, err error) {
	return NewPeerSessionWithConfig(ctx, target, sh, DefaultConfig)
}

// NewPeerSessionWithConfig connects to the target over TCP and establishes
// a peer session with the supplied configuration.
func NewPeerSessionWithConfig(ctx context.Context, target string, sh *share.Share, cfg *Config) (s Session, err error) {
	// Use supplied config, but apply any defaults to unspecified values.
	resolvedConfig := *cfg
	_ = mergo.Merge(&resolvedConfig, DefaultConfig)

	var t Transport
	if t, err = NewTransport(ctx, NewDialer(target), target); err != nil {
		return
	}

	if s, err = NewSession(ctx, t, sh, &resolvedConfig); err != nil {
		_ = t.Close()
	}
	return
}

func mergeConfig(cfg *Config) error {
	return mergo.Merge(cfg, DefaultConfig)
}
