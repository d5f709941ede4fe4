package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rentwatch/listing-guard/internal/cache"
	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/platform"
	"github.com/rentwatch/listing-guard/internal/repository"
)

// ProbeKind names a cached live check.
type ProbeKind string

// Probe kinds.
const (
	ProbeOnline ProbeKind = "online"
	ProbeForbid ProbeKind = "forbid"
)

// Prober runs live checks and forced-play-block changes against the guard
// platform. Check results are cached per (owner, account, kind).
type Prober struct {
	clients  platform.Registry
	creds    repository.CredentialRepository
	cache    cache.Cache
	platform model.Platform
	ttl      time.Duration
	log      *zap.Logger
}

// NewProber constructs a Prober on platform p. A nil cache disables caching.
func NewProber(clients platform.Registry, creds repository.CredentialRepository, c cache.Cache, p model.Platform, ttl time.Duration, log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{clients: clients, creds: creds, cache: c, platform: p, ttl: ttl, log: log}
}

func probeKey(kind ProbeKind, owner, accountID string) string {
	return string(kind) + ":" + owner + ":" + accountID
}

func (p *Prober) client(ctx context.Context, owner string) (platform.Client, model.Credential, error) {
	c, err := p.clients.Get(p.platform)
	if err != nil {
		// without a gateway nobody can be probed; same policy as a missing credential
		return nil, model.Credential{}, fmt.Errorf("%w: %w", errs.ErrNoCredential, err)
	}
	cred, err := p.creds.Get(ctx, owner, p.platform)
	if err != nil {
		return nil, model.Credential{}, err
	}
	return c, cred, nil
}

// Check returns the probe result, served from cache when fresh is false.
// errs.ErrNoCredential is returned when the owner cannot be probed, including
// when the guard platform has no gateway.
func (p *Prober) Check(ctx context.Context, kind ProbeKind, owner, accountID, game string, fresh bool) (bool, error) {
	key := probeKey(kind, owner, accountID)
	if !fresh && p.cache != nil {
		if v, err := p.cache.Get(ctx, key); err == nil && len(v) == 1 {
			return v[0] == '1', nil
		} else if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			p.log.Warn("probe cache read", zap.String("key", key), zap.Error(err))
		}
	}

	c, cred, err := p.client(ctx, owner)
	if err != nil {
		return false, err
	}
	var on bool
	switch kind {
	case ProbeOnline:
		on, err = c.QueryOnline(ctx, cred, accountID, game)
	case ProbeForbid:
		on, err = c.QueryForcedPlayBlock(ctx, cred, accountID, game)
	default:
		return false, platform.CallError(p.platform, string(kind), errors.New("unknown probe"))
	}
	if err != nil {
		return false, platform.CallError(p.platform, string(kind), err)
	}

	if p.cache != nil {
		v := []byte{'0'}
		if on {
			v[0] = '1'
		}
		if err := p.cache.Set(ctx, key, v, p.ttl); err != nil {
			p.log.Warn("probe cache write", zap.String("key", key), zap.Error(err))
		}
	}
	return on, nil
}

// SetForcedPlayBlock toggles the block and returns the platform's resulting state.
func (p *Prober) SetForcedPlayBlock(ctx context.Context, owner, accountID, game string, enabled bool) (bool, error) {
	c, cred, err := p.client(ctx, owner)
	if err != nil {
		return false, err
	}
	state, err := c.SetForcedPlayBlock(ctx, cred, accountID, game, enabled)
	if p.cache != nil {
		_ = p.cache.Delete(ctx, probeKey(ProbeForbid, owner, accountID))
	}
	if err != nil {
		return false, platform.CallError(p.platform, "set_forced_play_block", err)
	}
	return state, nil
}
