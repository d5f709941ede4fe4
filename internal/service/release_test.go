package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/platform"
)

func cooldownReq(id string) ReleaseRequest {
	return ReleaseRequest{
		Owner: "o1", AccountID: id, Actor: actorCooldown,
		Expect: []model.BlacklistReason{model.ReasonCooldown},
	}
}

func (h *harness) putEntry(id string, r model.BlacklistReason) {
	h.st.blacklist[k("o1", id)] = model.BlacklistEntry{Owner: "o1", AccountID: id, Reason: r}
}

func TestReleaseGuard_Removes(t *testing.T) {
	h := newHarness(t)
	h.st.addCred("o1", model.PlatformZHW)
	h.putEntry("ACC1", model.ReasonCooldown)

	res, err := h.release.Release(context.Background(), cooldownReq("ACC1"))
	require.NoError(t, err)
	require.True(t, res.Removed)
	require.False(t, res.Absent)
	require.False(t, res.Skipped)
	require.NotContains(t, h.st.blacklist, k("o1", "ACC1"))
	require.Equal(t, []string{"remove:ACC1:cooldown:cooldown"}, h.st.history)
}

func TestReleaseGuard_AbsentCountsAsRemoved(t *testing.T) {
	h := newHarness(t)

	res, err := h.release.Release(context.Background(), cooldownReq("ACC9"))
	require.NoError(t, err)
	require.True(t, res.Removed)
	require.True(t, res.Absent)
	require.Zero(t, h.client.queries)
}

func TestReleaseGuard_OnlineKeepsEntryUnderLiveReason(t *testing.T) {
	h := newHarness(t)
	h.st.addCred("o1", model.PlatformZHW)
	h.putEntry("ACC1", model.ReasonCooldown)
	h.client.online["ACC1"] = true
	h.client.forbid["ACC1"] = true

	res, err := h.release.Release(context.Background(), cooldownReq("ACC1"))
	require.NoError(t, err)
	require.True(t, res.Blocked)
	require.False(t, res.Removed)
	require.Equal(t, model.ReasonOnlineRisk, res.Reason)
	require.True(t, res.Online)
	require.True(t, res.Forbid)

	e := h.st.blacklist[k("o1", "ACC1")]
	require.Equal(t, model.ReasonOnlineRisk, e.Reason)
	require.JSONEq(t, `{"source":"cooldown","online":true,"forbidden":true,"detected_at":"2026-03-01T12:00:00Z"}`, string(e.Detail))
}

func TestReleaseGuard_NotOwned(t *testing.T) {
	h := newHarness(t)
	h.st.addCred("o1", model.PlatformZHW)
	h.putEntry("ACC3", model.ReasonManual)

	res, err := h.release.Release(context.Background(), cooldownReq("ACC3"))
	require.NoError(t, err)
	require.True(t, res.NotOwned)
	require.False(t, res.Removed)
	require.Equal(t, model.ReasonManual, h.st.blacklist[k("o1", "ACC3")].Reason)
	require.Zero(t, h.client.queries)
}

func TestReleaseGuard_NoCredential(t *testing.T) {
	t.Run("fail open", func(t *testing.T) {
		h := newHarness(t)
		h.putEntry("ACC1", model.ReasonCooldown)

		res, err := h.release.Release(context.Background(), cooldownReq("ACC1"))
		require.NoError(t, err)
		require.True(t, res.Skipped)
		require.True(t, res.Removed)
		require.NotContains(t, h.st.blacklist, k("o1", "ACC1"))
	})
	t.Run("fail closed", func(t *testing.T) {
		h := newHarness(t)
		h.release.FailOpen = false
		h.putEntry("ACC1", model.ReasonCooldown)

		_, err := h.release.Release(context.Background(), cooldownReq("ACC1"))
		require.ErrorIs(t, err, errs.ErrGuardCheck)
		require.Contains(t, h.st.blacklist, k("o1", "ACC1"))
	})
}

func TestReleaseGuard_ProbeErrorFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.st.addCred("o1", model.PlatformZHW)
	h.putEntry("ACC1", model.ReasonCooldown)
	h.client.onlineErr = errBoom

	_, err := h.release.Release(context.Background(), cooldownReq("ACC1"))
	require.ErrorIs(t, err, errs.ErrGuardCheck)
	require.Contains(t, h.st.blacklist, k("o1", "ACC1"))
}

func TestReleaseGuard_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := h.release.Release(context.Background(), ReleaseRequest{Owner: "o1"})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestProber_CachesUntilFresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.st.addCred("o1", model.PlatformZHW)
	h.client.online["ACC1"] = true

	on, err := h.prober.Check(ctx, ProbeOnline, "o1", "ACC1", "g", false)
	require.NoError(t, err)
	require.True(t, on)

	h.client.online["ACC1"] = false
	on, err = h.prober.Check(ctx, ProbeOnline, "o1", "ACC1", "g", false)
	require.NoError(t, err)
	require.True(t, on, "served from cache")
	require.Equal(t, 1, h.client.queries)

	on, err = h.prober.Check(ctx, ProbeOnline, "o1", "ACC1", "g", true)
	require.NoError(t, err)
	require.False(t, on)

	h.client.online["ACC1"] = true
	h.clk.Advance(2 * time.Minute)
	on, err = h.prober.Check(ctx, ProbeOnline, "o1", "ACC1", "g", false)
	require.NoError(t, err)
	require.True(t, on, "expired entry is refreshed")
	require.Equal(t, 3, h.client.queries)
}

func TestProber_ErrorsAreUpstream(t *testing.T) {
	h := newHarness(t)
	h.st.addCred("o1", model.PlatformZHW)
	h.client.onlineErr = errBoom

	_, err := h.prober.Check(context.Background(), ProbeOnline, "o1", "ACC1", "g", true)
	require.True(t, errs.IsUpstream(err))
	require.ErrorIs(t, err, errBoom)

	_, err = h.prober.Check(context.Background(), ProbeOnline, "o2", "ACC1", "g", true)
	require.ErrorIs(t, err, errs.ErrNoCredential)
}

func TestReleaseGuard_NoGatewayFollowsFailPolicy(t *testing.T) {
	h := newHarness(t)
	h.st.addCred("o1", model.PlatformZHW)
	h.putEntry("ACC1", model.ReasonCooldown)
	log := zaptest.NewLogger(t)
	prober := NewProber(platform.Registry{}, fakeCreds{h.st}, nil, model.PlatformZHW, time.Minute, log)

	strict := NewReleaseGuard(prober, fakeBlacklist{h.st}, false, log)
	_, err := strict.Release(context.Background(), cooldownReq("ACC1"))
	require.ErrorIs(t, err, errs.ErrGuardCheck)
	require.Contains(t, h.st.blacklist, k("o1", "ACC1"))

	open := NewReleaseGuard(prober, fakeBlacklist{h.st}, true, log)
	res, err := open.Release(context.Background(), cooldownReq("ACC1"))
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.True(t, res.Removed)
	require.NotContains(t, h.st.blacklist, k("o1", "ACC1"))
}
