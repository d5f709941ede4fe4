package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/status"
)

func ps(p model.Platform, raw string, sub int) PlatformState {
	return PlatformState{
		Platform: p,
		ItemID:   string(p) + "-item",
		Status:   status.Normalize(status.Input{Platform: p, Raw: raw, SubCode: sub}),
	}
}

func types(acts []Action) map[model.Platform]ActionType {
	m := map[model.Platform]ActionType{}
	for _, a := range acts {
		m[a.Platform] = a.Type
	}
	return m
}

func TestPlan_RentingDelistsOthers(t *testing.T) {
	t.Parallel()

	acts := Plan(AccountSnapshot{
		Owner:     "o",
		AccountID: "A1",
		Platforms: []PlatformState{
			ps(model.PlatformZHW, "2", 0),   // renting
			ps(model.PlatformUHZ, "listed", 0),
			ps(model.PlatformUUZH, "down", 0), // delisted, must stay off
		},
	})
	require.Len(t, acts, 1)
	require.Equal(t, ActionDelist, acts[0].Type)
	require.Equal(t, model.PlatformUHZ, acts[0].Platform)
	require.Equal(t, "uhz-item", acts[0].ItemID)
	require.Equal(t, "renting on zhw", acts[0].Reason)
}

func TestPlan_RentingNeverRelists(t *testing.T) {
	t.Parallel()

	raws := map[model.Platform][]string{
		model.PlatformZHW:  {"1", "0", "2", "3"},
		model.PlatformUHZ:  {"listed", "unlisted", "renting", "frozen"},
		model.PlatformUUZH: {"up", "down", "rent", "abnormal"},
	}
	for _, a := range raws[model.PlatformZHW] {
		for _, b := range raws[model.PlatformUHZ] {
			for _, c := range raws[model.PlatformUUZH] {
				snap := AccountSnapshot{AccountID: "X", Platforms: []PlatformState{
					ps(model.PlatformZHW, a, 0), ps(model.PlatformUHZ, b, 0), ps(model.PlatformUUZH, c, 0),
				}}
				renting := false
				for _, p := range snap.Platforms {
					renting = renting || p.Status.Code == model.StatusRenting
				}
				for _, act := range Plan(snap) {
					if renting {
						require.NotEqual(t, ActionRelist, act.Type, "%s/%s/%s", a, b, c)
					}
				}
			}
		}
	}
}

func TestPlan_BlacklistDelistsAll(t *testing.T) {
	t.Parallel()

	acts := Plan(AccountSnapshot{
		AccountID:       "A1",
		Blacklisted:     true,
		BlacklistReason: model.ReasonManual,
		Platforms: []PlatformState{
			ps(model.PlatformZHW, "1", 0),
			ps(model.PlatformUHZ, "listed", 0),
			ps(model.PlatformUUZH, "down", 0),
		},
	})
	require.Equal(t, map[model.Platform]ActionType{
		model.PlatformZHW: ActionDelist,
		model.PlatformUHZ: ActionDelist,
	}, types(acts))
	require.Equal(t, "manual blacklist", acts[0].Reason)

	acts = Plan(AccountSnapshot{
		AccountID:       "A1",
		Blacklisted:     true,
		BlacklistReason: model.ReasonCooldown,
		Platforms:       []PlatformState{ps(model.PlatformZHW, "1", 0)},
	})
	require.Equal(t, "blacklisted: cooldown", acts[0].Reason)
}

func TestPlan_PlatformSystemOff(t *testing.T) {
	t.Parallel()

	acts := Plan(AccountSnapshot{
		AccountID: "A1",
		Platforms: []PlatformState{
			ps(model.PlatformZHW, "1", 0),
			ps(model.PlatformUUZH, "down", 1001),
		},
	})
	require.Len(t, acts, 1)
	require.Equal(t, ActionDelist, acts[0].Type)
	require.Equal(t, "online play detected by uuzh", acts[0].Reason)

	acts = Plan(AccountSnapshot{
		AccountID: "A1",
		Platforms: []PlatformState{
			ps(model.PlatformZHW, "1", 0),
			ps(model.PlatformUUZH, "down", 1002),
		},
	})
	require.Equal(t, "system delist on uuzh", acts[0].Reason)
}

func TestPlan_RelistGatedByRestrictedLike(t *testing.T) {
	t.Parallel()

	gated := ps(model.PlatformUUZH, "down", 0)
	gated.Restricted = true
	acts := Plan(AccountSnapshot{
		AccountID: "A1",
		Platforms: []PlatformState{
			ps(model.PlatformZHW, "0", 0),      // delisted: relist
			ps(model.PlatformUHZ, "frozen", 0), // restricted: untouched
			gated,                              // external gate: untouched
		},
	})
	require.Len(t, acts, 1)
	require.Equal(t, ActionRelist, acts[0].Type)
	require.Equal(t, model.PlatformZHW, acts[0].Platform)

	acts = Plan(AccountSnapshot{
		AccountID: "A1",
		Platforms: []PlatformState{
			ps(model.PlatformZHW, "3", 0),        // review failed
			ps(model.PlatformUHZ, "listed", 0),   // already listed
			ps(model.PlatformUUZH, "whatever", 0), // unknown
		},
	})
	require.Empty(t, acts)
}

func TestPlanAll_UsesBlacklist(t *testing.T) {
	t.Parallel()

	snaps := []AccountSnapshot{
		{Owner: "o", AccountID: "A1", Platforms: []PlatformState{ps(model.PlatformZHW, "1", 0)}},
		{Owner: "o", AccountID: "A2", Platforms: []PlatformState{ps(model.PlatformZHW, "0", 0)}},
	}
	bl := model.Blacklist{"A1": {Owner: "o", AccountID: "A1", Reason: model.ReasonOnlineRisk}}
	acts := PlanAll(snaps, bl)
	require.Len(t, acts, 2)
	require.Equal(t, "A1", acts[0].AccountID)
	require.Equal(t, ActionDelist, acts[0].Type)
	require.Equal(t, "blacklisted: online-risk", acts[0].Reason)
	require.Equal(t, "A2", acts[1].AccountID)
	require.Equal(t, ActionRelist, acts[1].Type)
}
