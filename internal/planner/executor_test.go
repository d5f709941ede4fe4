package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/platform"
)

type fakeClient struct {
	setOK  bool
	setErr error
	calls  []string
}

func (f *fakeClient) ListListings(context.Context, model.Credential) ([]model.Listing, error) {
	return nil, nil
}
func (f *fakeClient) SetListing(_ context.Context, _ model.Credential, itemID string, on bool) (bool, error) {
	state := "off"
	if on {
		state = "on"
	}
	f.calls = append(f.calls, itemID+":"+state)
	return f.setOK, f.setErr
}
func (f *fakeClient) QueryOnline(context.Context, model.Credential, string, string) (bool, error) {
	return false, nil
}
func (f *fakeClient) QueryForcedPlayBlock(context.Context, model.Credential, string, string) (bool, error) {
	return false, nil
}
func (f *fakeClient) SetForcedPlayBlock(context.Context, model.Credential, string, string, bool) (bool, error) {
	return false, nil
}
func (f *fakeClient) ListOrders(context.Context, model.Credential, time.Time) ([]model.Order, error) {
	return nil, nil
}

type fakeCreds struct{ missing map[model.Platform]bool }

func (f fakeCreds) Get(_ context.Context, owner string, p model.Platform) (model.Credential, error) {
	if f.missing[p] {
		return model.Credential{}, errs.ErrNoCredential
	}
	return model.Credential{Owner: owner, Platform: p, Payload: []byte(`{}`), Enabled: true}, nil
}

func TestExecutor_PerActionOutcomes(t *testing.T) {
	ok := &fakeClient{setOK: true}
	refused := &fakeClient{setOK: false}
	broken := &fakeClient{setErr: errors.New("timeout")}
	ex := NewExecutor(platform.Registry{
		model.PlatformZHW:  ok,
		model.PlatformUHZ:  refused,
		model.PlatformUUZH: broken,
	}, fakeCreds{}, zaptest.NewLogger(t))

	acts := []Action{
		{Type: ActionDelist, Owner: "o", AccountID: "A1", Platform: model.PlatformZHW, ItemID: "z1"},
		{Type: ActionRelist, Owner: "o", AccountID: "A2", Platform: model.PlatformUHZ, ItemID: "u1"},
		{Type: ActionRelist, Owner: "o", AccountID: "A3", Platform: model.PlatformUUZH, ItemID: "q1"},
		{Type: ActionRelist, Owner: "o", AccountID: "A1", Platform: model.PlatformZHW, ItemID: "z2"},
	}
	out := ex.Execute(context.Background(), acts)
	require.Len(t, out, 4)
	require.Equal(t, OutcomeSuccess, out[0].Kind)
	require.Equal(t, OutcomeFailure, out[1].Kind)
	require.Equal(t, OutcomeException, out[2].Kind)
	require.Contains(t, out[2].Error, "timeout")
	require.Equal(t, OutcomeSuccess, out[3].Kind, "later actions still run")
	require.Equal(t, []string{"z1:off", "z2:on"}, ok.calls)

	sum := Summarize(out)
	require.Equal(t, 2, sum.Success)
	require.Equal(t, 1, sum.Failure)
	require.Equal(t, 1, sum.Exception)
	require.Equal(t, []string{"A1"}, sum.Accounts)
}

func TestExecutor_MissingCredentialOrClient(t *testing.T) {
	ex := NewExecutor(platform.Registry{model.PlatformZHW: &fakeClient{setOK: true}},
		fakeCreds{missing: map[model.Platform]bool{model.PlatformZHW: true}}, nil)

	out := ex.Execute(context.Background(), []Action{
		{Type: ActionDelist, Owner: "o", AccountID: "A1", Platform: model.PlatformZHW},
		{Type: ActionDelist, Owner: "o", AccountID: "A1", Platform: model.PlatformUHZ},
	})
	require.Equal(t, OutcomeException, out[0].Kind)
	require.Contains(t, out[0].Error, "no usable credential")
	require.Equal(t, OutcomeException, out[1].Kind)
	require.Contains(t, out[1].Error, "unknown platform")
}
