package planner

import (
	"context"

	"go.uber.org/zap"

	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/platform"
)

// OutcomeKind classifies how an action ended.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeFailure   OutcomeKind = "failure"   // platform answered and refused
	OutcomeException OutcomeKind = "exception" // call or credential error
)

// Outcome is the recorded result of one action.
type Outcome struct {
	Action Action      `json:"action"`
	Kind   OutcomeKind `json:"kind"`
	Error  string      `json:"error,omitempty"`
}

// CredentialSource resolves the credential to act with.
type CredentialSource interface {
	Get(ctx context.Context, owner string, p model.Platform) (model.Credential, error)
}

// Executor applies actions against platform clients.
type Executor struct {
	clients platform.Registry
	creds   CredentialSource
	log     *zap.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(clients platform.Registry, creds CredentialSource, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{clients: clients, creds: creds, log: log}
}

// Execute runs every action; a failure on one never stops the rest.
func (e *Executor) Execute(ctx context.Context, actions []Action) []Outcome {
	out := make([]Outcome, 0, len(actions))
	for _, a := range actions {
		o := e.one(ctx, a)
		if o.Kind != OutcomeSuccess {
			e.log.Warn("listing action not applied",
				zap.String("owner", a.Owner),
				zap.String("account", a.AccountID),
				zap.String("platform", string(a.Platform)),
				zap.String("type", string(a.Type)),
				zap.String("kind", string(o.Kind)),
				zap.String("error", o.Error),
			)
		}
		out = append(out, o)
	}
	return out
}

func (e *Executor) one(ctx context.Context, a Action) Outcome {
	fail := func(kind OutcomeKind, err error) Outcome {
		return Outcome{Action: a, Kind: kind, Error: err.Error()}
	}
	c, err := e.clients.Get(a.Platform)
	if err != nil {
		return fail(OutcomeException, err)
	}
	cred, err := e.creds.Get(ctx, a.Owner, a.Platform)
	if err != nil {
		return fail(OutcomeException, err)
	}
	ok, err := c.SetListing(ctx, cred, a.ItemID, a.Type == ActionRelist)
	if err != nil {
		return fail(OutcomeException, err)
	}
	if !ok {
		return fail(OutcomeFailure, platform.Rejected(a.Platform, "set_listing"))
	}
	return Outcome{Action: a, Kind: OutcomeSuccess}
}

// Summary counts outcomes by kind and lists accounts whose actions all succeeded.
type Summary struct {
	Success   int      `json:"success"`
	Failure   int      `json:"failure"`
	Exception int      `json:"exception"`
	Accounts  []string `json:"succeeded_accounts"`
}

// Summarize folds outcomes into a Summary.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	bad := map[string]bool{}
	seen := map[string]bool{}
	var order []string
	for _, o := range outcomes {
		id := o.Action.AccountID
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
		switch o.Kind {
		case OutcomeSuccess:
			s.Success++
		case OutcomeFailure:
			s.Failure++
			bad[id] = true
		default:
			s.Exception++
			bad[id] = true
		}
	}
	for _, id := range order {
		if !bad[id] {
			s.Accounts = append(s.Accounts, id)
		}
	}
	return s
}
