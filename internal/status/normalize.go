// Package status folds every platform's raw listing state into one ordered code space.
package status

import (
	"strings"

	"github.com/rentwatch/listing-guard/internal/model"
)

// SystemOffKind explains why a platform forced a listing off.
type SystemOffKind string

// System-off kinds.
const (
	SystemOffNone       SystemOffKind = ""
	SystemOffOnlinePlay SystemOffKind = "online-play"
	SystemOffGeneric    SystemOffKind = "system"
)

// Input is one platform's raw view of an account.
type Input struct {
	Platform    model.Platform
	Raw         string
	AuditReason string
	SubCode     int
	// Restricted is an external "platform-restricted" annotation.
	Restricted       bool
	RestrictedReason string
}

// Normalized is the platform-independent status of one listing.
type Normalized struct {
	Platform  model.Platform   `json:"platform"`
	Code      model.StatusCode `json:"code"`
	Label     string           `json:"label"`
	Reason    string           `json:"reason,omitempty"`
	Level     int              `json:"level"`
	SystemOff SystemOffKind    `json:"system_off,omitempty"`
}

// uuzh sub-codes attached to a forced delist.
const (
	uuzhSubOnlinePlay = 1001
	uuzhSubSystemOff  = 1002
)

var labels = map[model.StatusCode]string{
	model.StatusListed:       "listed",
	model.StatusDelisted:     "off shelf",
	model.StatusRenting:      "renting",
	model.StatusReviewFailed: "review failed",
	model.StatusAuthAbnormal: "authorization abnormal",
	model.StatusRestricted:   "restricted",
	model.StatusUnknown:      "unknown",
}

// Normalize maps a raw platform status into the shared code space.
func Normalize(in Input) Normalized {
	raw := strings.ToLower(strings.TrimSpace(in.Raw))
	var (
		code  model.StatusCode
		off   SystemOffKind
		label string
	)
	switch in.Platform {
	case model.PlatformZHW:
		code, label = zhw(raw, in.AuditReason)
	case model.PlatformUHZ:
		code, label = uhz(raw, in.AuditReason)
	case model.PlatformUUZH:
		code, off = uuzh(raw, in.SubCode)
	default:
		code = model.StatusUnknown
	}

	reason := strings.TrimSpace(in.AuditReason)
	if in.Restricted && code.Level() < model.StatusRestricted.Level() && code != model.StatusRenting {
		code, label = model.StatusRestricted, "platform restricted"
		reason = in.RestrictedReason
	}
	if label == "" {
		label = labels[code]
	}
	return Normalized{
		Platform:  in.Platform,
		Code:      code,
		Label:     label,
		Reason:    reason,
		Level:     code.Level(),
		SystemOff: off,
	}
}

func zhw(raw, audit string) (model.StatusCode, string) {
	if containsAny(audit, "登录验证", "login verification") {
		return model.StatusAuthAbnormal, "login verification required"
	}
	switch raw {
	case "1", "on_sale":
		return model.StatusListed, ""
	case "0", "off_sale":
		return model.StatusDelisted, ""
	case "2", "renting":
		return model.StatusRenting, ""
	case "3", "audit_failed":
		return model.StatusReviewFailed, ""
	case "4", "exception":
		return model.StatusAuthAbnormal, ""
	}
	return model.StatusUnknown, ""
}

func uhz(raw, audit string) (model.StatusCode, string) {
	if containsAny(audit, "密码错误", "password") {
		return model.StatusAuthAbnormal, "password changed"
	}
	switch raw {
	case "listed", "on":
		return model.StatusListed, ""
	case "unlisted", "off":
		return model.StatusDelisted, ""
	case "renting", "rented":
		return model.StatusRenting, ""
	case "review_rejected":
		return model.StatusReviewFailed, ""
	case "frozen":
		return model.StatusRestricted, ""
	case "auth_expired":
		return model.StatusAuthAbnormal, ""
	}
	return model.StatusUnknown, ""
}

func uuzh(raw string, sub int) (model.StatusCode, SystemOffKind) {
	switch raw {
	case "up":
		return model.StatusListed, SystemOffNone
	case "down":
		switch sub {
		case uuzhSubOnlinePlay:
			return model.StatusDelisted, SystemOffOnlinePlay
		case uuzhSubSystemOff:
			return model.StatusDelisted, SystemOffGeneric
		}
		return model.StatusDelisted, SystemOffNone
	case "rent":
		return model.StatusRenting, SystemOffNone
	case "audit_reject":
		return model.StatusReviewFailed, SystemOffNone
	case "abnormal":
		return model.StatusAuthAbnormal, SystemOffNone
	}
	return model.StatusUnknown, SystemOffNone
}

func containsAny(s string, subs ...string) bool {
	if s == "" {
		return false
	}
	ls := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(ls, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// PickOverall returns the most severe entry; ties keep the earliest.
func PickOverall(all []Normalized) (Normalized, bool) {
	if len(all) == 0 {
		return Normalized{}, false
	}
	best := all[0]
	for _, n := range all[1:] {
		if n.Level > best.Level {
			best = n
		}
	}
	return best, true
}

// RestrictedLike reports whether the status blocks automatic relisting.
func (n Normalized) RestrictedLike() bool { return n.Code.RestrictedLike() }
