package classifier

import (
	"fmt"
	"strings"

	"firestige.xyz/synguard/internal/core"
)

// Verdict is the action the packet hook takes for a frame.
type Verdict uint8

const (
	Drop Verdict = iota
	Pass
	// RedirectToCookie asks the hook to answer the SYN with a SYN-ACK whose
	// sequence number is Result.Cookie, consuming the SYN.
	RedirectToCookie
)

func (v Verdict) String() string {
	switch v {
	case Drop:
		return "DROP"
	case Pass:
		return "PASS"
	case RedirectToCookie:
		return "REDIRECT_TO_COOKIE"
	default:
		return fmt.Sprintf("verdict(%d)", uint8(v))
	}
}

// Stage is the furthest processing state a frame reached.
type Stage uint8

const (
	StageReceived Stage = iota
	StageParsed
	StageCheckedBlacklist
	StageRateChecked
	StageCookieIssued
	StageCookieValidated
)

var stageNames = [...]string{
	StageReceived:         "RECEIVED",
	StageParsed:           "PARSED",
	StageCheckedBlacklist: "CHECKED_BLACKLIST",
	StageRateChecked:      "RATE_CHECKED",
	StageCookieIssued:     "COOKIE_ISSUED",
	StageCookieValidated:  "COOKIE_VALIDATED",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// Reason explains a verdict.
type Reason uint8

const (
	ReasonMalformed Reason = iota
	ReasonUntracked
	ReasonBlacklisted
	ReasonRateLimited
	ReasonCookieIssued
	ReasonCookieValid
	ReasonCookieInvalid
	ReasonEstablished
	ReasonPassthrough
	ReasonNotTracked
	ReasonInternal
)

var reasonNames = [...]string{
	ReasonMalformed:     "malformed",
	ReasonUntracked:     "untracked",
	ReasonBlacklisted:   "blacklisted",
	ReasonRateLimited:   "rate_limited",
	ReasonCookieIssued:  "cookie_issued",
	ReasonCookieValid:   "cookie_valid",
	ReasonCookieInvalid: "cookie_invalid",
	ReasonEstablished:   "established",
	ReasonPassthrough:   "passthrough",
	ReasonNotTracked:    "not_tracked",
	ReasonInternal:      "internal",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Reasons lists every reason in declaration order.
func Reasons() []Reason {
	out := make([]Reason, len(reasonNames))
	for i := range out {
		out[i] = Reason(i)
	}
	return out
}

// Result is the outcome of classifying one frame.
type Result struct {
	Verdict Verdict
	Reason  Reason
	Stage   Stage
	// Header is valid from StageParsed on.
	Header core.Header
	// Cookie and Options are set for RedirectToCookie (the options to
	// advertise) and for a validated handshake ACK (the options recovered).
	Cookie  uint32
	Options core.TCPOptions
}

// Mode selects what happens to a within-budget SYN.
type Mode uint8

const (
	ModeCookie      Mode = iota // answer with a SYN cookie
	ModePassthrough             // pass to the stack untouched
)

// ParseMode converts a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "cookie":
		return ModeCookie, nil
	case "passthrough":
		return ModePassthrough, nil
	default:
		return ModeCookie, fmt.Errorf("unknown mode %q (must be cookie/passthrough)", s)
	}
}

func (m Mode) String() string {
	if m == ModePassthrough {
		return "passthrough"
	}
	return "cookie"
}
