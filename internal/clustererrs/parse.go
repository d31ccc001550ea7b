package clustererrs

import "strings"

// ParseServerError classifies a raw error string returned by a node (e.g.
// "MOVED 6918 host:6380", "TRYAGAIN", "WRONGTYPE Operation against a key...")
// into a *Error. Unrecognized leading tokens become KindExtension, preserving
// the token as Extension and the full text as Message, per spec.md's
// "any server error passed through verbatim with code + detail" rule.
func ParseServerError(raw string) *Error {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "redis: ")
	raw = strings.TrimPrefix(raw, "-")
	if raw == "" {
		return New(KindExtension, "empty error")
	}
	fields := strings.Fields(raw)
	token := strings.ToUpper(fields[0])
	switch token {
	case "MOVED":
		return New(KindMoved, raw)
	case "ASK":
		return New(KindAsk, raw)
	case "CROSSSLOT":
		return New(KindCrossSlot, raw)
	case "TRYAGAIN":
		return New(KindTryAgain, raw)
	case "CLUSTERDOWN":
		return New(KindClusterDown, raw)
	case "LOADING":
		return New(KindLoading, raw)
	case "MASTERDOWN":
		return New(KindMasterDown, raw)
	case "NOAUTH", "WRONGPASS":
		return New(KindAuthenticationFailed, raw)
	case "NOPERM":
		return New(KindNoPermission, raw)
	case "WRONGTYPE":
		return New(KindWrongType, raw)
	case "READONLY":
		return New(KindReadOnly, raw)
	default:
		return &Error{Kind: KindExtension, Message: raw, Extension: token}
	}
}

// RedirectTarget extracts (slot, addr) from a MOVED/ASK error message body.
// Returns ok=false if the message doesn't match the "<TOKEN> <slot>
// <host>:<port>" shape.
func RedirectTarget(raw string) (slot int, addr string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) < 3 {
		return 0, "", false
	}
	switch strings.ToUpper(fields[0]) {
	case "MOVED", "ASK":
	default:
		return 0, "", false
	}
	s, err := parseInt(fields[1])
	if err != nil {
		return 0, "", false
	}
	addr = strings.Trim(fields[2], ",")
	return s, addr, true
}

func parseInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, New(KindClientError, "not a number: "+s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
