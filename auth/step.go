package auth

// step names one stage of the authorization-code flow. The flow is modeled as
// an explicit progression so a failure always reports the exact stage it
// happened at.
type step int

const (
	stepAuthorize step = iota
	stepLogin
	stepChallengeRequest
	stepChallengeSubmit
	stepExchange
)

func (s step) String() string {
	switch s {
	case stepAuthorize:
		return "authorize"
	case stepLogin:
		return "login"
	case stepChallengeRequest:
		return "challenge-request"
	case stepChallengeSubmit:
		return "challenge-submit"
	case stepExchange:
		return "exchange"
	}
	return "unknown"
}
