package validator

// Outcome classifies a validation verdict by which path produced it.
type Outcome int

const (
	// Rejected means the session must not be kept alive.
	Rejected Outcome = iota
	// RemoteConfirmed means the remote endpoint vouched for the session.
	RemoteConfirmed
	// RemoteUnavailableLocalConfirmed means the remote endpoint could not
	// be reached and the local structural and age checks passed.
	RemoteUnavailableLocalConfirmed
)

func (o Outcome) String() string {
	switch o {
	case RemoteConfirmed:
		return "remote_confirmed"
	case RemoteUnavailableLocalConfirmed:
		return "remote_unavailable_local_confirmed"
	default:
		return "rejected"
	}
}

// Reason explains a Rejected outcome.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonRateLimited      Reason = "rate_limited"
	ReasonMalformedSession Reason = "malformed_session"
	ReasonExpired          Reason = "expired"
	ReasonMalformedToken   Reason = "malformed_token"
	ReasonRemoteRejected   Reason = "remote_rejected"
)

// Result is the verdict of Validate.
type Result struct {
	Outcome Outcome
	Reason  Reason

	// RemoteErr is the transport or endpoint error that sent validation
	// down the local path, if any.
	RemoteErr error
}

// Valid reports whether the session may stay alive.
func (r Result) Valid() bool {
	return r.Outcome != Rejected
}

func rejected(reason Reason, remoteErr error) Result {
	return Result{Outcome: Rejected, Reason: reason, RemoteErr: remoteErr}
}
