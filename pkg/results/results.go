package results

// Reason classifies a failure so callers can decide whether to retry,
// abort a single job or abort the whole command.
type Reason string

const (
	// ReasonUnknown is default reason. Occurrences of this reason indicate a
	// failure to identify the reason for an error somewhere.
	ReasonUnknown Reason = "unknown"

	// ReasonTransientRemote is a remote service that is momentarily
	// overloaded or unavailable. Callers retry with a fixed backoff.
	ReasonTransientRemote Reason = "transient_remote"
	// ReasonPermanentRemote is a remote failure that will not go away on
	// retry: bad request, authentication, unknown job.
	ReasonPermanentRemote Reason = "permanent_remote"
	// ReasonLocalIO is a local filesystem failure.
	ReasonLocalIO Reason = "local_io"
	// ReasonAssemblyUnreadable is a test assembly that could not be inspected.
	ReasonAssemblyUnreadable Reason = "assembly_unreadable"
	// ReasonLedger is a missing or unparsable run ledger record.
	ReasonLedger Reason = "ledger"
)
