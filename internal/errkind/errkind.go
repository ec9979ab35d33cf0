// Package errkind enumerates the error kinds surfaced across the
// coordinator, worker, and cache layers, and the policy for which kinds are
// safely retried.
package errkind

// Kind classifies a surfaced error by where in the system it originated.
type Kind string

const (
	ProtocolParse          Kind = "ProtocolParse"
	TransportClosed        Kind = "TransportClosed"
	TransportOversize      Kind = "TransportOversize"
	AuthRejected           Kind = "AuthRejected"
	WorkerNotFound         Kind = "WorkerNotFound"
	NoEligibleWorker       Kind = "NoEligibleWorker"
	JobTimeout             Kind = "JobTimeout"
	JobExecutionFailed     Kind = "JobExecutionFailed"
	DependencyUnsatisfied  Kind = "DependencyUnsatisfied"
	QueueFull              Kind = "QueueFull"
	BuildCancelled         Kind = "BuildCancelled"
	CacheMiss              Kind = "CacheMiss"
	CacheCorrupt           Kind = "CacheCorrupt"
	CacheIoError           Kind = "CacheIoError"
	RemoteCacheUnavailable Kind = "RemoteCacheUnavailable"
)

// Error is the common shape for every surfaced error: a kind, a human
// message, and whichever of job/worker/build ID applies.
type Error struct {
	Kind     Kind
	Message  string
	JobID    string
	WorkerID string
	BuildID  string
}

func (e *Error) Error() string {
	return e.Message
}

// New constructs an Error with no correlating IDs set.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithJob returns a copy of e with JobID set.
func (e *Error) WithJob(jobID string) *Error {
	c := *e
	c.JobID = jobID
	return &c
}

// WithWorker returns a copy of e with WorkerID set.
func (e *Error) WithWorker(workerID string) *Error {
	c := *e
	c.WorkerID = workerID
	return &c
}

// WithBuild returns a copy of e with BuildID set.
func (e *Error) WithBuild(buildID string) *Error {
	c := *e
	c.BuildID = buildID
	return &c
}

// retryable mirrors spec §7's propagation policy: job execution errors and
// timeouts are retried up to max_retries; scheduling, auth, dependency, and
// cancellation errors are returned to the caller without retry.
var retryable = map[Kind]bool{
	JobExecutionFailed:     true,
	JobTimeout:             true,
	TransportClosed:        true,
	RemoteCacheUnavailable: true,
	CacheIoError:           true,

	ProtocolParse:         false,
	TransportOversize:     false,
	AuthRejected:          false,
	WorkerNotFound:        false,
	NoEligibleWorker:      false,
	DependencyUnsatisfied: false,
	QueueFull:             false,
	BuildCancelled:        false,
	CacheMiss:             false,
	CacheCorrupt:          false,
}

// IsRetryable reports whether an error of this kind should be retried per
// the propagation policy. Unknown kinds default to non-retryable.
func IsRetryable(k Kind) bool {
	return retryable[k]
}
