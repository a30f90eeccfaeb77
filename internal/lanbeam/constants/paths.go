package constants

import "time"

const (
	InfoPath      = "/api/localsend/v2/info"
	RegisterPath  = "/api/localsend/v2/register"
	PreuploadPath = "/api/localsend/v2/prepare-upload"
	UploadPath    = "/api/localsend/v2/upload"
	CancelPath    = "/api/localsend/v2/cancel"
)

const (
	// DiscoveryInterval is how often the local identity is announced.
	DiscoveryInterval = 5 * time.Second
	// DiscoveryRestartDelay is the backoff before rebinding after a socket error.
	DiscoveryRestartDelay = 5 * time.Second

	// PrepareTimeout covers a receiver holding the prepare-upload
	// connection open while a human decides.
	PrepareTimeout = 30 * time.Second
	// UploadTimeout bounds a single file's upload request.
	UploadTimeout = 60 * time.Second

	// PendingDecisionTimeout expires un-actioned pending transfers;
	// expiry resolves as a rejection.
	PendingDecisionTimeout = 60 * time.Second
	// SessionIdleTimeout expires sessions whose sender went away
	// without cancelling.
	SessionIdleTimeout = 5 * time.Minute
)
