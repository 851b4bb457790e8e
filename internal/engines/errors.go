package engines

import "errors"

var (
	// ErrUnknownProvider is returned when a race URL matches no supported provider
	ErrUnknownProvider = errors.New("unknown timing provider")

	// ErrProviderNotRegistered is returned when no factory exists for a detected provider
	ErrProviderNotRegistered = errors.New("timing provider not registered")

	// ErrEngineAlreadyRunning is returned when trying to start a running engine
	ErrEngineAlreadyRunning = errors.New("engine is already running")

	// ErrEngineNotRunning is returned when trying to stop an engine that is not running
	ErrEngineNotRunning = errors.New("engine is not running")

	// ErrTooManyErrors is reported through OnFatal when an engine gives up
	ErrTooManyErrors = errors.New("too many consecutive errors")

	// ErrMissingRuns is returned when a RaceFacer document has no data.runs list
	ErrMissingRuns = errors.New("response has no data.runs list")

	// ErrAllProxiesFailed is returned when every proxy attempt of a poll cycle failed
	ErrAllProxiesFailed = errors.New("all proxies failed")
)
