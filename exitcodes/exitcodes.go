// Package exitcodes defines the exit codes used by apireport.
package exitcodes

// * Success (0): all tests passed and every report was delivered
// * TestFailure (1): one or more tests failed
// * ReportingErr (3): a hook failed, usually because the collector could not be reached
// * UsageErr (4): invalid command line or configuration, nothing was run
const (
	Success      = 0
	TestFailure  = 1
	ReportingErr = 3
	UsageErr     = 4
)
