package model

// TestStatus is the outcome of a single attempt, or the outcome an attempt
// was declared to anticipate.
type TestStatus string

const (
	StatusPassed  TestStatus = "passed"
	StatusFailed  TestStatus = "failed"
	StatusSkipped TestStatus = "skipped"
)

// Valid reports whether s is one of the known statuses.
func (s TestStatus) Valid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// UnixMillis is a wall-clock timestamp in milliseconds since the Unix epoch.
type UnixMillis int64

// DurationMillis is a duration in milliseconds.
type DurationMillis int64

// Report is the finalized document describing an entire test run.
type Report struct {
	// Fixed string identifying the producing runner (e.g. "gotest", "pytest")
	Category string `json:"category"`
	// Commit the run was executed against
	CommitID string `json:"commitId"`
	// Project identifier, only present when configured
	FlakinessProject string `json:"flakinessProject,omitempty"`
	// Run start
	StartTimestamp UnixMillis `json:"startTimestamp"`
	// Run duration
	Duration DurationMillis `json:"duration"`
	// Environments the attempts refer to by index
	Environments []Environment `json:"environments"`
	// Tests in first-seen order
	Tests []*Test `json:"tests"`
	// Reserved for hierarchical grouping, always empty
	Suites []Suite `json:"suites"`
}

// Suite is reserved for hierarchical grouping of tests.
type Suite struct {
	Title string  `json:"title"`
	Tests []*Test `json:"tests,omitempty"`
}

// Environment describes the host the attempts ran on.
type Environment struct {
	Name string `json:"name"`
	// Host introspection data
	SystemData *SystemData `json:"systemData,omitempty"`
	// Free-form metadata (prefixed environment variables, runtime version)
	UserSuppliedData map[string]string `json:"userSuppliedData,omitempty"`
}

// SystemData contains operating system information of the host.
type SystemData struct {
	OSName    string `json:"osName,omitempty"`
	OSVersion string `json:"osVersion,omitempty"`
	OSArch    string `json:"osArch,omitempty"`
}

// Test is one logical test: a test function or one parametrized variant.
type Test struct {
	// Qualified name without the source file
	Title string `json:"title"`
	// Declaration site
	Location *Location `json:"location,omitempty"`
	// Attempts in chronological order
	Attempts []*Attempt `json:"attempts"`
	// Bare labels, unique
	Tags []string `json:"tags"`
}

// Attempt is one execution of a test within one retry cycle.
type Attempt struct {
	EnvironmentIdx int            `json:"environmentIdx"`
	Status         TestStatus     `json:"status"`
	ExpectedStatus TestStatus     `json:"expectedStatus"`
	StartTimestamp UnixMillis     `json:"startTimestamp"`
	Duration       DurationMillis `json:"duration"`
	Errors         []ReportError  `json:"errors"`
	Stdout         []STDIOEntry   `json:"stdout,omitempty"`
	Stderr         []STDIOEntry   `json:"stderr,omitempty"`
	Annotations    []Annotation   `json:"annotations,omitempty"`
}

// STDIOEntry is one captured chunk of output. Text is used for valid UTF-8,
// Buffer holds base64 encoded bytes otherwise.
type STDIOEntry struct {
	Text   string `json:"text,omitempty"`
	Buffer string `json:"buffer,omitempty"`
}

// Location points into a file relative to the repository root.
type Location struct {
	// Forward-slash path relative to the git root
	File string `json:"file"`
	// 1-based
	Line int `json:"line"`
	// 1-based
	Column int `json:"column"`
}

// ReportError describes a failure of an attempt.
type ReportError struct {
	Message  string    `json:"message"`
	Stack    string    `json:"stack,omitempty"`
	Snippet  string    `json:"snippet,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Annotation is a typed, described fact about an attempt.
type Annotation struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// AttachmentRef refers to a local file uploaded alongside a report. It is
// never part of the report document itself.
type AttachmentRef struct {
	ContentType string
	ID          string
	Path        string
}
