package testjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/perfgo/flakiness/model"
	"github.com/rs/zerolog"
)

// Actions emitted by test2json.
const (
	ActionRun    = "run"
	ActionPause  = "pause"
	ActionCont   = "cont"
	ActionOutput = "output"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionStart  = "start"

	ActionBuildOutput = "build-output"
)

// TestEvent is one line of `go test -json` output.
type TestEvent struct {
	Time    time.Time // Time the event occurred
	Action  string    // The action taken (run, pause, cont, pass, fail, skip, output)
	Package string    // The package being tested
	Test    string    // The test function name (may be empty for package events)
	Elapsed float64   // Elapsed time in seconds for the specific action
	Output  string    // Output text (may be empty)

	ImportPath  string // Package being built, for build-output events
	FailedBuild string // Set on a package fail caused by a build failure
}

// NodeID joins a package and a test name into a report node id.
func NodeID(pkg, test string) string {
	return pkg + "::" + test
}

var (
	// "    foo_test.go:42: message"
	logLine = regexp.MustCompile(`^\s+([^\s:]+\.go):(\d+): ?(.*)$`)
	framing = []string{"=== RUN", "=== PAUSE", "=== CONT", "=== NAME", "--- PASS", "--- FAIL", "--- SKIP"}
	// "ok  \texample.com/p\t0.01s", "FAIL\texample.com/p [build failed]"
	packageSummary = regexp.MustCompile(`^(ok|FAIL|PASS)(\s+\S+.*)?$`)
)

const (
	unfinishedTest = "test did not finish"
	packageFailed  = "package failed"
)

type pendingTest struct {
	pkg    string
	test   string
	output []string
	// false for output arriving without a run event, e.g. after the test ended
	started bool
}

// packageRun is the state of one package between its start and its final
// pass or fail.
type packageRun struct {
	output     []string
	testFailed bool
}

// Converter turns a `go test -json` stream into call-phase events. Each
// finished test run produces one event, so -count and retries yield repeated
// attempts of the same node.
type Converter struct {
	logger  zerolog.Logger
	locator Locator
	emit    func(model.Event) error

	pending  map[string]*pendingTest
	packages map[string]*packageRun
	builds   map[string][]string
}

// NewConverter creates a Converter. locator may be nil.
func NewConverter(logger zerolog.Logger, locator Locator, emit func(model.Event) error) *Converter {
	return &Converter{
		logger:  logger,
		locator: locator,
		emit:    emit,
		pending:  make(map[string]*pendingTest),
		packages: make(map[string]*packageRun),
		builds:   make(map[string][]string),
	}
}

// Convert reads test2json lines from r until EOF. Lines that are not JSON
// (for example build output) are logged at debug level and ignored. Tests
// still running at EOF are recorded as failed.
func (c *Converter) Convert(r io.Reader) error {
	scanner := newScanner(r)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev TestEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			c.logger.Debug().Str("line", string(line)).Msg("Ignoring non-JSON output")
			continue
		}
		if err := c.Handle(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read go test output: %w", err)
	}
	return c.Flush()
}

// Handle processes a single test2json event.
func (c *Converter) Handle(ev TestEvent) error {
	if ev.Action == ActionBuildOutput {
		c.builds[ev.ImportPath] = append(c.builds[ev.ImportPath], ev.Output)
		return nil
	}
	if ev.Test == "" {
		return c.handlePackage(ev)
	}
	key := NodeID(ev.Package, ev.Test)

	switch ev.Action {
	case ActionRun:
		c.pending[key] = &pendingTest{pkg: ev.Package, test: ev.Test, started: true}
	case ActionOutput:
		p, ok := c.pending[key]
		if !ok {
			p = &pendingTest{pkg: ev.Package, test: ev.Test}
			c.pending[key] = p
		}
		p.output = append(p.output, ev.Output)
	case ActionPass, ActionFail, ActionSkip:
		p := c.pending[key]
		delete(c.pending, key)
		if p == nil {
			p = &pendingTest{pkg: ev.Package, test: ev.Test}
		}
		if ev.Action == ActionFail {
			c.packageRun(ev.Package).testFailed = true
		}
		return c.emit(c.event(ev, p))
	}
	return nil
}

func (c *Converter) packageRun(pkg string) *packageRun {
	run, ok := c.packages[pkg]
	if !ok {
		run = &packageRun{}
		c.packages[pkg] = run
	}
	return run
}

// handlePackage tracks package level events. A failing package records its
// unfinished tests as failed, and records itself when no test explains the
// failure (build errors, init or TestMain panics, crashed test binaries).
func (c *Converter) handlePackage(ev TestEvent) error {
	switch ev.Action {
	case ActionStart:
		c.packages[ev.Package] = &packageRun{}
	case ActionOutput:
		run := c.packageRun(ev.Package)
		run.output = append(run.output, ev.Output)
	case ActionPass, ActionFail, ActionSkip:
		run := c.packageRun(ev.Package)
		delete(c.packages, ev.Package)

		unfinished, err := c.flushPackage(ev.Package)
		if err != nil {
			return err
		}
		if ev.Action != ActionFail || run.testFailed || unfinished > 0 {
			return nil
		}
		return c.emit(c.packageEvent(ev, run))
	}
	return nil
}

func (c *Converter) packageEvent(ev TestEvent, run *packageRun) model.Event {
	body := packageOutput(run.output)
	if ev.FailedBuild != "" {
		if build, ok := c.builds[ev.FailedBuild]; ok {
			body = build
			delete(c.builds, ev.FailedBuild)
		}
	}

	text := strings.TrimSpace(strings.Join(body, ""))
	if text == "" {
		text = packageFailed
	}
	c.logger.Debug().Str("package", ev.Package).Msg("Package failed outside of any test")

	out := model.Event{
		NodeID:          ev.Package,
		Phase:           model.PhaseCall,
		Outcome:         model.StatusFailed,
		DurationSeconds: ev.Elapsed,
		Failure:         &model.Failure{Text: text, Plain: true},
	}
	if len(body) > 0 {
		out.Stdout = []string{strings.Join(body, "")}
	}
	return out
}

// Flush records every test that started but never finished as failed.
func (c *Converter) Flush() error {
	_, err := c.flushPackage("")
	return err
}

// flushPackage records the unfinished tests of pkg, or of all packages when
// pkg is empty, in node id order.
func (c *Converter) flushPackage(pkg string) (int, error) {
	var keys []string
	for key, p := range c.pending {
		if pkg == "" || p.pkg == pkg {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	unfinished := 0
	for _, key := range keys {
		p := c.pending[key]
		delete(c.pending, key)
		if !p.started {
			continue
		}
		unfinished++
		c.logger.Warn().Str("test", key).Msg("Test never finished, recording as failed")

		ev := c.event(TestEvent{Action: ActionFail, Package: p.pkg, Test: p.test}, p)
		if len(userOutput(p.output)) == 0 {
			ev.Failure.Text = unfinishedTest
		}
		if err := c.emit(ev); err != nil {
			return unfinished, err
		}
	}
	return unfinished, nil
}

// Pending returns the number of tests that started but did not finish yet.
func (c *Converter) Pending() int {
	return len(c.pending)
}

func (c *Converter) event(ev TestEvent, p *pendingTest) model.Event {
	out := model.Event{
		NodeID:          NodeID(ev.Package, ev.Test),
		Phase:           model.PhaseCall,
		DurationSeconds: ev.Elapsed,
	}
	if c.locator != nil {
		out.Location = c.locator.Declaration(ev.Package, ev.Test)
	}

	body := userOutput(p.output)
	switch ev.Action {
	case ActionPass:
		out.Outcome = model.StatusPassed
	case ActionSkip:
		out.Outcome = model.StatusSkipped
		out.SkipReason = skipReason(body)
	case ActionFail:
		out.Outcome = model.StatusFailed
		out.Failure = c.failure(ev.Package, body)
	}
	if len(body) > 0 {
		out.Stdout = []string{strings.Join(body, "")}
	}
	return out
}

func (c *Converter) failure(pkg string, body []string) *model.Failure {
	text := strings.TrimSpace(strings.Join(body, ""))
	if text == "" {
		text = "test failed"
	}
	f := &model.Failure{Text: text}

	for _, line := range body {
		m := logLine.FindStringSubmatch(strings.TrimRight(line, "\n"))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 {
			continue
		}
		line0 := n - 1
		f.Crash = &model.Crash{
			Path:    c.sourcePath(pkg, m[1]),
			Line:    &line0,
			Message: m[3],
		}
		break
	}
	return f
}

func (c *Converter) sourcePath(pkg, file string) string {
	if filepath.IsAbs(file) || c.locator == nil {
		return file
	}
	if dir, ok := c.locator.Dir(pkg); ok {
		return filepath.Join(dir, file)
	}
	return file
}

// userOutput drops the framing lines test2json reports as output.
func userOutput(output []string) []string {
	var body []string
	for _, line := range output {
		trimmed := strings.TrimLeft(line, " ")
		if isFraming(trimmed) {
			continue
		}
		body = append(body, line)
	}
	return body
}

// packageOutput drops the summary lines go test prints for every package.
func packageOutput(output []string) []string {
	var body []string
	for _, line := range output {
		if packageSummary.MatchString(strings.TrimRight(line, "\n")) {
			continue
		}
		body = append(body, line)
	}
	return body
}

func isFraming(line string) bool {
	for _, prefix := range framing {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// skipReason returns the messages logged by the test before it was skipped,
// without their source prefixes.
func skipReason(body []string) string {
	var msgs []string
	for _, line := range body {
		line = strings.TrimRight(line, "\n")
		if m := logLine.FindStringSubmatch(line); m != nil {
			msgs = append(msgs, m[3])
			continue
		}
		if s := strings.TrimSpace(line); s != "" {
			msgs = append(msgs, s)
		}
	}
	return strings.Join(msgs, "\n")
}
