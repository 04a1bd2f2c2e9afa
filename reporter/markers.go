package reporter

import (
	"fmt"

	"github.com/perfgo/flakiness/model"
)

// markerPolicy decides what a marker contributes to the report.
type markerPolicy int

const (
	// Tag when the marker has no arguments, annotation otherwise.
	markerLabel markerPolicy = iota
	// Structural markers that carry no meaning for the report.
	markerIgnored
	// Markers already represented by the status/expected status fields.
	markerStatus
)

const (
	markerSkip   = "skip"
	markerSkipIf = "skipif"
	markerXFail  = "xfail"

	unconditionalSkip = "unconditional skip"
)

var markerPolicies = map[string]markerPolicy{
	"parametrize":    markerIgnored,
	"usefixtures":    markerIgnored,
	"filterwarnings": markerIgnored,
	markerSkip:       markerStatus,
	markerSkipIf:     markerStatus,
	markerXFail:      markerStatus,
}

func policyFor(name string) markerPolicy {
	if p, ok := markerPolicies[name]; ok {
		return p
	}
	return markerLabel
}

// partitionMarkers splits markers into bare tags and annotations carrying
// their first argument.
func partitionMarkers(markers []model.Marker) (tags []string, annotations []model.Annotation) {
	for _, m := range markers {
		if m.Name == "" || policyFor(m.Name) != markerLabel {
			continue
		}
		if len(m.Args) == 0 {
			tags = append(tags, m.Name)
			continue
		}
		annotations = append(annotations, model.Annotation{
			Type:        m.Name,
			Description: fmt.Sprint(m.Args[0]),
		})
	}
	return tags, annotations
}

// findMarker returns the first marker with one of the given names.
func findMarker(markers []model.Marker, names ...string) (model.Marker, bool) {
	for _, m := range markers {
		for _, n := range names {
			if m.Name == n {
				return m, true
			}
		}
	}
	return model.Marker{}, false
}

// markerReason returns the reason of a skip or xfail marker. The reason
// keyword wins; a plain skip also accepts it positionally.
func markerReason(m model.Marker) string {
	if r, ok := m.Kwargs["reason"]; ok && r != nil {
		if s := fmt.Sprint(r); s != "" {
			return s
		}
	}
	if m.Name == markerSkip && len(m.Args) > 0 && m.Args[0] != nil {
		return fmt.Sprint(m.Args[0])
	}
	return ""
}

// conditionMet reports whether a skipif or xfail marker is in effect: it has
// no positional condition or one of its conditions is literally true.
// Conditions the runner did not resolve to a boolean count as unmet.
func conditionMet(m model.Marker) bool {
	if len(m.Args) == 0 {
		return true
	}
	for _, arg := range m.Args {
		if b, ok := arg.(bool); ok && b {
			return true
		}
	}
	return false
}

// skipDescription picks the text of a skip annotation. A declared skip in
// effect wins, then the runner's dynamic text, then any remaining skipif.
func skipDescription(ev model.Event) string {
	m, declared := findMarker(ev.Markers, markerSkip, markerSkipIf)
	if declared && (m.Name == markerSkip || conditionMet(m)) {
		return declaredSkip(m)
	}
	if ev.SkipReason != "" {
		return ev.SkipReason
	}
	if declared {
		return declaredSkip(m)
	}
	return "Skipped: " + unconditionalSkip
}

func declaredSkip(m model.Marker) string {
	reason := markerReason(m)
	if reason == "" {
		reason = unconditionalSkip
	}
	return "Skipped: " + reason
}

// statusAnnotations returns the annotations describing why an attempt was
// skipped or expected to fail.
func statusAnnotations(ev model.Event) []model.Annotation {
	var out []model.Annotation

	if ev.Outcome == model.StatusSkipped && !ev.ExpectedFailure {
		out = append(out, model.Annotation{Type: markerSkip, Description: skipDescription(ev)})
	}

	m, declared := findMarker(ev.Markers, markerXFail)
	active := declared && conditionMet(m)
	if ev.ExpectedFailure || active {
		desc := ev.ExpectedFailureReason
		if declared {
			if r := markerReason(m); r != "" {
				desc = r
			}
		}
		out = append(out, model.Annotation{Type: markerXFail, Description: desc})
	}

	return out
}
