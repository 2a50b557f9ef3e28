package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
)

var (
	green = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	red   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	gray  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// WriteText renders r as the human-readable PASS/FAIL listing.
func WriteText(w io.Writer, r Report, color bool) error {
	paint := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	ew := &errWriter{w: w}
	for _, e := range r.Scenarios {
		label := paint(green, "PASS")
		if !e.Passed {
			label = paint(red, "FAIL")
		}
		ew.printf("  %s  %-50s (%s)\n", label, e.Name, e.Duration.Round(time.Millisecond))
		if !e.Passed {
			ew.printf("        %s\n", paint(gray, e.Message))
		}
	}
	ew.printf("\nResults: %d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
	return ew.err
}

type jsonReport struct {
	Total      int            `json:"total"`
	Passed     int            `json:"passed"`
	Failed     int            `json:"failed"`
	DurationMS int64          `json:"duration_ms"`
	Scenarios  []jsonScenario `json:"scenarios"`
}

type jsonScenario struct {
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	Message    string `json:"message,omitempty"`
	Checks     int    `json:"checks"`
	DurationMS int64  `json:"duration_ms"`
}

// WriteJSON renders r as an indented JSON document.
func WriteJSON(w io.Writer, r Report) error {
	out := jsonReport{
		Total:      r.Total,
		Passed:     r.Passed,
		Failed:     r.Failed,
		DurationMS: r.Duration.Milliseconds(),
		Scenarios:  make([]jsonScenario, 0, len(r.Scenarios)),
	}
	for _, e := range r.Scenarios {
		out.Scenarios = append(out.Scenarios, jsonScenario{
			Name:       e.Name,
			Passed:     e.Passed,
			Message:    e.Message,
			Checks:     e.Checks,
			DurationMS: e.Duration.Milliseconds(),
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

type junitSuite struct {
	XMLName  xml.Name    `xml:"testsuite"`
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name    string        `xml:"name,attr"`
	Time    string        `xml:"time,attr"`
	Failure *junitFailure `xml:"failure,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

// WriteJUnit renders r as a JUnit XML test suite.
func WriteJUnit(w io.Writer, r Report, suite string) error {
	s := junitSuite{
		Name:     suite,
		Tests:    r.Total,
		Failures: r.Failed,
		Time:     seconds(r.Duration),
	}
	for _, e := range r.Scenarios {
		c := junitCase{Name: e.Name, Time: seconds(e.Duration)}
		if !e.Passed {
			c.Failure = &junitFailure{Message: e.Message, Text: e.Message}
		}
		s.Cases = append(s.Cases, c)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding junit report: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
