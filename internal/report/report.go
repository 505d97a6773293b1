// Package report renders trial results, the search summary and port
// listings for people (styled text) or machines (json, yaml).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"linkprobe/internal/search"
	"linkprobe/internal/transport"
	"linkprobe/internal/trial"
)

// PreviewLength is how much of a payload is shown in failure diagnostics
const PreviewLength = 50

// Options describes the run being reported on
type Options struct {
	Format    string // text, json or yaml
	EndpointA string
	EndpointB string
	Settings  transport.Settings
}

type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	pass  lipgloss.Style
	fail  lipgloss.Style
	dim   lipgloss.Style
}

// Reporter writes human or machine readable output to one writer
type Reporter struct {
	out    io.Writer
	opts   Options
	styles styles
}

// New creates a reporter. Styles adapt to out, so colour is dropped when
// out is not a terminal.
func New(out io.Writer, opts Options) *Reporter {
	opts.Format = strings.ToLower(opts.Format)
	if opts.Format == "" {
		opts.Format = "text"
	}

	r := lipgloss.NewRenderer(out)
	return &Reporter{
		out:  out,
		opts: opts,
		styles: styles{
			title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
			label: r.NewStyle().Foreground(lipgloss.Color("245")),
			pass:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
			fail:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
			dim:   r.NewStyle().Foreground(lipgloss.Color("240")),
		},
	}
}

// Structured reports whether output is a json or yaml document. Per-trial
// text and progress bars are suppressed in that mode.
func (r *Reporter) Structured() bool {
	return r.opts.Format == "json" || r.opts.Format == "yaml"
}

// Preview renders data for a diagnostic line: the whole string when it is
// at most max characters, otherwise the head and tail with the length.
// Bytes outside printable ASCII are shown as \xNN so corrupted input cannot
// drive the terminal.
func Preview(data []byte, max int) string {
	if len(data) <= max {
		return "'" + escape(data) + "'"
	}
	half := max / 2
	return fmt.Sprintf("'%s...%s' (%d chars)", escape(data[:half]), escape(data[len(data)-half:]), len(data))
}

func escape(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 0x20 && c <= 0x7e {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "\\x%02x", c)
		}
	}
	return b.String()
}

// Header announces the link under test
func (r *Reporter) Header(params search.Params) {
	if r.Structured() {
		return
	}
	s := r.opts.Settings
	fmt.Fprintln(r.out, r.styles.title.Render(fmt.Sprintf("Testing link %s <-> %s", r.opts.EndpointA, r.opts.EndpointB)))
	fmt.Fprintf(r.out, "%s %d baud %s, sizes %d..%d x%g\n\n",
		r.styles.label.Render("Line:"), s.BaudRate, s.Framing(),
		params.StartSize, params.MaxSize, params.Factor)
}

// TrialStart prints the line introducing a trial
func (r *Reporter) TrialStart(size int) {
	if r.Structured() {
		return
	}
	fmt.Fprintf(r.out, "Trial %s bytes at %d baud\n", r.styles.title.Render(fmt.Sprint(size)), r.opts.Settings.BaudRate)
}

// TrialResult prints per-direction verdicts and, on failure, what was sent
// against what arrived.
func (r *Reporter) TrialResult(res trial.Result) {
	if r.Structured() {
		return
	}

	r.direction("A->B", res.SucceededAtoB, res.SentAtoB, res.ReceivedAtoB)
	r.direction("B->A", res.SucceededBtoA, res.SentBtoA, res.ReceivedBtoA)
	if res.TimedOut {
		fmt.Fprintf(r.out, "  %s\n", r.styles.fail.Render("timed out"))
	}
	if res.Err != nil {
		fmt.Fprintf(r.out, "  %s %v\n", r.styles.fail.Render("error:"), res.Err)
	}
	fmt.Fprintf(r.out, "  %s\n", r.styles.dim.Render(fmt.Sprintf("%.3fs", res.Elapsed.Seconds())))
}

func (r *Reporter) direction(label string, ok bool, sent, received []byte) {
	if ok {
		fmt.Fprintf(r.out, "  %s %s\n", label, r.styles.pass.Render("PASS"))
		return
	}
	fmt.Fprintf(r.out, "  %s %s\n", label, r.styles.fail.Render("FAIL"))
	fmt.Fprintf(r.out, "    %s %s\n", r.styles.label.Render("sent:")+"    ", Preview(sent, PreviewLength))
	fmt.Fprintf(r.out, "    %s %s\n", r.styles.label.Render("received:"), Preview(received, PreviewLength))
}

// TrialSummary is the machine readable form of one trial
type TrialSummary struct {
	Size           int     `json:"size" yaml:"size"`
	AtoB           bool    `json:"a_to_b" yaml:"a_to_b"`
	BtoA           bool    `json:"b_to_a" yaml:"b_to_a"`
	ReceivedAtoB   int     `json:"received_a_to_b" yaml:"received_a_to_b"`
	ReceivedBtoA   int     `json:"received_b_to_a" yaml:"received_b_to_a"`
	ElapsedSeconds float64 `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	TimedOut       bool    `json:"timed_out" yaml:"timed_out"`
	Error          string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Summary is the machine readable form of a finished search
type Summary struct {
	EndpointA          string         `json:"endpoint_a" yaml:"endpoint_a"`
	EndpointB          string         `json:"endpoint_b" yaml:"endpoint_b"`
	BaudRate           int            `json:"baud_rate" yaml:"baud_rate"`
	Framing            string         `json:"framing" yaml:"framing"`
	MaxReliableSize    int            `json:"max_reliable_size" yaml:"max_reliable_size"`
	TheoreticalSeconds float64        `json:"theoretical_seconds" yaml:"theoretical_seconds"`
	Trials             int            `json:"trials" yaml:"trials"`
	Successes          int            `json:"successes" yaml:"successes"`
	SuccessRate        float64        `json:"success_rate" yaml:"success_rate"`
	DurationSeconds    float64        `json:"duration_seconds" yaml:"duration_seconds"`
	Cancelled          bool           `json:"cancelled" yaml:"cancelled"`
	LastSuccess        *TrialSummary  `json:"last_success,omitempty" yaml:"last_success,omitempty"`
	History            []TrialSummary `json:"history" yaml:"history"`
}

// TheoreticalTime returns the seconds size bytes occupy on the wire at the
// configured baud rate and framing.
func TheoreticalTime(size int, s transport.Settings) float64 {
	if s.BaudRate <= 0 {
		return 0
	}
	return float64(size) * s.BitsPerChar() / float64(s.BaudRate)
}

func summarizeTrial(res trial.Result) TrialSummary {
	ts := TrialSummary{
		Size:           res.Size,
		AtoB:           res.SucceededAtoB,
		BtoA:           res.SucceededBtoA,
		ReceivedAtoB:   len(res.ReceivedAtoB),
		ReceivedBtoA:   len(res.ReceivedBtoA),
		ElapsedSeconds: res.Elapsed.Seconds(),
		TimedOut:       res.TimedOut,
	}
	if res.Err != nil {
		ts.Error = res.Err.Error()
	}
	return ts
}

// Summarize builds the machine readable summary of out
func (r *Reporter) Summarize(out search.Outcome) Summary {
	s := Summary{
		EndpointA:          r.opts.EndpointA,
		EndpointB:          r.opts.EndpointB,
		BaudRate:           r.opts.Settings.BaudRate,
		Framing:            r.opts.Settings.Framing(),
		MaxReliableSize:    out.MaxReliableSize,
		TheoreticalSeconds: TheoreticalTime(out.MaxReliableSize, r.opts.Settings),
		Trials:             len(out.History),
		Successes:          out.Successes(),
		SuccessRate:        out.SuccessRate(),
		DurationSeconds:    out.Duration.Seconds(),
		Cancelled:          out.Err != nil,
		History:            make([]TrialSummary, 0, len(out.History)),
	}
	for _, res := range out.History {
		s.History = append(s.History, summarizeTrial(res))
	}
	if last, ok := out.LastSuccess(); ok {
		ts := summarizeTrial(last)
		s.LastSuccess = &ts
	}
	return s
}

// Summary prints the final result of the search
func (r *Reporter) Summary(out search.Outcome) error {
	sum := r.Summarize(out)
	if r.Structured() {
		return r.encode(sum)
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.styles.title.Render("Summary"))
	if sum.Cancelled {
		fmt.Fprintf(r.out, "  %s\n", r.styles.fail.Render("search interrupted"))
	}

	maxStyle := r.styles.pass
	if sum.MaxReliableSize == 0 {
		maxStyle = r.styles.fail
	}
	r.field("Max reliable size:", maxStyle.Render(fmt.Sprint(sum.MaxReliableSize))+" bytes")
	r.field("Theoretical time:", fmt.Sprintf("%.3fs at %d baud %s", sum.TheoreticalSeconds, sum.BaudRate, sum.Framing))
	r.field("Trials:", fmt.Sprint(sum.Trials))
	r.field("Successes:", fmt.Sprintf("%d (%.1f%%)", sum.Successes, sum.SuccessRate))

	last, ok := out.LastSuccess()
	if !ok {
		r.field("Last success:", r.styles.dim.Render("none"))
		return nil
	}
	r.field("Last success:", fmt.Sprintf("%d bytes in %.3fs", last.Size, last.Elapsed.Seconds()))
	fmt.Fprintf(r.out, "    %s %s\n", r.styles.label.Render(r.opts.EndpointA+" received:"), Preview(last.ReceivedBtoA, PreviewLength))
	fmt.Fprintf(r.out, "    %s %s\n", r.styles.label.Render(r.opts.EndpointB+" received:"), Preview(last.ReceivedAtoB, PreviewLength))
	return nil
}

// field prints one aligned summary line
func (r *Reporter) field(name, value string) {
	const width = 18
	pad := strings.Repeat(" ", max(width-len(name), 0))
	fmt.Fprintf(r.out, "  %s%s %s\n", r.styles.label.Render(name), pad, value)
}

// Ports prints the serial endpoints found on this machine
func (r *Reporter) Ports(ports []transport.PortInfo) error {
	if r.Structured() {
		if ports == nil {
			ports = []transport.PortInfo{}
		}
		return r.encode(ports)
	}

	if len(ports) == 0 {
		fmt.Fprintln(r.out, "No serial ports found.")
		return nil
	}
	for _, p := range ports {
		fmt.Fprint(r.out, r.styles.title.Render(p.Name))
		if p.IsUSB {
			fmt.Fprintf(r.out, "  %s", r.styles.dim.Render(fmt.Sprintf("USB %s:%s", p.VID, p.PID)))
			if p.Product != "" {
				fmt.Fprintf(r.out, " %s", p.Product)
			}
			if p.SerialNumber != "" {
				fmt.Fprintf(r.out, " %s", r.styles.dim.Render("serial "+p.SerialNumber))
			}
		}
		fmt.Fprintln(r.out)
	}
	return nil
}

func (r *Reporter) encode(v any) error {
	switch r.opts.Format {
	case "json":
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("format json: %w", err)
		}
		_, err = fmt.Fprintln(r.out, string(b))
		return err
	default:
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("format yaml: %w", err)
		}
		_, err = r.out.Write(b)
		return err
	}
}
