package policy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/pretty"
	"gopkg.in/yaml.v3"
)

// Files lists what WriteFiles produced
type Files struct {
	PolicyJSON   string
	TemplateJSON string
	TemplateYAML string
}

// WriteFiles writes the raw export and the template (JSON and YAML) to dir
func WriteFiles(dir string, exp *Export, template Ordered, now time.Time) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	base := fmt.Sprintf("policy_%s_v%s_%s", exp.PolicyID, exp.Version, now.Format("20060102_150405"))
	files := &Files{
		PolicyJSON:   filepath.Join(dir, base+".json"),
		TemplateJSON: filepath.Join(dir, base+"_cfn.json"),
		TemplateYAML: filepath.Join(dir, base+"_cfn.yaml"),
	}

	if err := writeJSON(files.PolicyJSON, exp.Document); err != nil {
		return nil, err
	}
	if err := writeJSON(files.TemplateJSON, template); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(template); err != nil {
		return nil, fmt.Errorf("encode template YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode template YAML: %w", err)
	}
	if err := os.WriteFile(files.TemplateYAML, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", files.TemplateYAML, err)
	}

	return files, nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, pretty.Pretty(data), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// PrintTable writes the numbered policy table used for selection
func PrintTable(w io.Writer, summaries []Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No policies found in this region.")
		return
	}

	rule := strings.Repeat("=", 110)
	fmt.Fprintf(w, "\n%s\nAvailable Automated Reasoning Policies\n%s\n", rule, rule)
	fmt.Fprintf(w, "%-4s %-20s %-30s %-10s %-20s %-20s\n", "#", "Policy ID", "Name", "Version", "Created", "Updated")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for i, s := range summaries {
		fmt.Fprintf(w, "%-4d %-20s %-30s %-10s %-20s %-20s\n",
			i+1, orNA(s.PolicyID), orNA(s.Name), orNA(s.Version), formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	}
	fmt.Fprintln(w, rule)
}

// Choose prompts until a valid 1-based number is entered. It returns false
// when the user quits with "q" or input ends.
func Choose(in io.Reader, out io.Writer, summaries []Summary) (Summary, bool) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nSelect a policy by number (or 'q' to quit): ")
		if !scanner.Scan() {
			return Summary{}, false
		}
		choice := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(choice, "q") {
			fmt.Fprintln(out, "Cancelled.")
			return Summary{}, false
		}

		n, err := strconv.Atoi(choice)
		if err != nil {
			fmt.Fprintln(out, "Invalid input. Please enter a number or 'q'.")
			continue
		}
		if n < 1 || n > len(summaries) {
			fmt.Fprintf(out, "Invalid selection. Please enter a number between 1 and %d.\n", len(summaries))
			continue
		}

		selected := summaries[n-1]
		if selected.Version == "" {
			selected.Version = "DRAFT"
		}
		if selected.Name == "" {
			selected.Name = selected.PolicyID
		}
		fmt.Fprintf(out, "\nSelected: %s (ID: %s, Version: %s)\n", selected.Name, selected.PolicyID, selected.Version)
		return selected, true
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format("2006-01-02 15:04:05")
}
