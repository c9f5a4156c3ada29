package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sshcollectorpro/fsmaudit/internal/output"
	"github.com/sshcollectorpro/fsmaudit/internal/templates"
	"github.com/sshcollectorpro/fsmaudit/pkg/textfsm"
)

type parseFlags struct {
	template string
	name     string
	format   string
	limit    int
}

func newParseCmd(a *app) *cobra.Command {
	f := &parseFlags{}
	cmd := &cobra.Command{
		Use:   "parse [input-file]",
		Short: "Parse text with a TextFSM template",
		Long:  "Parse text (a file, or stdin when omitted or '-') with a template file or a named template and print the records.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, a, f, args)
		},
	}
	cmd.Flags().StringVarP(&f.template, "template", "t", "", "Template file")
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "Named template (builtin or from templates.dir)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "json", "Output format: json, yaml or csv")
	cmd.Flags().IntVar(&f.limit, "max-reevaluations", 0, "Continue re-evaluation limit per input line (default: templates.max_reevaluations)")
	cmd.MarkFlagsMutuallyExclusive("template", "name")
	cmd.MarkFlagsOneRequired("template", "name")
	return cmd
}

func runParse(cmd *cobra.Command, a *app, f *parseFlags, args []string) error {
	switch f.format {
	case "json", "yaml", "csv":
	default:
		return fmt.Errorf("unknown format %q", f.format)
	}

	var tmpl *textfsm.Template
	var err error
	if f.template != "" {
		tmpl, err = textfsm.ParseFile(f.template)
	} else {
		tmpl, err = templates.NewRegistry(a.cfg.Templates.Dir).Get(f.name)
	}
	if err != nil {
		return err
	}

	text, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	limit := f.limit
	if limit <= 0 {
		limit = a.cfg.Templates.MaxReevaluations
	}
	records, parseErr := tmpl.ParseText(text, textfsm.WithMaxReevaluations(limit))
	// 运行期错误前已产生的记录照常输出
	if err := writeRecords(cmd.OutOrStdout(), f.format, tmpl.Header(), records); err != nil {
		return err
	}
	return parseErr
}

func readInput(stdin io.Reader, args []string) (string, error) {
	var b []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(b), nil
}

func writeRecords(w io.Writer, format string, header []string, records []textfsm.Record) error {
	switch format {
	case "csv":
		cw, err := output.NewCSVWriter(nopCloser{w}, header)
		if err != nil {
			return err
		}
		rows := make([][]string, len(records))
		for i, r := range records {
			rows[i] = r.Strings()
		}
		if err := cw.WriteRows(rows); err != nil {
			return err
		}
		return cw.Close()
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(recordNodes(records)); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		maps := make([]map[string]interface{}, len(records))
		for i, r := range records {
			maps[i] = r.Map()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(maps)
	}
}

// recordNodes 按 Value 声明顺序输出 YAML 映射
func recordNodes(records []textfsm.Record) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range records {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, f := range r {
			key := &yaml.Node{Kind: yaml.ScalarNode, Value: f.Name}
			var val *yaml.Node
			if f.List {
				val = &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
				for _, item := range f.Items {
					val.Content = append(val.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: item})
				}
			} else {
				val = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Value}
			}
			m.Content = append(m.Content, key, val)
		}
		seq.Content = append(seq.Content, m)
	}
	return seq
}

// nopCloser 防止 CSVWriter.Close 关闭 stdout
type nopCloser struct{ io.Writer }
