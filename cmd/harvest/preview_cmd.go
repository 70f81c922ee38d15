package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/presentation/exports"
	"github.com/iota-uz/effort/modules/harvest/services"
)

type previewOptions struct {
	termCode term.Code
	json     bool
	xlsxPath string
}

func newPreviewCmd() *cobra.Command {
	var opts previewOptions
	var termFlag string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what an execute run would write, without writing",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseTermFlag(termFlag)
			if err != nil {
				return err
			}
			opts.termCode = code
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := app.context(cmd.Context(), "preview")
			return runPreview(ctx, app.svc, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&termFlag, "term", "", "Term code, e.g. 202409 (required)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the preview as one JSON line")
	cmd.Flags().StringVar(&opts.xlsxPath, "xlsx", "", "Also write the preview to this workbook")
	_ = cmd.MarkFlagRequired("term")
	return cmd
}

func runPreview(ctx context.Context, svc *services.HarvestService, opts previewOptions, out io.Writer) error {
	preview, err := svc.Preview(ctx, opts.termCode)
	if err != nil {
		return withCode(exitDB, err)
	}

	if opts.xlsxPath != "" {
		if err := writeWorkbook(opts.xlsxPath, preview); err != nil {
			return withCode(exitValidation, err)
		}
	}
	if opts.json {
		return writeJSONLine(out, preview)
	}
	printPreview(out, preview)
	return nil
}

func writeWorkbook(path string, preview *services.Preview) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := exports.WritePreviewXLSX(f, preview); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printPreview(out io.Writer, p *services.Preview) {
	totals := p.Totals()
	fmt.Fprintf(out, "%s (%s)\n", p.TermName, p.TermCode)
	for _, s := range p.Sources {
		fmt.Fprintf(out, "  %-11s instructors %d/%d  courses %d/%d  records %d/%d\n",
			s.Name,
			countNew(len(s.Instructors), func(i int) bool { return s.Instructors[i].IsNew }), len(s.Instructors),
			countNew(len(s.Courses), func(i int) bool { return s.Courses[i].IsNew }), len(s.Courses),
			countNew(len(s.Records), func(i int) bool { return s.Records[i].IsNew }), len(s.Records),
		)
	}
	fmt.Fprintf(out, "new: %d instructors, %d courses, %d records\n", totals.NewInstructors, totals.NewCourses, totals.NewRecords)
	if n := len(p.RemovedInstructors) + len(p.RemovedCourses); n > 0 {
		fmt.Fprintf(out, "no longer derived: %d instructors, %d courses\n", len(p.RemovedInstructors), len(p.RemovedCourses))
	}
	for _, n := range p.Notices {
		fmt.Fprintf(out, "note: %s\n", n)
	}
	if len(p.Warnings) > 0 {
		fmt.Fprintf(out, "warnings (%d):\n  %s\n", len(p.Warnings), strings.Join(p.Warnings, "\n  "))
	}
}

func countNew(n int, isNew func(int) bool) int {
	count := 0
	for i := 0; i < n; i++ {
		if isNew(i) {
			count++
		}
	}
	return count
}
