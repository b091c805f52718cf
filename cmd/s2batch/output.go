package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"s2batch/internal/catalog"
	"s2batch/internal/config"
	"s2batch/internal/pipeline"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func printValidationErrors(w io.Writer, verrs config.ValidationErrors) {
	fmt.Fprintln(w, red("Invalid configuration:"))
	for _, fe := range verrs {
		if fe.Value != "" {
			fmt.Fprintf(w, "  %s %s %s\n", yellow(fe.Field), gray(fmt.Sprintf("(%q)", fe.Value)), fe.Message)
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", yellow(fe.Field), fe.Message)
	}
}

func printProducts(w io.Writer, products []catalog.Product) {
	for _, p := range products {
		tile := p.Tile
		if tile == "" {
			tile = "-"
		}
		fmt.Fprintf(w, "%s  %s  T%-5s  %5.1f%%  %8s  %s\n",
			p.Date(), gray(p.ID), tile, p.CloudCover, humanize.Bytes(p.SizeBytes), p.Name())
	}
}

func printSummary(w io.Writer, report pipeline.Report, code int) {
	fmt.Fprintln(w)
	for _, line := range report.Summary() {
		fmt.Fprintln(w, line)
	}
	for _, d := range report.Warnings() {
		switch d.Severity {
		case pipeline.SeverityWarning:
			fmt.Fprintf(w, "%s [%s] %s\n", yellow("warning"), d.Stage, d.Message)
		default:
			fmt.Fprintf(w, "%s [%s] %s\n", red(string(d.Severity)), d.Stage, d.Message)
		}
	}
	switch code {
	case pipeline.ExitOK:
		fmt.Fprintln(w, bold(green("Done.")))
	case pipeline.ExitItemFailures:
		fmt.Fprintln(w, bold(yellow("Finished with items that need another run.")))
	default:
		fmt.Fprintln(w, bold(red("Run aborted.")))
	}
}
