package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
	"github.com/RichLycus/ProjekUtama-sub000/internal/orchestrator"
	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
)

// newEngine builds an orchestrator with no backends, enough to load and
// validate pipelines.
func newEngine() (*orchestrator.Orchestrator, error) {
	return orchestrator.New(
		orchestrator.WithPipelineDir(cfg.Pipelines.Dir),
		orchestrator.WithLogger(logging.Component("cli")),
	)
}

func pipelinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "List, inspect, validate and sign pipeline definitions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every resolvable pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			type entry struct {
				Ref   string `json:"ref"`
				Name  string `json:"name,omitempty"`
				Steps int    `json:"steps"`
				Error string `json:"error,omitempty"`
			}
			var entries []entry
			for _, ref := range eng.Loader().List() {
				e := entry{Ref: ref}
				tier, name, _ := strings.Cut(ref, "/")
				if def, err := eng.Loader().Load(tier, name); err != nil {
					e.Error = err.Error()
				} else {
					e.Name = def.Name
					e.Steps = len(def.Steps)
				}
				entries = append(entries, e)
			}
			if jsonOut {
				return printJSON(entries)
			}

			fmt.Println(titleStyle.Render("Pipelines") + dimStyle.Render("  "+cfg.Pipelines.Dir))
			for _, e := range entries {
				if e.Error != "" {
					fmt.Println(row(e.Ref, errorStyle.Render(e.Error)))
					continue
				}
				fmt.Println(row(e.Ref, fmt.Sprintf("%s %s", e.Name, dimStyle.Render(fmt.Sprintf("(%d steps)", e.Steps)))))
			}
			fmt.Println()
			for _, m := range []string{"fast", "thorough", "hybrid", "depends"} {
				fmt.Println(row("route "+m, cfg.Pipelines.Routes[m]))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [tier/name]",
		Short: "Print a resolved pipeline definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			tier, name, ok := strings.Cut(args[0], "/")
			if !ok {
				return fmt.Errorf("%q is not a tier/name reference", args[0])
			}
			def, err := eng.Loader().Load(tier, name)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(def)
			}
			out, err := pipeline.Encode(def, pipeline.FormatYAML)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate pipeline files, or every resolvable pipeline when no file is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			failed := 0
			check := func(label string, load func() (*pipeline.Definition, error)) {
				if _, err := load(); err != nil {
					failed++
					fmt.Println(row(label, errorStyle.Render(err.Error())))
					return
				}
				fmt.Println(row(label, successStyle.Render("ok")))
			}

			if len(args) == 0 {
				for _, ref := range eng.Loader().List() {
					tier, name, _ := strings.Cut(ref, "/")
					check(ref, func() (*pipeline.Definition, error) { return eng.Loader().Load(tier, name) })
				}
			}
			for _, p := range args {
				check(p, func() (*pipeline.Definition, error) { return eng.Loader().LoadFile(p) })
			}

			if failed > 0 {
				return fmt.Errorf("%d pipeline(s) failed validation", failed)
			}
			return nil
		},
	})

	var checkOnly bool
	sign := &cobra.Command{
		Use:   "sign [file]",
		Short: "Embed the content signature in a pipeline file (rewrites the file)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := args[0]
			format, ok := pipeline.FormatFromPath(p)
			if !ok {
				return fmt.Errorf("unsupported pipeline file %q", p)
			}
			raw, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			def, err := pipeline.Decode(raw, format)
			if err != nil {
				return err
			}

			if checkOnly {
				ok, err := pipeline.VerifySignature(def)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("signature mismatch")
				}
				fmt.Println(successStyle.Render("signature ok"))
				return nil
			}

			sig, err := pipeline.ComputeSignature(def)
			if err != nil {
				return err
			}
			def.Signature = sig
			out, err := pipeline.Encode(def, format)
			if err != nil {
				return err
			}
			if err := os.WriteFile(p, out, 0644); err != nil {
				return err
			}
			fmt.Println(row("signed", sig))
			return nil
		},
	}
	sign.Flags().BoolVar(&checkOnly, "check", false, "verify the embedded signature instead of writing one")
	cmd.AddCommand(sign)

	return cmd
}
