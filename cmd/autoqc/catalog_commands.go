package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"autoqc/internal/config"
	"autoqc/internal/library"
	"autoqc/internal/store"
)

func newMethodCommand(ctx *commandContext) *cobra.Command {
	methodCmd := &cobra.Command{
		Use:   "method",
		Short: "Manage chromatography methods",
	}

	var posParams, negParams string
	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register or update a method and its extraction parameter files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				method := store.Method{Name: args[0], PositiveParameters: posParams, NegativeParameters: negParams}
				if err := st.UpsertMethod(cmd.Context(), method); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved method %s\n", args[0])
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&posParams, "pos-params", "", "Extractor parameter file for positive mode")
	addCmd.Flags().StringVar(&negParams, "neg-params", "", "Extractor parameter file for negative mode")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered methods",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				methods, err := st.ListMethods(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					if methods == nil {
						methods = []store.Method{}
					}
					return writeJSON(cmd, methods)
				}
				if len(methods) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No methods registered")
					return nil
				}
				rows := make([][]string, 0, len(methods))
				for _, m := range methods {
					rows = append(rows, []string{m.Name, m.PositiveParameters, m.NegativeParameters})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Method", "Positive parameters", "Negative parameters"}, rows, nil))
				return nil
			})
		},
	}

	methodCmd.AddCommand(addCmd, listCmd)
	return methodCmd
}

func newBiostandardCommand(ctx *commandContext) *cobra.Command {
	bioCmd := &cobra.Command{
		Use:   "biostandard",
		Short: "Manage biological standards",
	}

	var method, identifier, posParams, negParams string
	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a biological standard recognised by an identifier in sample names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				std := store.BiologicalStandard{
					Name:               args[0],
					Method:             method,
					Identifier:         identifier,
					PositiveParameters: posParams,
					NegativeParameters: negParams,
				}
				if err := st.UpsertBiologicalStandard(cmd.Context(), std); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved biological standard %s for method %s\n", args[0], method)
				return nil
			})
		},
	}
	addCmd.Flags().StringVarP(&method, "method", "m", "", "Chromatography method")
	addCmd.Flags().StringVar(&identifier, "identifier", "", "Substring identifying the standard in sample names")
	addCmd.Flags().StringVar(&posParams, "pos-params", "", "Extractor parameter file for positive mode (defaults to the method's)")
	addCmd.Flags().StringVar(&negParams, "neg-params", "", "Extractor parameter file for negative mode (defaults to the method's)")
	_ = addCmd.MarkFlagRequired("method")
	_ = addCmd.MarkFlagRequired("identifier")

	var listMethod string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List biological standards for a method",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				standards, err := st.ListBiologicalStandards(cmd.Context(), listMethod)
				if err != nil {
					return err
				}
				if len(standards) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No biological standards for method %s\n", listMethod)
					return nil
				}
				rows := make([][]string, 0, len(standards))
				for _, s := range standards {
					rows = append(rows, []string{s.Name, s.Identifier, s.PositiveParameters, s.NegativeParameters})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Name", "Identifier", "Positive parameters", "Negative parameters"}, rows, nil))
				return nil
			})
		},
	}
	listCmd.Flags().StringVarP(&listMethod, "method", "m", "", "Chromatography method")
	_ = listCmd.MarkFlagRequired("method")

	bioCmd.AddCommand(addCmd, listCmd)
	return bioCmd
}

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	libCmd := &cobra.Command{
		Use:   "library",
		Short: "Manage reference compound libraries",
	}

	var method, polarity, biostandard string
	importCmd := &cobra.Command{
		Use:   "import FILE.msp",
		Short: "Replace the reference compounds for a method and polarity from an MSP library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := store.ParsePolarity(polarity)
			if err != nil {
				return err
			}
			compounds, err := library.ParseFile(args[0])
			if err != nil {
				return err
			}
			if len(compounds) == 0 {
				return fmt.Errorf("%s contains no compounds", args[0])
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				if err := st.ReplaceReferenceCompounds(cmd.Context(), method, pol, biostandard, compounds); err != nil {
					return err
				}
				target := method
				if biostandard != "" {
					target = fmt.Sprintf("%s / %s", method, biostandard)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d reference compounds for %s (%s)\n", len(compounds), target, pol.Label())
				return nil
			})
		},
	}
	importCmd.Flags().StringVarP(&method, "method", "m", "", "Chromatography method")
	importCmd.Flags().StringVarP(&polarity, "polarity", "p", "", "Ionisation mode (pos or neg)")
	importCmd.Flags().StringVar(&biostandard, "biostandard", "", "Biological standard the library belongs to")
	_ = importCmd.MarkFlagRequired("method")
	_ = importCmd.MarkFlagRequired("polarity")

	var showMethod, showPolarity, showBiostandard string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "List the reference compounds for a method and polarity",
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := store.ParsePolarity(showPolarity)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				compounds, err := st.GetReferenceCompounds(cmd.Context(), showMethod, pol, showBiostandard)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					if compounds == nil {
						compounds = []store.ReferenceCompound{}
					}
					return writeJSON(cmd, compounds)
				}
				if len(compounds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No reference compounds")
					return nil
				}
				rows := make([][]string, 0, len(compounds))
				for _, c := range compounds {
					rows = append(rows, []string{
						c.Name,
						strconv.FormatFloat(c.ExpectedMZ, 'f', 4, 64),
						strconv.FormatFloat(c.ExpectedRT, 'f', 2, 64),
						strconv.Itoa(len(c.Spectrum)),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Compound", "m/z", "RT (min)", "Peaks"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	showCmd.Flags().StringVarP(&showMethod, "method", "m", "", "Chromatography method")
	showCmd.Flags().StringVarP(&showPolarity, "polarity", "p", "", "Ionisation mode (pos or neg)")
	showCmd.Flags().StringVar(&showBiostandard, "biostandard", "", "Biological standard")
	_ = showCmd.MarkFlagRequired("method")
	_ = showCmd.MarkFlagRequired("polarity")

	libCmd.AddCommand(importCmd, showCmd)
	return libCmd
}

func newQCConfigCommand(ctx *commandContext) *cobra.Command {
	qcCmd := &cobra.Command{
		Use:   "qc-config",
		Short: "Manage QC cutoff configurations",
	}

	var (
		dropout, libraryRT, inRunRT, libraryMZ          float64
		dropoutsOn, libraryRTOn, inRunRTOn, libraryMZOn bool
	)
	setCmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Create or update a QC configuration; unspecified values keep their current setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				current, err := st.GetQCConfig(cmd.Context(), args[0])
				if errors.Is(err, store.ErrQCConfigNotFound) {
					current = store.DefaultQCConfig()
					current.Name = args[0]
				} else if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("dropout-cutoff") {
					current.DropoutCutoff = dropout
				}
				if flags.Changed("library-rt-cutoff") {
					current.LibraryRTCutoff = libraryRT
				}
				if flags.Changed("in-run-rt-cutoff") {
					current.InRunRTCutoff = inRunRT
				}
				if flags.Changed("library-mz-cutoff") {
					current.LibraryMZCutoff = libraryMZ
				}
				if flags.Changed("dropouts") {
					current.DropoutsEnabled = dropoutsOn
				}
				if flags.Changed("library-rt") {
					current.LibraryRTEnabled = libraryRTOn
				}
				if flags.Changed("in-run-rt") {
					current.InRunRTEnabled = inRunRTOn
				}
				if flags.Changed("library-mz") {
					current.LibraryMZEnabled = libraryMZOn
				}
				if err := st.UpsertQCConfig(cmd.Context(), current); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved QC configuration %s\n", current.Name)
				return nil
			})
		},
	}
	setCmd.Flags().Float64Var(&dropout, "dropout-cutoff", 0, "Maximum dropouts before Fail")
	setCmd.Flags().Float64Var(&libraryRT, "library-rt-cutoff", 0, "Maximum |RT - library RT| in minutes")
	setCmd.Flags().Float64Var(&inRunRT, "in-run-rt-cutoff", 0, "Maximum |RT - in-run average| in minutes")
	setCmd.Flags().Float64Var(&libraryMZ, "library-mz-cutoff", 0, "Maximum |m/z - library m/z|")
	setCmd.Flags().BoolVar(&dropoutsOn, "dropouts", true, "Enable the dropout criterion")
	setCmd.Flags().BoolVar(&libraryRTOn, "library-rt", true, "Enable the library RT criterion")
	setCmd.Flags().BoolVar(&inRunRTOn, "in-run-rt", true, "Enable the in-run RT criterion")
	setCmd.Flags().BoolVar(&libraryMZOn, "library-mz", true, "Enable the library m/z criterion")

	showCmd := &cobra.Command{
		Use:   "show [NAME]",
		Short: "Show one QC configuration, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				var configs []store.QCConfig
				if len(args) == 1 {
					cfg, err := st.GetQCConfig(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					configs = append(configs, cfg)
				} else {
					var err error
					configs, err = st.ListQCConfigs(cmd.Context())
					if err != nil {
						return err
					}
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, configs)
				}
				rows := make([][]string, 0, len(configs))
				for _, c := range configs {
					rows = append(rows, []string{
						c.Name,
						cutoffLabel(c.DropoutCutoff, c.DropoutsEnabled, 0),
						cutoffLabel(c.LibraryRTCutoff, c.LibraryRTEnabled, 3),
						cutoffLabel(c.InRunRTCutoff, c.InRunRTEnabled, 3),
						cutoffLabel(c.LibraryMZCutoff, c.LibraryMZEnabled, 4),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "Dropouts", "Library RT", "In-run RT", "Library m/z"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}

	qcCmd.AddCommand(setCmd, showCmd)
	return qcCmd
}

func cutoffLabel(value float64, enabled bool, precision int) string {
	label := strconv.FormatFloat(value, 'f', precision, 64)
	if !enabled {
		label += " (off)"
	}
	return label
}
