package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	terrors "tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/btfdump/btfdump/btf"
	"github.com/btfdump/btfdump/config"
	"github.com/btfdump/btfdump/utils"
)

const (
	exitParse  = 1
	exitLayout = 2
	exitEmitIO = 3
)

func main() {
	var cfgPath string
	var filterFlags filterFlags

	rootCmd := &cobra.Command{
		Use:           "btfdump <file>",
		Short:         "Decode, order and print BTF (BPF Type Format) type graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Args(1): a bare `btfdump <file>` (no dump/c/ext subcommand)
		// dispatches on the config file's default mode (§ AMBIENT STACK).
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return terrors.Wrap(err, "load config %v", cfgPath)
			}
			switch cfg.Mode {
			case "c":
				return runEmit(cmd, cfgPath, filterFlags, args[0], btf.ModeC)
			case "dump", "":
				return runEmit(cmd, cfgPath, filterFlags, args[0], btf.ModeHuman)
			default:
				return terrors.New("config mode %q must be %q or %q", cfg.Mode, "dump", "c")
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", ".btfdump.yaml", "path to a btfdump config file")
	filterFlags.register(rootCmd.PersistentFlags())

	dumpCmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print one descriptive line per decoded type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(cmd, cfgPath, filterFlags, args[0], btf.ModeHuman)
		},
	}

	cCmd := &cobra.Command{
		Use:   "c <file>",
		Short: "Print valid C source for the decoded types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(cmd, cfgPath, filterFlags, args[0], btf.ModeC)
		},
	}

	extCmd := &cobra.Command{
		Use:   "ext <file.ext>",
		Short: "Decode and print a .BTF.ext blob against a paired .BTF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExt(cmd, cfgPath, args[0])
		},
	}
	extCmd.Flags().String("btf", "", "path to the paired .BTF file (required)")

	rootCmd.AddCommand(dumpCmd, cCmd, extCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "btfdump: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// filterFlags is the CLI-side surface over btf.Filter (§6.3).
type filterFlags struct {
	ids        []string
	names      []string
	kinds      []string
	preset     string
	lenient    bool
	includeExt bool
	extPath    string
	ptrSize    uint32
	out        string
}

func (f *filterFlags) register(flags *pflag.FlagSet) {
	flags.StringSliceVar(&f.ids, "ids", nil, "comma-separated type ids to emit (with strong closure)")
	flags.StringSliceVar(&f.names, "names", nil, "comma-separated type names to emit (with strong closure)")
	flags.StringSliceVar(&f.kinds, "kinds", nil, "comma-separated kinds to emit (with strong closure)")
	flags.StringVar(&f.preset, "preset", "", "name of a filters preset from the config file, merged with --ids/--names/--kinds")
	flags.BoolVar(&f.lenient, "lenient", false, "emit /* invalid type */ comments instead of aborting on per-type layout/emit errors")
	flags.BoolVar(&f.includeExt, "include-ext", false, "append the paired .BTF.ext file's func_info/line_info/core_relocs to the dump")
	flags.StringVar(&f.extPath, "ext", "", "path to the paired .BTF.ext file (required with --include-ext)")
	flags.Uint32Var(&f.ptrSize, "ptr-size", 0, "override pointer size/alignment in bytes (default: config, then 8)")
	flags.StringVarP(&f.out, "out", "o", "-", "output file, or - for stdout")
}

func (f *filterFlags) resolve(cfg config.Config) (btf.Filter, uint32, error) {
	filt := btf.Filter{
		IDs:        map[btf.TypeID]bool{},
		Names:      map[string]bool{},
		Kinds:      map[btf.Kind]bool{},
		Lenient:    f.lenient || cfg.Lenient,
		IncludeExt: f.includeExt || cfg.IncludeExt,
	}
	for _, s := range f.ids {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return filt, 0, terrors.Wrap(err, "invalid --ids value %q", s)
		}
		filt.IDs[btf.TypeID(n)] = true
	}
	for _, s := range f.names {
		filt.Names[strings.TrimSpace(s)] = true
	}
	for _, s := range f.kinds {
		k, ok := parseKindName(strings.TrimSpace(s))
		if !ok {
			return filt, 0, terrors.New("invalid --kinds value %q", s)
		}
		filt.Kinds[k] = true
	}
	if f.preset != "" {
		p, ok := cfg.Filters[f.preset]
		if !ok {
			return filt, 0, terrors.New("unknown filter preset %q", f.preset)
		}
		for _, id := range p.IDs {
			filt.IDs[btf.TypeID(id)] = true
		}
		for _, n := range p.Names {
			filt.Names[n] = true
		}
		for _, s := range p.Kinds {
			k, ok := parseKindName(s)
			if !ok {
				return filt, 0, terrors.New("preset %q: invalid kind %q", f.preset, s)
			}
			filt.Kinds[k] = true
		}
	}

	ptrSize := f.ptrSize
	if ptrSize == 0 {
		ptrSize = cfg.PointerSize
	}
	if ptrSize == 0 {
		ptrSize = 8
	}
	return filt, ptrSize, nil
}

func runEmit(cmd *cobra.Command, cfgPath string, flags filterFlags, path string, mode btf.EmitMode) error {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())
	tr := tlog.SpanFromContext(ctx)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return terrors.Wrap(err, "load config %v", cfgPath)
	}

	filt, ptrSize, err := flags.resolve(cfg)
	if err != nil {
		return err
	}

	raw, err := readSectionOrRaw(path, ".BTF")
	if err != nil {
		return terrors.Wrap(err, "read %v", path)
	}

	u, err := btf.Parse(raw, btf.WithPointerSize(ptrSize))
	if err != nil {
		return &exitError{code: exitParse, err: terrors.Wrap(err, "parse %v", path)}
	}
	tr.Printw("parsed BTF", "file", path, "types", u.NumTypes())

	var ext *btf.ExtData
	if filt.IncludeExt {
		if flags.extPath == "" {
			return terrors.New("--ext is required when --include-ext is set")
		}
		extBytes, err := readSectionOrRaw(flags.extPath, ".BTF.ext")
		if err != nil {
			return terrors.Wrap(err, "read %v", flags.extPath)
		}
		ext, err = btf.ParseExt(extBytes, u)
		if err != nil {
			return &exitError{code: exitParse, err: terrors.Wrap(err, "parse %v", flags.extPath)}
		}
		tr.Printw("parsed BTF.ext", "file", flags.extPath, "func_info_progs", len(ext.FuncInfo))
	}

	w, closeOut, err := openOut(flags.out)
	if err != nil {
		return &exitError{code: exitEmitIO, err: err}
	}
	defer closeOut()

	if err := u.Emit(w, mode, filt, ext); err != nil {
		return &exitError{code: exitCodeForEmit(err), err: terrors.Wrap(err, "emit %v", path)}
	}
	return nil
}

func runExt(cmd *cobra.Command, cfgPath string, extPath string) error {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())
	tr := tlog.SpanFromContext(ctx)

	btfPath := utils.Must1(cmd.Flags().GetString("btf"))
	if btfPath == "" {
		return terrors.New("--btf is required")
	}

	btfBytes, err := readSectionOrRaw(btfPath, ".BTF")
	if err != nil {
		return terrors.Wrap(err, "read %v", btfPath)
	}
	u, err := btf.Parse(btfBytes)
	if err != nil {
		return &exitError{code: exitParse, err: terrors.Wrap(err, "parse %v", btfPath)}
	}

	extBytes, err := readSectionOrRaw(extPath, ".BTF.ext")
	if err != nil {
		return terrors.Wrap(err, "read %v", extPath)
	}
	ext, err := btf.ParseExt(extBytes, u)
	if err != nil {
		return &exitError{code: exitParse, err: terrors.Wrap(err, "parse %v", extPath)}
	}
	tr.Printw("parsed BTF.ext", "file", extPath,
		"func_info_progs", len(ext.FuncInfo), "line_info_progs", len(ext.LineInfo))

	ext.Dump(os.Stdout, u)
	return nil
}

func openOut(name string) (io.Writer, func(), error) {
	if name == "-" || name == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, nil, terrors.Wrap(err, "create %v", name)
	}
	return f, func() { f.Close() }, nil
}

// exitError carries the §6.4 exit code alongside the error text cobra
// prints.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitParse
}

func exitCodeForEmit(err error) int {
	if errors.Is(err, btf.ErrBadSize) {
		return exitLayout
	}
	if errors.Is(err, btf.ErrEmitIO) {
		return exitEmitIO
	}
	return exitParse
}

var kindNames = map[string]btf.Kind{
	"INT": btf.KindInt, "PTR": btf.KindPtr, "ARRAY": btf.KindArray,
	"STRUCT": btf.KindStruct, "UNION": btf.KindUnion, "ENUM": btf.KindEnum,
	"FWD": btf.KindFwd, "TYPEDEF": btf.KindTypedef, "VOLATILE": btf.KindVolatile,
	"CONST": btf.KindConst, "RESTRICT": btf.KindRestrict, "FUNC": btf.KindFunc,
	"FUNC_PROTO": btf.KindFuncProto, "VAR": btf.KindVar, "DATASEC": btf.KindDatasec,
	"FLOAT": btf.KindFloat, "DECL_TAG": btf.KindDeclTag, "TYPE_TAG": btf.KindTypeTag,
	"ENUM64": btf.KindEnum64,
}

func parseKindName(s string) (btf.Kind, bool) {
	k, ok := kindNames[strings.ToUpper(s)]
	return k, ok
}
