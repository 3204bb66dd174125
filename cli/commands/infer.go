package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/cli"
	toml "github.com/pelletier/go-toml/v2"
	"miren.dev/mflags"
)

// Cmd adapts a command function to cli.Command, parsing its options struct
// with mflags.
type Cmd struct {
	syn, name string
	f         reflect.Value

	opts   reflect.Value
	global *GlobalFlags
	fs     *mflags.FlagSet
}

var _ cli.Command = (*Cmd)(nil)

// Infer creates a command from a function with the signature:
// func(ctx *Context, opts StructType) error
func Infer(name, syn string, f interface{}) *Cmd {
	rv := reflect.ValueOf(f)

	if rv.Kind() != reflect.Func {
		panic("must pass a function")
	}

	rt := rv.Type()

	if rt.NumIn() != 2 || rt.NumOut() != 1 {
		panic("must take (*Context, opts) and return error")
	}

	if rt.In(0) != reflect.TypeFor[*Context]() {
		panic("first argument must be *Context")
	}

	in := rt.In(1)

	if in.Kind() != reflect.Struct {
		panic("argument must be a struct")
	}

	sv := reflect.New(in)

	fs := mflags.NewFlagSet(name)

	var globalFlags GlobalFlags

	err := fs.FromStruct(&globalFlags)
	if err != nil {
		panic(fmt.Sprintf("error parsing global flags: %v", err))
	}

	err = fs.FromStruct(sv.Interface())
	if err != nil {
		panic(fmt.Sprintf("error parsing command options: %v", err))
	}

	return &Cmd{
		syn:    syn,
		name:   name,
		f:      rv,
		global: &globalFlags,
		opts:   sv,
		fs:     fs,
	}
}

// each calls fn for every tagged field of rv, descending into embedded
// option structs such as FormatOptions.
func each(rv reflect.Value, fn func(name string, field reflect.Value, sf reflect.StructField)) {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		sf := rv.Type().Field(i)

		if sf.Anonymous && field.Kind() == reflect.Struct {
			each(field, fn)
			continue
		}

		name := sf.Tag.Get("long")
		if name == "" {
			continue
		}

		fn(name, field, sf)
	}
}

// given returns the long names of the flags that appear in args.
func (w *Cmd) given(args []string) map[string]bool {
	shorts := make(map[string]string)

	collect := func(name string, _ reflect.Value, sf reflect.StructField) {
		if short := sf.Tag.Get("short"); short != "" {
			shorts[short] = name
		}
	}
	each(reflect.ValueOf(w.global).Elem(), collect)
	each(w.opts.Elem(), collect)

	out := make(map[string]bool)

	for _, arg := range args {
		switch {
		case arg == "--":
			return out
		case strings.HasPrefix(arg, "--"):
			name, _, _ := strings.Cut(arg[2:], "=")
			out[name] = true
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			for _, c := range arg[1:] {
				if name, ok := shorts[string(c)]; ok {
					out[name] = true
				}
			}
		}
	}

	return out
}

// readOptions fills options that were not given on the command line from
// the TOML file at path. Keys are the long flag names.
func (w *Cmd) readOptions(path string, given map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	vals := make(map[string]any)
	if err := toml.Unmarshal(data, &vals); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var errs []error

	set := func(name string, field reflect.Value, sf reflect.StructField) {
		val, ok := vals[name]
		if !ok || given[name] {
			return
		}

		if err := assign(field, val); err != nil {
			errs = append(errs, fmt.Errorf("option %s: %w", name, err))
		}
	}

	each(w.opts.Elem(), set)
	each(reflect.ValueOf(w.global).Elem(), set)

	return errors.Join(errs...)
}

func assign(field reflect.Value, val any) error {
	vv := reflect.ValueOf(val)

	if field.Kind() == reflect.Slice && vv.Kind() == reflect.Slice {
		out := reflect.MakeSlice(field.Type(), vv.Len(), vv.Len())
		for i := range vv.Len() {
			if err := assign(out.Index(i), vv.Index(i).Interface()); err != nil {
				return err
			}
		}
		field.Set(out)
		return nil
	}

	if !vv.Type().ConvertibleTo(field.Type()) || (vv.Kind() == reflect.String) != (field.Kind() == reflect.String) {
		return fmt.Errorf("cannot use %T as %s", val, field.Type())
	}

	field.Set(vv.Convert(field.Type()))
	return nil
}

func (w *Cmd) show() {
	vals := make(map[string]any)

	collect := func(name string, field reflect.Value, _ reflect.StructField) {
		vals[name] = field.Interface()
	}
	each(reflect.ValueOf(w.global).Elem(), collect)
	each(w.opts.Elem(), collect)

	data, err := toml.Marshal(vals)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	fmt.Fprintf(os.Stderr, "# Configuration\n%s", data)
}

// clean expands fields tagged with a type, such as paths.
func (w *Cmd) clean(rv reflect.Value) {
	each(rv, func(_ string, field reflect.Value, sf reflect.StructField) {
		if sf.Tag.Get("type") == "path" {
			field.SetString(ExpandPath(field.String()))
		}
	})
}

// prepare finishes the parsed options and builds the command's Context.
func (w *Cmd) prepare(args []string) (*Context, error) {
	w.clean(reflect.ValueOf(w.global).Elem())

	if w.global.Options != "" {
		if err := w.readOptions(w.global.Options, w.given(args)); err != nil {
			return nil, fmt.Errorf("error loading options: %w", err)
		}
	}

	w.clean(w.opts.Elem())

	if os.Getenv("DEBUG_CONFIG") != "" {
		w.show()
	}

	return setup(context.Background(), w.global)
}

func (w *Cmd) call(ctx *Context) error {
	rets := w.f.Call([]reflect.Value{reflect.ValueOf(ctx), w.opts.Elem()})

	if err, ok := rets[0].Interface().(error); ok && err != nil {
		return err
	}

	if ctx.exitCode != 0 {
		return ErrExitCode(ctx.exitCode)
	}

	return nil
}

// Help returns help text for the command
func (w *Cmd) Help() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Usage: studio %s [options]\n\n", w.name)
	fmt.Fprintf(&buf, "%s\n\n", w.syn)
	fmt.Fprintf(&buf, "Options:\n")
	w.fs.VisitAll(func(f *mflags.Flag) {
		if f.Short != 0 {
			fmt.Fprintf(&buf, "  -%c, --%s\n", f.Short, f.Name)
		} else {
			fmt.Fprintf(&buf, "      --%s\n", f.Name)
		}
		fmt.Fprintf(&buf, "        %s", f.Usage)
		if f.DefValue != "" {
			fmt.Fprintf(&buf, " (default: %s)", f.DefValue)
		}
		fmt.Fprintf(&buf, "\n")
	})
	return buf.String()
}

func (w *Cmd) Synopsis() string {
	return w.syn
}

// Run implements cli.Command
func (w *Cmd) Run(args []string) int {
	if err := w.fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		return cli.RunResultHelp
	}

	ctx, err := w.prepare(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		return 1
	}
	defer ctx.Close()

	err = w.call(ctx)
	if err == nil {
		return 0
	}

	var code ErrExitCode
	if errors.As(err, &code) {
		return int(code)
	}

	if errors.Is(err, context.Canceled) {
		return 130
	}

	fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
	return 1
}

type ErrExitCode int

func (e ErrExitCode) Error() string {
	return fmt.Sprintf("exit code %d", e)
}

type CommandOutput struct {
	Stderr bytes.Buffer
	Stdout bytes.Buffer
}

// RunCommand runs f as a command with args and captures what it prints.
func RunCommand(f any, args ...string) (*CommandOutput, error) {
	cmd := Infer("test command", "A command being tested", f)

	var out CommandOutput

	err := cmd.fs.Parse(args)
	if err != nil {
		out.Stderr.WriteString(err.Error())
		return &out, err
	}

	ctx, err := cmd.prepare(args)
	if err != nil {
		out.Stderr.WriteString(err.Error())
		return &out, err
	}
	defer ctx.Close()

	ctx.Stdout = &out.Stdout
	ctx.Stderr = &out.Stderr

	return &out, cmd.call(ctx)
}

func ExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~/") {
		return os.ExpandEnv("$HOME" + path[1:])
	}

	dir, err := filepath.Abs(path)
	if err != nil {
		panic(err)
	}

	return dir
}
