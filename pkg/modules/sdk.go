package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

// Info identifies a module binary.
type Info struct {
	Name    string
	Version string
}

// Params are the decoded task parameters passed to a module.
type Params map[string]any

// Required returns a non-blank string parameter.
func (p Params) Required(name string) (string, bool) {
	v, ok := p[name]
	if !ok || v == nil {
		return "", false
	}
	s := fmt.Sprint(v)
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// String returns a string parameter or def when it is missing or blank.
func (p Params) String(name, def string) string {
	if s, ok := p.Required(name); ok {
		return s
	}
	return def
}

// Bool returns a boolean parameter. Strings such as "yes" and "false" are
// accepted.
func (p Params) Bool(name string, def bool) bool {
	switch v := p[name].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "on", "y":
			return true
		case "no", "off", "n":
			return false
		}
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case float64:
		return v != 0
	}
	return def
}

// Handler implements a module. A returned error becomes a failed result.
type Handler func(ctx context.Context, params Params) (*Result, error)

// SetupSignalHandler creates a context that is canceled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	return ctx
}

// Run is the main function of a module binary. It serves one request on
// stdin/stdout and returns the process exit code.
func Run(info Info, handler Handler) int {
	return Serve(SetupSignalHandler(), info, handler, os.Stdin, os.Stdout)
}

// Serve reads one parameter object from r, answers control commands or
// calls handler, and writes exactly one JSON line to w. It returns 0 when
// the result is successful and 1 otherwise.
func Serve(ctx context.Context, info Info, handler Handler, r io.Reader, w io.Writer) int {
	res := serve(ctx, info, handler, r)
	line, err := json.Marshal(res)
	if err != nil {
		line, _ = json.Marshal(Failure("encoding result: "+err.Error(), nil))
		res.Success = false
	}
	fmt.Fprintf(w, "%s\n", line)
	if res.Success {
		return 0
	}
	return 1
}

func serve(ctx context.Context, info Info, handler Handler, r io.Reader) (res *Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Failure(fmt.Sprintf("unhandled panic: %v", p), nil)
		}
	}()

	input, err := io.ReadAll(r)
	if err != nil {
		return Failure("reading stdin: "+err.Error(), nil)
	}
	if strings.TrimSpace(string(input)) == "" {
		return Failure("no input received from stdin", nil)
	}
	var params Params
	if err := json.Unmarshal(input, &params); err != nil {
		return Failure("invalid JSON input: "+err.Error(), nil)
	}
	if params == nil {
		return Failure("input JSON decoded to null", nil)
	}

	if cmd, ok := params[CommandKey]; ok {
		if fmt.Sprint(cmd) == "version" {
			return versionResult(info)
		}
		return Failure(fmt.Sprintf("unknown command %v", cmd), params)
	}

	res, err = handler(ctx, params)
	if err != nil {
		facts := map[string]any{}
		if res != nil && res.Facts != nil {
			facts = res.Facts
		}
		return Failure(err.Error(), facts)
	}
	if res == nil {
		return Failure("module returned no result", nil)
	}
	if res.Facts == nil {
		res.Facts = map[string]any{}
	}
	return res
}

func versionResult(info Info) *Result {
	version := info.Version
	if version == "" {
		version = "0.0.0"
	}
	return Success(fmt.Sprintf("%s module version %s", info.Name, version), false, map[string]any{
		"module_name":      info.Name,
		"module_version":   version,
		"protocol_version": ProtocolVersion,
	})
}
