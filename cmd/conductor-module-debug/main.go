// Command conductor-module-debug echoes a message or a variable value.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fulcrumlabs/conductor/pkg/modules"
)

var version = "dev"

func main() {
	os.Exit(modules.Run(modules.Info{Name: "debug", Version: version}, run))
}

// run prints msg, or var when msg is absent. Both arrive already rendered.
func run(_ context.Context, params modules.Params) (*modules.Result, error) {
	var msg string
	switch {
	case params["msg"] != nil:
		msg = stringify(params["msg"])
	case params["var"] != nil:
		msg = stringify(params["var"])
	default:
		msg = "Hello world!"
	}
	fmt.Fprintln(os.Stderr, msg)
	return modules.Success(msg, false, map[string]any{"msg": msg}), nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
