package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	a := newApp()
	if err := a.rootCommand().Execute(); err != nil {
		code := 1
		var exitErr *ExitCodeError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, red("Error: ")+msg)
		}
		os.Exit(code)
	}
}
