// Package cprint prints the CLI driver's end-of-run replication summary
// in the teacher's green/yellow/red create/update/delete convention.
// Trimmed from the teacher's pkg/cprint (which also colored a `deck diff`
// JSON/stderr split this driver has no use for) down to the three
// println verbs pkg/cprint.Summary actually calls.
package cprint

import (
	"sync"

	"github.com/fatih/color"
)

var (
	// mu serializes writes from multiple goroutines.
	mu sync.Mutex
	// DisableOutput suppresses all output of the println verbs below.
	DisableOutput bool
)

func conditionalPrintln(fn func(...interface{}), a ...interface{}) {
	if DisableOutput {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fn(a...)
}

var (
	createPrintln = color.New(color.FgGreen).PrintlnFunc()
	updatePrintln = color.New(color.FgYellow).PrintlnFunc()
	deletePrintln = color.New(color.FgRed).PrintlnFunc()

	// CreatePrintln is fmt.Println with green as foreground color.
	CreatePrintln = func(a ...interface{}) {
		conditionalPrintln(createPrintln, a...)
	}

	// UpdatePrintln is fmt.Println with yellow as foreground color.
	UpdatePrintln = func(a ...interface{}) {
		conditionalPrintln(updatePrintln, a...)
	}

	// DeletePrintln is fmt.Println with red as foreground color.
	DeletePrintln = func(a ...interface{}) {
		conditionalPrintln(deletePrintln, a...)
	}
)
