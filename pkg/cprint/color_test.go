package cprint

import (
	"bytes"
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

// captureOutput captures color.Output and returns the recorded output as
// f runs. Not thread-safe.
func captureOutput(f func()) string {
	backupOutput := color.Output
	defer func() { color.Output = backupOutput }()
	var out bytes.Buffer
	color.Output = &out
	f()
	return out.String()
}

func TestMain(m *testing.M) {
	backup := color.NoColor
	color.NoColor = false
	exitVal := m.Run()
	color.NoColor = backup
	os.Exit(exitVal)
}

func TestPrintlnColors(t *testing.T) {
	tests := []struct {
		name          string
		disableOutput bool
		run           func()
		expected      string
	}{
		{
			name: "println prints colored output",
			run: func() {
				CreatePrintln("foo")
				UpdatePrintln("bar")
				DeletePrintln("baz")
			},
			expected: "\x1b[32mfoo\x1b[0m\n\x1b[33mbar\x1b[0m\n\x1b[31mbaz\x1b[0m\n",
		},
		{
			name:          "println doesn't output anything when disabled",
			disableOutput: true,
			run: func() {
				CreatePrintln("foo")
				UpdatePrintln("bar")
				DeletePrintln("baz")
			},
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			DisableOutput = tt.disableOutput
			defer func() { DisableOutput = false }()

			output := captureOutput(tt.run)
			assert.Equal(t, tt.expected, output)
		})
	}
}
