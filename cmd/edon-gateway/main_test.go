package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunDispatch(t *testing.T) {
	served := 0
	orig := startServer
	startServer = func() { served++ }
	defer func() { startServer = orig }()

	var out, errOut bytes.Buffer

	assert.Equal(t, 0, Run([]string{"edon-gateway"}, &out, &errOut))
	assert.Equal(t, 1, served)

	assert.Equal(t, 0, Run([]string{"edon-gateway", "serve"}, &out, &errOut))
	assert.Equal(t, 2, served)

	// Flags fall through to the server, like running with no command.
	assert.Equal(t, 0, Run([]string{"edon-gateway", "--port=9000"}, &out, &errOut))
	assert.Equal(t, 3, served)
}

func TestRunVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"edon-gateway", "version"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), version)
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"edon-gateway", "help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "USAGE")
	assert.Contains(t, out.String(), "server")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"edon-gateway", "bogus"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Unknown command: bogus")
}
