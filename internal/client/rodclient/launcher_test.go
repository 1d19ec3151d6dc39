package rodclient

import (
	"testing"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/stretchr/testify/assert"
)

func TestParseFlags(t *testing.T) {
	got := parseFlags([]string{"--no-sandbox", "--window-size=1280,800", "-", "disable-gpu"})
	assert.Equal(t, []flag{
		{name: flags.Flag("no-sandbox")},
		{name: flags.Flag("window-size"), value: "1280,800", set: true},
		{name: flags.Flag("disable-gpu")},
	}, got)
}
