package color

import (
	"os"
	"strings"
	"testing"
)

func TestColorDisabled(t *testing.T) {
	Enabled = false
	if got := Bold("hello"); got != "hello" {
		t.Errorf("Bold() with Enabled=false = %q, want %q", got, "hello")
	}
	if got := Red("test"); got != "test" {
		t.Errorf("Red() with Enabled=false = %q", got)
	}
	if got := Dim("dim"); got != "dim" {
		t.Errorf("Dim() with Enabled=false = %q", got)
	}
}

func TestColorEnabled(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()

	fns := map[string]func(string) string{
		"Bold": Bold, "Dim": Dim, "Red": Red, "Green": Green, "Yellow": Yellow,
		"Cyan": Cyan, "BoldRed": BoldRed, "BoldGreen": BoldGreen,
		"BoldYellow": BoldYellow, "BoldCyan": BoldCyan,
	}
	for name, fn := range fns {
		got := fn("x")
		if !strings.HasPrefix(got, "\x1b[") || !strings.Contains(got, "x") {
			t.Errorf("%s() = %q, want an ANSI-styled string", name, got)
		}
	}
	if got := Red("r"); !strings.Contains(got, "31") {
		t.Errorf("Red() = %q, want SGR 31", got)
	}
}

func TestColorEmptyString(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()
	if got := Bold(""); got != "" {
		t.Errorf("Bold(\"\") = %q", got)
	}
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if Detect(os.Stdout) {
		t.Error("Detect() = true with NO_COLOR set")
	}
}

func TestDetectNotTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if Detect(f) {
		t.Error("Detect() = true for a regular file")
	}
	Init(f)
	if Enabled {
		t.Error("Init enabled colour for a regular file")
	}
}
