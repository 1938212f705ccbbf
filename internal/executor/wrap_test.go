package executor

import (
	"testing"
)

func TestWrapCommand(t *testing.T) {
	got := wrapCommand("ls -la")
	want := `ls -la; echo "${pipestatus[*]}" >&3`
	if got != want {
		t.Errorf("wrapCommand() = %q, want %q", got, want)
	}
}

func TestParsePipestatus(t *testing.T) {
	cases := []struct {
		raw  string
		want []int
	}{
		{"1 0 0", []int{1, 0, 0}},
		{"0", []int{0}},
		{"  2   0  ", []int{2, 0}},
		{"", nil},
		{"1 x 0", []int{1, 0}},
	}

	for _, c := range cases {
		got := parsePipestatus(c.raw)
		if len(got) != len(c.want) {
			t.Errorf("parsePipestatus(%q) = %v, want %v", c.raw, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("parsePipestatus(%q) = %v, want %v", c.raw, got, c.want)
				break
			}
		}
	}
}

func TestWriteAndReadMeta(t *testing.T) {
	path := t.TempDir() + "/meta.json"
	result := Result{Pipestatus: []int{1, 0}, ExitCode: 0, ElapsedMs: 42, TimedOut: false}

	if err := WriteMeta(path, result); err != nil {
		t.Fatalf("WriteMeta() error: %v", err)
	}

	got, ok := ReadMeta(path)
	if !ok {
		t.Fatal("ReadMeta() ok = false, want true")
	}
	if got.ExitCode != 0 || len(got.Pipestatus) != 2 || got.ElapsedMs != 42 {
		t.Errorf("ReadMeta() = %+v, want %+v", got, result)
	}

	if _, ok := ReadMeta(path); ok {
		t.Error("ReadMeta() should delete the file after reading")
	}
}
