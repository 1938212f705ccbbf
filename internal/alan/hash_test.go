package alan

import "testing"

func TestHashCommandNormalization(t *testing.T) {
	cases := [][2]string{
		{"git push origin main", "git   push    origin main"},
		{"echo 'hello world'", "echo 'goodbye world'"},
		{`echo "abc"`, `echo "xyz"`},
		{"sleep 5", "sleep 500"},
	}
	for _, c := range cases {
		a, b := HashCommand(c[0]), HashCommand(c[1])
		if a != b {
			t.Errorf("HashCommand(%q)=%s != HashCommand(%q)=%s, expected equal", c[0], a, c[1], b)
		}
	}
}

func TestHashCommandDistinguishesDifferentCommands(t *testing.T) {
	a := HashCommand("ls -la")
	b := HashCommand("rm -rf /")
	if a == b {
		t.Errorf("expected different hashes, got %s for both", a)
	}
}

func TestHashCommandLength(t *testing.T) {
	h := HashCommand("echo hi")
	if len(h) != 16 {
		t.Errorf("expected 16 hex chars, got %d: %s", len(h), h)
	}
}

func TestTemplateCommandSubcommand(t *testing.T) {
	tpl := TemplateCommand("git push origin main")
	if tpl != "git push *" {
		t.Errorf("got %q, want %q", tpl, "git push *")
	}
}

func TestTemplateCommandFlagsVerbatim(t *testing.T) {
	tpl := TemplateCommand("ls -la /tmp /var")
	if tpl != "ls -la *" {
		t.Errorf("got %q, want %q", tpl, "ls -la *")
	}
}

func TestTemplateCommandNoSubcommandWhenFlag(t *testing.T) {
	tpl := TemplateCommand("git -C /repo status")
	if tpl != "git -C *" {
		t.Errorf("got %q, want %q", tpl, "git -C *")
	}
}

func TestTemplateCommandUnknownBase(t *testing.T) {
	tpl := TemplateCommand("myscript.sh arg1 arg2")
	if tpl != "myscript.sh *" {
		t.Errorf("got %q, want %q", tpl, "myscript.sh *")
	}
}

func TestTemplateCommandEmpty(t *testing.T) {
	if tpl := TemplateCommand("   "); tpl != "" {
		t.Errorf("got %q, want empty", tpl)
	}
}
