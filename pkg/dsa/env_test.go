package dsa

import (
	"strings"
	"testing"
)

func TestEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"0", false},
		{"false", false},
		{"off", false},
		{"nope", false},
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{"yes", true},
		{"on", true},
		{" on ", true},
	}
	for _, tc := range tests {
		t.Setenv("VIGIL_TEST_SWITCH", tc.value)
		if got := envBool("VIGIL_TEST_SWITCH"); got != tc.want {
			t.Errorf("envBool(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestEnvDisable(t *testing.T) {
	t.Setenv(EnvDisable, "1")

	p := &fakePlatform{devices: 1}
	r := New(Config{Platform: p})
	if r.Enabled() {
		t.Fatal("VIGIL_DISABLE=1 must disable tracking")
	}
	if gen := r.Insert("f.go", "fn", 1, "k", 0); gen != DisabledGeneration {
		t.Fatalf("Insert = %d, want DisabledGeneration", gen)
	}
	if p.allocs.Load() != 0 {
		t.Fatal("disabled registry must not allocate")
	}
}

func TestEnvDisableFalsy(t *testing.T) {
	t.Setenv(EnvDisable, "0")

	r := New(Config{Platform: &fakePlatform{devices: 1}})
	if !r.Enabled() {
		t.Fatal("VIGIL_DISABLE=0 must leave tracking enabled")
	}
}

func TestEnvStackTraces(t *testing.T) {
	t.Setenv(EnvDisable, "")
	t.Setenv(EnvStackTraces, "1")

	r := New(Config{Platform: &fakePlatform{devices: 1}})
	defer r.Close()

	if !r.StackTracesEnabled() {
		t.Fatal("VIGIL_LAUNCH_STACKTRACES=1 must enable stack gathering")
	}

	gen := r.Insert("f.go", "fn", 1, "k", 0)
	snap := r.Snapshot()
	if !snap.StackTraces {
		t.Fatal("snapshot must reflect stack gathering")
	}
	launch, ok := snap.Launch(gen)
	if !ok {
		t.Fatal("launch not resolvable")
	}
	if launch.Stack == "" {
		t.Fatal("launch record must carry a stack trace")
	}
	if !strings.Contains(launch.Stack, "TestEnvStackTraces") {
		t.Fatalf("stack must start at the launch site, got:\n%s", launch.Stack)
	}
}

func TestEnvStackTracesOffByDefault(t *testing.T) {
	t.Setenv(EnvDisable, "")
	t.Setenv(EnvStackTraces, "")

	r := New(Config{Platform: &fakePlatform{devices: 1}})
	defer r.Close()

	if r.StackTracesEnabled() {
		t.Fatal("stack gathering must be opt-in")
	}
	gen := r.Insert("f.go", "fn", 1, "k", 0)
	snap := r.Snapshot()
	if launch, _ := snap.Launch(gen); launch.Stack != "" {
		t.Fatalf("unexpected stack on launch record:\n%s", launch.Stack)
	}
}
