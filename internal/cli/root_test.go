package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	homedir "github.com/mitchellh/go-homedir"
)

const sampleInput = "P3\n2 2\n255\n10 20 30 200 100 50\n0 0 0 255 255 255\n"

func TestMain(m *testing.M) {
	homedir.DisableCache = true
	os.Exit(m.Run())
}

func TestExecuteInvert(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	in := writeInput(t, dir, sampleInput)
	out := filepath.Join(dir, "out.ppm")

	code, stdout, stderr := execute(t, in, out, "invert")
	if code != ExitOK {
		t.Fatalf("exit %d stderr=%q", code, stderr)
	}
	if stdout != "" || stderr != "" {
		t.Fatalf("expected a quiet run, got stdout=%q stderr=%q", stdout, stderr)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "P3\n2 2\n255\n245 235 225 55 155 205\n255 255 255 0 0 0\n"
	if string(got) != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestExecuteMotionBlurMaxLength(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	in := writeInput(t, dir, "P3\n3 1\n255\n10 20 30 40 50 60 70 80 90\n")
	out := filepath.Join(dir, "out.ppm")

	code, _, stderr := execute(t, in, out, "motionblur", "9223372036854775807")
	if code != ExitOK {
		t.Fatalf("exit %d stderr=%q", code, stderr)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "P3\n3 1\n255\n40 50 60 55 65 75 70 80 90\n"
	if string(got) != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestExecuteUsageErrorsTouchNothing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	in := writeInput(t, dir, sampleInput)
	out := filepath.Join(dir, "out.ppm")

	for _, argv := range [][]string{
		{in, out},
		{in, out, "sepia"},
		{in, out, "motionblur"},
		{in, out, "motionblur", "x"},
		{in, out, "motionblur", "-3"},
		{in, out, "invert", "--no-such-flag"},
	} {
		code, stdout, _ := execute(t, argv...)
		if code != ExitUsage {
			t.Fatalf("%v: expected exit %d, got %d", argv, ExitUsage, code)
		}
		if strings.TrimSpace(stdout) != UsageText {
			t.Fatalf("%v: expected usage on stdout, got %q", argv, stdout)
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Fatalf("%v: output file must not exist", argv)
		}
	}
}

func TestExecuteBadInputFails(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	in := writeInput(t, dir, "P3\n2 1\n255\n1 2 3\n")
	out := filepath.Join(dir, "out.ppm")

	code, stdout, stderr := execute(t, in, out, "emboss")
	if code != ExitFailure {
		t.Fatalf("expected exit %d, got %d", ExitFailure, code)
	}
	if stdout != "" || !strings.HasPrefix(stderr, "rasterkit: ") {
		t.Fatalf("unexpected streams stdout=%q stderr=%q", stdout, stderr)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatal("output file must not exist after a failed run")
	}

	code, _, _ = execute(t, filepath.Join(dir, "missing.ppm"), out, "invert")
	if code != ExitFailure {
		t.Fatalf("expected exit %d for missing input, got %d", ExitFailure, code)
	}
}

func TestExecuteWritesMetricsFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	in := writeInput(t, dir, sampleInput)
	out := filepath.Join(dir, "out.ppm")
	metricsPath := filepath.Join(dir, "run.prom")

	code, _, stderr := execute(t, "--workers", "2", "--metrics-file", metricsPath, "--verbose", in, out, "motionblur", "2")
	if code != ExitOK {
		t.Fatalf("exit %d stderr=%q", code, stderr)
	}
	if !strings.Contains(stderr, "[rasterkit] ") {
		t.Fatalf("expected verbose progress on stderr, got %q", stderr)
	}

	body, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics file: %v", err)
	}
	for _, want := range []string{
		`rasterkit_cli_runs_total{filter="motionblur",status="succeeded"} 1`,
		"rasterkit_cli_pixels_processed_total 4",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics file missing %q:\n%s", want, body)
		}
	}
}

func TestExecuteReadsConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	in := writeInput(t, dir, sampleInput)
	out := filepath.Join(dir, "out.ppm")

	cfgPath := filepath.Join(dir, "rasterkit.yaml")
	if err := os.WriteFile(cfgPath, []byte("filter:\n  workers: 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, _, stderr := execute(t, "--config", cfgPath, "--verbose", in, out, "grayscale")
	if code != ExitOK {
		t.Fatalf("exit %d stderr=%q", code, stderr)
	}
	if !strings.Contains(stderr, "workers=4") {
		t.Fatalf("expected workers from config file, got %q", stderr)
	}

	code, _, _ = execute(t, "--config", filepath.Join(dir, "missing.yaml"), in, out, "grayscale")
	if code != ExitFailure {
		t.Fatalf("expected exit %d for missing config, got %d", ExitFailure, code)
	}
}

func TestExecuteReadsHomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.WriteFile(filepath.Join(home, defaultConfigName), []byte("filter:\n  workers: 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	dir := t.TempDir()
	in := writeInput(t, dir, sampleInput)
	code, _, stderr := execute(t, "-v", in, filepath.Join(dir, "out.ppm"), "emboss")
	if code != ExitOK {
		t.Fatalf("exit %d stderr=%q", code, stderr)
	}
	if !strings.Contains(stderr, "workers=3") {
		t.Fatalf("expected workers from home config, got %q", stderr)
	}
}

func execute(t *testing.T, argv ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), argv, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeInput(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "in.ppm")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}
