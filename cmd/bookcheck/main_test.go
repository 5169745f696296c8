package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for venue, body := range map[string]string{
		"alpha": `{"asks":[["100","1"],["103","1"]],"bids":[["99","2"],["97","1"]]}`,
		"beta":  `{"asks":[["100","2"],["101","1"]],"bids":[["98","1"]]}`,
	} {
		dir := filepath.Join(root, venue)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "BTCUSDT.json"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := `logging:
  level: error
venues:
  - name: alpha
    kind: file
    data_dir: ` + filepath.Join(root, "alpha") + `
  - name: beta
    kind: file
    data_dir: ` + filepath.Join(root, "beta") + `
`
	path := filepath.Join(root, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunPrintsMergedBook(t *testing.T) {
	cfgPath := writeFixture(t)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-env", "missing.env", "-pair", "btc-usdt", "-venues", "beta,alpha", "-depth", "3"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run() = %d, stderr = %s, stdout = %s", code, stderr.String(), stdout.String())
	}
	var out output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout.String())
	}
	if out.Pair != "BTC/USDT" || len(out.Asks) != 3 || len(out.Bids) != 3 {
		t.Fatalf("output = %+v", out)
	}
	if out.Asks[0].Venue != "beta" || out.Asks[1].Venue != "alpha" || out.Asks[2].Price.String() != "101" {
		t.Fatalf("asks = %+v", out.Asks)
	}
}

func TestRunReportsTypedFailure(t *testing.T) {
	cfgPath := writeFixture(t)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-env", "missing.env", "-pair", "ETH/USDT", "-venues", "alpha"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), `"kind":"UNSUPPORTED_CURRENCY_PAIR"`) || !strings.Contains(stdout.String(), `"venue":"alpha"`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunRejectsUnknownVenue(t *testing.T) {
	cfgPath := writeFixture(t)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-env", "missing.env", "-venues", "alpha,ghost"}, &stdout, &stderr)
	if code != 1 || !strings.Contains(stdout.String(), "REQUEST_INVALID") {
		t.Fatalf("unknown venue: code=%d stdout=%s", code, stdout.String())
	}
}

func TestRunPartialPolicyOverride(t *testing.T) {
	cfgPath := writeFixture(t)
	// Only alpha lists SOL; beta is excluded rather than failing the run.
	alphaDir := filepath.Join(filepath.Dir(cfgPath), "alpha")
	if err := os.WriteFile(filepath.Join(alphaDir, "SOLUSDT.json"), []byte(`{"asks":[["20","1"]],"bids":[["19","1"]]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-env", "missing.env", "-pair", "SOL/USDT", "-policy", "partial"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run() = %d, stdout = %s", code, stdout.String())
	}
	var out output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(out.Excluded) != 1 || out.Excluded[0] != "beta" || len(out.Asks) != 1 {
		t.Fatalf("output = %+v", out)
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-nope"}, &stdout, &stderr); code != 2 {
		t.Fatalf("run() = %d, want 2", code)
	}
}

func TestRunCapturesSnapshots(t *testing.T) {
	cfgPath := writeFixture(t)
	captureDir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-env", "missing.env", "-capture", captureDir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run() = %d, stdout = %s stderr = %s", code, stdout.String(), stderr.String())
	}
	for _, v := range []string{"alpha", "beta"} {
		if _, err := os.Stat(filepath.Join(captureDir, v, "BTCUSDT.json")); err != nil {
			t.Fatalf("missing capture for %s: %v", v, err)
		}
	}
}

func TestRunPingsVenues(t *testing.T) {
	cfgPath := writeFixture(t)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-env", "missing.env", "-ping", "-venues", "Beta, ALPHA"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run() = %d, stderr = %s, stdout = %s", code, stderr.String(), stdout.String())
	}
	var lines []pingLine
	if err := json.Unmarshal(stdout.Bytes(), &lines); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout.String())
	}
	if len(lines) != 2 || lines[0].Venue != "beta" || lines[1].Venue != "alpha" || !lines[0].OK || !lines[1].OK {
		t.Fatalf("ping output = %+v", lines)
	}
}

func TestRunRejectsUnknownPolicy(t *testing.T) {
	cfgPath := writeFixture(t)
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-config", cfgPath, "-env", "missing.env", "-policy", "best-effort"}, &stdout, &stderr); code != 2 {
		t.Fatalf("run() = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "unknown failure policy") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}
