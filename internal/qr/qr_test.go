package qr_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/merlos/rknock/internal/config"
	"github.com/merlos/rknock/internal/qr"
)

func testPayload() *qr.Payload {
	return &qr.Payload{
		ProfileName: "home",
		Profile: config.Profile{
			Target:    "door.example.com:20022",
			Secret:    "hunter2",
			Algorithm: "hmac-sha256",
			Salt:      true,
		},
	}
}

func TestPayload_TextIsClientConfig(t *testing.T) {
	text, err := testPayload().Text(false)
	if err != nil {
		t.Fatal(err)
	}

	var cfg config.ClientConfig
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		t.Fatalf("payload is not YAML: %v\n%s", err, text)
	}
	p, err := config.GetProfile(&cfg, "home")
	if err != nil {
		t.Fatal(err)
	}
	if *p != testPayload().Profile {
		t.Errorf("profile = %+v, want %+v", p, testPayload().Profile)
	}
}

func TestPayload_OmitSecret(t *testing.T) {
	text, err := testPayload().Text(true)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(text, "hunter2") {
		t.Errorf("payload leaks the secret:\n%s", text)
	}
}

func TestPayload_DefaultName(t *testing.T) {
	text, err := (&qr.Payload{Profile: config.Profile{Target: "h", Secret: "s"}}).Text(false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "default:") {
		t.Errorf("payload should use the default profile name:\n%s", text)
	}
}

func TestGenerate_PNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.png")
	var out bytes.Buffer

	if err := qr.Generate(testPayload(), &qr.GenerateOptions{OutputPath: path, Out: &out}); err != nil {
		t.Fatalf("Generate error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("output is not a PNG file")
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("status line = %q, want mention of %s", out.String(), path)
	}
}

func TestGenerate_Terminal(t *testing.T) {
	var out bytes.Buffer
	if err := qr.Generate(testPayload(), &qr.GenerateOptions{Out: &out}); err != nil {
		t.Fatalf("Generate error = %v", err)
	}
	if out.Len() == 0 {
		t.Error("terminal rendering is empty")
	}
}
