package spawn

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/goexpect/internal/testing/fakes/fakefs"
)

func generateEd25519Key(t *testing.T, passphrase string) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return pem.EncodeToMemory(block)
}

func TestBuildAuthMethods_ExplicitKey(t *testing.T) {
	fsys := fakefs.New()
	fsys.AddFile("/home/test/.ssh/deploy", generateEd25519Key(t, ""))

	methods, err := BuildAuthMethods(AuthConfig{KeyPath: "~/.ssh/deploy", FS: fsys})
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	if len(methods) != 1 {
		t.Errorf("got %d methods, want 1", len(methods))
	}
}

func TestBuildAuthMethods_EncryptedKey(t *testing.T) {
	fsys := fakefs.New()
	fsys.AddFile("/keys/id", generateEd25519Key(t, "s3cret"))

	if _, err := BuildAuthMethods(AuthConfig{KeyPath: "/keys/id", KeyPassphrase: "s3cret", FS: fsys}); err != nil {
		t.Fatalf("correct passphrase: %v", err)
	}
	if _, err := BuildAuthMethods(AuthConfig{KeyPath: "/keys/id", KeyPassphrase: "nope", FS: fsys}); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}

func TestBuildAuthMethods_MissingExplicitKey(t *testing.T) {
	if _, err := BuildAuthMethods(AuthConfig{KeyPath: "/missing", FS: fakefs.New()}); err == nil {
		t.Fatal("expected error for a missing key file")
	}
}

func TestBuildAuthMethods_DefaultKey(t *testing.T) {
	fsys := fakefs.New()
	fsys.AddFile("/home/test/.ssh/id_rsa", []byte("not a key"))
	fsys.AddFile("/home/test/.ssh/id_ecdsa", generateEd25519Key(t, ""))

	methods, err := BuildAuthMethods(AuthConfig{FS: fsys})
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	if len(methods) != 1 {
		t.Errorf("got %d methods, want the first parseable default key", len(methods))
	}
}

func TestBuildAuthMethods_SSHConfigIdentity(t *testing.T) {
	fsys := fakefs.New()
	fsys.AddFile("/home/test/.ssh/config", []byte(`
# comment
Host other
    IdentityFile ~/.ssh/other

Host *.prod web?
    IdentityFile ~/.ssh/prod
`))
	fsys.AddFile("/home/test/.ssh/prod", generateEd25519Key(t, ""))

	if got := sshConfigIdentityFile("db.prod", fsys); got != "/home/test/.ssh/prod" {
		t.Errorf("identity for db.prod = %q", got)
	}
	if got := sshConfigIdentityFile("web1", fsys); got != "/home/test/.ssh/prod" {
		t.Errorf("identity for web1 = %q", got)
	}
	if got := sshConfigIdentityFile("unknown", fsys); got != "" {
		t.Errorf("identity for unknown = %q", got)
	}

	methods, err := BuildAuthMethods(AuthConfig{Host: "db.prod", FS: fsys})
	if err != nil || len(methods) != 1 {
		t.Errorf("BuildAuthMethods = %d methods, %v", len(methods), err)
	}
}

func TestBuildAuthMethods_Password(t *testing.T) {
	methods, err := BuildAuthMethods(AuthConfig{Password: "pw", FS: fakefs.New()})
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	if len(methods) != 2 {
		t.Errorf("got %d methods, want password and keyboard-interactive", len(methods))
	}
}

func TestBuildAuthMethods_NothingAvailable(t *testing.T) {
	fsys := fakefs.New()
	_, err := BuildAuthMethods(AuthConfig{UseAgent: true, FS: fsys})
	if !errors.Is(err, ErrNoAuthMethods) {
		t.Errorf("err = %v, want ErrNoAuthMethods", err)
	}
}

func TestMatchHostPattern(t *testing.T) {
	tests := []struct {
		host, pattern string
		want          bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "*", true},
		{"db.prod", "*.prod", true},
		{"web1", "web?", true},
		{"web12", "web?", false},
		{"example.com", "other.com example.*", true},
		{"example.com", "other.com", false},
	}
	for _, tt := range tests {
		if got := matchHostPattern(tt.host, tt.pattern); got != tt.want {
			t.Errorf("matchHostPattern(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.want)
		}
	}
}

func TestBuildHostKeyCallback_MissingFileAcceptsAny(t *testing.T) {
	cb, err := BuildHostKeyCallback("~/.ssh/known_hosts", fakefs.New())
	if err != nil {
		t.Fatalf("BuildHostKeyCallback: %v", err)
	}
	if cb == nil {
		t.Fatal("expected a callback")
	}
}

func TestBuildHostKeyCallback_KnownHosts(t *testing.T) {
	path := t.TempDir() + "/known_hosts"
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	line := "example.com " + string(ssh.MarshalAuthorizedKey(sshPub))
	if err := writeFile(path, line); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}

	cb, err := BuildHostKeyCallback(path, nil)
	if err != nil {
		t.Fatalf("BuildHostKeyCallback: %v", err)
	}
	if cb == nil {
		t.Fatal("expected a callback")
	}
}
