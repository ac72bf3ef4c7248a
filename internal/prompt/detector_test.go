package prompt

import "testing"

func TestDetect_Password(t *testing.T) {
	tests := []struct {
		name   string
		buffer string
	}{
		{"sudo", "some earlier output\n[sudo] password for deploy: "},
		{"generic colon", "Password: "},
		{"password for user", "deploy@host's password: "},
		{"ssh key passphrase", "Enter passphrase for key '/home/deploy/.ssh/id_ed25519': "},
		{"prompt with trailing newline", "[sudo] password for deploy:\n"},
	}

	d := NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := d.Detect(tt.buffer)
			if det == nil {
				t.Fatalf("Detect(%q) = nil, want password detection", tt.buffer)
			}
			if det.Kind != KindPassword {
				t.Errorf("Kind = %q, want %q", det.Kind, KindPassword)
			}
			if det.Response != "" {
				t.Errorf("Response = %q, want empty for password prompts", det.Response)
			}
		})
	}
}

func TestDetect_PasswordNotInScrolledOutput(t *testing.T) {
	d := NewDetector()
	// The signature sits in completed output lines, not on a waiting
	// prompt line. Nothing is asking for input here.
	buffer := "db_password: hunter2\nservice restarted\ndone\n"
	if det := d.Detect(buffer); det != nil {
		t.Errorf("Detect = %+v, want nil for scrolled-by output", det)
	}
}

func TestDetect_Confirmation(t *testing.T) {
	tests := []struct {
		name         string
		buffer       string
		wantResponse string
	}{
		{"apt", "After this operation, 42 MB used.\nDo you want to continue? [Y/n] ", "y"},
		{"yum", "Total download size: 12 M\nIs this ok [y/N]: ", "y"},
		{"parens", "Overwrite existing file? (y/n) ", "y"},
		{"yes no", "Remove all volumes? [yes/no] ", "yes"},
		{"trailing question with yes no offer", "Continue (yes/no/[fingerprint])? ", "yes"},
	}

	d := NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := d.Detect(tt.buffer)
			if det == nil {
				t.Fatalf("Detect(%q) = nil, want confirmation", tt.buffer)
			}
			if det.Kind != KindConfirmation {
				t.Errorf("Kind = %q, want %q", det.Kind, KindConfirmation)
			}
			if det.Response != tt.wantResponse {
				t.Errorf("Response = %q, want %q", det.Response, tt.wantResponse)
			}
		})
	}
}

func TestDetect_HostKey(t *testing.T) {
	d := NewDetector()
	buffer := "The authenticity of host 'web-01 (10.0.0.5)' can't be established.\n" +
		"ED25519 key fingerprint is SHA256:abcdef.\n" +
		"Are you sure you want to continue connecting (yes/no/[fingerprint])? "

	det := d.Detect(buffer)
	if det == nil {
		t.Fatal("Detect = nil, want host key detection")
	}
	if det.Kind != KindHostKey {
		t.Errorf("Kind = %q, want %q", det.Kind, KindHostKey)
	}
	if det.Response != "yes" {
		t.Errorf("Response = %q, want %q", det.Response, "yes")
	}
}

func TestDetect_None(t *testing.T) {
	tests := []struct {
		name   string
		buffer string
	}{
		{"empty", ""},
		{"plain output", "total 12\ndrwxr-xr-x 2 root root 4096 .\n"},
		{"question without offer", "what should I do next?\nthinking...\n"},
		{"bare question line", "Is everything configured correctly?"},
	}

	d := NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if det := d.Detect(tt.buffer); det != nil {
				t.Errorf("Detect(%q) = %+v, want nil", tt.buffer, det)
			}
		})
	}
}

func TestDetect_CustomPatternWins(t *testing.T) {
	d := NewDetector()
	if err := d.AddPatternFromConfig("vault_unseal", `(?i)unseal key \(will be hidden\):`, "password", ""); err != nil {
		t.Fatalf("AddPatternFromConfig: %v", err)
	}

	det := d.Detect("Unseal Key (will be hidden): ")
	if det == nil {
		t.Fatal("Detect = nil, want custom pattern match")
	}
	if det.Pattern != "vault_unseal" || det.Kind != KindPassword {
		t.Errorf("Detection = %+v", det)
	}
}

func TestAddPatternFromConfig_Errors(t *testing.T) {
	d := NewDetector()
	if err := d.AddPatternFromConfig("bad", `(unclosed`, "password", ""); err == nil {
		t.Error("want error for invalid regex")
	}
	if err := d.AddPatternFromConfig("bad", `ok`, "editor", ""); err == nil {
		t.Error("want error for unknown kind")
	}
}

func TestDetect_LastLineOnly(t *testing.T) {
	d := NewDetector()
	// The confirmation scrolled past and was followed by more output; the
	// question is no longer waiting.
	buffer := "Do you want to continue? [Y/n] \nAborted.\n$ "
	if det := d.Detect(buffer); det != nil && det.Kind == KindConfirmation {
		t.Errorf("Detect = %+v, stale confirmation should not match", det)
	}
}
