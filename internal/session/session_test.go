package session

import "testing"

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "628123456789", want: "628123456789"},
		{in: "+62 812-3456-789", want: "628123456789"},
		{in: "(62) 812 3456 789", want: "628123456789"},
		{in: "  628123456789  ", want: "628123456789"},
		{in: "123456789", want: "123456789"},
		{in: "123456789012345", want: "123456789012345"},
		{in: "12345678", wantErr: true},
		{in: "1234567890123456", wantErr: true},
		{in: "62812e456789", wantErr: true},
		{in: "", wantErr: true},
		{in: "+", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeNumber(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeNumber(%q) = %q, want error", tt.in, got)
			} else if KindOf(err) != KindInvalidArgument {
				t.Errorf("NormalizeNumber(%q) error kind = %q, want InvalidArgument", tt.in, KindOf(err))
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeNumber(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateConnecting:   false,
		StateAwaitingCode: false,
		StateCodeIssued:   false,
		StateConnected:    true,
		StateFailed:       true,
		StateTimedOut:     true,
	}
	for state, want := range terminal {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	err := NewError(KindCodeTimeout, "deadline", nil)
	if KindOf(err) != KindCodeTimeout {
		t.Fatalf("KindOf = %q, want CodeTimeout", KindOf(err))
	}
	if KindOf(nil) != "" {
		t.Fatal("KindOf(nil) should be empty")
	}
}
