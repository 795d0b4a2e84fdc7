package job

import "testing"

func TestCancelPollerShouldCheck(t *testing.T) {
	p := NewCancelPoller(100)

	if p.ShouldCheck(40) {
		t.Fatal("expected no check at 40/100")
	}
	if p.ShouldCheck(50) {
		t.Fatal("expected no check at 90/100")
	}
	if !p.ShouldCheck(15) {
		t.Fatal("expected check once interval crossed")
	}
	if p.ShouldCheck(10) {
		t.Fatal("expected counter reset after a check fired")
	}
}

func TestCancelPollerDisabled(t *testing.T) {
	p := NewCancelPoller(0)
	if p.ShouldCheck(1_000_000) {
		t.Fatal("interval<=0 must disable polling entirely")
	}
}

func TestDeriveImportStatus(t *testing.T) {
	cases := []struct {
		name                     string
		successCount, errorCount int
		fatal                    bool
		want                     Status
	}{
		{"all success", 10, 0, false, StatusSucceeded},
		{"mixed", 8, 2, false, StatusPartial},
		{"all errors", 0, 10, false, StatusFailed},
		{"fatal with some success", 3, 0, true, StatusFailed},
		{"fatal with none", 0, 0, true, StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := deriveImportStatus(tc.successCount, tc.errorCount, tc.fatal)
			if got != tc.want {
				t.Errorf("deriveImportStatus(%d, %d, %v) = %q, want %q", tc.successCount, tc.errorCount, tc.fatal, got, tc.want)
			}
		})
	}
}
