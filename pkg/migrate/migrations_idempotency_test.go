package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// The unique constraints created here are what webhook and ledger
// idempotency rely on. Losing either one silently breaks replay safety.
func TestIdempotencyConstraintsPresent(t *testing.T) {
	cases := []struct {
		pattern string
		checks  []string
	}{
		{
			pattern: "*_create_webhook_logs.sql",
			checks: []string{
				"CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_logs_notification_id ON webhook_logs (notification_id)",
				"FOREIGN KEY (retry_of) REFERENCES webhook_logs(id) ON DELETE SET NULL",
				"DROP TABLE IF EXISTS webhook_logs",
			},
		},
		{
			pattern: "*_create_billing_history_entries.sql",
			checks: []string{
				"CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_history_subscription_payment ON billing_history_entries (subscription_id, provider_payment_id)",
				"FOREIGN KEY (subscription_id) REFERENCES subscriptions(id) ON DELETE CASCADE",
				"DROP TABLE IF EXISTS billing_history_entries",
			},
		},
	}

	for _, tc := range cases {
		matches, err := filepath.Glob(filepath.Join("migrations", tc.pattern))
		if err != nil {
			t.Fatalf("glob migrations: %v", err)
		}
		if len(matches) == 0 {
			t.Fatalf("no migration matching %s", tc.pattern)
		}

		data, err := os.ReadFile(matches[0])
		if err != nil {
			t.Fatalf("read migration file: %v", err)
		}
		content := string(data)

		for _, sub := range tc.checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s missing expected statement %q", tc.pattern, sub)
			}
		}
	}
}
