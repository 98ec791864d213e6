package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrConfigExists is returned by WriteStarter when the target already exists.
var ErrConfigExists = errors.New("config file already exists")

var vendorHints = map[string][]string{
	"github":          {"# Set GITHUB_TOKEN and GITHUB_ORG environment variables", "# org: your-org-name"},
	"okta":            {"# Set OKTA_API_TOKEN and OKTA_DOMAIN environment variables", "# domain: yourorg.okta.com"},
	"beyondtrust":     {"# Set BT_API_HOST and BT_API_KEY environment variables"},
	"crowdstrike":     {"# Set CS_CLIENT_ID and CS_CLIENT_SECRET environment variables", "# base_url: https://api.us-2.crowdstrike.com"},
	"slack":           {"# Set SLACK_ADMIN_TOKEN (and SLACK_AUDIT_TOKEN for audit logs)"},
	"vault":           {"# Set VAULT_AUDIT_LOG to the file audit device path"},
	"googleworkspace": {"# Set GOOGLE_APPLICATION_CREDENTIALS and GOOGLE_ADMIN_SUBJECT"},
	"databricks":      {"# Set DATABRICKS_HOST and DATABRICKS_TOKEN (DATABRICKS_WAREHOUSE_ID for audit events)"},
	"snowflake":       {"# Set SNOWFLAKE_ACCOUNT, SNOWFLAKE_USER and SNOWFLAKE_PRIVATE_KEY_PATH"},
	"aws":             {"# Uses the default AWS credential chain (AWS_PROFILE, AWS_REGION)"},
	"cyberark":        {"# Set PVWA_URL, CYBERARK_CERT and CYBERARK_KEY"},
	"hubspot":         {"# Set HUBSPOT_ACCESS_TOKEN"},
}

// Starter renders a commented config file, optionally seeded for one vendor.
func Starter(vendor string) string {
	var b strings.Builder
	b.WriteString("# How to Harden CLI configuration\n")
	b.WriteString("# https://howtoharden.com\n\n")
	b.WriteString("global:\n")
	fmt.Fprintf(&b, "  packs_dir: %s\n", DefaultPacksDir)
	fmt.Fprintf(&b, "  profile_level: %d\n", DefaultProfileLevel)
	fmt.Fprintf(&b, "  output: %s\n\n", DefaultOutput)

	b.WriteString("scan:\n")
	fmt.Fprintf(&b, "  fail_on: %s\n", DefaultFailOn)
	fmt.Fprintf(&b, "  timeout: %s\n", DefaultTimeout)
	fmt.Fprintf(&b, "  parallel: %d\n\n", DefaultParallel)

	b.WriteString("report:\n")
	fmt.Fprintf(&b, "  frameworks: [%s]\n", strings.Join(DefaultFrameworks, ", "))
	b.WriteString("  include_passing: false\n\n")

	t := DefaultThresholds()
	b.WriteString("thresholds:\n")
	fmt.Fprintf(&b, "  max_age_days: %d\n", t.MaxAgeDays)
	fmt.Fprintf(&b, "  max_count: %d\n", t.MaxCount)
	fmt.Fprintf(&b, "  window: %s\n", t.Window)
	fmt.Fprintf(&b, "  stale_after: %s\n", t.StaleAfter)

	if vendor != "" {
		b.WriteString("\nvendors:\n")
		fmt.Fprintf(&b, "  %s:\n", vendor)
		hints, ok := vendorHints[vendor]
		if !ok {
			hints = []string{"# Configure vendor credentials via environment variables"}
		}
		for _, h := range hints {
			fmt.Fprintf(&b, "    %s\n", h)
		}
	}
	return b.String()
}

// WriteStarter writes Starter(vendor) to path with owner-only permissions.
func WriteStarter(path, vendor string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s: %w", path, ErrConfigExists)
	}
	if err := os.WriteFile(path, []byte(Starter(vendor)), 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, 0600)
}
