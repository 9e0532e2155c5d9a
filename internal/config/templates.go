package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Stock Alert Configuration
# Environment variables (QUOTE_PROVIDER, ALPHA_VANTAGE_KEY, MARKET_TZ, ...)
# override values from this file.

[provider]
# Quote provider: alpha_vantage, chatgpt, gemini
name = "alpha_vantage"
# Per-call timeout; 0 uses the provider default (12s Alpha Vantage, 20s LLM)
timeout = "0s"
# Minimum spacing between provider calls
min_interval = "20s"
# Consecutive rate-limit failures before the gateway stops calling
quota_trip = 3
quota_cooldown = "5m"
# Fall back to Alpha Vantage when an LLM provider fails
fallback = true

[provider.alpha_vantage]
api_key = ""

[provider.openai]
api_key = ""
model = "gpt-4o-mini-search-preview"

[provider.gemini]
api_key = ""
model = "gemini-2.5-flash-lite"

[market]
timezone = "America/New_York"
# Dates without notifications, YYYY-MM-DD
holidays = []

[alerts]
cooldown = "15m"
# Earnings reminder seeded for new symbols; negative disables
earnings_default_days = 1

[alerts.window]
weekdays = ["mon", "tue", "wed", "thu", "fri"]
start = "08:30"
end = "17:00"

[scheduler]
enabled = true
# Fixed run times in market time; ignored when refresh_interval is set
fire_times = ["09:35", "12:00", "15:55"]
refresh_interval = "0s"
concurrency = 1
run_timeout = "10m"
allow_single_during_bulk = false

[storage]
db_path = "/data/stocks.db"

[cache]
# sqlite or redis
backend = "sqlite"

[cache.redis]
addr = "localhost:6379"
password = ""
db = 0

[server]
addr = ":8000"

[log]
level = "info"
json = false
file = false
file_path = ""

[notifications]
# Log every alert
log = true

[notifications.discord]
webhook_url = ""

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""
to = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
