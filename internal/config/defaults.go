package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	defaultMessengerTimeout = 10 * time.Second
	defaultGeminiTimeout    = 2 * time.Minute
)

// setDefaults registers default values for optional configuration parameters.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("server.listen_addr", ":8080")

	v.SetDefault("database.path", "./kakehashi.db")

	// Empty defaults register the keys with viper so AutomaticEnv can fill
	// them; validation rejects the empty values if they stay unset.
	v.SetDefault("messenger.api_base_url", "")
	v.SetDefault("messenger.channel_secret", "")
	v.SetDefault("messenger.channel_token", "")
	v.SetDefault("messenger.timeout", defaultMessengerTimeout)
	v.SetDefault("messenger.skip_signature", false)

	v.SetDefault("gemini.api_key", "")

	v.SetDefault("gemini.models", []string{
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
	})
	v.SetDefault("gemini.temperature", 1.0)
	v.SetDefault("gemini.max_retries", 3)
	v.SetDefault("gemini.timeout", defaultGeminiTimeout)

	v.SetDefault("translator.results_base_url", "")
	v.SetDefault("translator.context_messages", 2)

	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_deliveries", 5)
	v.SetDefault("queue.lease_timeout", time.Minute)

	v.SetDefault("scheduler.tasks.queue_sweep.enabled", true)
	v.SetDefault("scheduler.tasks.queue_sweep.schedule", "*/30 * * * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 0 4 * * *")
}
