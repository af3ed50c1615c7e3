package config

import "github.com/spf13/viper"

// The getters read through viper, which pkg/utils.LoadConfig primed with
// AutomaticEnv, so lowercase keys resolve to their uppercase env variables.

func getEnv(key, fallback string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := viper.GetInt(key); v != 0 {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return fallback
}
