package config

import (
	"github.com/spf13/viper"
)

// Global configuration variables
var (
	// ISBNdbAPIKey is the API key for the ISBNdb identifier-specialist source
	ISBNdbAPIKey string
	// GoogleBooksAPIKey is the optional API key for the Google Books API
	GoogleBooksAPIKey string
	// WorkerCount is the number of concurrent enrichment queue workers
	WorkerCount int
	// MaxRetries is how many failed attempts a queue entry gets before it is
	// marked terminally failed
	MaxRetries int
)

// InitConfig initializes the global configuration from viper.
func InitConfig() {
	// Set default values
	viper.SetDefault("queue.workers", 4)
	viper.SetDefault("queue.maxretries", 3)

	// Get values from viper
	ISBNdbAPIKey = viper.GetString("ISBNdbAPIKey")
	GoogleBooksAPIKey = viper.GetString("GoogleBooksAPIKey")
	WorkerCount = viper.GetInt("queue.workers")
	MaxRetries = viper.GetInt("queue.maxretries")
}

// SetWorkerCount overrides the configured worker pool size.
func SetWorkerCount(n int) {
	if n > 0 {
		WorkerCount = n
	}
}
