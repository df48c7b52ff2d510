package graphcorral

import (
	"github.com/spf13/viper"
)

func loadConfig() {
	viper.SetConfigName("graphcorralrc")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.graphcorral")

	setupDefaults()

	viper.ReadInConfig()

	viper.SetEnvPrefix("graphcorral")
	viper.AutomaticEnv()
}

func setupDefaults() {
	defaultSettings := map[string]interface{}{
		"input_location":     "",
		"output_location":    "./output",
		"derive_memory":      false,  // Deriving vertex program memory costs one extra map-reduce job
		"stage_artifacts":    true,   // Copy archives listed in $GRAPHCORRAL_LIBS to the file system before launching jobs
		"artifact_extension": ".zip", // Files staged from each $GRAPHCORRAL_LIBS directory
		"max_concurrency":    16,     // Maximum number of concurrent artifact uploads
		"function_name":      "graphcorral_engine",
		"lambda_memory":      1500,
		"lambda_timeout":     900,
		"lambda_manage_role": true,
		"lambda_role_arn":    "",
		"verbose":            false,
	}
	for key, value := range defaultSettings {
		viper.SetDefault(key, value)
	}

	aliases := map[string]string{
		"verbose":         "v",
		"input_location":  "i",
		"output_location": "o",
	}
	for key, alias := range aliases {
		viper.RegisterAlias(alias, key)
	}
}
