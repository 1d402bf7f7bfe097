package main

import (
	"log"

	"github.com/spf13/viper"

	"github.com/sockstun/sockstun/core/tunconf"
	"github.com/sockstun/sockstun/core/utils"
	"github.com/sockstun/sockstun/server/statusapi"
)

func main() {
	viper.SetConfigName("default")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	_ = viper.ReadInConfig()

	apiCfg := statusapi.DefaultConfig()
	_ = viper.UnmarshalKey("status_api", &apiCfg)

	tunCfg := tunconf.DefaultConfig()
	_ = viper.UnmarshalKey("tunnel", &tunCfg)

	logger, err := utils.NewLogger(utils.LoggerConfig{Level: "info", Format: "text", Output: "stdout"})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	srv, err := statusapi.NewServer(apiCfg, tunCfg, logger)
	if err != nil {
		log.Fatalf("failed to create status API server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("status API server failed: %v", err)
	}
}
