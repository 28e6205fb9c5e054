// Command flowbot runs the conversational flow bot.
package main

import (
	"context"
	"log"

	"github.com/m3rciful/flowbot/core/app"
	corecmd "github.com/m3rciful/flowbot/core/cmd"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		EnvFiles:          []string{".env"},
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return app.LoadConfig(path)
		},
		Bootstrap: func(cfg corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			return app.New(context.Background(), cfg.(*app.Config), app.Options{})
		},
	})
	if err != nil {
		log.Fatal(err)
	}
}
