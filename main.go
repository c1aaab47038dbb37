package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli"
	"github.com/yourusername/gearmarket/services"
)

var version = "development"
var log = services.Log

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Usage:  "path to the YAML config file",
		Value:  "config.yaml",
		EnvVar: "GEARMARKET_CONFIG",
	},
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "gearmarket"
	app.HelpName = filepath.Base(os.Args[0])
	app.Usage = "Account and nickname service for the gear marketplace"
	app.Version = version
	app.Flags = globalFlags
	app.Action = serveAction

	app.Commands = []cli.Command{
		ServeCommand,
		MigrateCommand,
		CheckCommand,
		NormalizeCommand,
		SanitizeCommand,
		BlocklistCommand,
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
