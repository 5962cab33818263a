package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatalf("%v", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "imagecache"
	app.Usage = "tiered image cache and caching image proxy"
	app.Version = version

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "configs/config.yaml",
			Usage: " configuration `FILE`",
		},
		cli.StringFlag{
			Name:  "log-level, l",
			Value: "",
			Usage: " override the configured log `LEVEL`",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the caching image proxy",
			Action: runServe,
		},
		{
			Name:      "fetch",
			Usage:     "load images through the cache and write them as PNG files",
			ArgsUsage: "URL...",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "output, o",
					Value: ".",
					Usage: " output `DIR`",
				},
			},
			Action: runFetch,
		},
	}
	app.Action = runServe

	return app
}
