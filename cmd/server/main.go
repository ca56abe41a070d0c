package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/nyxkv/corekv/internal/aeloop"
	"github.com/nyxkv/corekv/internal/config"
	"github.com/nyxkv/corekv/internal/database"
	"github.com/nyxkv/corekv/internal/logger"
)

const banner = `
  ___ ___  _ __ ___| | ____   __
 / __/ _ \| '__/ _ \ |/ /\ \ / /
| (_| (_) | | |  __/   <  \ V /
 \___\___/|_|  \___|_|\_\  \_/
`

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

func main() {
	fmt.Print(banner)

	props := config.Default()
	configFilename := os.Getenv("CONFIG")
	if configFilename == "" && len(os.Args) > 1 {
		configFilename = os.Args[1]
	}
	if configFilename == "" && fileExists("corekv.conf") {
		configFilename = "corekv.conf"
	}
	if configFilename != "" {
		parsed, err := config.Parse(configFilename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot read config file %s: %v\n", configFilename, err)
			os.Exit(1)
		}
		props = parsed
	}

	if err := logger.Setup(logger.Settings{
		Dir:      props.LogDir,
		Filename: props.LogFile,
		MinLevel: levelFromName(props.LogLevel),
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if props.PidFile != "" {
		if err := os.WriteFile(props.PidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
			logger.Warn("cannot write pid file %s: %v", props.PidFile, err)
		}
	}

	db := database.MakeServer(props)
	srv := aeloop.NewServer(props, db)
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("server: %v", err)
	}
}

func levelFromName(name string) logger.Level {
	switch name {
	case "debug":
		return logger.DEBUG
	case "notice", "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARN
	default:
		return logger.INFO
	}
}
