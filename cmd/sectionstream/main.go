package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/sectionstream/cmd/sectionstream/cmds"
	"github.com/go-go-golems/sectionstream/pkg/settings"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var v = settings.NewViper()

var rootCmd = &cobra.Command{
	Use:   "sectionstream",
	Short: "sectionstream streams sectioned model answers as typed channel events",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		if err := initConfig(); err != nil {
			return err
		}
		return initLogger()
	},
	SilenceUsage: true,
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initConfig() error {
	if configPath := v.GetString("config"); configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sectionstream")
		if xdgConfigPath, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(xdgConfigPath + "/sectionstream")
		}
	}

	err := v.ReadInConfig()
	// if the file does not exist, continue normally
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	return err
}

func initLogger() error {
	logLevel := v.GetString("log-level")
	if v.GetBool("verbose") && logLevel != "trace" {
		logLevel = "debug"
	}
	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    v.GetString("log-file"),
		LogFormat:  v.GetString("log-format"),
		WithCaller: v.GetBool("with-caller"),
	})
	if err != nil {
		return err
	}
	log.Debug().Str("config", v.ConfigFileUsed()).Msg("Loaded configuration")
	return nil
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}
	// default is text on stderr, stdout belongs to the command output
	var logWriter io.Writer
	if config.LogFormat == "json" {
		logWriter = os.Stderr
	} else {
		// colours only when a terminal is reading
		noColor := !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: noColor}
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, //days
				},
			})
	}

	log.Logger = log.Output(logWriter)

	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return err
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Bool("with-caller", false, "Log caller")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	flags.String("log-format", "text", "Log format (json, text)")
	flags.String("log-file", "", "Log file (default: stderr)")
	flags.String("config", "", "Path to config file (default ./config.yaml or ~/.sectionstream/config.yaml)")
	flags.Bool("verbose", false, "Verbose output")

	flags.String("provider", "", "Model provider (openai, scripted)")
	flags.String("model", "", "Model name")
	flags.String("script", "", "Script file for the scripted provider")
	flags.String("rules", "", "YAML file with channel decision rules")

	cobra.CheckErr(v.BindPFlags(flags))
	cobra.CheckErr(v.BindPFlag("provider", flags.Lookup("provider")))
	cobra.CheckErr(v.BindPFlag("openai.model", flags.Lookup("model")))
	cobra.CheckErr(v.BindPFlag("scripted.file", flags.Lookup("script")))
	cobra.CheckErr(v.BindPFlag("rules_file", flags.Lookup("rules")))

	rootCmd.AddCommand(
		cmds.NewRunCommand(v),
		cmds.NewServeCommand(v),
		cmds.NewDecideCommand(v),
		cmds.NewChannelsCommand(v),
	)
}
